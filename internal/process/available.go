package process

import (
	"context"
	"time"
)

// lookupTimeout bounds a binary availability probe
const lookupTimeout = 5 * time.Second

// Available reports whether name resolves to an executable on PATH. Lookup
// failures of any kind mean unavailable.
func (e *Executor) Available(ctx context.Context, name string) bool {
	if name == "" {
		return false
	}
	result, err := e.Run(ctx, Command{
		Path:    lookupCommand,
		Args:    []string{name},
		Timeout: lookupTimeout,
	})
	return err == nil && result.Success()
}

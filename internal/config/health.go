package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sqlferry/internal/backup"
)

// Health states
const (
	Healthy   = "healthy"
	Degraded  = "degraded"
	Unhealthy = "unhealthy"
)

// HealthCheckResult is the outcome of CheckHealth
type HealthCheckResult struct {
	Timestamp       time.Time         `json:"timestamp" yaml:"timestamp"`
	OverallHealth   string            `json:"overall_health" yaml:"overall_health"`
	ComponentStatus map[string]string `json:"component_status" yaml:"component_status"`
	Issues          []string          `json:"issues,omitempty" yaml:"issues,omitempty"`
}

func (r *HealthCheckResult) fail(component, status, issue string) {
	r.ComponentStatus[component] = status
	r.Issues = append(r.Issues, issue)
	if status == Unhealthy || r.OverallHealth == Healthy {
		r.OverallHealth = status
	}
}

// CheckHealth verifies the parts of the configuration that do not need a
// database: the configuration itself, the artifact store, the passphrase
// and the metrics file location. newStore is usually backup.NewStore.
func CheckHealth(ctx context.Context, cfg *Config, newStore func(context.Context, backup.StorageConfig) (backup.Store, error)) *HealthCheckResult {
	result := &HealthCheckResult{
		Timestamp:       time.Now(),
		OverallHealth:   Healthy,
		ComponentStatus: map[string]string{},
	}

	if err := cfg.Validate(); err != nil {
		result.fail("configuration", Unhealthy, err.Error())
	} else {
		result.ComponentStatus["configuration"] = Healthy
	}

	store, err := newStore(ctx, cfg.Storage)
	if err != nil {
		result.fail("storage", Degraded, fmt.Sprintf("storage %s: %v", cfg.Storage.Provider, err))
	} else if _, err := store.List(ctx, ""); err != nil {
		result.fail("storage", Degraded, fmt.Sprintf("storage %s is not reachable: %v", cfg.Storage.Provider, err))
	} else {
		result.ComponentStatus["storage"] = Healthy
	}

	if _, err := cfg.Passphrase(); err != nil {
		result.fail("encryption", Degraded, err.Error())
	} else {
		result.ComponentStatus["encryption"] = Healthy
	}

	if cfg.MetricsFile != "" {
		dir := filepath.Dir(cfg.MetricsFile)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			result.fail("metrics", Degraded, fmt.Sprintf("metrics directory %s does not exist", dir))
		} else {
			result.ComponentStatus["metrics"] = Healthy
		}
	}
	return result
}

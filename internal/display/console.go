// Package display renders command output for terminals and scripts.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// OutputFormat represents different output format options
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatYAML  OutputFormat = "yaml"
)

// Config holds display options
type Config struct {
	ColorEnabled bool         `mapstructure:"color_enabled" yaml:"color_enabled"`
	Theme        string       `mapstructure:"theme" yaml:"theme"`
	Format       OutputFormat `mapstructure:"format" yaml:"format"`
	ShowProgress bool         `mapstructure:"show_progress" yaml:"show_progress"`
	Quiet        bool         `mapstructure:"quiet" yaml:"quiet"`

	Writer    io.Writer `mapstructure:"-" yaml:"-"`
	ErrWriter io.Writer `mapstructure:"-" yaml:"-"`
}

// DefaultConfig returns the display configuration used by the CLI
func DefaultConfig() Config {
	return Config{
		ColorEnabled: true,
		Theme:        "dark",
		Format:       FormatTable,
		ShowProgress: true,
	}
}

// Validate checks the configured format and theme
func (c Config) Validate() error {
	switch c.Format {
	case FormatTable, FormatJSON, FormatYAML:
	default:
		return fmt.Errorf("invalid output format %q (valid: table, json, yaml)", c.Format)
	}
	if c.Theme != "" && !contains(ThemeNames, c.Theme) {
		return fmt.Errorf("invalid theme %q (valid: %s)", c.Theme, strings.Join(ThemeNames, ", "))
	}
	return nil
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// Field is one labelled value of a summary block
type Field struct {
	Key   string
	Value string
}

// Console prints status lines, summaries and tables. Structured formats
// (json, yaml) suppress decoration and only emit rendered values.
type Console struct {
	cfg    Config
	out    io.Writer
	errOut io.Writer
	colors ColorSystem
	theme  ColorTheme
}

// NewConsole creates a console, defaulting writers to stdout and stderr
func NewConsole(cfg Config) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}
	if cfg.ErrWriter == nil {
		cfg.ErrWriter = os.Stderr
	}
	if cfg.Format == "" {
		cfg.Format = FormatTable
	}
	return &Console{
		cfg:    cfg,
		out:    cfg.Writer,
		errOut: cfg.ErrWriter,
		colors: NewColorSystem(cfg.Writer, cfg.ColorEnabled),
		theme:  GetThemeByName(cfg.Theme),
	}
}

// Structured reports whether output is machine readable
func (c *Console) Structured() bool {
	return c.cfg.Format == FormatJSON || c.cfg.Format == FormatYAML
}

func (c *Console) decorated() bool {
	return !c.cfg.Quiet && !c.Structured()
}

// Header prints a title block
func (c *Console) Header(title string) {
	if !c.decorated() {
		return
	}
	line := strings.Repeat("=", len(title)+4)
	fmt.Fprintln(c.out, c.colors.Colorize(fmt.Sprintf("%s\n  %s\n%s", line, title, line), c.theme.Primary))
}

// Print writes preformatted text
func (c *Console) Print(text string) {
	if !c.decorated() {
		return
	}
	fmt.Fprint(c.out, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(c.out)
	}
}

// ColorSupported reports whether the console emits colors
func (c *Console) ColorSupported() bool {
	return c.colors.IsColorSupported()
}

// Success prints a success status line
func (c *Console) Success(format string, args ...interface{}) {
	c.status("✓", c.theme.Success, format, args...)
}

// Info prints an informational status line
func (c *Console) Info(format string, args ...interface{}) {
	c.status("•", c.theme.Info, format, args...)
}

// Warning prints a warning to the error stream
func (c *Console) Warning(format string, args ...interface{}) {
	if c.cfg.Quiet {
		return
	}
	fmt.Fprintln(c.errOut, c.colors.Sprintf(c.theme.Warning, "! "+format, args...))
}

// Error prints an error to the error stream, even in quiet mode
func (c *Console) Error(format string, args ...interface{}) {
	fmt.Fprintln(c.errOut, c.colors.Sprintf(c.theme.Error, "✗ "+format, args...))
}

func (c *Console) status(icon string, clr Color, format string, args ...interface{}) {
	if !c.decorated() {
		return
	}
	fmt.Fprintf(c.out, "%s %s\n", c.colors.Colorize(icon, clr), fmt.Sprintf(format, args...))
}

// Summary prints fields as aligned "key: value" lines under title
func (c *Console) Summary(title string, fields []Field) {
	if !c.decorated() {
		return
	}
	width := 0
	for _, f := range fields {
		if len(f.Key) > width {
			width = len(f.Key)
		}
	}
	if title != "" {
		fmt.Fprintln(c.out, c.colors.Colorize(title, c.theme.Primary))
	}
	for _, f := range fields {
		fmt.Fprintf(c.out, "  %s %s\n", c.colors.Colorize(fmt.Sprintf("%-*s", width+1, f.Key+":"), c.theme.Muted), f.Value)
	}
}

// NewTable creates a table themed like the console
func (c *Console) NewTable(headers ...string) *Table {
	return NewTable(c.colors, c.theme, headers...)
}

// PrintTable renders t as text, or as a list of header keyed records for
// structured formats
func (c *Console) PrintTable(t *Table) error {
	if c.Structured() {
		records := make([]map[string]string, 0, len(t.Rows()))
		for _, row := range t.Rows() {
			record := make(map[string]string, len(t.Headers()))
			for i, h := range t.Headers() {
				if i < len(row) {
					record[h] = row[i]
				}
			}
			records = append(records, record)
		}
		return c.Render(records)
	}
	if c.cfg.Quiet {
		return nil
	}
	return t.RenderTo(c.out)
}

// Render writes v in the structured format. In table format nothing is
// written; callers print their own human readable form.
func (c *Console) Render(v interface{}) error {
	switch c.cfg.Format {
	case FormatJSON:
		enc := json.NewEncoder(c.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(c.out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return nil
}

// ProgressBar returns a percentage bar on the error stream, or nil when
// progress is hidden
func (c *Console) ProgressBar(message string) *ProgressBar {
	if !c.cfg.ShowProgress || !c.decorated() {
		return nil
	}
	return NewProgressBar(message, c.errOut, c.colors, c.theme)
}

// ByteCounter returns a byte counter on the error stream, or nil when
// progress is hidden
func (c *Console) ByteCounter(message string) *ByteCounter {
	if !c.cfg.ShowProgress || !c.decorated() {
		return nil
	}
	return NewByteCounter(message, c.errOut, c.colors, c.theme)
}

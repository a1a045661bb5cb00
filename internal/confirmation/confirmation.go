package confirmation

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/term"

	"sqlferry/internal/display"
	appErrors "sqlferry/internal/errors"
)

// Request describes a restore that would write into a database that already
// holds tables
type Request struct {
	Target   string
	Strategy string
	// Existing lists the target tables the restore may overwrite
	Existing []string
}

// Service asks whether a restore may proceed
type Service interface {
	ConfirmRestore(req Request) (bool, error)
}

// Prompter implements Service on a terminal
type Prompter struct {
	reader      *bufio.Reader
	out         io.Writer
	colors      display.ColorSystem
	autoApprove bool
	interactive bool
}

// NewPrompter creates a prompter reading answers from in and writing the
// prompt to out. Input that is not a terminal cannot answer, so without
// autoApprove such a restore is refused.
func NewPrompter(in io.Reader, out io.Writer, autoApprove, useColors bool) *Prompter {
	return &Prompter{
		reader:      bufio.NewReader(in),
		out:         out,
		colors:      display.NewColorSystem(out, useColors),
		autoApprove: autoApprove,
		interactive: isTerminal(in),
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Interactive forces prompting even when the input is not a terminal
func (p *Prompter) Interactive(v bool) *Prompter {
	p.interactive = v
	return p
}

// ConfirmRestore shows what the restore touches and waits for y, n or d
func (p *Prompter) ConfirmRestore(req Request) (bool, error) {
	if len(req.Existing) == 0 {
		return true, nil
	}
	if p.autoApprove {
		fmt.Fprintln(p.out, p.colors.Colorize("✓ Auto-approving restore into a non-empty target", display.ColorGreen))
		return true, nil
	}
	if !p.interactive {
		return false, appErrors.New(appErrors.KindValidationFailed,
			fmt.Sprintf("target %s already contains %d table(s); pass --yes to restore without a prompt", req.Target, len(req.Existing)), nil).
			WithContext("tables", strings.Join(req.Existing, ","))
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(interrupts)

	for {
		p.displaySummary(req)

		answers := make(chan string, 1)
		errs := make(chan error, 1)
		go func() {
			input, err := p.prompt()
			if err != nil {
				errs <- err
				return
			}
			answers <- input
		}()

		select {
		case <-interrupts:
			fmt.Fprintln(p.out, "\n"+p.colors.Colorize("⚠ Restore cancelled by user", display.ColorYellow))
			return false, nil
		case err := <-errs:
			return false, fmt.Errorf("failed to read user input: %w", err)
		case input := <-answers:
			switch strings.ToLower(input) {
			case "y", "yes":
				return true, nil
			case "n", "no", "":
				fmt.Fprintln(p.out, p.colors.Colorize("✓ Restore cancelled", display.ColorGreen))
				return false, nil
			case "d", "details":
				p.displayTables(req.Existing)
			default:
				fmt.Fprintf(p.out, "Invalid input '%s'. Please enter 'y' for yes, 'n' for no, or 'd' for details.\n", input)
			}
		}
	}
}

func (p *Prompter) displaySummary(req Request) {
	fmt.Fprintln(p.out, p.colors.Colorize("⚠ TARGET IS NOT EMPTY", display.ColorYellow))
	fmt.Fprintln(p.out, strings.Repeat("=", 50))
	fmt.Fprintf(p.out, "Target:   %s\n", req.Target)
	if req.Strategy != "" {
		fmt.Fprintf(p.out, "Strategy: %s\n", req.Strategy)
	}
	fmt.Fprintf(p.out, "%d existing table(s) may be replaced or receive duplicate rows.\n", len(req.Existing))
}

func (p *Prompter) displayTables(tables []string) {
	fmt.Fprintln(p.out, "\n"+p.colors.Colorize("Existing tables:", display.ColorBrightWhite))
	for i, name := range tables {
		fmt.Fprintf(p.out, "  %d. %s\n", i+1, name)
	}
	fmt.Fprintln(p.out)
}

func (p *Prompter) prompt() (string, error) {
	fmt.Fprint(p.out, p.colors.Colorize("Restore anyway? [y/N/d]: ", display.ColorBrightWhite))
	input, err := p.reader.ReadString('\n')
	if err != nil {
		if err == io.EOF && input != "" {
			return strings.TrimSpace(input), nil
		}
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	return strings.TrimSpace(input), nil
}

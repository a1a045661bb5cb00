package display

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// ProgressBar renders a percentage bar on a single terminal line
type ProgressBar struct {
	percent  float64
	message  string
	width    int
	writer   io.Writer
	colorSys ColorSystem
	theme    ColorTheme
	started  time.Time
	lastLine string
	mu       sync.Mutex
}

// NewProgressBar creates a progress bar writing to writer
func NewProgressBar(message string, writer io.Writer, colorSys ColorSystem, theme ColorTheme) *ProgressBar {
	width := 40
	if tw := terminalWidth(writer); tw > 0 && tw < 80 {
		width = tw / 3
	}
	return &ProgressBar{
		message:  message,
		width:    width,
		writer:   writer,
		colorSys: colorSys,
		theme:    theme,
		started:  time.Now(),
	}
}

// Update sets the bar to percent (0..100). Values below the current one are
// ignored so the bar never moves backwards.
func (pb *ProgressBar) Update(percent float64, message string) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if percent > 100 {
		percent = 100
	}
	if percent > pb.percent {
		pb.percent = percent
	}
	if message != "" {
		pb.message = message
	}
	pb.render()
}

// Finish draws the bar at 100% and ends the line
func (pb *ProgressBar) Finish(message string) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	pb.percent = 100
	if message != "" {
		pb.message = message
	}
	pb.render()
	fmt.Fprintln(pb.writer)
}

// Percent returns the last rendered percentage
func (pb *ProgressBar) Percent() float64 {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.percent
}

func (pb *ProgressBar) render() {
	filledWidth := int(float64(pb.width) * pb.percent / 100)
	filled := strings.Repeat("█", filledWidth)
	empty := strings.Repeat("░", pb.width-filledWidth)
	if pb.colorSys != nil && pb.colorSys.IsColorSupported() {
		filled = pb.colorSys.Colorize(filled, pb.theme.Success)
		empty = pb.colorSys.Colorize(empty, pb.theme.Muted)
	}

	line := fmt.Sprintf("[%s%s] %5.1f%% %s (%s)", filled, empty, pb.percent, pb.message,
		time.Since(pb.started).Round(time.Second))
	if line == pb.lastLine {
		return
	}
	pb.lastLine = line
	fmt.Fprint(pb.writer, "\r\033[K"+line)
}

// ByteCounter reports a stream of unknown length, such as a dump being
// written, as a running byte count
type ByteCounter struct {
	message  string
	writer   io.Writer
	colorSys ColorSystem
	theme    ColorTheme
	started  time.Time
	frame    int
	mu       sync.Mutex
}

var counterFrames = []string{"-", "\\", "|", "/"}

// NewByteCounter creates a counter writing to writer
func NewByteCounter(message string, writer io.Writer, colorSys ColorSystem, theme ColorTheme) *ByteCounter {
	return &ByteCounter{
		message:  message,
		writer:   writer,
		colorSys: colorSys,
		theme:    theme,
		started:  time.Now(),
	}
}

// Update redraws the counter with the number of bytes seen so far
func (bc *ByteCounter) Update(bytes int64) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	frame := counterFrames[bc.frame%len(counterFrames)]
	bc.frame++
	if bc.colorSys != nil {
		frame = bc.colorSys.Colorize(frame, bc.theme.Primary)
	}
	fmt.Fprintf(bc.writer, "\r\033[K%s %s %s (%s)", frame, bc.message,
		humanize.IBytes(uint64(bytes)), time.Since(bc.started).Round(time.Second))
}

// Finish clears the counter line and prints message when it is not empty
func (bc *ByteCounter) Finish(message string) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	fmt.Fprint(bc.writer, "\r\033[K")
	if message != "" {
		fmt.Fprintln(bc.writer, message)
	}
}

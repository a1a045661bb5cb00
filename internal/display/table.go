package display

import (
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Alignment represents column alignment options
type Alignment int

const (
	AlignLeft Alignment = iota
	AlignRight
)

// BorderStyle defines table border characters
type BorderStyle struct {
	Corner     string
	Horizontal string
	Vertical   string
}

var (
	ASCIIBorderStyle = BorderStyle{Corner: "+", Horizontal: "-", Vertical: "|"}
	NoBorderStyle    = BorderStyle{}
)

// Table renders rows of text as aligned columns
type Table struct {
	headers    []string
	rows       [][]string
	alignments map[int]Alignment
	border     BorderStyle
	maxWidth   int
	colorSys   ColorSystem
	theme      ColorTheme
}

// NewTable creates an ASCII bordered table
func NewTable(colorSys ColorSystem, theme ColorTheme, headers ...string) *Table {
	return &Table{
		headers:    headers,
		alignments: make(map[int]Alignment),
		border:     ASCIIBorderStyle,
		colorSys:   colorSys,
		theme:      theme,
	}
}

// AddRow appends a row; missing cells render empty
func (t *Table) AddRow(cells ...string) {
	t.rows = append(t.rows, cells)
}

// SetAlignment sets the alignment of column
func (t *Table) SetAlignment(column int, alignment Alignment) {
	t.alignments[column] = alignment
}

// SetBorder replaces the border characters
func (t *Table) SetBorder(border BorderStyle) {
	t.border = border
}

// SetMaxWidth limits the rendered width. Zero uses the terminal width.
func (t *Table) SetMaxWidth(width int) {
	t.maxWidth = width
}

// Rows returns the table body
func (t *Table) Rows() [][]string {
	return t.rows
}

// Headers returns the column headers
func (t *Table) Headers() []string {
	return t.headers
}

// Render returns the table as text
func (t *Table) Render() string {
	widths := t.columnWidths()
	var b strings.Builder

	separator := t.separator(widths)
	if separator != "" {
		b.WriteString(separator + "\n")
	}
	if len(t.headers) > 0 {
		b.WriteString(t.renderRow(t.headers, widths, true) + "\n")
		if separator != "" {
			b.WriteString(separator + "\n")
		}
	}
	for _, row := range t.rows {
		b.WriteString(t.renderRow(row, widths, false) + "\n")
	}
	if separator != "" && len(t.rows) > 0 {
		b.WriteString(separator + "\n")
	}
	return b.String()
}

// RenderTo writes the table to w
func (t *Table) RenderTo(w io.Writer) error {
	_, err := io.WriteString(w, t.Render())
	return err
}

func (t *Table) columnCount() int {
	n := len(t.headers)
	for _, row := range t.rows {
		if len(row) > n {
			n = len(row)
		}
	}
	return n
}

func (t *Table) columnWidths() []int {
	widths := make([]int, t.columnCount())
	measure := func(row []string) {
		for i, cell := range row {
			if w := utf8.RuneCountInString(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	measure(t.headers)
	for _, row := range t.rows {
		measure(row)
	}

	maxWidth := t.maxWidth
	if maxWidth == 0 {
		maxWidth = terminalWidth(os.Stdout)
	}
	if maxWidth <= 0 {
		return widths
	}

	// shrink the widest column until the table fits or nothing can shrink
	for t.totalWidth(widths) > maxWidth {
		widest := 0
		for i := range widths {
			if widths[i] > widths[widest] {
				widest = i
			}
		}
		if widths[widest] <= 6 {
			break
		}
		widths[widest]--
	}
	return widths
}

func (t *Table) totalWidth(widths []int) int {
	total := len(t.border.Vertical)
	for _, w := range widths {
		// one space of padding on each side
		total += w + 2 + len(t.border.Vertical)
	}
	return total
}

func (t *Table) separator(widths []int) string {
	if t.border.Horizontal == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(t.border.Corner)
	for _, w := range widths {
		b.WriteString(strings.Repeat(t.border.Horizontal, w+2))
		b.WriteString(t.border.Corner)
	}
	return b.String()
}

func (t *Table) renderRow(row []string, widths []int, header bool) string {
	var b strings.Builder
	b.WriteString(t.border.Vertical)
	for i, width := range widths {
		var cell string
		if i < len(row) {
			cell = row[i]
		}
		b.WriteString(" " + t.formatCell(cell, width, t.alignments[i], header) + " ")
		b.WriteString(t.border.Vertical)
	}
	return strings.TrimRight(b.String(), " ")
}

func (t *Table) formatCell(content string, width int, alignment Alignment, header bool) string {
	if utf8.RuneCountInString(content) > width {
		runes := []rune(content)
		if width > 3 {
			content = string(runes[:width-3]) + "..."
		} else {
			content = string(runes[:width])
		}
	}

	pad := strings.Repeat(" ", width-utf8.RuneCountInString(content))
	if header && t.colorSys != nil {
		content = t.colorSys.Colorize(content, t.theme.Primary)
	}
	if alignment == AlignRight {
		return pad + content
	}
	return content + pad
}

// terminalWidth returns the width of w when it is a terminal, otherwise 0
func terminalWidth(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return 0
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil {
		return 0
	}
	return width
}

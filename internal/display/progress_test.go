package display

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressBarNeverMovesBackwards(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar("restoring", &buf, nil, PlainTextTheme())

	bar.Update(40, "")
	bar.Update(25, "statement 3")
	assert.Equal(t, 40.0, bar.Percent())
	assert.Contains(t, buf.String(), " 40.0% statement 3")

	bar.Update(250, "")
	assert.Equal(t, 100.0, bar.Percent())

	bar.Finish("done")
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
	assert.Contains(t, buf.String(), "100.0% done")
}

func TestProgressBarSkipsIdenticalFrames(t *testing.T) {
	var buf bytes.Buffer
	bar := NewProgressBar("restoring", &buf, nil, PlainTextTheme())

	bar.Update(10, "")
	size := buf.Len()
	bar.Update(10, "")
	assert.Equal(t, size, buf.Len())
}

func TestByteCounter(t *testing.T) {
	var buf bytes.Buffer
	counter := NewByteCounter("dumping", &buf, nil, PlainTextTheme())

	counter.Update(2048)
	assert.Contains(t, buf.String(), "dumping 2.0 KiB")

	counter.Finish("dump complete")
	assert.True(t, strings.HasSuffix(buf.String(), "\r\033[Kdump complete\n"))
}

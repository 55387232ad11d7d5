// Package render draws a single-line terminal progress bar for a running job.
package render

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// DefaultWidth is used when the terminal size cannot be determined.
const DefaultWidth = 80

// resolution is the number of bar steps a fully complete job maps to.
const resolution = 1000

// State is what one frame of the bar shows.
type State struct {
	Overall  float64
	Progress []float64
	Status   string
}

// Bar redraws a progress line in place. Overall drives the bar and the
// finished-worker count plus status form its description.
type Bar struct {
	mu      sync.Mutex
	out     io.Writer
	bar     *progressbar.ProgressBar
	descMax int
	enabled bool
	drawn   bool
}

// NewBar creates a bar for f. It is disabled when f is not a terminal.
func NewBar(f *os.File) *Bar {
	fd := int(f.Fd())
	width := DefaultWidth
	if w, _, err := term.GetSize(fd); err == nil && w > 0 {
		width = w
	}
	b := newBar(f, width)
	b.enabled = term.IsTerminal(fd)
	return b
}

// NewBarWriter creates an always-enabled bar of the given width on w.
func NewBarWriter(w io.Writer, width int) *Bar {
	if width <= 0 {
		width = DefaultWidth
	}
	b := newBar(w, width)
	b.enabled = true
	return b
}

func newBar(w io.Writer, width int) *Bar {
	barWidth := width / 3
	if barWidth < 10 {
		barWidth = 10
	}
	return &Bar{
		out:     w,
		descMax: width - barWidth - 12,
		bar: progressbar.NewOptions(resolution,
			progressbar.OptionSetWriter(w),
			progressbar.OptionSetWidth(barWidth),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionSetTheme(progressbar.Theme{
				Saucer:        "#",
				SaucerPadding: "-",
				BarStart:      "[",
				BarEnd:        "]",
			}),
		),
	}
}

// Enabled reports whether Draw produces output.
func (b *Bar) Enabled() bool {
	return b.enabled
}

// Draw updates the bar to s.
func (b *Bar) Draw(s State) {
	if !b.enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bar.Describe(Description(s, b.descMax))
	_ = b.bar.Set(int(clamp(s.Overall) * resolution))
	b.drawn = true
}

// Finish ends the bar's line so later output starts on a fresh one. The bar
// keeps its last value; a failed job is not shown as complete.
func (b *Bar) Finish() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.drawn {
		fmt.Fprintln(b.out)
		b.drawn = false
	}
}

// Watch draws poll's state every interval until ctx is done, then draws one
// final frame and finishes the line.
func (b *Bar) Watch(ctx context.Context, interval time.Duration, poll func() State) {
	if !b.enabled {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		b.Draw(poll())
		select {
		case <-ctx.Done():
			b.Draw(poll())
			b.Finish()
			return
		case <-ticker.C:
		}
	}
}

// Description returns "done/total  status", cut to at most limit runes when
// limit is positive.
func Description(s State, limit int) string {
	done := 0
	for _, p := range s.Progress {
		if p >= 1 {
			done++
		}
	}
	desc := fmt.Sprintf("%d/%d", done, len(s.Progress))
	if s.Status != "" {
		desc += "  " + s.Status
	}
	if runes := []rune(desc); limit > 0 && len(runes) > limit {
		desc = string(runes[:limit])
	}
	return desc
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}

package render

import (
	"bytes"
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDescription(t *testing.T) {
	tests := []struct {
		name  string
		state State
		limit int
		want  string
	}{
		{
			name:  "empty",
			state: State{},
			want:  "0/0",
		},
		{
			name:  "half done with status",
			state: State{Progress: []float64{1, 0.5}, Status: "ok"},
			want:  "1/2  ok",
		},
		{
			name:  "truncated",
			state: State{Progress: []float64{1}, Status: "a very long status message"},
			limit: 10,
			want:  "1/1  a ver",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Description(tt.state, tt.limit))
		})
	}
}

func TestClamp(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-1))
	assert.Equal(t, 0.5, clamp(0.5))
	assert.Equal(t, 1.0, clamp(3))
}

func TestBarDrawAndFinish(t *testing.T) {
	var buf bytes.Buffer
	bar := NewBarWriter(&buf, 60)
	assert.True(t, bar.Enabled())

	bar.Finish()
	assert.Empty(t, buf.String(), "finish without a frame prints nothing")

	bar.Draw(State{Overall: 0.25, Progress: []float64{1, 0, 0, 0}, Status: "working"})
	bar.Finish()

	out := buf.String()
	assert.Contains(t, out, "1/4  working")
	assert.Contains(t, out, "[")
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestBarWatchDrawsFinalFrame(t *testing.T) {
	var buf bytes.Buffer
	bar := NewBarWriter(&buf, 60)

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		bar.Watch(ctx, time.Millisecond, func() State {
			calls.Add(1)
			return State{Overall: 1, Progress: []float64{1}, Status: "done"}
		})
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	assert.GreaterOrEqual(t, calls.Load(), int32(2))
	assert.True(t, strings.HasSuffix(buf.String(), "\n"))
	assert.Contains(t, buf.String(), "1/1  done")
}

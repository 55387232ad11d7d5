package engine

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/opd-ai/cryptcore/limits"
)

// errorPrefix marks a failure report on the IPC channel.
const errorPrefix = "error:"

// Message is one terminal report from a child process. The wire form is an
// ASCII line: "<worker>,100\n" on success or "<worker>,error:<text>\n" on
// failure.
type Message struct {
	Worker  int
	Percent int
	Err     string
}

// SuccessMessage returns the completion report for worker.
func SuccessMessage(worker int) Message {
	return Message{Worker: worker, Percent: 100}
}

// ErrorMessage returns a failure report for worker.
func ErrorMessage(worker int, err error) Message {
	text := "unknown error"
	if err != nil {
		text = err.Error()
	}
	return Message{Worker: worker, Err: text}
}

// IsError reports whether the message is a failure report.
func (m Message) IsError() bool {
	return m.Err != ""
}

// Fraction converts the reported percentage into a progress fraction.
func (m Message) Fraction() float64 {
	return float64(m.Percent) / 100
}

// Encode renders the message as one newline-terminated line no longer than
// limits.MaxIPCMessage. Newlines inside the error text are replaced and long
// texts are truncated so a single write stays atomic.
func (m Message) Encode() []byte {
	if !m.IsError() {
		return []byte(fmt.Sprintf("%d,%d\n", m.Worker, m.Percent))
	}
	head := fmt.Sprintf("%d,%s", m.Worker, errorPrefix)
	text := strings.NewReplacer("\n", " ", "\r", " ").Replace(m.Err)
	if room := limits.MaxIPCMessage - len(head) - 1; len(text) > room {
		text = text[:room]
	}
	return []byte(head + text + "\n")
}

// ParseMessage decodes one line, with or without its trailing newline.
func ParseMessage(line string) (Message, error) {
	line = strings.TrimRight(line, "\r\n")
	idx, rest, ok := strings.Cut(line, ",")
	if !ok {
		return Message{}, fmt.Errorf("%w: missing separator in %q", ErrMalformedMessage, line)
	}
	worker, err := strconv.Atoi(idx)
	if err != nil || worker < 0 {
		return Message{}, fmt.Errorf("%w: bad worker index in %q", ErrMalformedMessage, line)
	}
	if text, isErr := strings.CutPrefix(rest, errorPrefix); isErr {
		if text == "" {
			text = "unknown error"
		}
		return Message{Worker: worker, Err: text}, nil
	}
	pct, err := strconv.Atoi(rest)
	if err != nil || pct < 0 || pct > 100 {
		return Message{}, fmt.Errorf("%w: bad progress in %q", ErrMalformedMessage, line)
	}
	return Message{Worker: worker, Percent: pct}, nil
}

// lineBuffer reassembles newline-terminated lines from arbitrary reads.
type lineBuffer struct {
	pending []byte
}

// Feed appends data and returns every complete line now available.
func (b *lineBuffer) Feed(data []byte) []string {
	b.pending = append(b.pending, data...)
	var lines []string
	for {
		i := bytes.IndexByte(b.pending, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(b.pending[:i]))
		b.pending = b.pending[i+1:]
	}
	if len(b.pending) == 0 {
		b.pending = nil
	}
	return lines
}

// Remainder returns any trailing bytes that never saw a newline.
func (b *lineBuffer) Remainder() string {
	return string(b.pending)
}

// Package sse reads server-sent-event frames from a byte stream.
//
// The execution backends speak the minimal SSE subset used by this product:
// frames of the form "event: <channel>\ndata: <json>\n\n". Comments and
// retry fields are ignored; multiple data lines within one frame are joined
// with newlines per the SSE spec.
package sse

import (
	"bufio"
	"io"
	"strings"
)

// maxLineBytes bounds a single stream line. Batch image frames carry
// base64 payloads, so this is generous.
const maxLineBytes = 16 << 20

// Frame is one decoded event frame.
type Frame struct {
	// Event is the channel name from the "event:" field. Empty if the
	// frame carried only data lines.
	Event string

	// Data is the joined payload of all "data:" lines in the frame.
	Data []byte
}

// Reader decodes frames from an underlying stream.
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader wraps r for frame-by-frame reading.
func NewReader(r io.Reader) *Reader {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 64<<10), maxLineBytes)
	return &Reader{scanner: s}
}

// Next returns the next complete frame. It returns io.EOF when the stream
// ends; a frame in progress at EOF is returned first if it has any data.
func (r *Reader) Next() (Frame, error) {
	var frame Frame
	var data []string
	seen := false

	for r.scanner.Scan() {
		line := r.scanner.Text()

		// Blank line terminates a frame.
		if line == "" {
			if !seen {
				continue
			}
			frame.Data = []byte(strings.Join(data, "\n"))
			return frame, nil
		}

		// Comment line per SSE spec.
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			frame.Event = value
			seen = true
		case "data":
			data = append(data, value)
			seen = true
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Frame{}, err
	}
	if seen {
		frame.Data = []byte(strings.Join(data, "\n"))
		return frame, nil
	}
	return Frame{}, io.EOF
}

func splitField(line string) (string, string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	field := line[:idx]
	value := line[idx+1:]
	// A single leading space after the colon is part of the framing.
	value = strings.TrimPrefix(value, " ")
	return field, value
}

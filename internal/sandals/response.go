package sandals

import (
	"bytes"
	"fmt"

	units "github.com/docker/go-units"
)

// PipeBufSize mirrors PIPE_BUF on Linux, the hard ceiling on a single
// atomic pipe write and on the whole response buffer.
const PipeBufSize = 4096

// Response is the bounded, single-line JSON object the supervisor emits
// exactly once. Fields beyond Status are status-specific.
type Response struct {
	Status      Status
	Code        int
	Signal      string
	Description string
}

// Bytes renders the response as a single line of JSON terminated by
// '\n'. If the rendered form would exceed PipeBufSize, it downgrades to
// responseTooBig with no description, guarding against overflowing the
// caller's read buffer.
func (r Response) Bytes() []byte {
	buf := r.render()
	if len(buf) <= PipeBufSize {
		return buf
	}
	small := Response{Status: StatusResponseTooBig}
	buf = small.render()
	if len(buf) > PipeBufSize {
		// Cannot happen for any fixed status literal, but guarantee the
		// contract rather than assert it.
		buf = []byte(`{"status":"responseTooBig"}` + "\n")
	}
	return buf
}

func (r Response) render() []byte {
	var b bytes.Buffer
	b.WriteString(`{"status":"`)
	b.WriteString(string(r.Status))
	b.WriteByte('"')
	switch r.Status {
	case StatusExited:
		fmt.Fprintf(&b, `,"code":%d`, r.Code)
	case StatusKilled:
		b.WriteString(`,"signal":"`)
		writeJSONEscaped(&b, r.Signal)
		b.WriteByte('"')
	case StatusRequestInvalid, StatusInternalError:
		if r.Description != "" {
			b.WriteString(`,"description":"`)
			writeJSONEscaped(&b, r.Description)
			b.WriteByte('"')
		}
	}
	b.WriteByte('}')
	b.WriteByte('\n')
	return b.Bytes()
}

// writeJSONEscaped escapes control bytes 0x00-0x1F plus backslash and
// double-quote as \uXXXX.
func writeJSONEscaped(b *bytes.Buffer, s string) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' || c == '"':
			fmt.Fprintf(b, `\u%04x`, c)
		case c < 0x20:
			fmt.Fprintf(b, `\u%04x`, c)
		default:
			b.WriteByte(c)
		}
	}
}

// FromFail converts a Fail into the response it should produce.
func FromFail(f *Fail) Response {
	return Response{Status: f.Status, Description: f.Description}
}

// describeLimit renders a byte limit for log fields using the same
// human-readable units the corpus uses for container resource limits.
func describeLimit(n int64) string {
	if n <= 0 {
		return "0B"
	}
	return units.BytesSize(float64(n))
}

package sandals

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseExited(t *testing.T) {
	r := Response{Status: StatusExited, Code: 7}
	assert.Equal(t, "{\"status\":\"exited\",\"code\":7}\n", string(r.Bytes()))
}

func TestResponseKilled(t *testing.T) {
	r := Response{Status: StatusKilled, Signal: "SIGSEGV"}
	assert.Equal(t, "{\"status\":\"killed\",\"signal\":\"SIGSEGV\"}\n", string(r.Bytes()))
}

func TestResponseBareStatus(t *testing.T) {
	for _, s := range []Status{StatusMemoryLimit, StatusPidsLimit, StatusTimeLimit, StatusOutputLimit} {
		r := Response{Status: s}
		assert.Equal(t, "{\"status\":\""+string(s)+"\"}\n", string(r.Bytes()))
	}
}

func TestResponseEscapesDescription(t *testing.T) {
	r := Response{Status: StatusInternalError, Description: "bad \"quote\" and \\slash\\ and \x01ctl"}
	out := string(r.Bytes())
	assert.True(t, strings.HasSuffix(out, "}\n"))
	assert.NotContains(t, out, "\"quote\"")
	assert.Contains(t, out, `"`)
	assert.Contains(t, out, `\`)
	assert.Contains(t, out, `\u0001`)
	assert.NotContains(t, out, ``)
}

func TestResponseDowngradesWhenTooBig(t *testing.T) {
	huge := strings.Repeat("x", PipeBufSize*2)
	r := Response{Status: StatusInternalError, Description: huge}
	out := r.Bytes()
	assert.LessOrEqual(t, len(out), PipeBufSize)
	assert.Equal(t, "{\"status\":\"responseTooBig\"}\n", string(out))
}

func TestResponseAlwaysEndsWithNewline(t *testing.T) {
	r := Response{Status: StatusExited, Code: 0}
	out := r.Bytes()
	assert.Equal(t, byte('\n'), out[len(out)-1])
}

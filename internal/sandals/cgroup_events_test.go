package sandals

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCgroupCounterNonZero(t *testing.T) {
	cases := []struct {
		name string
		data string
		key  string
		want bool
	}{
		{"zero", "low 0\nhigh 0\nmax 0\noom 0\noom_kill 0\n", "oom_kill", false},
		{"nonzero", "low 0\nmax 0\noom_kill 3\n", "oom_kill", true},
		{"pids max", "max 2\n", "max", true},
		{"key substring not matched", "low_max 5\n", "max", false},
		{"no trailing newline", "oom_kill 1", "oom_kill", true},
		{"extra spaces", "oom_kill    7\n", "oom_kill", true},
		{"missing key", "max 0\n", "oom_kill", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, CgroupCounterNonZero([]byte(c.data), c.key))
		})
	}
}

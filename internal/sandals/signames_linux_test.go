package sandals

import (
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestSignalNameKnown(t *testing.T) {
	require.Equal(t, "SIGSEGV", signalName(unix.SIGSEGV))
	require.Equal(t, "SIGKILL", signalName(unix.SIGKILL))
}

func TestSignalNameFallsBackToNumber(t *testing.T) {
	require.Equal(t, "37", signalName(unix.Signal(37)))
}

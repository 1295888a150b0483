package sandals

import (
	"strconv"

	"golang.org/x/sys/unix"
)

// signalNames covers every signal a sandboxed process could plausibly
// die from; a "killed" response reports a name like SIGSEGV, falling
// back to the numeric value for anything unlisted.
var signalNames = map[unix.Signal]string{
	unix.SIGABRT:   "SIGABRT",
	unix.SIGALRM:   "SIGALRM",
	unix.SIGBUS:    "SIGBUS",
	unix.SIGFPE:    "SIGFPE",
	unix.SIGHUP:    "SIGHUP",
	unix.SIGILL:    "SIGILL",
	unix.SIGINT:    "SIGINT",
	unix.SIGKILL:   "SIGKILL",
	unix.SIGPIPE:   "SIGPIPE",
	unix.SIGQUIT:   "SIGQUIT",
	unix.SIGSEGV:   "SIGSEGV",
	unix.SIGTERM:   "SIGTERM",
	unix.SIGTRAP:   "SIGTRAP",
	unix.SIGUSR1:   "SIGUSR1",
	unix.SIGUSR2:   "SIGUSR2",
	unix.SIGXCPU:   "SIGXCPU",
	unix.SIGXFSZ:   "SIGXFSZ",
	unix.SIGSYS:    "SIGSYS",
	unix.SIGVTALRM: "SIGVTALRM",
	unix.SIGPROF:   "SIGPROF",
}

func signalName(sig unix.Signal) string {
	if name, ok := signalNames[sig]; ok {
		return name
	}
	return strconv.Itoa(int(sig))
}

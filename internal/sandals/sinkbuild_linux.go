package sandals

import (
	"os"

	"golang.org/x/sys/unix"
)

// BuiltSinks is everything P2 produces while wiring output channels:
// the fds to hand P1 over SCM_RIGHTS, parallel to the PipeTable, and
// the files P3 should inherit for its own stdio.
type BuiltSinks struct {
	ToSend        []int
	ChildStdout   *os.File
	ChildStderr   *os.File
	ExtraForChild []*os.File
}

// BuildSinks creates one output channel per PipeTable entry inside P2's
// mount namespace, after chroot/mounts are already in place so fifo
// paths resolve inside the sandbox view.
func BuildSinks(chroot string, table *PipeTable, req *Request) (*BuiltSinks, error) {
	built := &BuiltSinks{ToSend: make([]int, table.Len())}

	for i, spec := range table.All() {
		if table.IsStdStreams(i) {
			supFd, outFile, errFile, err := makeStdStreamsSockets()
			if err != nil {
				return nil, err
			}
			built.ToSend[i] = supFd
			built.ChildStdout, built.ChildStderr = outFile, errFile
			continue
		}

		if spec.Src != "" {
			readFd, err := makeNamedFifo(chroot, spec.Src)
			if err != nil {
				return nil, err
			}
			built.ToSend[i] = readFd
			continue
		}

		r, w, err := os.Pipe()
		if err != nil {
			return nil, Internal(err, "creating pipe for %s", spec.Dest)
		}
		if err := unix.SetNonblock(int(r.Fd()), true); err != nil {
			return nil, Internal(err, "setting pipe nonblocking")
		}
		built.ToSend[i] = dupAsRaw(r)
		r.Close()

		switch {
		case spec.AsStdout:
			built.ChildStdout = w
		case spec.AsStderr:
			built.ChildStderr = w
		default:
			built.ExtraForChild = append(built.ExtraForChild, w)
		}
	}

	return built, nil
}

func dupAsRaw(f *os.File) int {
	fd, err := unix.Dup(int(f.Fd()))
	if err != nil {
		return int(f.Fd())
	}
	return fd
}

// makeNamedFifo creates the PipeSpec's inside-sandbox source as a fifo
// (mode 0600) and opens its read end nonblocking, then hands the fd
// across to P1.
func makeNamedFifo(chroot, src string) (int, error) {
	path, err := chrootRelative(chroot, src)
	if err != nil {
		return -1, Internal(err, "resolving fifo path %s", src)
	}
	if err := unix.Mkfifo(path, 0o600); err != nil && err != unix.EEXIST {
		return -1, Internal(err, "creating fifo %s", path)
	}
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return -1, Internal(err, "opening fifo %s", path)
	}
	return fd, nil
}

// makeStdStreamsSockets creates the three UNIX datagram sockets for
// multiplexed output: one supervisor-facing socket (returned as a raw
// fd for SCM_RIGHTS transfer) and two child-facing sockets,
// pre-connected to the supervisor-facing socket and returned as
// *os.File so they can become P3's stdout/stderr directly.
func makeStdStreamsSockets() (supFd int, stdoutFile, stderrFile *os.File, err error) {
	sup, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
	if err != nil {
		return -1, nil, nil, Internal(err, "creating stdstreams supervisor socket")
	}
	if err := unix.Bind(sup, &unix.SockaddrUnix{Name: StdStreamsSupervisorAddr}); err != nil {
		return -1, nil, nil, Internal(err, "binding stdstreams supervisor socket")
	}

	mkChild := func(name, peer string) (*os.File, error) {
		fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_DGRAM, 0)
		if err != nil {
			return nil, Internal(err, "creating stdstreams child socket")
		}
		if err := unix.Bind(fd, &unix.SockaddrUnix{Name: name}); err != nil {
			return nil, Internal(err, "binding stdstreams child socket")
		}
		if err := unix.Connect(fd, &unix.SockaddrUnix{Name: peer}); err != nil {
			return nil, Internal(err, "connecting stdstreams child socket")
		}
		return os.NewFile(uintptr(fd), name), nil
	}

	outFile, err := mkChild(StdStreamsStdoutAddr, StdStreamsSupervisorAddr)
	if err != nil {
		return -1, nil, nil, err
	}
	errFile, err := mkChild(StdStreamsStderrAddr, StdStreamsSupervisorAddr)
	if err != nil {
		return -1, nil, nil, err
	}
	return sup, outFile, errFile, nil
}

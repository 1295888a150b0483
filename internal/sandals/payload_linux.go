package sandals

import (
	"encoding/binary"
	"encoding/gob"
	"os"
	"os/exec"

	"golang.org/x/sys/unix"
)

// Fd numbering P2 sets up for P3 via ExtraFiles (see spawnerMain):
// fd 3 is the read end of the gob-encoded PayloadSpec pipe, fd 4 is the
// exec_errno memfd. Any further ExtraFiles (non-stdio sink write ends)
// start at fd 5 and are simply inherited; nothing in the payload needs
// to address them by number.
const (
	fdPayloadSpec = 3
	fdExecErrno   = 4
)

// payloadMain is P3's entire body. It installs the seccomp filter, if
// any, and execs the user command; the process image this Go code runs
// in is replaced on success, so anything after a successful execve
// never executes.
func payloadMain() {
	specFile := os.NewFile(fdPayloadSpec, "payload-spec")
	var spec PayloadSpec
	if err := gob.NewDecoder(specFile).Decode(&spec); err != nil {
		writeExecErrno(int(unix.EINVAL))
		os.Exit(1)
	}
	specFile.Close()

	if spec.SeccompPolicy != "" {
		prog, err := CompileSeccompPolicy(spec.SeccompPolicy)
		if err != nil {
			writeExecErrno(int(unix.EINVAL))
			os.Exit(1)
		}
		if err := InstallSeccomp(prog); err != nil {
			writeExecErrno(int(unix.EINVAL))
			os.Exit(1)
		}
	}

	argv0, err := exec.LookPath(spec.Argv[0])
	if err != nil {
		writeExecErrno(int(unix.ENOENT))
		os.Exit(1)
	}

	err = unix.Exec(argv0, spec.Argv, spec.Env)
	// unix.Exec only returns on failure.
	errno, _ := err.(unix.Errno)
	if errno == 0 {
		errno = unix.EINVAL
	}
	writeExecErrno(int(errno))
	os.Exit(1)
}

// writeExecErrno writes a nonzero errno into the shared exec_errno cell
// so P2 can distinguish a failed execve from a normal exit.
func writeExecErrno(errno int) {
	var buf [execErrnoSize]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(errno))
	unix.Pwrite(fdExecErrno, buf[:], 0)
}

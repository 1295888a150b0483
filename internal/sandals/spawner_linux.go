package sandals

import (
	"encoding/gob"
	"fmt"
	"os"

	"github.com/docker/docker/pkg/reexec"
	"golang.org/x/sys/unix"
)

// Fd numbering for the pipe/socket set P1 hands to P2 via ExtraFiles.
// os/exec places stdin/stdout/stderr at 0-2 and ExtraFiles starting at
// 3, so these are the fd numbers P2 observes regardless of what P1
// calls them.
const (
	fdRequestPipe = 3 // read end: gob-encoded *Request
	fdSpawnerSock = 4 // P2's end of the P1<->P2 fd/response channel
	fdCgroupProcs = 5 // write end of cgroup.procs
)

func init() {
	reexec.Register("sandals-spawner", spawnerMain)
	reexec.Register("sandals-payload", payloadMain)
}

// spawnerMain is P2's entire body. By the time this runs, the kernel
// has already entered the new namespaces and applied the uid/gid
// mapping requested via SysProcAttr when P1 started this process: Go's
// os/exec performs the setgroups=deny plus single-row uid_map/gid_map
// dance itself, before any of this function's code runs.
func spawnerMain() {
	log := WithStage("spawner")

	reqFile := os.NewFile(fdRequestPipe, "request")
	var req Request
	if err := gob.NewDecoder(reqFile).Decode(&req); err != nil {
		log.WithError(err).Error("decoding request")
		os.Exit(1)
	}
	reqFile.Close()

	spawnerSockFile := os.NewFile(fdSpawnerSock, "spawner-sock")
	spawnerSock := int(spawnerSockFile.Fd())

	respond := func(r Response) {
		unix.Write(spawnerSock, r.Bytes())
		os.Exit(0)
	}
	fail := func(err error) {
		f := AsFail(err)
		log.WithError(err).Error("spawner setup failed")
		respond(Response{Status: f.Status, Description: f.Description})
	}

	if err := unix.Write(int(os.NewFile(fdCgroupProcs, "cgroup.procs").Fd()), []byte("0")); err != nil {
		fail(Internal(err, "joining cgroup"))
		return
	}
	if err := unix.Unshare(unix.CLONE_NEWCGROUP); err != nil {
		fail(Internal(err, "unshare(CLONE_NEWCGROUP)"))
		return
	}

	if err := CloseStrayFdsExcept(spawnerSock); err != nil {
		fail(err)
		return
	}

	if err := ConfigureNet(req.HostName, req.DomainName); err != nil {
		fail(err)
		return
	}

	devNull, err := os.OpenFile("/dev/null", os.O_RDWR, 0)
	if err != nil {
		fail(Internal(err, "opening /dev/null"))
		return
	}

	if err := DoMounts(req.Chroot, req.Mounts); err != nil {
		fail(err)
		return
	}
	if err := EnterChroot(req.Chroot); err != nil {
		fail(err)
		return
	}
	if err := ChangeToWorkDir(req.WorkDir); err != nil {
		fail(err)
		return
	}

	persona := unix.PER_LINUX
	if !req.VARandomize {
		persona |= unix.ADDR_NO_RANDOMIZE
	}
	if _, err := unix.Personality(uint(persona)); err != nil {
		fail(Internal(err, "personality"))
		return
	}

	errnoFd, err := unix.MemfdCreate("sandals-exec-errno", 0)
	if err != nil {
		fail(Internal(err, "memfd_create"))
		return
	}
	if err := unix.Ftruncate(errnoFd, execErrnoSize); err != nil {
		fail(Internal(err, "ftruncate exec_errno memfd"))
		return
	}

	table := NewPipeTable(&req)
	// P2 is already chrooted here, so fifo paths resolve against "/".
	sinks, err := BuildSinks("/", table, &req)
	if err != nil {
		fail(err)
		return
	}
	if err := SendFds(spawnerSock, sinks.ToSend); err != nil {
		fail(Internal(err, "sending fds to supervisor"))
		return
	}

	specR, specW, err := os.Pipe()
	if err != nil {
		fail(Internal(err, "creating payload spec pipe"))
		return
	}

	cmd := reexec.Command("sandals-payload")
	cmd.Stdin = devNull
	if sinks.ChildStdout != nil {
		cmd.Stdout = sinks.ChildStdout
	} else {
		cmd.Stdout = devNull
	}
	if sinks.ChildStderr != nil {
		cmd.Stderr = sinks.ChildStderr
	} else {
		cmd.Stderr = devNull
	}
	cmd.ExtraFiles = append([]*os.File{specR, os.NewFile(uintptr(errnoFd), "exec-errno")}, sinks.ExtraForChild...)

	if err := cmd.Start(); err != nil {
		fail(Internal(err, "starting payload"))
		return
	}
	specR.Close()

	spec := PayloadSpec{Argv: req.Cmd, Env: req.Env, SeccompPolicy: req.SeccompPolicy}
	encErr := gob.NewEncoder(specW).Encode(&spec)
	specW.Close()
	if encErr != nil {
		log.WithError(encErr).Error("sending payload spec")
	}

	waitErr := cmd.Wait()

	var errnoBuf [execErrnoSize]byte
	unix.Pread(errnoFd, errnoBuf[:], 0)
	execErrno := leUint64(errnoBuf[:])
	if execErrno != 0 {
		desc := fmt.Sprintf("exec '%s': %s", req.Cmd[0], unix.Errno(execErrno).Error())
		respond(Response{Status: StatusInternalError, Description: desc})
		return
	}

	respond(exitResponse(waitErr, cmd.ProcessState))
}

func exitResponse(waitErr error, state *os.ProcessState) Response {
	if state == nil {
		return Response{Status: StatusInternalError, Description: "payload did not produce a process state"}
	}
	ws, ok := state.Sys().(unix.WaitStatus)
	if !ok {
		if waitErr == nil {
			return Response{Status: StatusExited, Code: state.ExitCode()}
		}
		return Response{Status: StatusInternalError, Description: waitErr.Error()}
	}
	if ws.Signaled() {
		return Response{Status: StatusKilled, Signal: signalName(ws.Signal())}
	}
	return Response{Status: StatusExited, Code: ws.ExitStatus()}
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

package sandals

import (
	"encoding/gob"
	"io"
	"os"
	"syscall"

	"github.com/docker/docker/pkg/reexec"
	"golang.org/x/sys/unix"
)

// Run is P1's entire body and the single top-level catch point: it
// never returns an error to its caller, any failure anywhere in setup
// is turned into a Response here instead.
func Run(stdin io.Reader, stdout io.Writer) int {
	log := WithStage("supervisor")

	resp, err := run(stdin)
	if err != nil {
		resp = FromFail(AsFail(err))
	}

	if _, werr := stdout.Write(resp.Bytes()); werr != nil {
		log.WithError(werr).Error("writing response")
		return 1
	}
	return 0
}

func run(stdin io.Reader) (Response, error) {
	req, err := ReadRequest(stdin)
	if err != nil {
		return Response{}, err
	}

	cgroupPath, owned, err := DetermineCgroupPath(req)
	if err != nil {
		return Response{}, err
	}
	cgroup, err := NewCgroup(cgroupPath, owned)
	if err != nil {
		return Response{}, err
	}
	WithStage("supervisor").WithField("cgroup", cgroup.Path()).Debug("joined cgroup")
	spawnerPid := 0
	defer func() { cgroup.Remove(spawnerPid) }()

	cfgEntries, err := CgroupConfigEntries(req)
	if err != nil {
		return Response{}, err
	}
	if err := cgroup.ApplyConfig(cfgEntries); err != nil {
		return Response{}, err
	}

	table := NewPipeTable(req)
	sinks, err := openDestinationSinks(table)
	if err != nil {
		return Response{}, err
	}

	spawnerSock, err := startSpawner(req, cgroup)
	if err != nil {
		return Response{}, err
	}
	spawnerPid = spawnerSock.pid

	resp, err := RunSupervisor(
		spawnerSock.fd,
		cgroup.MemoryEventsFd(),
		cgroup.PidsEventsFd(),
		req.TimeLimit,
		table,
		sinks,
		&spawnerPid,
	)
	spawnerSock.file.Close()
	return resp, err
}

// openDestinationSinks opens every PipeTable entry's destination file
// (O_WRONLY|O_TRUNC|O_CREAT, mode 0600, blocking) before anything can
// write to it.
func openDestinationSinks(table *PipeTable) ([]*Sink, error) {
	sinks := make([]*Sink, table.Len())
	for i, spec := range table.All() {
		f, err := os.OpenFile(spec.Dest, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o600)
		if err != nil {
			return nil, Internal(err, "opening output destination %s", spec.Dest)
		}
		kind := SinkRegular
		if table.IsStdStreams(i) {
			kind = SinkStdStreams
		}
		sinks[i] = &Sink{Kind: kind, Dest: f, SrcFd: -1, Limit: spec.Limit, Label: spec.Dest}
	}
	return sinks, nil
}

type spawnerHandle struct {
	pid  int
	fd   int
	file *os.File
}

// startSpawner clones P2: a UNIX socketpair becomes the fd/response
// channel, a pipe hands over the gob-encoded Request, and the cgroup's
// cgroup.procs fd travels across as a third inherited file.
// SysProcAttr.Cloneflags enters the six new namespaces in one clone;
// UidMappings/GidMappings is Go's native implementation of the
// setgroups=deny then single-row uid_map/gid_map dance, built from the
// outer uid/gid captured here in P1 before any namespace is entered.
func startSpawner(req *Request, cgroup *CgroupHandle) (*spawnerHandle, error) {
	reqR, reqW, err := os.Pipe()
	if err != nil {
		return nil, Internal(err, "creating request pipe")
	}
	defer reqR.Close()

	socks, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, Internal(err, "creating spawner socketpair")
	}
	p1Sock, p2Sock := socks[0], socks[1]
	p2SockFile := os.NewFile(uintptr(p2Sock), "p2-sock")
	defer p2SockFile.Close()

	outerUID, outerGID := os.Getuid(), os.Getgid()

	cmd := reexec.Command("sandals-spawner")
	cmd.ExtraFiles = []*os.File{reqR, p2SockFile, cgroup.ProcsFile()}
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: syscall.CLONE_NEWUSER | syscall.CLONE_NEWPID | syscall.CLONE_NEWNET |
			syscall.CLONE_NEWUTS | syscall.CLONE_NEWNS | syscall.CLONE_NEWIPC,
		UidMappings:                []syscall.SysProcIDMap{{ContainerID: int(req.UID), HostID: outerUID, Size: 1}},
		GidMappings:                []syscall.SysProcIDMap{{ContainerID: int(req.GID), HostID: outerGID, Size: 1}},
		GidMappingsEnableSetgroups: false,
		Setsid:                     true,
		Pdeathsig:                  syscall.SIGKILL,
	}

	if err := cmd.Start(); err != nil {
		unix.Close(p1Sock)
		return nil, Internal(err, "cloning spawner")
	}

	if err := gob.NewEncoder(reqW).Encode(req); err != nil {
		reqW.Close()
		return nil, Internal(err, "sending request to spawner")
	}
	reqW.Close()

	return &spawnerHandle{pid: cmd.Process.Pid, fd: p1Sock, file: os.NewFile(uintptr(p1Sock), "p1-sock")}, nil
}

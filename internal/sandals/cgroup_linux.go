package sandals

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/moby/sys/mountinfo"
	"github.com/opencontainers/runc/libcontainer/cgroups"
	"github.com/opencontainers/runc/libcontainer/cgroups/fs2"
	"golang.org/x/sys/unix"
)

// CgroupHandle is the supervisor-side state for the cgroup lifecycle.
// It is a scope guard: construction arms it, Remove disarms it, and it
// is safe to call Remove multiple times or on a zero-value handle.
type CgroupHandle struct {
	mu sync.Mutex

	path            string
	owned           bool
	armed           bool
	cgroupProcsFile *os.File
	cgroupEventsFd  int
	memoryEventsFd  int
	pidsEventsFd    int
}

const cgroupDirMode = 0o700

// DetermineCgroupPath resolves the cgroup path to use for this
// invocation: an explicit existing cgroup, a fresh directory under a
// given root, or a fresh directory alongside our own cgroup.
func DetermineCgroupPath(req *Request) (path string, owned bool, err error) {
	if req.Cgroup != "" {
		return req.Cgroup, false, nil
	}
	if req.CgroupRoot != "" {
		return filepath.Join(req.CgroupRoot, fmt.Sprintf("sandals-%d", os.Getpid())), true, nil
	}
	parent, err := ownCgroupParent()
	if err != nil {
		return "", false, err
	}
	return filepath.Join(fs2.UnifiedMountpoint, parent, fmt.Sprintf("sandals-%d", os.Getpid())), true, nil
}

// ownCgroupParent reads /proc/self/cgroup and accepts only the pure v2
// form "0::/...", returning the parent directory of our own cgroup. Any
// cgroup-v1-style multi-line file is rejected.
func ownCgroupParent() (string, error) {
	if !cgroups.IsCgroup2UnifiedMode() {
		return "", Internal(nil, "cgroup v2 unified hierarchy is required")
	}
	f, err := os.Open("/proc/self/cgroup")
	if err != nil {
		return "", Internal(err, "opening /proc/self/cgroup")
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var line string
	for scanner.Scan() {
		line = scanner.Text()
		break
	}
	if !strings.HasPrefix(line, "0::") {
		return "", Internal(nil, "unexpected /proc/self/cgroup format: %q", line)
	}
	own := strings.TrimPrefix(line, "0::")
	return filepath.Dir(own), nil
}

// NewCgroup creates and arms a CgroupHandle for path. If owned is false
// (the caller supplied an existing cgroup via "cgroup"), no directory is
// created and Remove never unlinks it.
func NewCgroup(path string, owned bool) (*CgroupHandle, error) {
	h := &CgroupHandle{path: path, owned: owned, cgroupEventsFd: -1, memoryEventsFd: -1, pidsEventsFd: -1}
	if owned {
		if m, err := mountinfo.Mounted(fs2.UnifiedMountpoint); err != nil || !m {
			return nil, Internal(err, "%s is not a cgroup2 mount", fs2.UnifiedMountpoint)
		}
		if err := os.Mkdir(path, cgroupDirMode); err != nil {
			return nil, Internal(err, "creating cgroup %s", path)
		}
	}
	h.armed = true

	procsFile, err := os.OpenFile(filepath.Join(path, "cgroup.procs"), os.O_WRONLY, 0)
	if err != nil {
		h.Remove(0)
		return nil, Internal(err, "opening cgroup.procs")
	}
	h.cgroupProcsFile = procsFile

	if owned {
		fd, err := unix.Open(filepath.Join(path, "cgroup.events"), unix.O_RDONLY, 0)
		if err != nil {
			h.Remove(0)
			return nil, Internal(err, "opening cgroup.events")
		}
		h.cgroupEventsFd = fd
	}
	return h, nil
}

// ApplyConfig writes each cgroupConfig key/value pair into {path}/{key}
// (leading '/' stripped), failing hard on any short or failed write. It
// also opens memory.events/pids.events when a matching key prefix is
// present.
func (h *CgroupHandle) ApplyConfig(entries []keyValue) error {
	needMemoryEvents, needPidsEvents := false, false
	for _, kv := range entries {
		key := strings.TrimPrefix(kv.Key, "/")
		if err := writeCgroupFileChecked(filepath.Join(h.path, key), kv.Value); err != nil {
			return Internal(err, "writing cgroup.%s", key)
		}
		if strings.HasPrefix(key, "memory.") {
			needMemoryEvents = true
		}
		if strings.HasPrefix(key, "pids.") {
			needPidsEvents = true
		}
	}
	if needMemoryEvents {
		fd, err := unix.Open(filepath.Join(h.path, "memory.events"), unix.O_RDONLY, 0)
		if err != nil {
			return Internal(err, "opening memory.events")
		}
		h.memoryEventsFd = fd
	}
	if needPidsEvents {
		fd, err := unix.Open(filepath.Join(h.path, "pids.events"), unix.O_RDONLY, 0)
		if err != nil {
			return Internal(err, "opening pids.events")
		}
		h.pidsEventsFd = fd
	}
	return nil
}

// keyValue is a scalar cgroupConfig assignment.
type keyValue struct {
	Key, Value string
}

// CgroupConfigEntries converts the request's raw cgroupConfig object
// into validated scalar key/value pairs.
func CgroupConfigEntries(req *Request) ([]keyValue, error) {
	out := make([]keyValue, 0, len(req.CgroupConfig))
	for _, kv := range req.CgroupConfig {
		v, err := kv.Value.AsString()
		if err != nil {
			return nil, Invalid("%v", err)
		}
		out = append(out, keyValue{Key: kv.Key, Value: v})
	}
	return out, nil
}

func writeCgroupFileChecked(path, value string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := f.WriteString(value)
	if err != nil {
		return err
	}
	if n != len(value) {
		return fmt.Errorf("short write (%d of %d bytes)", n, len(value))
	}
	return nil
}

// ProcsFile exposes the cgroup.procs file so it can travel to P2 as an inherited
// ExtraFiles entry; P2 only ever writes "0" (its own pid as seen from
// its own pid namespace) into it.
func (h *CgroupHandle) ProcsFile() *os.File { return h.cgroupProcsFile }

func (h *CgroupHandle) MemoryEventsFd() int { return h.memoryEventsFd }
func (h *CgroupHandle) PidsEventsFd() int   { return h.pidsEventsFd }
func (h *CgroupHandle) Path() string        { return h.path }

// Remove tears the cgroup down: if armed, optionally SIGKILLs a
// still-live spawner, then loops rmdir/EBUSY/poll until the cgroup is
// gone. spawnerPid is 0 when there is nothing to kill. Safe to call
// more than once; subsequent calls are no-ops.
func (h *CgroupHandle) Remove(spawnerPid int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.armed {
		return
	}
	h.armed = false

	if h.cgroupProcsFile != nil {
		h.cgroupProcsFile.Close()
	}
	if h.memoryEventsFd >= 0 {
		unix.Close(h.memoryEventsFd)
	}
	if h.pidsEventsFd >= 0 {
		unix.Close(h.pidsEventsFd)
	}

	if spawnerPid > 0 {
		_ = unix.Kill(spawnerPid, unix.SIGKILL)
	}

	if !h.owned {
		if h.cgroupEventsFd >= 0 {
			unix.Close(h.cgroupEventsFd)
		}
		return
	}

	for {
		err := unix.Rmdir(h.path)
		if err == nil {
			break
		}
		if err != unix.EBUSY {
			WithStage("supervisor").WithError(err).Error("abandoning cgroup removal")
			break
		}
		if !h.waitCgroupEvents() {
			break
		}
	}
	if h.cgroupEventsFd >= 0 {
		unix.Close(h.cgroupEventsFd)
	}
}

// waitCgroupEvents resets the POLLPRI edge on cgroup.events by reading
// it once, then blocks until the next edge, per the removal protocol.
func (h *CgroupHandle) waitCgroupEvents() bool {
	if h.cgroupEventsFd < 0 {
		return false
	}
	var buf [256]byte
	unix.Read(h.cgroupEventsFd, buf[:])

	fds := []unix.PollFd{{Fd: int32(h.cgroupEventsFd), Events: unix.POLLPRI}}
	for {
		n, err := unix.Poll(fds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return false
		}
		return n > 0
	}
}

package sandals

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"strings"
	"unsafe"

	seccomp "github.com/seccomp/libseccomp-golang"
	"github.com/willf/bitset"
	"golang.org/x/sys/unix"
)

// CompileSeccompPolicy compiles a newline-separated allowlist of
// syscall names, one per line, blank lines and lines starting with '#'
// ignored, into a default-kill BPF filter: every syscall not named is
// rejected with SIGSYS.
func CompileSeccompPolicy(policyText string) (*unix.SockFprog, error) {
	filter, err := seccomp.NewFilter(seccomp.ActKill)
	if err != nil {
		return nil, Internal(err, "creating seccomp filter")
	}
	defer filter.Release()

	seen := bitset.New(1024)
	scanner := bufio.NewScanner(strings.NewReader(policyText))
	for scanner.Scan() {
		name := strings.TrimSpace(scanner.Text())
		if name == "" || strings.HasPrefix(name, "#") {
			continue
		}
		sc, err := seccomp.GetSyscallFromName(name)
		if err != nil {
			return nil, Invalid("unknown syscall in seccompPolicy: %q", name)
		}
		// Names the native ABI lacks resolve to negative pseudo-syscall
		// numbers; only non-negative numbers are tracked for dedup.
		if sc >= 0 {
			if seen.Test(uint(sc)) {
				continue
			}
			seen.Set(uint(sc))
		}
		if err := filter.AddRule(sc, seccomp.ActAllow); err != nil {
			return nil, Internal(err, "adding seccomp rule for %q", name)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, Invalid("reading seccompPolicy: %v", err)
	}

	return exportBPF(filter)
}

// exportBPF drains the filter's exported cBPF program through a pipe
// (ExportBPF takes an *os.File, not a byte slice) and decodes it into
// the unix.SockFprog form PR_SET_SECCOMP expects.
func exportBPF(filter *seccomp.ScmpFilter) (*unix.SockFprog, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return nil, Internal(err, "creating pipe for seccomp export")
	}
	defer r.Close()

	errCh := make(chan error, 1)
	go func() {
		errCh <- filter.ExportBPF(w)
		w.Close()
	}()

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, Internal(err, "reading exported seccomp BPF")
	}
	if err := <-errCh; err != nil {
		return nil, Internal(err, "exporting seccomp BPF program")
	}

	const sockFilterSize = 8 // struct sock_filter{u16 code; u8 jt; u8 jf; u32 k}
	if len(raw)%sockFilterSize != 0 {
		return nil, Internal(nil, "unexpected seccomp BPF program length %d", len(raw))
	}
	n := len(raw) / sockFilterSize
	if n == 0 {
		return nil, Internal(nil, "seccomp export produced an empty BPF program")
	}
	filters := make([]unix.SockFilter, n)
	for i := 0; i < n; i++ {
		b := raw[i*sockFilterSize:]
		filters[i] = unix.SockFilter{
			Code: binary.LittleEndian.Uint16(b[0:2]),
			Jt:   b[2],
			Jf:   b[3],
			K:    binary.LittleEndian.Uint32(b[4:8]),
		}
	}
	return &unix.SockFprog{Len: uint16(n), Filter: &filters[0]}, nil
}

// InstallSeccomp installs a previously compiled filter via
// PR_SET_SECCOMP, called immediately before execve.
func InstallSeccomp(prog *unix.SockFprog) error {
	return unix.Prctl(unix.PR_SET_SECCOMP, unix.SECCOMP_MODE_FILTER, uintptr(unsafe.Pointer(prog)), 0, 0)
}

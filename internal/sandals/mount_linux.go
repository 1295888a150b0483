package sandals

import (
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"golang.org/x/sys/unix"
)

// chrootRelative resolves dest against chroot instead of blindly
// concatenating: securejoin.SecureJoin resolves symlinks and ".."
// components as if chroot were already the root, so a ".." escape is
// clamped at chroot (no error is returned) and the returned path can
// never land outside it.
func chrootRelative(chroot, dest string) (string, error) {
	return securejoin.SecureJoin(chroot, dest)
}

// DoMounts applies each MountSpec in order, retrying once after
// creating missing destination nodes on ENOENT.
func DoMounts(chroot string, mounts []MountSpec) error {
	for _, m := range mounts {
		dest, err := chrootRelative(chroot, m.Dest)
		if err != nil {
			return Internal(err, "resolving mount destination %s", m.Dest)
		}

		flags, data := mountFlags(m)

		if err := unix.Mount(m.Src, dest, m.Type, flags, data); err != nil {
			if err != unix.ENOENT {
				return Internal(err, "mounting %s on %s", m.Src, dest)
			}
			if err := createMountNode(m, dest); err != nil {
				return err
			}
			if err := unix.Mount(m.Src, dest, m.Type, flags, data); err != nil {
				return Internal(err, "mounting %s on %s (after creating node)", m.Src, dest)
			}
		}

		if m.RO {
			roFlags := flags | unix.MS_REMOUNT | unix.MS_RDONLY | unix.MS_BIND
			if err := unix.Mount(m.Src, dest, m.Type, roFlags, ""); err != nil {
				return Internal(err, "remounting %s read-only", dest)
			}
		}
	}
	return nil
}

func mountFlags(m MountSpec) (uintptr, string) {
	if m.Type == "bind" {
		return unix.MS_BIND | unix.MS_REC, m.Options
	}
	return 0, m.Options
}

// createMountNode walks dest creating missing parent directories with
// mode 0700, then creates the leaf as a directory (bind-mounting a
// directory, or any non-bind filesystem) or an empty regular file
// (bind-mounting a non-directory source).
func createMountNode(m MountSpec, dest string) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, cgroupDirMode); err != nil {
		return Internal(err, "creating mount parent directories for %s", dest)
	}

	leafIsDir := m.Type != "bind"
	if m.Type == "bind" {
		st, err := os.Stat(m.Src)
		if err != nil {
			return Internal(err, "stat %s", m.Src)
		}
		leafIsDir = st.IsDir()
	}

	if leafIsDir {
		if err := os.Mkdir(dest, cgroupDirMode); err != nil && !os.IsExist(err) {
			return Internal(err, "creating mount point directory %s", dest)
		}
		return nil
	}
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil && !os.IsExist(err) {
		return Internal(err, "creating mount point file %s", dest)
	}
	if f != nil {
		f.Close()
	}
	return nil
}

// EnterChroot performs chroot(2) into root and marks the process
// non-dumpable, in that order: PR_SET_DUMPABLE is cleared only after
// the chroot takes effect.
func EnterChroot(root string) error {
	if err := unix.Chdir(root); err != nil {
		return Internal(err, "chdir %s before chroot", root)
	}
	if err := unix.Chroot("."); err != nil {
		return Internal(err, "chroot %s", root)
	}
	if err := unix.Prctl(unix.PR_SET_DUMPABLE, 0, 0, 0, 0); err != nil {
		return Internal(err, "PR_SET_DUMPABLE")
	}
	return nil
}

// ChangeToWorkDir chdir's to workDir, falling back to "/" first if
// workDir is relative, since the cwd carried across chroot is otherwise
// implementation-defined.
func ChangeToWorkDir(workDir string) error {
	if workDir != "" && !strings.HasPrefix(workDir, "/") {
		if err := unix.Chdir("/"); err != nil {
			return Internal(err, "chdir /")
		}
	}
	if workDir == "" {
		workDir = "/"
	}
	if err := unix.Chdir(workDir); err != nil {
		return Internal(err, "chdir %s", workDir)
	}
	return nil
}

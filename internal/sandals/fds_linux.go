package sandals

import (
	"os"
	"strconv"

	mapset "github.com/deckarep/golang-set"
	"golang.org/x/sys/unix"
)

// CloseStrayFdsExcept closes every open fd of the current process
// except stdin/stdout/stderr and the caller-supplied keep set, by
// scanning /proc/self/fd instead of iterating a compile-time-known fd
// ceiling.
func CloseStrayFdsExcept(keep ...int) error {
	keepSet := mapset.NewSet()
	for _, fd := range []int{unix.Stdin, unix.Stdout, unix.Stderr} {
		keepSet.Add(fd)
	}
	for _, fd := range keep {
		keepSet.Add(fd)
	}

	entries, err := os.ReadDir("/proc/self/fd")
	if err != nil {
		return Internal(err, "reading /proc/self/fd")
	}
	for _, e := range entries {
		fd, err := strconv.Atoi(e.Name())
		if err != nil {
			continue
		}
		if keepSet.Contains(fd) {
			continue
		}
		unix.Close(fd)
	}
	return nil
}

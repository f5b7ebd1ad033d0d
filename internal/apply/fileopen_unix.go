//go:build !windows

package apply

import (
	stderrors "errors"
	"os"
	"syscall"
)

var errSymlink = stderrors.New("refusing to write through a symlink")

// openFileNoFollow opens a file for writing with O_NOFOLLOW so a symlink planted at the
// rules file path is never followed. O_CLOEXEC prevents FD leaks across exec.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	fd, err := syscall.Open(path, flag|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, uint32(perm))
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, errSymlink
		}
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return os.NewFile(uintptr(fd), path), nil
}

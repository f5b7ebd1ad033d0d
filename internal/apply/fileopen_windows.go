//go:build windows

package apply

import (
	stderrors "errors"
	"os"
)

var errSymlink = stderrors.New("refusing to write through a symlink")

// openFileNoFollow opens a file for writing.
// On Windows, O_NOFOLLOW is not available, so the final component is checked with Lstat first.
func openFileNoFollow(path string, flag int, perm os.FileMode) (*os.File, error) {
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, errSymlink
	}
	return os.OpenFile(path, flag, perm)
}

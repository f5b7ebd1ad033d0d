package apply

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/rulesync/internal/errors"
)

// ValidateTarget checks that path, the resolved write target, stays inside root.
// It rejects:
// 1. Targets containing ".." components
// 2. Targets outside the workspace root (unless allowOutside is set)
// 3. A parent directory that is a symlink, for targets inside the root
//
// The final component is guarded by O_NOFOLLOW at open time.
func ValidateTarget(root, target, path string, allowOutside bool) *errors.RulesError {
	if containsTraversal(target) {
		return errors.NewInvalidRequest("target must not contain directory traversal (..)")
	}
	if allowOutside {
		return nil
	}

	absRoot, err := filepath.Abs(filepath.Clean(root))
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid workspace root: %v", err))
	}
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return errors.NewInvalidRequest(fmt.Sprintf("invalid target: %v", err))
	}

	if !isWithin(absRoot, absPath) {
		return errors.NewInvalidRequest(
			fmt.Sprintf("target must be inside the workspace root %s", absRoot))
	}

	// Intermediate directories under the root must be real directories, or the
	// write could land outside it.
	for dir := filepath.Dir(absPath); dir != absRoot && isWithin(absRoot, dir); dir = filepath.Dir(dir) {
		if info, err := os.Lstat(dir); err == nil && info.Mode()&os.ModeSymlink != 0 {
			return errors.NewInvalidRequest("target directory must not be a symlink")
		}
	}
	return nil
}

// isWithin reports whether path is root itself or below it. Both must be absolute and clean.
func isWithin(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}

// containsTraversal checks if path contains ".." directory traversal.
func containsTraversal(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	// Also check for forward slashes on all platforms (e.g., user input)
	if filepath.Separator != '/' {
		for _, part := range strings.Split(path, "/") {
			if part == ".." {
				return true
			}
		}
	}
	return false
}

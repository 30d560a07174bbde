// Package fsutil confines user-supplied paths to per-user storage roots.
package fsutil

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

var ErrPathTraversal = errors.New("path escapes root")

// UserRoot returns the storage directory owned by userID under dataRoot.
func UserRoot(dataRoot string, userID uint) string {
	return filepath.Join(dataRoot, strconv.FormatUint(uint64(userID), 10))
}

// ResolveWithinRoot maps a user-provided path to a local filesystem path under root.
// Leading separators are stripped so absolute input is treated as relative.
// Any traversal outside root is rejected, including through existing symlinks.
func ResolveWithinRoot(root, userPath string) (string, error) {
	if root == "" {
		return "", errors.New("root is required")
	}
	if strings.ContainsRune(userPath, 0) {
		return "", ErrPathTraversal
	}
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	rootAbs = filepath.Clean(rootAbs)

	rel := filepath.FromSlash(strings.TrimLeft(userPath, "/\\"))
	joined := filepath.Clean(filepath.Join(rootAbs, rel))

	if !IsWithin(rootAbs, joined) {
		return "", ErrPathTraversal
	}

	if hasSymlinkComponent(rootAbs, joined) {
		return "", ErrPathTraversal
	}

	// The root itself may be reached through a symlink; compare resolved forms.
	if existing := nearestExisting(joined); existing != "" {
		resolved, err := filepath.EvalSymlinks(existing)
		if err != nil {
			return "", err
		}
		resolvedRoot, err := filepath.EvalSymlinks(rootAbs)
		if err != nil {
			resolvedRoot = rootAbs
		}
		if !IsWithin(filepath.Clean(resolvedRoot), filepath.Clean(resolved)) {
			return "", ErrPathTraversal
		}
	}

	return joined, nil
}

// RelativeTo returns fullPath relative to root using forward slashes.
func RelativeTo(root, fullPath string) (string, error) {
	rootAbs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}
	rel, err := filepath.Rel(rootAbs, fullPath)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathTraversal
	}
	return filepath.ToSlash(rel), nil
}

func hasSymlinkComponent(rootAbs, fullPath string) bool {
	rel, err := filepath.Rel(rootAbs, fullPath)
	if err != nil {
		return true
	}
	rel = filepath.Clean(rel)
	if rel == "." {
		return false
	}
	cur := rootAbs
	for _, p := range strings.Split(rel, string(filepath.Separator)) {
		if p == "" || p == "." {
			continue
		}
		cur = filepath.Join(cur, p)
		st, err := os.Lstat(cur)
		if err != nil {
			// not created yet
			return false
		}
		if st.Mode()&os.ModeSymlink != 0 {
			return true
		}
	}
	return false
}

// IsWithin reports whether candidate equals root or lies beneath it.
func IsWithin(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	if root == candidate {
		return true
	}
	sep := string(filepath.Separator)
	if !strings.HasSuffix(root, sep) {
		root += sep
	}
	return strings.HasPrefix(candidate, root)
}

func nearestExisting(p string) string {
	cur := p
	for {
		_, err := os.Lstat(cur)
		if err == nil {
			return cur
		}
		if !os.IsNotExist(err) {
			return ""
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return ""
		}
		cur = parent
	}
}

// DirSize sums the sizes of regular files under dir. A missing dir is empty.
func DirSize(dir string) (int64, error) {
	var total int64
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return filepath.SkipDir
			}
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return 0, err
	}
	return total, nil
}

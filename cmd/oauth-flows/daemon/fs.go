package daemon

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// ensureDirWithPerms creates the directory at path with perm when missing.
// An existing path must be a directory with exactly perm, owned by owner.
func ensureDirWithPerms(path string, perm os.FileMode, owner int) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return os.Mkdir(path, perm)
	}
	if err != nil {
		return err
	}

	if !info.IsDir() {
		return &os.PathError{Op: "mkdir", Path: path, Err: syscall.ENOTDIR}
	}
	if info.Mode() != (perm | fs.ModeDir) {
		return fmt.Errorf("permissions should be %v but are %v", perm|fs.ModeDir, info.Mode())
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return fmt.Errorf("failed to get syscall.Stat_t for %s", path)
	}
	if int(stat.Uid) != owner {
		return fmt.Errorf("owner should be %d but is %d", owner, stat.Uid)
	}
	return nil
}

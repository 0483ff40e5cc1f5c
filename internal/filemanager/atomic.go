package filemanager

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// atomicWrite copies r into a temporary sibling of target and renames it
// into place once complete, so readers never observe a partial file. At
// most limit bytes are accepted when limit > 0. uid/gid of -1 skip chown.
func atomicWrite(target string, r io.Reader, perm os.FileMode, limit int64, uid, gid int) (int64, error) {
	tmp := tempPrefix(target) + uuid.NewString()[:8] + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = f.Close()
			_ = os.Remove(tmp)
		}
	}()

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, src)
	if err != nil {
		return n, err
	}
	if limit > 0 && n > limit {
		return n, errTooLarge
	}
	if uid > -1 && gid > -1 {
		if err := f.Chown(uid, gid); err != nil {
			return n, err
		}
	}
	if err := f.Sync(); err != nil {
		return n, err
	}
	if err := f.Close(); err != nil {
		return n, err
	}
	if err := os.Rename(tmp, target); err != nil {
		_ = os.Remove(tmp)
		committed = true
		return n, err
	}
	committed = true
	return n, nil
}

// tempPrefix is the name prefix of atomicWrite's temporary files for target.
func tempPrefix(target string) string {
	return filepath.Join(filepath.Dir(target), "."+filepath.Base(target)+".")
}

var errTooLarge = fmt.Errorf("content exceeds size limit")

package storage

import (
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// LocalBackend implements Backend on the local filesystem. Rename within a
// directory is atomic on POSIX filesystems, which WriteAtomic relies on.
type LocalBackend struct{}

func NewLocalBackend() *LocalBackend {
	return &LocalBackend{}
}

func (b *LocalBackend) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "list %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

func (b *LocalBackend) Exists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, errors.Wrapf(err, "stat %s", path)
}

func (b *LocalBackend) MkdirAll(path string) error {
	return os.MkdirAll(path, 0o770)
}

func (b *LocalBackend) CreateIfAbsent(path string, data []byte) error {
	fp, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o660)
	if err != nil {
		if os.IsExist(err) {
			return ErrAlreadyExists
		}
		return errors.Wrapf(err, "create %s", path)
	}
	defer fp.Close()
	if len(data) > 0 {
		if _, err := fp.Write(data); err != nil {
			return errors.Wrapf(err, "write %s", path)
		}
	}
	return fp.Sync()
}

func (b *LocalBackend) WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, "."+uuid.NewString()+".tmp")
	fp, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o660)
	if err != nil {
		return errors.Wrapf(err, "create temp for %s", path)
	}
	if _, err := fp.Write(data); err != nil {
		fp.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "write temp for %s", path)
	}
	if err := fp.Sync(); err != nil {
		fp.Close()
		os.Remove(tmp)
		return errors.Wrapf(err, "sync temp for %s", path)
	}
	if err := fp.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "close temp for %s", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "rename into %s", path)
	}
	return nil
}

func (b *LocalBackend) Read(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotExist
		}
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return data, nil
}

func (b *LocalBackend) Append(path string, data []byte) error {
	fp, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o660)
	if err != nil {
		return errors.Wrapf(err, "open for append %s", path)
	}
	defer fp.Close()
	if _, err := fp.Write(data); err != nil {
		return errors.Wrapf(err, "append %s", path)
	}
	return fp.Sync()
}

func (b *LocalBackend) Rename(oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		if os.IsNotExist(err) {
			return ErrNotExist
		}
		return errors.Wrapf(err, "rename %s -> %s", oldPath, newPath)
	}
	return nil
}

func (b *LocalBackend) Delete(path string) error {
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return ErrNotExist
		}
		return errors.Wrapf(err, "delete %s", path)
	}
	return nil
}

package audiostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStore keeps audio files in a single directory on disk.
type LocalStore struct {
	dir  string
	refs refs
}

func NewLocalStore(dir, publicPrefix string) (*LocalStore, error) {
	if dir == "" {
		return nil, errors.New("audiostore: local dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("audiostore: create dir: %w", err)
	}
	return &LocalStore{dir: dir, refs: newRefs(publicPrefix)}, nil
}

// Save writes to a temp file first so a partially written object is never visible.
func (s *LocalStore) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, name)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("audiostore: temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := io.Copy(tmp, r); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("audiostore: write %s: %w", name, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("audiostore: sync %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("audiostore: close %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(s.dir, name)); err != nil {
		return "", fmt.Errorf("audiostore: rename %s: %w", name, err)
	}
	return s.refs.ref(name), nil
}

func (s *LocalStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	name, err := s.refs.name(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *LocalStore) Exists(ctx context.Context, ref string) (bool, error) {
	name, err := s.refs.name(ref)
	if err != nil {
		return false, err
	}
	st, err := os.Stat(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return st.Mode().IsRegular(), nil
}

func (s *LocalStore) Delete(ctx context.Context, ref string) error {
	name, err := s.refs.name(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

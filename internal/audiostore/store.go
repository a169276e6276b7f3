// Package audiostore keeps recording audio durable. Objects are addressed by
// a stable reference of the form "<public prefix>/<file name>", which is what
// the recordings table stores as audio_url.
package audiostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
)

var (
	ErrNotFound   = errors.New("audiostore: object not found")
	ErrInvalidRef = errors.New("audiostore: invalid reference")
)

// Store is implemented by every audio backend.
type Store interface {
	Save(ctx context.Context, name string, r io.Reader) (ref string, err error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Exists(ctx context.Context, ref string) (bool, error)
	Delete(ctx context.Context, ref string) error
}

var namePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,200}$`)

// ValidName reports whether name is a flat file name safe to store.
func ValidName(name string) bool {
	return namePattern.MatchString(name) && !strings.Contains(name, "..")
}

// refs converts between file names and public references.
type refs struct {
	prefix string
}

func newRefs(prefix string) refs {
	p := "/" + strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "/" {
		p = ""
	}
	return refs{prefix: p}
}

func (r refs) ref(name string) string {
	return r.prefix + "/" + name
}

// name extracts the file name from a reference. A bare file name is accepted.
func (r refs) name(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if r.prefix != "" && strings.HasPrefix(ref, r.prefix+"/") {
		ref = strings.TrimPrefix(ref, r.prefix+"/")
	}
	name := path.Base(ref)
	if name != ref || !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, ref)
	}
	return name, nil
}

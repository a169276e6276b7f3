package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
)

// ErrPermissionDenied is returned by a Device the user refused to open.
var ErrPermissionDenied = errors.New("capture: permission denied")

// Device is an audio source. Open starts hardware capture; closing the
// returned stream releases it.
type Device interface {
	Open(ctx context.Context) (io.ReadCloser, error)
}

// FileDevice replays an encoded audio file as if it were a live source.
type FileDevice struct {
	Path string
}

func (d FileDevice) Open(ctx context.Context) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(d.Path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, d.Path)
		}
		return nil, fmt.Errorf("capture: open %s: %w", d.Path, err)
	}
	return f, nil
}

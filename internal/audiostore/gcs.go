package audiostore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// GCSStore keeps audio objects in a Google Cloud Storage bucket under a key prefix.
type GCSStore struct {
	client    *storage.Client
	bucket    string
	keyPrefix string
	refs      refs
}

type GCSConfig struct {
	Bucket       string
	KeyPrefix    string
	PublicPrefix string
	// CredentialsFile is optional; application default credentials are used otherwise.
	CredentialsFile string
}

func NewGCSStore(ctx context.Context, cfg GCSConfig) (*GCSStore, error) {
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("audiostore: gcs bucket is required")
	}
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("audiostore: gcs client: %w", err)
	}
	prefix := strings.Trim(cfg.KeyPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &GCSStore{
		client:    client,
		bucket:    cfg.Bucket,
		keyPrefix: prefix,
		refs:      newRefs(cfg.PublicPrefix),
	}, nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) object(ref string) (*storage.ObjectHandle, error) {
	name, err := s.refs.name(ref)
	if err != nil {
		return nil, err
	}
	return s.client.Bucket(s.bucket).Object(s.keyPrefix + name), nil
}

func (s *GCSStore) Save(ctx context.Context, name string, r io.Reader) (string, error) {
	if !ValidName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRef, name)
	}
	w := s.client.Bucket(s.bucket).Object(s.keyPrefix + name).NewWriter(ctx)
	w.ContentType = "audio/webm"
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("audiostore: gcs write %s: %w", name, err)
	}
	// The object only becomes visible once Close succeeds.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("audiostore: gcs finalize %s: %w", name, err)
	}
	return s.refs.ref(name), nil
}

func (s *GCSStore) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	obj, err := s.object(ref)
	if err != nil {
		return nil, err
	}
	rc, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return rc, nil
}

func (s *GCSStore) Exists(ctx context.Context, ref string) (bool, error) {
	obj, err := s.object(ref)
	if err != nil {
		return false, err
	}
	if _, err := obj.Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *GCSStore) Delete(ctx context.Context, ref string) error {
	obj, err := s.object(ref)
	if err != nil {
		return err
	}
	if err := obj.Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

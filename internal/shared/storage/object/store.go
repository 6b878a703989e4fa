package object

import (
	"context"
	"errors"
	"io"
	"time"
)

var ErrNotFound = errors.New("object not found")

// ObjectStore saves, reads and deletes binary objects by storage key.
type ObjectStore interface {
	SaveWithKey(ctx context.Context, storageKey string, contentType string, r io.Reader) (int64, error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
	Delete(ctx context.Context, storageKey string) error
}

// URLSigner is implemented by stores that can hand out time-limited download URLs.
type URLSigner interface {
	PresignGet(ctx context.Context, storageKey string, ttl time.Duration) (string, error)
}

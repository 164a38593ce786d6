package domain

import (
	"context"
	"io"
)

// MediaInfo describes a stored audio attachment.
type MediaInfo struct {
	Key         string
	Size        int64
	ContentType string
}

// MediaStore keeps uploaded audio attachments, addressed by content key.
type MediaStore interface {
	Put(ctx context.Context, r io.Reader, contentType string) (MediaInfo, error)
	Open(ctx context.Context, key string) (io.ReadCloser, MediaInfo, error)
	Exists(ctx context.Context, key string) (bool, error)
}

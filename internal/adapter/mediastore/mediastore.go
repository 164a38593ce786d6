// Package mediastore keeps uploaded audio attachments on the local filesystem,
// addressed by the BLAKE3 hash of their content. Identical uploads share one
// blob.
package mediastore

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"

	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/zeebo/blake3"
)

const defaultContentType = "application/octet-stream"

var keyPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Store is a content-addressed blob store rooted at a directory. Blobs live at
// <dir>/<key[:2]>/<key> with a <key>.json sidecar holding the content type.
type Store struct {
	dir string
}

var _ domain.MediaStore = (*Store)(nil)

func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create media directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// ValidKey reports whether key has the shape of a content key.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

type sidecar struct {
	ContentType string `json:"contentType"`
}

func (s *Store) Put(ctx context.Context, r io.Reader, contentType string) (domain.MediaInfo, error) {
	if contentType == "" {
		contentType = defaultContentType
	}

	tmp, err := os.CreateTemp(s.dir, "upload-*.tmp")
	if err != nil {
		return domain.MediaInfo{}, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // gone after a successful rename

	hasher := blake3.New()
	size, err := io.Copy(io.MultiWriter(tmp, hasher), contextReader{ctx: ctx, r: r})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return domain.MediaInfo{}, fmt.Errorf("failed to write upload: %w", err)
	}

	key := hex.EncodeToString(hasher.Sum(nil))
	info := domain.MediaInfo{Key: key, Size: size, ContentType: contentType}

	blobPath := s.blobPath(key)
	if err := os.MkdirAll(filepath.Dir(blobPath), 0o755); err != nil {
		return domain.MediaInfo{}, fmt.Errorf("failed to create blob directory: %w", err)
	}
	if err := os.Rename(tmpPath, blobPath); err != nil {
		return domain.MediaInfo{}, fmt.Errorf("failed to store blob: %w", err)
	}

	meta, err := json.Marshal(sidecar{ContentType: contentType})
	if err != nil {
		return domain.MediaInfo{}, fmt.Errorf("failed to encode media metadata: %w", err)
	}
	if err := os.WriteFile(blobPath+".json", meta, 0o644); err != nil {
		return domain.MediaInfo{}, fmt.Errorf("failed to write media metadata: %w", err)
	}
	return info, nil
}

func (s *Store) Open(_ context.Context, key string) (io.ReadCloser, domain.MediaInfo, error) {
	if !ValidKey(key) {
		return nil, domain.MediaInfo{}, domain.ErrMediaNotFound
	}

	blobPath := s.blobPath(key)
	f, err := os.Open(blobPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.MediaInfo{}, domain.ErrMediaNotFound
	}
	if err != nil {
		return nil, domain.MediaInfo{}, fmt.Errorf("failed to open blob: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, domain.MediaInfo{}, fmt.Errorf("failed to stat blob: %w", err)
	}

	info := domain.MediaInfo{Key: key, Size: stat.Size(), ContentType: defaultContentType}
	if raw, err := os.ReadFile(blobPath + ".json"); err == nil {
		var meta sidecar
		if json.Unmarshal(raw, &meta) == nil && meta.ContentType != "" {
			info.ContentType = meta.ContentType
		}
	}
	return f, info, nil
}

func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	if !ValidKey(key) {
		return false, nil
	}
	_, err := os.Stat(s.blobPath(key))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to stat blob: %w", err)
	}
	return true, nil
}

func (s *Store) blobPath(key string) string {
	return filepath.Join(s.dir, key[:2], key)
}

// contextReader stops a copy once ctx is cancelled.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

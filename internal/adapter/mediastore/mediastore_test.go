package mediastore

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "media"))
	require.NoError(t, err)
	return s
}

func TestPut_KeyIsContentHash(t *testing.T) {
	s := newTestStore(t)
	data := "RIFF....WAVEfmt "

	info, err := s.Put(context.Background(), strings.NewReader(data), "audio/wav")
	require.NoError(t, err)

	sum := blake3.Sum256([]byte(data))
	assert.Equal(t, hex.EncodeToString(sum[:]), info.Key)
	assert.Equal(t, int64(len(data)), info.Size)
	assert.Equal(t, "audio/wav", info.ContentType)
}

func TestPut_DeduplicatesIdenticalContent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.Put(ctx, strings.NewReader("tusch"), "audio/mpeg")
	require.NoError(t, err)
	b, err := s.Put(ctx, strings.NewReader("tusch"), "audio/mpeg")
	require.NoError(t, err)

	assert.Equal(t, a.Key, b.Key)

	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestOpen_ReturnsContentAndType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	info, err := s.Put(ctx, strings.NewReader("applaus"), "")
	require.NoError(t, err)

	rc, got, err := s.Open(ctx, info.Key)
	require.NoError(t, err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "applaus", string(body))
	assert.Equal(t, defaultContentType, got.ContentType)
	assert.Equal(t, int64(7), got.Size)
}

func TestOpen_UnknownOrMalformedKey(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, key := range []string{strings.Repeat("a", 64), "../../etc/passwd", "", "ABCDEF"} {
		_, _, err := s.Open(ctx, key)
		assert.ErrorIs(t, err, domain.ErrMediaNotFound, key)
	}
}

func TestExists(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	info, err := s.Put(ctx, strings.NewReader("x"), "audio/ogg")
	require.NoError(t, err)

	ok, err := s.Exists(ctx, info.Key)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Exists(ctx, strings.Repeat("0", 64))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Exists(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPut_CancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, strings.NewReader("zu spät"), "audio/wav")
	assert.ErrorIs(t, err, context.Canceled)
}

package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/JannisRoesner/PICARD-sub000/internal/domain"
	apperrors "github.com/JannisRoesner/PICARD-sub000/internal/platform/errors"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"
)

const (
	exportVersion  = 1
	sessionEntry   = "session.json"
	mediaPrefix    = "media/"
	importedSuffix = " (Imported)"

	// maxArchiveEntryBytes caps the decompressed size of one archive entry.
	maxArchiveEntryBytes = 512 << 20
)

var (
	zipMagic         = []byte("PK\x03\x04")
	unsafeFilenameRe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)
)

// ExportDocument is the session.json entry of an export archive.
type ExportDocument struct {
	Version    int               `json:"version"`
	ExportedAt time.Time         `json:"exportedAt"`
	Session    SessionView       `json:"session"`
	Media      map[string]string `json:"media,omitempty"` // key -> content type
}

// Export is a prepared session archive.
type Export struct {
	media domain.MediaStore
	doc   ExportDocument
}

// PrepareExport loads the session so lookup errors surface before any bytes
// are written.
func (s *Service) PrepareExport(ctx context.Context, sessionID uuid.UUID) (*Export, error) {
	session, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	return &Export{
		media: s.media,
		doc: ExportDocument{
			Version:    exportVersion,
			ExportedAt: s.now(),
			Session:    NewSessionView(*session),
			Media:      make(map[string]string),
		},
	}, nil
}

// Filename is the suggested download name for the archive.
func (e *Export) Filename() string {
	name := strings.Trim(unsafeFilenameRe.ReplaceAllString(e.doc.Session.Name, "_"), "_")
	if name == "" {
		name = "session"
	}
	return name + ".zip"
}

// WriteTo streams the archive: every referenced audio blob under media/ and
// the session document last, listing the blobs that made it in.
func (e *Export) WriteTo(ctx context.Context, w io.Writer) error {
	zw := zip.NewWriter(w)

	for _, key := range audioKeys(e.doc.Session.Items) {
		if e.media == nil {
			break
		}
		if err := e.writeMedia(ctx, zw, key); err != nil {
			return err
		}
	}

	entry, err := zw.Create(sessionEntry)
	if err != nil {
		return fmt.Errorf("failed to create %s entry: %w", sessionEntry, err)
	}
	enc := json.NewEncoder(entry)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e.doc); err != nil {
		return fmt.Errorf("failed to encode session document: %w", err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finish archive: %w", err)
	}
	return nil
}

func (e *Export) writeMedia(ctx context.Context, zw *zip.Writer, key string) error {
	rc, info, err := e.media.Open(ctx, key)
	if err != nil {
		slog.WarnContext(ctx, "Skipping missing media in export", "media_key", key, "error", err)
		return nil
	}
	defer func() { _ = rc.Close() }()

	entry, err := zw.CreateHeader(&zip.FileHeader{Name: mediaPrefix + key, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("failed to create media entry: %w", err)
	}
	if _, err := io.Copy(entry, rc); err != nil {
		return fmt.Errorf("failed to copy media %s: %w", key, err)
	}

	e.doc.Media[key] = info.ContentType
	return nil
}

// audioKeys lists the distinct audio keys referenced by items, in order of appearance.
func audioKeys(items []ItemView) []string {
	seen := make(map[string]struct{})
	var keys []string
	for _, item := range items {
		for _, n := range item.PinboardNotes {
			if n.AudioKey == "" {
				continue
			}
			if _, ok := seen[n.AudioKey]; ok {
				continue
			}
			seen[n.AudioKey] = struct{}{}
			keys = append(keys, n.AudioKey)
		}
	}
	return keys
}

type importSession struct {
	Name  string       `json:"name"`
	Items []importItem `json:"programmpunkte"`
}

// importItem keeps the original creation time; documents without one get the import time.
type importItem struct {
	ItemInput
	Erstellt *time.Time `json:"erstellt"`
}

// importDocument accepts both an ExportDocument and a bare session object.
type importDocument struct {
	importSession
	Session *importSession    `json:"session"`
	Media   map[string]string `json:"media"`
}

// ImportSession recreates a session from an export archive or a raw JSON
// document. The copy is named "<name> (Imported)"; archived audio blobs are
// stored again and the items point at the new keys. Items keep their
// erstellt timestamps.
func (s *Service) ImportSession(ctx context.Context, data []byte) (*domain.Session, error) {
	var (
		raw   []byte
		blobs map[string][]byte
		err   error
	)
	if bytes.HasPrefix(data, zipMagic) {
		raw, blobs, err = readArchive(data)
		if err != nil {
			return nil, err
		}
	} else {
		raw = data
	}

	var doc importDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, apperrors.ValidationError("import is not a valid session document").WithField("cause", err.Error())
	}
	session := doc.Session
	if session == nil {
		session = &doc.importSession
	}
	if strings.TrimSpace(session.Name) == "" {
		return nil, apperrors.ValidationError("import contains no session name").WithField("field", "name")
	}

	keyMap, err := s.restoreMedia(ctx, blobs, doc.Media)
	if err != nil {
		return nil, err
	}
	inputs := make([]ItemInput, len(session.Items))
	createdAt := make([]time.Time, len(session.Items))
	for i := range session.Items {
		s.rewriteAudioKeys(ctx, &session.Items[i].ItemInput, keyMap)
		inputs[i] = session.Items[i].ItemInput
		if e := session.Items[i].Erstellt; e != nil {
			createdAt[i] = e.UTC()
		}
	}

	return s.createSession(ctx, strings.TrimSpace(session.Name)+importedSuffix, inputs, createdAt)
}

func readArchive(data []byte) ([]byte, map[string][]byte, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, apperrors.ValidationError("import is not a valid archive").WithField("cause", err.Error())
	}

	var doc []byte
	blobs := make(map[string][]byte)
	for _, f := range zr.File {
		switch {
		case f.Name == sessionEntry:
			doc, err = readEntry(f)
		case strings.HasPrefix(f.Name, mediaPrefix) && !f.FileInfo().IsDir():
			var blob []byte
			blob, err = readEntry(f)
			blobs[strings.TrimPrefix(f.Name, mediaPrefix)] = blob
		default:
			continue
		}
		if err != nil {
			return nil, nil, err
		}
	}

	if doc == nil {
		return nil, nil, apperrors.ValidationError("archive has no " + sessionEntry)
	}
	return doc, blobs, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, apperrors.ValidationError("unreadable archive entry").WithField("entry", f.Name)
	}
	defer func() { _ = rc.Close() }()

	data, err := io.ReadAll(io.LimitReader(rc, maxArchiveEntryBytes+1))
	if err != nil {
		return nil, apperrors.ValidationError("unreadable archive entry").WithField("entry", f.Name)
	}
	if len(data) > maxArchiveEntryBytes {
		return nil, apperrors.PayloadTooLargeError("archive entry too large").WithField("entry", f.Name)
	}
	return data, nil
}

// restoreMedia stores archived blobs and maps each archive key to its new key.
func (s *Service) restoreMedia(ctx context.Context, blobs map[string][]byte, contentTypes map[string]string) (map[string]string, error) {
	keyMap := make(map[string]string, len(blobs))
	if len(blobs) == 0 {
		return keyMap, nil
	}
	if s.media == nil {
		slog.WarnContext(ctx, "Media storage not configured, dropping archived audio", "count", len(blobs))
		return keyMap, nil
	}

	for key, blob := range blobs {
		info, err := s.media.Put(ctx, bytes.NewReader(blob), contentTypes[key])
		if err != nil {
			return nil, fmt.Errorf("failed to restore media %s: %w", key, err)
		}
		keyMap[key] = info.Key
	}
	return keyMap, nil
}

// rewriteAudioKeys points audio notes at restored blobs. References the archive
// did not carry are kept as they are; they resolve only if this instance
// already holds the blob.
func (s *Service) rewriteAudioKeys(ctx context.Context, in *ItemInput, keyMap map[string]string) {
	if in.PinboardNotes == nil {
		return
	}
	notes := make([]domain.PinboardNote, len(*in.PinboardNotes))
	copy(notes, *in.PinboardNotes)

	for i, n := range notes {
		if n.AudioKey == "" {
			continue
		}
		if newKey, ok := keyMap[n.AudioKey]; ok {
			notes[i].AudioKey = newKey
			continue
		}
		if s.media != nil {
			if ok, err := s.media.Exists(ctx, n.AudioKey); err == nil && ok {
				continue
			}
		}
		slog.WarnContext(ctx, "Imported audio note references unknown media", "media_key", n.AudioKey)
	}
	in.PinboardNotes = &notes
}

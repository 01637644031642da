// Package blob stores labeled images as opaque files under one root
// directory. Files are named by the store, never by the client.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

var (
	// ErrNotFound is returned when a referenced blob does not exist.
	ErrNotFound = errors.New("blob: not found")

	// ErrInvalidRef is returned for refs that were not generated by Store.
	ErrInvalidRef = errors.New("blob: invalid reference")

	// ErrUnsupported is returned when the payload is not an image.
	ErrUnsupported = errors.New("blob: unsupported content type")

	// ErrTooLarge is returned when the payload exceeds the size limit.
	ErrTooLarge = errors.New("blob: payload too large")

	// ErrEmpty is returned for a zero-length payload.
	ErrEmpty = errors.New("blob: empty payload")
)

// DefaultMaxBytes caps a single upload when no limit is configured.
const DefaultMaxBytes int64 = 10 << 20

// refPattern matches "<uuid v4><optional extension>", the only shape Store emits.
var refPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}(\.[a-z0-9]{1,5})?$`)

// Info describes a stored blob.
type Info struct {
	Ref         string
	Size        int64
	ContentType string
	ModTime     time.Time
}

// Store keeps blobs on an afero filesystem rooted at the blob directory.
type Store struct {
	fs       afero.Fs
	maxBytes int64
	logger   zerolog.Logger
}

// New creates a blob store on fs. Paths given to fs are bare file names,
// so fs is expected to be rooted at the blob directory.
func New(fs afero.Fs, maxBytes int64, logger zerolog.Logger) *Store {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	return &Store{
		fs:       fs,
		maxBytes: maxBytes,
		logger:   logger.With().Str("component", "blob").Logger(),
	}
}

// NewOS creates a blob store rooted at dir on the host filesystem.
func NewOS(dir string, maxBytes int64, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir), maxBytes, logger), nil
}

// Put reads an image from r and stores it under a new generated ref.
func (s *Store) Put(ctx context.Context, r io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read blob: %w", err)
	}
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if int64(len(data)) > s.maxBytes {
		return "", ErrTooLarge
	}

	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return "", fmt.Errorf("%w: %s", ErrUnsupported, mt.String())
	}

	ref := uuid.NewString() + mt.Extension()
	if err := afero.WriteFile(s.fs, ref, data, 0o640); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}

	s.logger.Debug().
		Str("ref", ref).
		Str("content_type", mt.String()).
		Int("size", len(data)).
		Msg("Stored blob")
	return ref, nil
}

// Open returns a reader for ref positioned at the start of the file.
func (s *Store) Open(ref string) (afero.File, Info, error) {
	if !ValidRef(ref) {
		return nil, Info{}, ErrInvalidRef
	}

	f, err := s.fs.Open(ref)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, Info{}, ErrNotFound
		}
		return nil, Info{}, fmt.Errorf("open blob: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, Info{}, fmt.Errorf("stat blob: %w", err)
	}
	if stat.IsDir() {
		_ = f.Close()
		return nil, Info{}, ErrNotFound
	}

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		_ = f.Close()
		return nil, Info{}, fmt.Errorf("sniff blob: %w", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		_ = f.Close()
		return nil, Info{}, fmt.Errorf("rewind blob: %w", err)
	}

	return f, Info{
		Ref:         ref,
		Size:        stat.Size(),
		ContentType: mt.String(),
		ModTime:     stat.ModTime(),
	}, nil
}

// Delete removes ref. Deleting a missing blob is not an error.
func (s *Store) Delete(ref string) error {
	if !ValidRef(ref) {
		return ErrInvalidRef
	}
	if err := s.fs.Remove(ref); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete blob: %w", err)
	}
	return nil
}

// ValidRef reports whether ref has the shape of a generated blob name.
func ValidRef(ref string) bool {
	return refPattern.MatchString(ref)
}

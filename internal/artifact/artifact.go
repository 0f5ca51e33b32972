// Package artifact stores composed text blocks as UTF-16 little-endian
// files without a byte-order mark, one line per character row.
package artifact

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/wbrown/quanttxt"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrNotFound is returned when no artifact exists for a job.
var ErrNotFound = errors.New("artifact not found")

// ContentType is the media type of an artifact.
const ContentType = "text/plain; charset=utf-16le"

var utf16LE = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// Encoding returns the artifact text encoding.
func Encoding() encoding.Encoding {
	return utf16LE
}

// EncodeUTF16LE encodes text as UTF-16LE without a byte-order mark.
func EncodeUTF16LE(text string) ([]byte, error) {
	b, _, err := transform.Bytes(utf16LE.NewEncoder(), []byte(text))
	if err != nil {
		return nil, fmt.Errorf("failed to encode UTF-16LE: %w", err)
	}
	return b, nil
}

// DecodeUTF16LE decodes UTF-16LE bytes.
func DecodeUTF16LE(b []byte) (string, error) {
	out, _, err := transform.Bytes(utf16LE.NewDecoder(), b)
	if err != nil {
		return "", fmt.Errorf("failed to decode UTF-16LE: %w", err)
	}
	return string(out), nil
}

// WriteUTF16LE encodes text to w.
func WriteUTF16LE(w io.Writer, text string) error {
	tw := transform.NewWriter(w, utf16LE.NewEncoder())
	if _, err := io.WriteString(tw, text); err != nil {
		return fmt.Errorf("failed to write UTF-16LE: %w", err)
	}
	return tw.Close()
}

// Store keeps one artifact file per job in a directory.
type Store struct {
	dir string
}

// NewStore creates dir if needed and returns a Store rooted there.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the results directory.
func (s *Store) Dir() string {
	return s.dir
}

// Path returns the artifact path for a job.
func (s *Store) Path(id uuid.UUID) string {
	return filepath.Join(s.dir, id.String()+".txt")
}

// Save writes text for a job and returns the file path. The file appears
// atomically: readers never see a partial artifact.
func (s *Store) Save(id uuid.UUID, text string) (string, error) {
	tmp, err := os.CreateTemp(s.dir, id.String()+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteUTF16LE(tmp, text); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}

	path := s.Path(id)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}
	return path, nil
}

// Load reads and decodes a job's artifact.
func (s *Store) Load(id uuid.UUID) (string, error) {
	b, err := os.ReadFile(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return "", fmt.Errorf("failed to read artifact: %w", err)
	}
	return DecodeUTF16LE(b)
}

// Open returns the raw UTF-16LE artifact file.
func (s *Store) Open(id uuid.UUID) (*os.File, error) {
	f, err := os.Open(s.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact: %w", err)
	}
	return f, nil
}

// Delete removes a job's artifact. A missing artifact is not an error.
func (s *Store) Delete(id uuid.UUID) error {
	if err := os.Remove(s.Path(id)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete artifact: %w", err)
	}
	return nil
}

// SaverFor returns a quanttxt.Saver that stores the text for id and calls
// onSaved with the resulting path.
func (s *Store) SaverFor(id uuid.UUID, onSaved func(path string)) quanttxt.Saver {
	return quanttxt.SaverFunc(func(text string) error {
		path, err := s.Save(id, text)
		if err != nil {
			return err
		}
		if onSaved != nil {
			onSaved(path)
		}
		return nil
	})
}

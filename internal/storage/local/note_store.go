package local

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

// ErrUnsupportedBlock is returned when a block update targets an existing
// block ID, which plain markdown files cannot address.
var ErrUnsupportedBlock = errors.New("local note store cannot update blocks by id")

// NoteStore writes each document to <base>/<notebook>/<path>.md. Document IDs
// are the slash-separated file paths relative to the base directory.
type NoteStore struct {
	baseDir string
	mu      sync.Mutex
}

// NewNoteStore creates a filesystem-backed note store.
func NewNoteStore(cfg Config) (*NoteStore, error) {
	if err := prepareDir(cfg.BaseDir); err != nil {
		return nil, err
	}
	return &NoteStore{baseDir: cfg.BaseDir}, nil
}

func (s *NoteStore) docPath(notebook, path string) (string, string, error) {
	rel := strings.Trim(notebook+"/"+strings.TrimPrefix(path, "/"), "/") + ".md"
	full, err := within(s.baseDir, rel)
	if err != nil {
		return "", "", err
	}
	return full, rel, nil
}

// CreateDocument writes markup unless the document already exists.
func (s *NoteStore) CreateDocument(_ context.Context, notebook, path, markup string) (string, bool, error) {
	full, id, err := s.docPath(notebook, path)
	if err != nil {
		return "", false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return "", false, fmt.Errorf("create document folder: %w", err)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if errors.Is(err, os.ErrExist) {
		return id, false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("create document: %w", err)
	}
	if _, err := f.WriteString(markup); err != nil {
		_ = f.Close()
		return "", false, fmt.Errorf("write document: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", false, fmt.Errorf("close document: %w", err)
	}
	return id, true, nil
}

// DocumentExists reports whether a document file is present.
func (s *NoteStore) DocumentExists(_ context.Context, notebook, path string) (string, bool, error) {
	full, id, err := s.docPath(notebook, path)
	if err != nil {
		return "", false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("stat document: %w", err)
	}
	return id, true, nil
}

// EnsurePath creates the folders above path.
func (s *NoteStore) EnsurePath(_ context.Context, notebook, path string) error {
	full, _, err := s.docPath(notebook, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return fmt.Errorf("create folders: %w", err)
	}
	return nil
}

// UpsertBlock inserts block.Data into the document named by ParentID: first
// when PreviousID is empty, otherwise at the end.
func (s *NoteStore) UpsertBlock(_ context.Context, block clipper.Block) (string, error) {
	if block.ID != "" {
		return "", ErrUnsupportedBlock
	}
	full, err := within(s.baseDir, block.ParentID)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := os.ReadFile(full) // #nosec G304 -- path is confined to the base directory.
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	data := strings.TrimRight(block.Data, "\n")
	var out string
	if block.PreviousID == "" {
		out = data + "\n\n" + string(existing)
	} else {
		out = strings.TrimRight(string(existing), "\n") + "\n\n" + data + "\n"
	}
	if err := os.WriteFile(full, []byte(out), 0o600); err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return block.ParentID, nil
}

package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/famotime/siyuan-scripts/internal/clipper"
)

// ErrBlockNotFound is returned when an update targets an unknown block.
var ErrBlockNotFound = errors.New("block not found")

// Document is a note held by NoteStore.
type Document struct {
	ID       string
	Notebook string
	Path     string
	Markup   string
}

// NoteStore is an in-memory clipper.NoteStore.
type NoteStore struct {
	mu      sync.RWMutex
	docs    map[string]*Document
	byID    map[string]*Document
	folders map[string]bool
	blocks  map[string]string
	seq     int
	failErr error
}

// NewNoteStore constructs an empty NoteStore.
func NewNoteStore() *NoteStore {
	return &NoteStore{
		docs:    make(map[string]*Document),
		byID:    make(map[string]*Document),
		folders: make(map[string]bool),
		blocks:  make(map[string]string),
	}
}

// FailWrites makes every subsequent write return err; nil restores normal
// behavior.
func (s *NoteStore) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failErr = err
}

func key(notebook, path string) string {
	return notebook + ":" + path
}

func (s *NoteStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

// CreateDocument stores markup unless notebook/path is taken.
func (s *NoteStore) CreateDocument(_ context.Context, notebook, path, markup string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return "", false, s.failErr
	}
	if doc, ok := s.docs[key(notebook, path)]; ok {
		return doc.ID, false, nil
	}
	doc := &Document{ID: s.nextID("doc"), Notebook: notebook, Path: path, Markup: markup}
	s.docs[key(notebook, path)] = doc
	s.byID[doc.ID] = doc
	return doc.ID, true, nil
}

// DocumentExists reports the ID of the document at notebook/path.
func (s *NoteStore) DocumentExists(_ context.Context, notebook, path string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if doc, ok := s.docs[key(notebook, path)]; ok {
		return doc.ID, true, nil
	}
	return "", false, nil
}

// EnsurePath records every ancestor folder of path.
func (s *NoteStore) EnsurePath(_ context.Context, notebook, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return s.failErr
	}
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := 1; i < len(parts); i++ {
		s.folders[key(notebook, "/"+strings.Join(parts[:i], "/"))] = true
	}
	return nil
}

// UpsertBlock updates a known block by ID, or inserts Data into the document
// ParentID: first when PreviousID is empty, last otherwise.
func (s *NoteStore) UpsertBlock(_ context.Context, block clipper.Block) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failErr != nil {
		return "", s.failErr
	}
	if block.ID != "" {
		if _, ok := s.blocks[block.ID]; !ok {
			return "", ErrBlockNotFound
		}
		s.blocks[block.ID] = block.Data
		return block.ID, nil
	}
	doc, ok := s.byID[block.ParentID]
	if !ok {
		return "", fmt.Errorf("parent %q: %w", block.ParentID, ErrBlockNotFound)
	}
	if block.PreviousID == "" {
		doc.Markup = block.Data + "\n\n" + doc.Markup
	} else {
		doc.Markup = doc.Markup + "\n\n" + block.Data
	}
	id := s.nextID("block")
	s.blocks[id] = block.Data
	return id, nil
}

// Document returns a copy of the document at notebook/path.
func (s *NoteStore) Document(notebook, path string) (Document, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[key(notebook, path)]
	if !ok {
		return Document{}, false
	}
	return *doc, true
}

// Documents returns copies of all documents sorted by path.
func (s *NoteStore) Documents() []Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, *d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// HasFolder reports whether EnsurePath created notebook/path.
func (s *NoteStore) HasFolder(notebook, path string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.folders[key(notebook, path)]
}

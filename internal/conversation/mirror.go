package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/figuro/voice/pkg/types"
)

// Mirror keeps a local copy of the conversation history and the one-time
// first-use flag.
type Mirror interface {
	// Load returns the saved turns. A missing mirror yields no turns and no
	// error.
	Load() ([]types.ConversationTurn, error)
	// Save replaces the saved turns.
	Save(turns []types.ConversationTurn) error
	// Seen reports whether the first-use hint was already shown.
	Seen() bool
	// MarkSeen records that the first-use hint was shown.
	MarkSeen() error
}

var (
	_ Mirror = (*FileMirror)(nil)
	_ Mirror = NoopMirror{}
)

// FileMirror stores the history as one JSON document, rewritten atomically
// on every Save, and the seen flag as the presence of a second file.
type FileMirror struct {
	path     string
	seenPath string
}

// NewFileMirror returns a FileMirror writing history to path and the seen
// flag to seenPath. Missing directories are created on first write.
func NewFileMirror(path, seenPath string) *FileMirror {
	return &FileMirror{path: path, seenPath: seenPath}
}

// Load implements [Mirror].
func (m *FileMirror) Load() ([]types.ConversationTurn, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation: read mirror: %w", err)
	}
	var turns []types.ConversationTurn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("conversation: decode mirror %s: %w", m.path, err)
	}
	return turns, nil
}

// Save implements [Mirror]. The file is written to a temporary sibling and
// renamed into place.
func (m *FileMirror) Save(turns []types.ConversationTurn) error {
	if turns == nil {
		turns = []types.ConversationTurn{}
	}
	data, err := json.MarshalIndent(turns, "", "  ")
	if err != nil {
		return fmt.Errorf("conversation: encode mirror: %w", err)
	}
	return writeAtomic(m.path, data)
}

// Seen implements [Mirror].
func (m *FileMirror) Seen() bool {
	_, err := os.Stat(m.seenPath)
	return err == nil
}

// MarkSeen implements [Mirror].
func (m *FileMirror) MarkSeen() error {
	return writeAtomic(m.seenPath, []byte("true\n"))
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("conversation: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("conversation: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("conversation: write %s: %w", tmp.Name(), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("conversation: sync %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("conversation: close %s: %w", tmp.Name(), err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("conversation: rename into %s: %w", path, err)
	}
	return nil
}

// NoopMirror persists nothing.
type NoopMirror struct{}

func (NoopMirror) Load() ([]types.ConversationTurn, error) { return nil, nil }
func (NoopMirror) Save([]types.ConversationTurn) error     { return nil }
func (NoopMirror) Seen() bool                              { return true }
func (NoopMirror) MarkSeen() error                         { return nil }

// Package transcript records chat messages to a file, one JSON object per line.
package transcript

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/spf13/afero"

	"github.com/nfrund/relaychat/internal/chat"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("transcript closed")

// Writer appends messages to a transcript file.
type Writer struct {
	mu   sync.Mutex
	f    afero.File
	enc  *json.Encoder
	path string
}

// Open opens path on fs for appending, creating it and its directory if needed.
func Open(fs afero.Fs, path string) (*Writer, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	return &Writer{f: f, enc: json.NewEncoder(f), path: path}, nil
}

// Write appends m.
func (w *Writer) Write(m chat.ChatMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return ErrClosed
	}
	if err := w.enc.Encode(m); err != nil {
		return fmt.Errorf("write transcript %s: %w", w.path, err)
	}
	return nil
}

// Close closes the file. Further writes fail with ErrClosed.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.f.Close()
	w.f = nil
	return err
}

// Read loads the last limit messages of the transcript at path; a limit of
// zero or less loads all of them. A missing file yields no messages. Lines
// that do not decode are skipped.
func Read(fs afero.Fs, path string, limit int) ([]chat.ChatMessage, error) {
	f, err := fs.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var out []chat.ChatMessage
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var m chat.ChatMessage
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) > limit {
			out = out[1:]
		}
	}
	if err := sc.Err(); err != nil {
		return out, fmt.Errorf("read transcript: %w", err)
	}
	return out, nil
}

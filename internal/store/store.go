// internal/store/store.go
package store

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"ledgernode/internal/block"
)

const maxScanSize = 32 << 20

var ErrJournalCorrupt = errors.New("journal corrupt")

// Journal is an append-only JSONL file of accepted blocks, one per line, in
// chain order.
type Journal struct {
	mu   sync.Mutex
	path string
}

func OpenJournal(path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("missing journal path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, err
	}
	return &Journal{path: path}, nil
}

func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) Append(b block.Block) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return AppendJSONL(j.path, b)
}

// Load returns every journaled block. A missing file yields an empty chain.
func (j *Journal) Load() ([]block.Block, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	f, err := os.Open(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var out []block.Block
	sc := newScanner(f)
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var b block.Block
		if err := json.Unmarshal(sc.Bytes(), &b); err != nil {
			return nil, fmt.Errorf("%w: line %d: %v", ErrJournalCorrupt, line, err)
		}
		if b.Index != int64(len(out)) {
			return nil, fmt.Errorf("%w: line %d: index %d out of order", ErrJournalCorrupt, line, b.Index)
		}
		out = append(out, b)
	}
	return out, sc.Err()
}

func AppendJSONL(path string, v any) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(v); err != nil {
		return err
	}
	return syncFile(f)
}

func newScanner(r io.Reader) *bufio.Scanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxScanSize)
	return sc
}

func syncFile(f *os.File) error {
	if f == nil {
		return nil
	}
	return f.Sync()
}

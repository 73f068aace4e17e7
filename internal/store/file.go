package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/sweeney/bin-sensor/internal/logic"
)

// FileTier is the fallback persistence tier: one JSON document per session
// key, replaced atomically on every write.
type FileTier struct {
	mu  sync.Mutex
	dir string
}

// fileDoc is the on-disk shape, {"bins": [...]}.
type fileDoc struct {
	SessionKey string              `json:"session_key"`
	Bins       []logic.CategoryBin `json:"bins"`
}

// NewFileTier stores documents under dir, creating it if needed.
func NewFileTier(dir string) (*FileTier, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create fallback directory: %w", err)
	}
	return &FileTier{dir: dir}, nil
}

// Name identifies the tier in logs and metrics.
func (f *FileTier) Name() string { return "fallback" }

func (f *FileTier) path(key string) string {
	return filepath.Join(f.dir, fileKey(key)+".json")
}

// Read returns the stored state for key. found is false when no file exists.
func (f *FileTier) Read(ctx context.Context, key string) (logic.BinState, bool, error) {
	if err := ctx.Err(); err != nil {
		return logic.BinState{}, false, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return logic.BinState{}, false, nil
		}
		return logic.BinState{}, false, fmt.Errorf("read fallback: %w", err)
	}
	if len(data) == 0 {
		return logic.BinState{}, false, nil
	}

	var doc fileDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return logic.BinState{}, false, fmt.Errorf("%w: decode fallback: %v", ErrCorrupt, err)
	}
	if len(doc.Bins) == 0 {
		return logic.BinState{}, false, nil
	}
	state, err := logic.FromBins(doc.Bins)
	if err != nil {
		return logic.BinState{}, false, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return state, true, nil
}

// Write replaces the document for key via write-to-temp and rename.
func (f *FileTier) Write(ctx context.Context, key string, state logic.BinState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(fileDoc{SessionKey: key, Bins: state.Bins[:]}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fallback: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.dir, ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, f.path(key)); err != nil {
		return fmt.Errorf("replace fallback: %w", err)
	}
	return nil
}

// fileKey escapes key into a file name. The mapping is reversible, so
// distinct keys never share a file.
func fileKey(key string) string {
	return url.PathEscape(key)
}

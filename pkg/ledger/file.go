package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	markerPrefix = "health-agent-"
	markerSuffix = ".alert"
)

// File keeps one empty marker file per condition in a state directory. With
// the default directory (the OS temp dir) markers disappear on reboot.
type File struct {
	dir string
}

// NewFile returns a ledger storing markers in dir. An empty dir selects os.TempDir().
func NewFile(dir string) (*File, error) {
	cleaned := strings.TrimSpace(dir)
	if cleaned == "" {
		cleaned = os.TempDir()
	}
	if !filepath.IsAbs(cleaned) {
		abs, err := filepath.Abs(cleaned)
		if err != nil {
			return nil, fmt.Errorf("resolve state directory %q: %w", dir, err)
		}
		cleaned = abs
	}
	return &File{dir: cleaned}, nil
}

// Dir returns the state directory.
func (f *File) Dir() string {
	return f.dir
}

// MarkerPath returns the marker file used for id.
func (f *File) MarkerPath(id string) string {
	return filepath.Join(f.dir, markerPrefix+url.PathEscape(id)+markerSuffix)
}

// Exists implements Ledger.
func (f *File) Exists(ctx context.Context, id string) (bool, error) {
	if err := validateID(id); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	path := f.MarkerPath(id)
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("stat %s: %w", path, err)
}

// Mark implements Ledger.
func (f *File) Mark(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	path := f.MarkerPath(id)
	// The marker is empty, so O_CREATE without O_TRUNC cannot leave a torn file.
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create marker %s: %w", path, err)
	}
	if err := fh.Close(); err != nil {
		return fmt.Errorf("close marker %s: %w", path, err)
	}
	return nil
}

// Clear implements Ledger.
func (f *File) Clear(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	path := f.MarkerPath(id)
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove marker %s: %w", path, err)
	}
	return nil
}

// List implements Lister.
func (f *File) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state directory: %w", err)
	}

	ids := make([]string, 0)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, markerPrefix) || !strings.HasSuffix(name, markerSuffix) {
			continue
		}
		escaped := strings.TrimSuffix(strings.TrimPrefix(name, markerPrefix), markerSuffix)
		id, err := url.PathUnescape(escaped)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ Ledger = (*File)(nil)
var _ Lister = (*File)(nil)

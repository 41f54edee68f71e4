package repositoryimpl

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskdesk/internal/permission"
	"github.com/kazz187/taskdesk/pkg/clog"
)

const reloadDebounce = 200 * time.Millisecond

// FileDirectory serves the users and departments listed in a YAML file and
// reloads them when the file changes. A file that fails to parse leaves the
// previous snapshot in place.
type FileDirectory struct {
	*permission.MemoryDirectory
	path string
}

func NewFileDirectory(path string) (*FileDirectory, error) {
	snapshot, err := readSnapshot(path)
	if err != nil {
		return nil, err
	}
	mem, err := permission.NewMemoryDirectory(snapshot)
	if err != nil {
		return nil, fmt.Errorf("invalid directory file %s: %w", path, err)
	}
	return &FileDirectory{MemoryDirectory: mem, path: path}, nil
}

func readSnapshot(path string) (*permission.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory file: %w", err)
	}
	var s permission.Snapshot
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse directory file %s: %w", path, err)
	}
	return &s, nil
}

func (d *FileDirectory) Reload() error {
	snapshot, err := readSnapshot(d.path)
	if err != nil {
		return err
	}
	if err := d.Replace(snapshot); err != nil {
		return fmt.Errorf("invalid directory file %s: %w", d.path, err)
	}
	return nil
}

// Watch reloads the file on change until ctx is cancelled. The parent
// directory is watched so editors that replace the file by rename are seen.
func (d *FileDirectory) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(d.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(d.path), err)
	}
	name := filepath.Base(d.path)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				if err := d.Reload(); err != nil {
					slog.WarnContext(ctx, "directory reload failed, keeping previous snapshot", clog.ErrorAttributeKey, err)
					return
				}
				slog.InfoContext(ctx, "directory reloaded", "file", d.path)
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.WarnContext(ctx, "directory watcher error", clog.ErrorAttributeKey, err)
		}
	}
}

package app

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/nodeflow/internal/ctxlog"
	"github.com/vk/nodeflow/internal/graphfile"
)

// debounce delays recompilation so editors that write in several bursts
// trigger one pass.
const debounce = 200 * time.Millisecond

// watch recompiles and re-evaluates the document whenever it changes on
// disk, until ctx is cancelled. The executor persists across passes, so
// unchanged nodes keep their state between edits.
func (a *App) watch(ctx context.Context, input cty.Value, inputType cty.Type) error {
	logger := ctxlog.FromContext(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := a.cfg.Path
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		root = filepath.Dir(root)
	}
	if err := w.Add(root); err != nil {
		return err
	}
	logger.Info("Watching for document changes.", "path", a.cfg.Path)

	var timer *time.Timer
	var fire <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(debounce)
			fire = timer.C
		} else {
			timer.Reset(debounce)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(event, a.cfg.Path) {
				continue
			}
			logger.Debug("Document change detected.", "event", event.String())
			schedule()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warn("Watcher error.", "error", err)
		case <-fire:
			if err := a.cycle(ctx, input, inputType); err != nil {
				logger.Error("Recompilation failed, keeping previous network.", "error", err)
			}
		}
	}
}

// relevant filters events down to writes touching the watched document.
func relevant(event fsnotify.Event, path string) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		return strings.HasSuffix(event.Name, graphfile.Extension)
	}
	return filepath.Clean(event.Name) == filepath.Clean(path)
}

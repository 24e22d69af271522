package policy

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce coalesces the burst of events editors emit for one save.
const defaultDebounce = 100 * time.Millisecond

// Watcher reloads a policy file whenever it changes on disk.
//
// The parent directory is watched rather than the file itself so that
// atomic replace-by-rename saves are picked up.
type Watcher struct {
	path     string
	debounce time.Duration
	onChange func(*Policy)
	onError  func(error)

	fsw       *fsnotify.Watcher
	closeOnce sync.Once
	done      chan struct{}
}

// NewWatcher creates a watcher for path. onChange receives every policy that
// parses successfully; onError receives read and parse failures, after which
// the previously delivered policy stays in effect. onError may be nil.
func NewWatcher(path string, onChange func(*Policy), onError func(error)) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("policy: watcher needs an onChange callback")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("policy: resolve %s: %w", path, err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("policy: create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("policy: watch %s: %w", filepath.Dir(abs), err)
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Watcher{
		path:     abs,
		debounce: defaultDebounce,
		onChange: onChange,
		onError:  onError,
		fsw:      fsw,
		done:     make(chan struct{}),
	}, nil
}

// Run dispatches reloads until ctx is done or Close is called.
func (w *Watcher) Run(ctx context.Context) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, w.reload)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.onError(fmt.Errorf("policy: watch %s: %w", w.path, err))
		}
	}
}

func (w *Watcher) reload() {
	select {
	case <-w.done:
		return
	default:
	}
	p, err := Load(w.path)
	if err != nil {
		w.onError(err)
		return
	}
	w.onChange(p)
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}

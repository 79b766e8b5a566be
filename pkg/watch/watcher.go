// Package watch ingests table files dropped into an inbox directory.
package watch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/logflow/datalake/pkg/ingest/schema"
)

// DefaultDebounce is how long a file must be quiet before it is handed off.
const DefaultDebounce = 500 * time.Millisecond

// Candidate is a table file found in the inbox.
type Candidate struct {
	Path string
	// Name is the file stem, used as the logical name.
	Name string
	// Description is the sibling <stem>.md, or "" when there is none.
	Description string
}

// CandidateFor reports whether path looks like a table file and, if so,
// describes it.
func CandidateFor(path string) (Candidate, bool) {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return Candidate{}, false
	}
	if _, err := schema.FormatFromPath(path); err != nil {
		return Candidate{}, false
	}

	stem := strings.TrimSuffix(base, filepath.Ext(base))
	c := Candidate{Path: path, Name: stem}
	desc := filepath.Join(filepath.Dir(path), stem+".md")
	if info, err := os.Stat(desc); err == nil && info.Mode().IsRegular() {
		c.Description = desc
	}
	return c, true
}

// Watcher hands settled table files in a directory to OnFile.
type Watcher struct {
	watcher  *fsnotify.Watcher
	dir      string
	debounce time.Duration
	log      zerolog.Logger

	mu    sync.Mutex
	files map[string]*fileState

	// OnFile is called once per settled file version. Calls are made from
	// timer goroutines and may overlap for different files.
	OnFile  func(ctx context.Context, c Candidate) error
	OnError func(path string, err error)
}

type fileState struct {
	lastModified time.Time
	size         int64
	timer        *time.Timer
	processing   bool
}

// NewWatcher watches dir. A debounce of 0 uses DefaultDebounce.
func NewWatcher(dir string, debounce time.Duration, log zerolog.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to stat inbox: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inbox %s is not a directory", abs)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fsWatcher.Add(abs); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch directory: %w", err)
	}

	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		watcher:  fsWatcher,
		dir:      abs,
		debounce: debounce,
		log:      log.With().Str("component", "watch").Str("inbox", abs).Logger(),
		files:    make(map[string]*fileState),
	}, nil
}

// Dir returns the absolute inbox path.
func (w *Watcher) Dir() string {
	return w.dir
}

// Run schedules files already in the inbox, then follows events until ctx
// is canceled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stopTimers()

	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to list inbox: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() {
			w.schedule(ctx, filepath.Join(w.dir, e.Name()))
		}
	}

	for {
		select {
		case <-ctx.Done():
			w.watcher.Close()
			return ctx.Err()

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// A description arriving late re-arms its table file.
			if strings.EqualFold(filepath.Ext(event.Name), ".md") {
				w.rearmFor(ctx, event.Name)
				continue
			}
			w.schedule(ctx, event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.reportError("", err)
		}
	}
}

// schedule (re)starts the debounce timer for path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	if _, ok := CandidateFor(path); !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	state, ok := w.files[path]
	if !ok {
		state = &fileState{}
		w.files[path] = state
	}
	if state.timer != nil {
		state.timer.Stop()
	}
	state.timer = time.AfterFunc(w.debounce, func() {
		w.handle(ctx, path, state)
	})
}

func (w *Watcher) rearmFor(ctx context.Context, descPath string) {
	stem := strings.TrimSuffix(descPath, filepath.Ext(descPath))
	for _, f := range schema.Formats {
		p := stem + f.Ext()
		w.mu.Lock()
		s, ok := w.files[p]
		pending := ok && s.timer != nil
		w.mu.Unlock()
		if pending {
			w.schedule(ctx, p)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, path string, state *fileState) {
	if ctx.Err() != nil {
		return
	}

	w.mu.Lock()
	if state.processing {
		w.mu.Unlock()
		return
	}
	state.processing = true
	state.timer = nil
	w.mu.Unlock()

	defer func() {
		w.mu.Lock()
		state.processing = false
		w.mu.Unlock()
	}()

	stat, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.reportError(path, err)
		}
		return
	}

	w.mu.Lock()
	unchanged := stat.ModTime().Equal(state.lastModified) && stat.Size() == state.size
	state.lastModified = stat.ModTime()
	state.size = stat.Size()
	w.mu.Unlock()
	if unchanged {
		return
	}

	c, ok := CandidateFor(path)
	if !ok || w.OnFile == nil {
		return
	}
	w.log.Debug().Str("file", path).Str("table", c.Name).Msg("inbox file settled")
	if err := w.OnFile(ctx, c); err != nil {
		w.reportError(path, err)
	}
}

func (w *Watcher) reportError(path string, err error) {
	if w.OnError != nil {
		w.OnError(path, err)
		return
	}
	w.log.Error().Err(err).Str("file", path).Msg("watch error")
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, s := range w.files {
		if s.timer != nil {
			s.timer.Stop()
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}

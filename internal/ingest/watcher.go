// Package ingest watches an inbox directory for dropped media files and
// submits them for transcription, as an alternative to the HTTP upload
// endpoint.
package ingest

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// processedDir is where successfully ingested files are moved, so a restart
// does not resubmit them.
const processedDir = "processed"

// Intake accepts one media file from the inbox.
type Intake interface {
	IntakeFile(ctx context.Context, path string) error
}

// Watcher monitors an inbox directory for new media files and hands them to
// the intake service. Rapid Create+Write events on the same file are
// debounced so half-written files are not picked up.
type Watcher struct {
	intake   Intake
	watchDir string
	log      zerolog.Logger

	watcher *fsnotify.Watcher
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	filesProcessed atomic.Int64
	filesSkipped   atomic.Int64
}

// NewWatcher creates a watcher over the given inbox directory.
func NewWatcher(watchDir string, intake Intake, log zerolog.Logger) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		intake:         intake,
		watchDir:       watchDir,
		log:            log.With().Str("component", "watcher").Str("inbox", watchDir).Logger(),
		ctx:            ctx,
		cancel:         cancel,
		debounceTimers: make(map[string]*time.Timer),
	}
}

// Start initializes the fsnotify watcher, sweeps files already present in
// the inbox, and begins watching for new ones.
func (w *Watcher) Start() error {
	if err := os.MkdirAll(filepath.Join(w.watchDir, processedDir), 0o755); err != nil {
		return err
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.watcher = fsw

	if err := fsw.Add(w.watchDir); err != nil {
		fsw.Close()
		return err
	}

	w.log.Info().Msg("inbox watcher started")

	w.wg.Add(2)
	go w.watchLoop()
	go w.sweepExisting()
	return nil
}

// Stop closes the watcher, drops pending debounce timers, and waits for the
// event loop and startup sweep to exit.
func (w *Watcher) Stop() {
	w.cancel()
	if w.watcher != nil {
		w.watcher.Close()
	}

	w.debounceMu.Lock()
	for path, t := range w.debounceTimers {
		t.Stop()
		delete(w.debounceTimers, path)
	}
	w.debounceMu.Unlock()

	w.wg.Wait()
	w.log.Info().
		Int64("files_processed", w.filesProcessed.Load()).
		Int64("files_skipped", w.filesSkipped.Load()).
		Msg("inbox watcher stopped")
}

func (w *Watcher) watchLoop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(event.Name); err != nil || info.IsDir() {
				continue
			}
			if !isMediaFile(event.Name) {
				continue
			}
			w.scheduleProcess(event.Name)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// sweepExisting submits media files that were already sitting in the inbox
// when the watcher started.
func (w *Watcher) sweepExisting() {
	defer w.wg.Done()
	_ = filepath.WalkDir(w.watchDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if d.Name() == processedDir {
				return fs.SkipDir
			}
			return nil
		}
		if w.ctx.Err() != nil {
			return fs.SkipAll
		}
		if isMediaFile(path) {
			w.process(path)
		}
		return nil
	})
}

// scheduleProcess debounces file processing by 500ms. This coalesces rapid
// Create+Write events and ensures the file is fully written before reading.
func (w *Watcher) scheduleProcess(path string) {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if t, ok := w.debounceTimers[path]; ok {
		t.Reset(500 * time.Millisecond)
		return
	}

	w.debounceTimers[path] = time.AfterFunc(500*time.Millisecond, func() {
		w.debounceMu.Lock()
		delete(w.debounceTimers, path)
		w.debounceMu.Unlock()

		if w.ctx.Err() != nil {
			return
		}
		w.process(path)
	})
}

func (w *Watcher) process(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		w.filesSkipped.Add(1)
		return
	}

	if err := w.intake.IntakeFile(w.ctx, path); err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("intake failed")
		w.filesSkipped.Add(1)
		return
	}

	// Move aside so a restart does not resubmit the file.
	dest := filepath.Join(w.watchDir, processedDir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		w.log.Warn().Err(err).Str("path", path).Msg("failed to move processed file")
	}
	w.filesProcessed.Add(1)
}

var mediaExtensions = map[string]bool{
	".mp3":  true,
	".wav":  true,
	".m4a":  true,
	".ogg":  true,
	".flac": true,
	".mp4":  true,
	".mov":  true,
	".webm": true,
}

func isMediaFile(path string) bool {
	return mediaExtensions[strings.ToLower(filepath.Ext(path))]
}

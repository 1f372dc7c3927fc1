// Package outbox sends files dropped into a directory to the active chat
// room. Each file becomes one message with a single attachment. A bbolt
// ledger records what was sent; only files the server confirmed are
// skipped after a restart.
package outbox

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexjbarnes/pychat-sync/internal/models"
	"github.com/alexjbarnes/pychat-sync/internal/state"
	"github.com/fsnotify/fsnotify"
)

const (
	// outboxDirPerm is the permission mode for the outbox directory when
	// ensuring it exists before starting the watcher.
	outboxDirPerm = fs.FileMode(0o700)

	// debounceInterval is how often the watcher checks for files whose
	// writes have settled.
	debounceInterval = 500 * time.Millisecond

	// settleDelay is how long a file must go without events before it is
	// considered completely written.
	settleDelay = 300 * time.Millisecond
)

// Receipt identifies the message a file was sent with.
type Receipt struct {
	RoomID   int64
	OriginID int64
}

// Submitter sends a single file as a new message. record is called with
// the message's receipt before the message is handed on, on the goroutine
// that later delivers its echo. A record error aborts the send.
type Submitter interface {
	Connected() bool
	Submit(ctx context.Context, file models.UploadFile, record func(Receipt) error) error
}

// Ledger persists which files have been sent.
type Ledger interface {
	GetOutboxEntry(host, path string) (*state.OutboxEntry, error)
	SetOutboxEntry(host string, e state.OutboxEntry) error
	DeleteOutboxEntry(host, path string) error
	AllOutboxEntries(host string) (map[string]state.OutboxEntry, error)
}

// Watcher monitors the outbox directory. Subdirectories are not watched.
type Watcher struct {
	dir       string
	host      string
	ledger    Ledger
	submitter Submitter
	logger    *slog.Logger
	now       func() time.Time

	// queued holds files that settled while disconnected.
	queued map[string]struct{}

	// submitted holds files handed to the submitter by this watcher.
	// Their ledger entries count as sent even before delivery.
	submitted map[string]struct{}
}

// NewWatcher creates a watcher for dir. host scopes the ledger so the
// same directory can be used against several servers.
func NewWatcher(dir, host string, ledger Ledger, submitter Submitter, logger *slog.Logger) *Watcher {
	return &Watcher{
		dir:       dir,
		host:      host,
		ledger:    ledger,
		submitter: submitter,
		logger:    logger,
		now:       time.Now,
		queued:    make(map[string]struct{}),
		submitted: make(map[string]struct{}),
	}
}

// Watch blocks until ctx is cancelled. Files already in the directory
// that the ledger has not seen are sent first.
func (w *Watcher) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	if err := os.MkdirAll(w.dir, outboxDirPerm); err != nil {
		return fmt.Errorf("creating outbox dir: %w", err)
	}

	if err := watcher.Add(w.dir); err != nil {
		return fmt.Errorf("watching outbox dir: %w", err)
	}

	w.logger.Info("outbox watcher started", slog.String("dir", w.dir))

	pending, err := w.scan()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(debounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed unexpectedly")
			}

			if shouldIgnore(event.Name) {
				continue
			}

			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
				pending[event.Name] = w.now()
			}

			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(pending, event.Name)
				delete(w.queued, event.Name)
				w.forget(event.Name)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed unexpectedly")
			}

			w.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-ticker.C:
			w.drainQueue(ctx)

			now := w.now()
			for path, t := range pending {
				if now.Sub(t) < settleDelay {
					continue
				}

				delete(pending, path)
				w.handleFile(ctx, path)
			}
		}
	}
}

// scan returns the files present at startup, each marked as settled.
func (w *Watcher) scan() (map[string]time.Time, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("reading outbox dir: %w", err)
	}

	pending := make(map[string]time.Time)
	settled := w.now().Add(-settleDelay)

	for _, e := range entries {
		path := filepath.Join(w.dir, e.Name())
		if e.IsDir() || shouldIgnore(path) {
			continue
		}

		pending[path] = settled
	}

	w.prune(pending)

	return pending, nil
}

// prune drops ledger entries for files removed while the watcher was not
// running, so a file recreated under the same name is sent again.
func (w *Watcher) prune(present map[string]time.Time) {
	entries, err := w.ledger.AllOutboxEntries(w.host)
	if err != nil {
		w.logger.Warn("reading outbox ledger", slog.String("error", err.Error()))
		return
	}

	for path := range entries {
		if _, ok := present[path]; ok {
			continue
		}

		w.forget(path)
		w.logger.Debug("pruned outbox entry", slog.String("path", path))
	}
}

func (w *Watcher) handleFile(ctx context.Context, path string) {
	if !w.submitter.Connected() {
		w.queued[path] = struct{}{}
		w.logger.Debug("queued outbox file (disconnected)", slog.String("path", path))

		return
	}

	info, err := os.Lstat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			w.logger.Warn("stat failed", slog.String("path", path), slog.String("error", err.Error()))
		}

		return
	}

	if !info.Mode().IsRegular() {
		return
	}

	if w.alreadySent(path, info) {
		return
	}

	file := uploadFile(path, info)

	var receipt Receipt

	err = w.submitter.Submit(ctx, file, func(r Receipt) error {
		receipt = r

		return w.ledger.SetOutboxEntry(w.host, state.OutboxEntry{
			Path:     path,
			Size:     info.Size(),
			MTime:    info.ModTime().UnixMilli(),
			RoomID:   r.RoomID,
			OriginID: r.OriginID,
			SentAt:   w.now().UnixMilli(),
		})
	})
	if err != nil {
		w.logger.Warn("sending outbox file failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		if !w.submitter.Connected() {
			w.queued[path] = struct{}{}
		}

		return
	}

	w.submitted[path] = struct{}{}

	w.logger.Info("outbox file submitted",
		slog.String("path", path),
		slog.Int64("room_id", receipt.RoomID),
		slog.Int64("origin_id", receipt.OriginID),
	)
}

// alreadySent reports whether the ledger holds this exact version of
// the file and it was either delivered or submitted by this watcher.
// Undelivered entries left by an earlier run are sent again.
func (w *Watcher) alreadySent(path string, info os.FileInfo) bool {
	e, err := w.ledger.GetOutboxEntry(w.host, path)
	if err != nil {
		w.logger.Warn("reading outbox ledger", slog.String("path", path), slog.String("error", err.Error()))
		return false
	}

	if e == nil || e.Size != info.Size() || e.MTime != info.ModTime().UnixMilli() {
		return false
	}

	_, mine := w.submitted[path]

	return e.Delivered || mine
}

// Confirm marks the ledger entry sent with originID as delivered. It
// touches only the ledger and is safe to call from the event loop while
// Watch runs.
func (w *Watcher) Confirm(originID int64) {
	entries, err := w.ledger.AllOutboxEntries(w.host)
	if err != nil {
		w.logger.Warn("reading outbox ledger", slog.String("error", err.Error()))
		return
	}

	for _, e := range entries {
		if e.OriginID != originID || e.Delivered {
			continue
		}

		e.Delivered = true
		if err := w.ledger.SetOutboxEntry(w.host, e); err != nil {
			w.logger.Warn("confirming outbox file", slog.String("path", e.Path), slog.String("error", err.Error()))
			return
		}

		w.logger.Info("outbox file delivered", slog.String("path", e.Path), slog.Int64("origin_id", originID))

		return
	}
}

func (w *Watcher) forget(path string) {
	delete(w.submitted, path)

	if err := w.ledger.DeleteOutboxEntry(w.host, path); err != nil {
		w.logger.Warn("clearing outbox ledger", slog.String("path", path), slog.String("error", err.Error()))
	}
}

// drainQueue sends files that settled while disconnected. Stops early if
// the connection drops again.
func (w *Watcher) drainQueue(ctx context.Context) {
	if len(w.queued) == 0 || !w.submitter.Connected() {
		return
	}

	w.logger.Info("draining queued outbox files", slog.Int("count", len(w.queued)))

	paths := make([]string, 0, len(w.queued))
	for path := range w.queued {
		paths = append(paths, path)
	}

	for _, path := range paths {
		delete(w.queued, path)
		w.handleFile(ctx, path)

		if !w.submitter.Connected() {
			break
		}
	}
}

func shouldIgnore(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}

	return strings.HasSuffix(base, "~") ||
		strings.HasSuffix(base, ".swp") ||
		strings.HasSuffix(base, ".part") ||
		strings.HasSuffix(base, ".crdownload")
}

// NewUploadFile describes the file at path for upload.
func NewUploadFile(path string) (models.UploadFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return models.UploadFile{}, err
	}

	if !info.Mode().IsRegular() {
		return models.UploadFile{}, fmt.Errorf("%s is not a regular file", path)
	}

	return uploadFile(path, info), nil
}

func uploadFile(path string, info os.FileInfo) models.UploadFile {
	name := filepath.Base(path)
	ext := filepath.Ext(name)

	return models.UploadFile{
		Key:  strings.TrimSuffix(name, ext),
		Name: name,
		Path: path,
		Size: info.Size(),
		Type: mime.TypeByExtension(ext),
	}
}

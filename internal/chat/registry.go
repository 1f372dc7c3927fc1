package chat

import (
	"log/slog"
	"sort"

	"github.com/alexjbarnes/pychat-sync/internal/models"
)

// pendingOp is an outgoing operation waiting for its server echo. retry
// captures the latest parameters of the operation and re-attempts it.
type pendingOp struct {
	retry func()
	files []models.UploadFile
}

// Registry correlates outgoing operations with their server echoes,
// keyed by client-generated origin id. At most one entry exists per
// origin id; registering again replaces the previous entry.
type Registry struct {
	logger    *slog.Logger
	ops       map[int64]pendingOp
	onResolve func(originID int64)
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger: logger,
		ops:    make(map[int64]pendingOp),
	}
}

// Register stores the operation and immediately invokes retry to attempt
// transmission. The entry exists before the transmit attempt, so the
// echo it produces always finds something to resolve.
func (r *Registry) Register(originID int64, retry func(), files []models.UploadFile) {
	r.Store(originID, retry, files)
	retry()
}

// Store records the operation without invoking it. Used for operations
// that must wait for an explicit retry, such as a failed upload.
func (r *Registry) Store(originID int64, retry func(), files []models.UploadFile) {
	if _, ok := r.ops[originID]; ok {
		r.logger.Debug("replacing pending operation", slog.Int64("origin_id", originID))
	}

	r.ops[originID] = pendingOp{retry: retry, files: files}
}

// OnResolve sets a function called with every origin id Resolve
// removes. It runs on the caller's goroutine, the event loop.
func (r *Registry) OnResolve(fn func(originID int64)) {
	r.onResolve = fn
}

// Resolve removes the entry for originID. It returns false when nothing
// was pending, which means a duplicate or late echo rather than an error.
func (r *Registry) Resolve(originID int64) bool {
	if _, ok := r.ops[originID]; !ok {
		r.logger.Warn("got echo for unknown operation", slog.Int64("origin_id", originID))
		return false
	}

	delete(r.ops, originID)

	if r.onResolve != nil {
		r.onResolve(originID)
	}

	return true
}

// Resend re-invokes the retry callback of a single pending operation.
func (r *Registry) Resend(originID int64) bool {
	op, ok := r.ops[originID]
	if !ok {
		r.logger.Warn("resend requested for unknown operation", slog.Int64("origin_id", originID))
		return false
	}

	r.logger.Info("resending operation", slog.Int64("origin_id", originID))
	op.retry()

	return true
}

// ReplayAll invokes every pending retry callback exactly once and returns
// how many were replayed. Callbacks are snapshotted first, so a callback
// that registers a replacement entry is not replayed a second time.
func (r *Registry) ReplayAll() int {
	ids := r.Pending()

	retries := make([]func(), 0, len(ids))
	for _, id := range ids {
		retries = append(retries, r.ops[id].retry)
	}

	for _, retry := range retries {
		retry()
	}

	r.logger.Info("replayed pending operations", slog.Int("count", len(retries)))

	return len(retries)
}

// Files returns the attachments stored with an operation. Unknown origin
// ids yield an empty list.
func (r *Registry) Files(originID int64) []models.UploadFile {
	op, ok := r.ops[originID]
	if !ok {
		r.logger.Error("asked for files of unknown operation", slog.Int64("origin_id", originID))
		return []models.UploadFile{}
	}

	if op.files == nil {
		return []models.UploadFile{}
	}

	return op.files
}

// Flush drops every pending operation without invoking it.
func (r *Registry) Flush() int {
	n := len(r.ops)
	clear(r.ops)
	r.logger.Info("flushed pending operations", slog.Int("count", n))

	return n
}

// Len returns the number of pending operations.
func (r *Registry) Len() int {
	return len(r.ops)
}

// Pending returns the pending origin ids in ascending order.
func (r *Registry) Pending() []int64 {
	ids := make([]int64, 0, len(r.ops))
	for id := range r.ops {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return ids
}

package chat

import (
	"log/slog"

	"github.com/alexjbarnes/pychat-sync/internal/models"
)

// Orchestrator sequences file uploads ahead of the operation that
// references them. Progress and failures are committed to the store
// against (room id, origin id) so the view can render them.
type Orchestrator struct {
	logger   *slog.Logger
	registry *Registry
	store    Store
	uploader Uploader

	// inflight holds the current upload per origin id. Callbacks of an
	// upload that was superseded by a later call for the same origin id
	// are dropped.
	inflight map[int64]*upload
}

// upload is one in-flight UploadFiles call. uploaded is the last
// committed byte count; progress never moves backwards.
type upload struct {
	uploaded int64
}

// NewOrchestrator creates an orchestrator that registers finished
// operations in registry.
func NewOrchestrator(registry *Registry, store Store, uploader Uploader, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		logger:   logger,
		registry: registry,
		store:    store,
		uploader: uploader,
		inflight: make(map[int64]*upload),
	}
}

// UploadAndSend uploads files, then registers and transmits the closure
// built by makeTransmit from the resulting file ids. Without files the
// operation is registered and transmitted immediately.
//
// If the upload fails, retry is stored under originID instead. It is not
// invoked automatically on failure; a later Resend or reconnect replay
// runs it and restarts the whole upload-then-send sequence.
func (o *Orchestrator) UploadAndSend(originID int64, makeTransmit func(fileIDs []int64) func(), retry func(), files []models.UploadFile, roomID int64) {
	if _, ok := o.inflight[originID]; ok {
		o.logger.Debug("superseding in-flight upload", slog.Int64("origin_id", originID))
		delete(o.inflight, originID)
		o.store.ClearUploadProgress(roomID, originID)
	}

	if len(files) == 0 {
		o.registry.Register(originID, makeTransmit([]int64{}), files)
		return
	}

	var total int64
	for _, f := range files {
		total += f.Size
	}

	o.store.SetUploadProgress(roomID, originID, models.UploadProgress{Total: total, Uploaded: 0})
	cur := &upload{}
	o.inflight[originID] = cur

	o.logger.Debug("uploading files",
		slog.Int64("origin_id", originID),
		slog.Int64("room_id", roomID),
		slog.Int("files", len(files)),
		slog.Int64("bytes", total),
	)

	onProgress := func(loaded, length int64) {
		if length <= 0 {
			return
		}

		if o.inflight[originID] != cur || loaded < cur.uploaded {
			return
		}

		cur.uploaded = loaded
		o.store.SetUploadedBytes(roomID, originID, loaded)
	}

	onComplete := func(fileIDs []int64, err error) {
		if o.inflight[originID] != cur {
			o.logger.Debug("dropping result of superseded upload", slog.Int64("origin_id", originID))
			return
		}

		delete(o.inflight, originID)

		if err != nil {
			o.logger.Warn("upload failed, waiting for retry",
				slog.Int64("origin_id", originID),
				slog.String("error", err.Error()),
			)
			o.store.SetUploadError(roomID, originID, err.Error())
			o.registry.Store(originID, retry, files)

			return
		}

		o.store.ClearUploadProgress(roomID, originID)
		o.registry.Register(originID, makeTransmit(fileIDs), files)
	}

	o.uploader.UploadFiles(files, onComplete, onProgress)
}

package chat

import (
	"log/slog"
	"time"

	"github.com/alexjbarnes/pychat-sync/internal/models"
	"golang.org/x/text/unicode/norm"
)

// Sender issues user-authored operations. Each operation is tracked in
// the registry under its origin id until the server echoes it back.
type Sender struct {
	logger    *slog.Logger
	store     Store
	registry  *Registry
	uploads   *Orchestrator
	transport Transport
	now       func() time.Time
}

// NewSender creates a Sender.
func NewSender(store Store, registry *Registry, uploads *Orchestrator, transport Transport, logger *slog.Logger) *Sender {
	return &Sender{
		logger:    logger,
		store:     store,
		registry:  registry,
		uploads:   uploads,
		transport: transport,
		now:       time.Now,
	}
}

// SendMessage renders an optimistic copy of the message under originID,
// uploads any files and then sends it. originTime is when the user
// composed the message; the server is told how long delivery took.
func (s *Sender) SendMessage(content string, roomID int64, files []models.UploadFile, originID int64, originTime time.Time) {
	content = norm.NFC.String(content)

	s.store.AddMessage(models.Message{
		ID:       originID,
		RoomID:   roomID,
		UserID:   s.store.UserInfo().UserID,
		Time:     originTime.UnixMilli(),
		Content:  &content,
		Transfer: &models.Transfer{},
	})

	s.sendMessage(content, roomID, files, originID, originTime)
}

func (s *Sender) sendMessage(content string, roomID int64, files []models.UploadFile, originID int64, originTime time.Time) {
	s.uploads.UploadAndSend(originID, func(fileIDs []int64) func() {
		return func() {
			elapsed := s.now().Sub(originTime).Milliseconds()
			err := s.transport.SendSendMessage(content, roomID, fileIDs, originID, elapsed)
			s.logTransmit("send", originID, err)
		}
	}, func() {
		s.sendMessage(content, roomID, files, originID, originTime)
	}, files, roomID)
}

// EditMessage replaces the content of message id. The message id doubles
// as the origin id, so a newer edit of the same message supersedes an
// older pending one.
func (s *Sender) EditMessage(content string, roomID, id int64, files []models.UploadFile) {
	content = norm.NFC.String(content)

	s.uploads.UploadAndSend(id, func(fileIDs []int64) func() {
		return func() {
			err := s.transport.SendEditMessage(&content, id, fileIDs, id)
			s.logTransmit("edit", id, err)
		}
	}, func() {
		s.EditMessage(content, roomID, id, files)
	}, files, roomID)
}

// DeleteMessage deletes message id. A delete is an edit with no content.
func (s *Sender) DeleteMessage(id, originID int64) {
	s.registry.Register(originID, func() {
		err := s.transport.SendEditMessage(nil, id, nil, originID)
		s.logTransmit("delete", originID, err)
	}, nil)
}

// Resend retries a single pending operation, typically one whose upload
// failed.
func (s *Sender) Resend(originID int64) bool {
	return s.registry.Resend(originID)
}

// Files returns the attachments of a pending operation.
func (s *Sender) Files(originID int64) []models.UploadFile {
	return s.registry.Files(originID)
}

// Pending returns the origin ids still waiting for an echo.
func (s *Sender) Pending() []int64 {
	return s.registry.Pending()
}

func (s *Sender) logTransmit(op string, originID int64, err error) {
	if err != nil {
		s.logger.Warn("transmit failed, operation stays pending",
			slog.String("op", op),
			slog.Int64("origin_id", originID),
			slog.String("error", err.Error()),
		)

		return
	}

	s.logger.Debug("operation transmitted",
		slog.String("op", op),
		slog.Int64("origin_id", originID),
	)
}

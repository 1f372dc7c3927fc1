package chat

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alexjbarnes/pychat-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTestSender(t *testing.T, c *testCore) (*Sender, *MockTransport) {
	t.Helper()

	ctrl := gomock.NewController(t)
	transport := NewMockTransport(ctrl)
	s := NewSender(c.store, c.registry, c.uploads, transport, slog.Default())

	return s, transport
}

func TestSendMessage_AddsPlaceholderAndTransmits(t *testing.T) {
	c := newTestCore(t)
	s, transport := newTestSender(t, c)

	composed := time.UnixMilli(1_700_000_000_000)
	s.now = func() time.Time { return composed.Add(250 * time.Millisecond) }

	transport.EXPECT().
		SendSendMessage("hello", int64(1), []int64{}, int64(-1), int64(250)).
		Return(nil)

	s.SendMessage("hello", 1, nil, -1, composed)

	m, ok := c.store.Message(1, -1)
	require.True(t, ok)
	require.NotNil(t, m.Content)
	assert.Equal(t, "hello", *m.Content)
	assert.Equal(t, myID, m.UserID)
	assert.Equal(t, composed.UnixMilli(), m.Time)
	assert.Equal(t, []int64{-1}, s.Pending())
}

func TestSendMessage_NormalizesContent(t *testing.T) {
	c := newTestCore(t)
	s, transport := newTestSender(t, c)

	transport.EXPECT().
		SendSendMessage("caf\u00e9", int64(1), gomock.Any(), int64(-2), gomock.Any()).
		Return(nil)

	s.SendMessage("cafe\u0301", 1, nil, -2, time.Now())

	m, _ := c.store.Message(1, -2)
	assert.Equal(t, "caf\u00e9", *m.Content)
}

func TestSendMessage_TransmitErrorKeepsPending(t *testing.T) {
	c := newTestCore(t)
	s, transport := newTestSender(t, c)

	transport.EXPECT().
		SendSendMessage(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		Return(errors.New("websocket not connected"))

	s.SendMessage("offline", 1, nil, -3, time.Now())

	assert.Equal(t, []int64{-3}, s.Pending())
}

func TestSendMessage_ReplayRetransmits(t *testing.T) {
	c := newTestCore(t)
	s, transport := newTestSender(t, c)

	transport.EXPECT().
		SendSendMessage("again", int64(1), []int64{}, int64(-4), gomock.Any()).
		Return(nil).
		Times(2)

	s.SendMessage("again", 1, nil, -4, time.Now())
	c.reconciler.Apply(InternetAppearEvent{}, testSession)
}

func TestSendMessage_WithFiles_WaitsForUpload(t *testing.T) {
	c := newTestCore(t)
	s, transport := newTestSender(t, c)
	files := []models.UploadFile{{Key: "img", Name: "cat.png", Size: 64}}

	s.SendMessage("look", 1, files, -5, time.Now())

	m, _ := c.store.Message(1, -5)
	require.NotNil(t, m.Transfer)
	require.NotNil(t, m.Transfer.Upload)
	assert.Equal(t, int64(64), m.Transfer.Upload.Total)
	assert.Empty(t, s.Pending())

	transport.EXPECT().
		SendSendMessage("look", int64(1), []int64{900}, int64(-5), gomock.Any()).
		Return(nil)

	c.uploader.last(t).onComplete([]int64{900}, nil)

	assert.Equal(t, files, s.Files(-5))
}

func TestSendMessage_UploadFailureThenResend(t *testing.T) {
	c := newTestCore(t)
	s, transport := newTestSender(t, c)
	files := []models.UploadFile{{Key: "img", Name: "cat.png", Size: 64}}

	s.SendMessage("look", 1, files, -6, time.Now())
	c.uploader.last(t).onComplete(nil, errors.New("connection reset"))

	m, _ := c.store.Message(1, -6)
	assert.Equal(t, "connection reset", m.Transfer.Error)

	require.True(t, s.Resend(-6))
	require.Len(t, c.uploader.calls, 2, "resend restarts the upload")

	m, _ = c.store.Message(1, -6)
	assert.Empty(t, m.Transfer.Error)
	require.NotNil(t, m.Transfer.Upload)

	transport.EXPECT().
		SendSendMessage("look", int64(1), []int64{901}, int64(-6), gomock.Any()).
		Return(nil)

	c.uploader.last(t).onComplete([]int64{901}, nil)
}

func TestEditMessage_UsesMessageIDAsOrigin(t *testing.T) {
	c := newTestCore(t)
	s, transport := newTestSender(t, c)

	transport.EXPECT().
		SendEditMessage(gomock.Any(), int64(42), []int64{}, int64(42)).
		DoAndReturn(func(content *string, _ int64, _ []int64, _ int64) error {
			require.NotNil(t, content)
			assert.Equal(t, "fixed", *content)
			return nil
		})

	s.EditMessage("fixed", 1, 42, nil)

	assert.Equal(t, []int64{42}, s.Pending())
}

func TestEditMessage_SupersedesPendingEdit(t *testing.T) {
	c := newTestCore(t)
	s, transport := newTestSender(t, c)

	var sent []string

	transport.EXPECT().
		SendEditMessage(gomock.Any(), int64(42), gomock.Any(), int64(42)).
		DoAndReturn(func(content *string, _ int64, _ []int64, _ int64) error {
			sent = append(sent, *content)
			return nil
		}).
		Times(3)

	s.EditMessage("first", 1, 42, nil)
	s.EditMessage("second", 1, 42, nil)
	c.registry.ReplayAll()

	assert.Equal(t, []string{"first", "second", "second"}, sent)
}

func TestDeleteMessage_SendsEditWithoutContent(t *testing.T) {
	c := newTestCore(t)
	s, transport := newTestSender(t, c)

	transport.EXPECT().
		SendEditMessage(nil, int64(42), nil, int64(-9)).
		Return(nil)

	s.DeleteMessage(42, -9)

	assert.Equal(t, []int64{-9}, s.Pending())
}

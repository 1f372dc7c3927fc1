package pychat

import "github.com/alexjbarnes/pychat-sync/internal/models"

// Frame handlers. Every inbound frame names the server-side handler that
// produced it.
const (
	handlerWS       = "ws"
	handlerChannels = "channels"
)

// Actions on the "ws" handler.
const (
	actionSetWsID     = "setWsId"
	actionPing        = "ping"
	actionPong        = "pong"
	actionGrowlError  = "growlError"
	actionLogout      = "logout"
	actionSendMessage = "sendSendMessage"
	actionEditMessage = "sendEditMessage"
	actionLoadHistory = "loadMessages"
)

// ConnectionFrame is the first frame the server sends on a new
// connection. OpponentWsID identifies this connection; the server echoes
// it back as cbBySender on events we caused.
type ConnectionFrame struct {
	Handler      string              `json:"handler"`
	Action       string              `json:"action"`
	OpponentWsID string              `json:"opponentWsId"`
	UserInfo     models.UserInfo     `json:"userInfo"`
	UserSettings models.UserSettings `json:"userSettings"`
	Content      string              `json:"content"`
}

// ServerError is a "growlError" frame.
type ServerError struct {
	Handler string `json:"handler"`
	Action  string `json:"action"`
	Content string `json:"content"`
}

// WebSocket message types sent by the client.

// PingMessage keeps the connection alive during quiet periods.
type PingMessage struct {
	Action string `json:"action"`
	Time   int64  `json:"time"`
}

// SendMessageRequest posts a new message. MessageID is the client's
// origin id; TimeDiff is how long the message waited locally, in ms.
type SendMessageRequest struct {
	Action    string  `json:"action"`
	Content   string  `json:"content"`
	RoomID    int64   `json:"roomId"`
	Files     []int64 `json:"files"`
	MessageID int64   `json:"messageId"`
	TimeDiff  int64   `json:"timeDiff"`
}

// EditMessageRequest edits or, with a nil Content, deletes a message.
type EditMessageRequest struct {
	Action    string  `json:"action"`
	Content   *string `json:"content"`
	ID        int64   `json:"id"`
	Files     []int64 `json:"files"`
	MessageID int64   `json:"messageId"`
}

// LoadHistoryRequest asks for a page of room history older than the
// messages already held locally.
type LoadHistoryRequest struct {
	Action     string  `json:"action"`
	RoomID     int64   `json:"roomId"`
	Count      int     `json:"count"`
	ExcludeIDs []int64 `json:"excludeIds"`
}

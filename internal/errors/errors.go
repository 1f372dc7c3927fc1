package errors

import "errors"

// Local state errors. The reconciler logs and skips these; the console
// reports them to the user.
var (
	ErrRoomNotFound    = errors.New("room not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrUnknownOrigin   = errors.New("no pending operation for origin id")
	ErrUnknownEvent    = errors.New("unknown event action")
	ErrInvalidCommand  = errors.New("invalid command")
)

// Server/transport errors.
var (
	ErrAuthFailed   = errors.New("session rejected by server")
	ErrNotConnected = errors.New("websocket not connected")
	ErrUploadFailed = errors.New("file upload failed")
	ErrAPIRequest   = errors.New("API request failed")
	ErrAPIResponse  = errors.New("unexpected API response")
)

// Package chat is the client-side delivery and reconciliation core.
//
// It tracks outgoing operations until the server echoes them back
// (Registry), sequences file uploads ahead of the message that refers to
// them (Orchestrator), and folds server-pushed events into local state
// (Reconciler). Everything in this package runs on the client's single
// event loop goroutine; nothing here locks.
package chat

import "github.com/alexjbarnes/pychat-sync/internal/models"

// Transport is the outbound half of the server connection. Both methods
// write one frame; an error means the frame was not sent and the
// operation stays pending until the next replay.
type Transport interface {
	SendEditMessage(content *string, id int64, fileIDs []int64, originID int64) error
	SendSendMessage(content string, roomID int64, fileIDs []int64, originID int64, elapsedMs int64) error
}

// Uploader uploads files out of band. Implementations must return
// immediately and invoke the callbacks later on the event loop goroutine.
// onProgress receives total <= 0 when the length is not computable.
type Uploader interface {
	UploadFiles(files []models.UploadFile, onComplete func(fileIDs []int64, err error), onProgress func(loaded, total int64))
}

// Store is the entity store the core reads and commands.
type Store interface {
	Room(id int64) (*models.Room, bool)
	Rooms() []*models.Room
	Message(roomID, id int64) (models.Message, bool)
	User(id int64) (models.User, bool)
	ActiveRoomID() int64
	UserInfo() models.UserInfo
	Settings() models.UserSettings

	SetOnline(ids []int64)
	SetUsers(users map[int64]models.User)
	AddUser(u models.User)
	SetRooms(rooms map[int64]*models.Room)
	AddRoom(r *models.Room)
	DeleteRoom(id int64)
	SetRoomUsers(roomID int64, users []int64)
	IncNewMessages(roomID int64)
	SetAllLoaded(roomID int64)
	AppendPresenceEvent(ev models.PresenceEvent)

	AddMessages(roomID int64, msgs []models.Message)
	AddMessage(m models.Message)
	RemoveMessage(roomID, id int64)
	SetUploadProgress(roomID, messageID int64, p models.UploadProgress)
	SetUploadedBytes(roomID, messageID, uploaded int64)
	ClearUploadProgress(roomID, messageID int64)
	SetUploadError(roomID, messageID int64, msg string)
}

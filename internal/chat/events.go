package chat

import (
	"encoding/json"
	"fmt"

	apperrors "github.com/alexjbarnes/pychat-sync/internal/errors"
	"github.com/alexjbarnes/pychat-sync/internal/models"
	"github.com/tidwall/gjson"
)

// Kind is the value of the "action" field on a channels frame.
type Kind string

const (
	KindInit             Kind = "init"
	KindInternetAppear   Kind = "internetAppear"
	KindLoadMessages     Kind = "loadMessages"
	KindDeleteMessage    Kind = "deleteMessage"
	KindEditMessage      Kind = "editMessage"
	KindAddOnlineUser    Kind = "addOnlineUser"
	KindRemoveOnlineUser Kind = "removeOnlineUser"
	KindPrintMessage     Kind = "printMessage"
	KindDeleteRoom       Kind = "deleteRoom"
	KindLeaveUser        Kind = "leaveUser"
	KindAddRoom          Kind = "addRoom"
	KindInviteUser       Kind = "inviteUser"
	KindAddInvite        Kind = "addInvite"
)

// Event is one inbound server event. The set of implementations is
// closed; Reconciler.Apply handles each of them.
type Event interface {
	Kind() Kind
}

// UserDescriptor is a user directory entry as sent by the server.
type UserDescriptor struct {
	UserID int64  `json:"userId"`
	User   string `json:"user"`
	Sex    string `json:"sex"`
}

func (d UserDescriptor) toUser() models.User {
	return models.User{ID: d.UserID, Name: d.User, Sex: d.Sex}
}

// RoomDescriptor carries the server-authoritative fields of a room.
type RoomDescriptor struct {
	RoomID        int64   `json:"roomId"`
	Name          string  `json:"name"`
	Users         []int64 `json:"users"`
	Notifications bool    `json:"notifications"`
	Volume        int     `json:"volume"`
}

// toRoom builds a room from the descriptor. Server fields always win;
// cached history and view state are carried over from old when the room
// was already known.
func (d RoomDescriptor) toRoom(old *models.Room) *models.Room {
	r := &models.Room{
		ID:            d.RoomID,
		Name:          d.Name,
		Users:         d.Users,
		Notifications: d.Notifications,
		Volume:        d.Volume,
		Messages:      make(map[int64]models.Message),
	}

	if old != nil {
		r.Messages = old.Messages
		r.NewMessages = old.NewMessages
		r.AllLoaded = old.AllLoaded
		r.ChangeOnline = old.ChangeOnline
	}

	return r
}

// MessageDescriptor is a message as sent by the server.
type MessageDescriptor struct {
	ID      int64                  `json:"id"`
	RoomID  int64                  `json:"roomId"`
	UserID  int64                  `json:"userId"`
	Time    int64                  `json:"time"`
	Content *string                `json:"content"`
	Symbol  *string                `json:"symbol"`
	Giphy   *string                `json:"giphy"`
	Files   map[string]models.File `json:"files"`
	Edited  int                    `json:"edited"`
	Deleted bool                   `json:"deleted"`
}

func (d MessageDescriptor) toMessage() models.Message {
	return models.Message{
		ID:      d.ID,
		RoomID:  d.RoomID,
		UserID:  d.UserID,
		Time:    d.Time,
		Content: nonEmpty(d.Content),
		Symbol:  nonEmpty(d.Symbol),
		Giphy:   nonEmpty(d.Giphy),
		Files:   nonEmptyFiles(d.Files),
		Edited:  d.Edited,
		Deleted: d.Deleted,
	}
}

func nonEmpty(s *string) *string {
	if s == nil || *s == "" {
		return nil
	}

	return s
}

func nonEmptyFiles(files map[string]models.File) map[string]models.File {
	if len(files) == 0 {
		return nil
	}

	return files
}

// InitEvent is the full snapshot sent after connecting.
type InitEvent struct {
	Online []int64          `json:"online"`
	Users  []UserDescriptor `json:"users"`
	Rooms  []RoomDescriptor `json:"rooms"`
}

// InternetAppearEvent signals that the connection came back. It is
// emitted locally by the transport, not by the server.
type InternetAppearEvent struct{}

// LoadMessagesEvent is one page of room history. An empty page means the
// history is exhausted.
type LoadMessagesEvent struct {
	RoomID  int64               `json:"roomId"`
	Content []MessageDescriptor `json:"content"`
}

// DeleteMessageEvent marks a message deleted. SenderSession is the
// session id of the connection that issued the delete, used to detect
// our own echo.
type DeleteMessageEvent struct {
	ID            int64  `json:"id"`
	RoomID        int64  `json:"roomId"`
	Edited        int    `json:"edited"`
	OriginID      int64  `json:"messageId"`
	SenderSession string `json:"cbBySender"`
}

// EditMessageEvent overlays new content onto an existing message.
type EditMessageEvent struct {
	MessageDescriptor
	OriginID      int64  `json:"messageId"`
	SenderSession string `json:"cbBySender"`
}

// PrintMessageEvent is a new message.
type PrintMessageEvent struct {
	MessageDescriptor
	OriginID      int64  `json:"messageId"`
	SenderSession string `json:"cbBySender"`
}

// AddOnlineUserEvent is a presence push for a user going online. Online
// is the complete online set after the change.
type AddOnlineUserEvent struct {
	UserID int64   `json:"userId"`
	User   string  `json:"user"`
	Sex    string  `json:"sex"`
	Time   int64   `json:"time"`
	Online []int64 `json:"content"`
}

// RemoveOnlineUserEvent is a presence push for a user going offline.
type RemoveOnlineUserEvent struct {
	UserID int64   `json:"userId"`
	Time   int64   `json:"time"`
	Online []int64 `json:"content"`
}

// DeleteRoomEvent removes a room.
type DeleteRoomEvent struct {
	RoomID int64 `json:"roomId"`
}

// LeaveUserEvent carries a room's membership after a user left.
type LeaveUserEvent struct {
	RoomID int64   `json:"roomId"`
	Users  []int64 `json:"users"`
}

// InviteUserEvent carries a room's membership after users were invited.
type InviteUserEvent struct {
	RoomID int64   `json:"roomId"`
	Users  []int64 `json:"users"`
}

// AddRoomEvent announces a room the local user can now see.
type AddRoomEvent struct {
	RoomDescriptor
}

// AddInviteEvent announces a room the local user was invited to.
type AddInviteEvent struct {
	RoomDescriptor
	InviterUserID int64 `json:"inviterUserId"`
}

func (InitEvent) Kind() Kind             { return KindInit }
func (InternetAppearEvent) Kind() Kind   { return KindInternetAppear }
func (LoadMessagesEvent) Kind() Kind     { return KindLoadMessages }
func (DeleteMessageEvent) Kind() Kind    { return KindDeleteMessage }
func (EditMessageEvent) Kind() Kind      { return KindEditMessage }
func (AddOnlineUserEvent) Kind() Kind    { return KindAddOnlineUser }
func (RemoveOnlineUserEvent) Kind() Kind { return KindRemoveOnlineUser }
func (PrintMessageEvent) Kind() Kind     { return KindPrintMessage }
func (DeleteRoomEvent) Kind() Kind       { return KindDeleteRoom }
func (LeaveUserEvent) Kind() Kind        { return KindLeaveUser }
func (AddRoomEvent) Kind() Kind          { return KindAddRoom }
func (InviteUserEvent) Kind() Kind       { return KindInviteUser }
func (AddInviteEvent) Kind() Kind        { return KindAddInvite }

// DecodeEvent decodes a channels frame into its typed event, using the
// "action" field to pick the payload shape.
func DecodeEvent(data []byte) (Event, error) {
	action := Kind(gjson.GetBytes(data, "action").Str)

	switch action {
	case KindInit:
		return decodeAs[InitEvent](data)
	case KindInternetAppear:
		return InternetAppearEvent{}, nil
	case KindLoadMessages:
		return decodeAs[LoadMessagesEvent](data)
	case KindDeleteMessage:
		return decodeAs[DeleteMessageEvent](data)
	case KindEditMessage:
		return decodeAs[EditMessageEvent](data)
	case KindAddOnlineUser:
		return decodeAs[AddOnlineUserEvent](data)
	case KindRemoveOnlineUser:
		return decodeAs[RemoveOnlineUserEvent](data)
	case KindPrintMessage:
		return decodeAs[PrintMessageEvent](data)
	case KindDeleteRoom:
		return decodeAs[DeleteRoomEvent](data)
	case KindLeaveUser:
		return decodeAs[LeaveUserEvent](data)
	case KindAddRoom:
		return decodeAs[AddRoomEvent](data)
	case KindInviteUser:
		return decodeAs[InviteUserEvent](data)
	case KindAddInvite:
		return decodeAs[AddInviteEvent](data)
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownEvent, action)
	}
}

func decodeAs[T Event](data []byte) (Event, error) {
	var ev T
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("decoding %s event: %w", ev.Kind(), err)
	}

	return ev, nil
}

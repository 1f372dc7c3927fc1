package models

// Message is a chat message as held in local state. Optimistic messages
// that have not been acknowledged by the server are keyed by their
// (negative) origin id until the canonical copy arrives.
type Message struct {
	ID       int64           `json:"id"`
	RoomID   int64           `json:"roomId"`
	UserID   int64           `json:"userId"`
	Time     int64           `json:"time"`
	Content  *string         `json:"content"`
	Symbol   *string         `json:"symbol"`
	Giphy    *string         `json:"giphy"`
	Files    map[string]File `json:"files"`
	Edited   int             `json:"edited"`
	Deleted  bool            `json:"deleted"`
	Transfer *Transfer       `json:"transfer"`
}

// Transfer is the delivery status of a message that is still being
// uploaded or sent.
type Transfer struct {
	Upload *UploadProgress `json:"upload"`
	Error  string          `json:"error"`
}

// UploadProgress tracks bytes uploaded for a single operation.
type UploadProgress struct {
	Total    int64 `json:"total"`
	Uploaded int64 `json:"uploaded"`
}

// File is a server-side attachment referenced from a message.
type File struct {
	ID         int64  `json:"id"`
	URL        string `json:"url"`
	PreviewURL string `json:"previewUrl"`
	Type       string `json:"type"`
}

// UploadFile is a local file queued for upload ahead of a send or edit.
// Key is the placeholder symbol the message content refers to.
type UploadFile struct {
	Key  string `json:"key"`
	Name string `json:"name"`
	Path string `json:"path"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// Room is a chat room with its locally cached history.
type Room struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	Users         []int64           `json:"users"`
	Messages      map[int64]Message `json:"messages"`
	Notifications bool              `json:"notifications"`
	Volume        int               `json:"volume"`
	NewMessages   int               `json:"newMessages"`
	AllLoaded     bool              `json:"allLoaded"`
	ChangeOnline  []PresenceChange  `json:"changeOnline"`
}

// HasUser reports whether userID is a member of the room.
func (r *Room) HasUser(userID int64) bool {
	for _, id := range r.Users {
		if id == userID {
			return true
		}
	}

	return false
}

// User is an entry in the user directory.
type User struct {
	ID   int64  `json:"userId"`
	Name string `json:"user"`
	Sex  string `json:"sex"`
}

// PresenceChange records a single user going online or offline.
type PresenceChange struct {
	UserID     int64 `json:"userId"`
	Time       int64 `json:"time"`
	WentOnline bool  `json:"isWentOnline"`
}

// PresenceEvent is a PresenceChange together with every room it affects.
type PresenceEvent struct {
	RoomIDs []int64        `json:"roomIds"`
	Change  PresenceChange `json:"changeOnline"`
}

// UserSettings are the per-account toggles pushed by the server on connect.
type UserSettings struct {
	MessageSound      bool `json:"messageSound"`
	OnlineChangeSound bool `json:"onlineChangeSound"`
	Notifications     bool `json:"notifications"`
}

// UserInfo identifies the local user.
type UserInfo struct {
	UserID int64  `json:"userId"`
	Name   string `json:"user"`
}

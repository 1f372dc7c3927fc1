package store

import (
	"log/slog"
	"sort"

	"github.com/alexjbarnes/pychat-sync/internal/models"
)

// Store is the in-memory entity store for one chat session. It is owned
// by the client's event loop goroutine: every read and command runs on
// that goroutine, so there is no locking.
//
// Commands that reference a room or message which is not present are
// logged and skipped. The store never returns errors.
type Store struct {
	logger *slog.Logger

	online       map[int64]struct{}
	users        map[int64]models.User
	rooms        map[int64]*models.Room
	activeRoomID int64
	userInfo     models.UserInfo
	settings     models.UserSettings
}

// New creates an empty store.
func New(logger *slog.Logger) *Store {
	return &Store{
		logger: logger,
		online: make(map[int64]struct{}),
		users:  make(map[int64]models.User),
		rooms:  make(map[int64]*models.Room),
	}
}

// --- reads ---

// Room returns the room with the given id. The returned pointer is the
// live entry; callers outside the store must treat it as read-only.
func (s *Store) Room(id int64) (*models.Room, bool) {
	r, ok := s.rooms[id]
	return r, ok
}

// Rooms returns every room ordered by id.
func (s *Store) Rooms() []*models.Room {
	out := make([]*models.Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}

// Message looks up a message by room and id.
func (s *Store) Message(roomID, id int64) (models.Message, bool) {
	r, ok := s.rooms[roomID]
	if !ok {
		return models.Message{}, false
	}

	m, ok := r.Messages[id]

	return m, ok
}

// User returns a user directory entry.
func (s *Store) User(id int64) (models.User, bool) {
	u, ok := s.users[id]
	return u, ok
}

// Online returns the current online user ids in ascending order.
func (s *Store) Online() []int64 {
	out := make([]int64, 0, len(s.online))
	for id := range s.online {
		out = append(out, id)
	}

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })

	return out
}

// IsOnline reports whether the user is in the online set.
func (s *Store) IsOnline(id int64) bool {
	_, ok := s.online[id]
	return ok
}

// ActiveRoomID returns the room currently shown to the user, or 0.
func (s *Store) ActiveRoomID() int64 {
	return s.activeRoomID
}

// UserInfo returns the local user's identity.
func (s *Store) UserInfo() models.UserInfo {
	return s.userInfo
}

// Settings returns the local user's settings.
func (s *Store) Settings() models.UserSettings {
	return s.settings
}

// --- session commands ---

// SetActiveRoom records which room is in view. Messages arriving in the
// active room do not bump its unread counter.
func (s *Store) SetActiveRoom(id int64) {
	s.activeRoomID = id
	if r, ok := s.rooms[id]; ok {
		r.NewMessages = 0
	}
}

// SetUserInfo records the local user's identity.
func (s *Store) SetUserInfo(info models.UserInfo) {
	s.userInfo = info
}

// SetSettings replaces the local user's settings.
func (s *Store) SetSettings(settings models.UserSettings) {
	s.settings = settings
}

// --- directory commands ---

// SetOnline replaces the online set wholesale.
func (s *Store) SetOnline(ids []int64) {
	online := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		online[id] = struct{}{}
	}

	s.online = online
}

// SetUsers replaces the user directory.
func (s *Store) SetUsers(users map[int64]models.User) {
	s.users = users
}

// AddUser inserts or replaces a single user directory entry.
func (s *Store) AddUser(u models.User) {
	s.users[u.ID] = u
}

// SetRooms replaces the room directory.
func (s *Store) SetRooms(rooms map[int64]*models.Room) {
	s.rooms = rooms
}

// AddRoom inserts or replaces a room.
func (s *Store) AddRoom(r *models.Room) {
	if r.Messages == nil {
		r.Messages = make(map[int64]models.Message)
	}

	s.rooms[r.ID] = r
}

// DeleteRoom removes a room and its cached history.
func (s *Store) DeleteRoom(id int64) {
	delete(s.rooms, id)

	if s.activeRoomID == id {
		s.activeRoomID = 0
	}
}

// SetRoomUsers replaces a room's membership.
func (s *Store) SetRoomUsers(roomID int64, users []int64) {
	r, ok := s.room(roomID, "set room users")
	if !ok {
		return
	}

	r.Users = users
}

// IncNewMessages bumps a room's unread counter.
func (s *Store) IncNewMessages(roomID int64) {
	r, ok := s.room(roomID, "increment unread")
	if !ok {
		return
	}

	r.NewMessages++
}

// SetAllLoaded marks a room's history as fully paginated.
func (s *Store) SetAllLoaded(roomID int64) {
	r, ok := s.room(roomID, "mark all loaded")
	if !ok {
		return
	}

	r.AllLoaded = true
}

// AppendPresenceEvent appends the change to every room it lists.
func (s *Store) AppendPresenceEvent(ev models.PresenceEvent) {
	for _, id := range ev.RoomIDs {
		r, ok := s.room(id, "append presence")
		if !ok {
			continue
		}

		r.ChangeOnline = append(r.ChangeOnline, ev.Change)
	}
}

// --- message commands ---

// AddMessages inserts a batch of messages into one room.
func (s *Store) AddMessages(roomID int64, msgs []models.Message) {
	r, ok := s.room(roomID, "add messages")
	if !ok {
		return
	}

	for _, m := range msgs {
		r.Messages[m.ID] = m
	}
}

// AddMessage inserts or overlays a single message in its room.
func (s *Store) AddMessage(m models.Message) {
	r, ok := s.room(m.RoomID, "add message")
	if !ok {
		return
	}

	r.Messages[m.ID] = m
}

// RemoveMessage drops a message, typically an optimistic placeholder that
// has been replaced by the server's canonical copy.
func (s *Store) RemoveMessage(roomID, id int64) {
	r, ok := s.room(roomID, "remove message")
	if !ok {
		return
	}

	delete(r.Messages, id)
}

// SetUploadProgress starts tracking upload progress for a message.
func (s *Store) SetUploadProgress(roomID, messageID int64, p models.UploadProgress) {
	s.updateTransfer(roomID, messageID, func(t *models.Transfer) {
		t.Upload = &p
		t.Error = ""
	})
}

// SetUploadedBytes advances the uploaded byte count of a tracked upload.
func (s *Store) SetUploadedBytes(roomID, messageID, uploaded int64) {
	s.updateTransfer(roomID, messageID, func(t *models.Transfer) {
		if t.Upload == nil {
			t.Upload = &models.UploadProgress{}
		}

		up := *t.Upload
		up.Uploaded = uploaded
		t.Upload = &up
	})
}

// ClearUploadProgress removes progress and error state once an upload
// has finished.
func (s *Store) ClearUploadProgress(roomID, messageID int64) {
	s.updateTransfer(roomID, messageID, func(t *models.Transfer) {
		t.Upload = nil
		t.Error = ""
	})
}

// SetUploadError records a failed upload against a message.
func (s *Store) SetUploadError(roomID, messageID int64, msg string) {
	s.updateTransfer(roomID, messageID, func(t *models.Transfer) {
		t.Upload = nil
		t.Error = msg
	})
}

func (s *Store) updateTransfer(roomID, messageID int64, fn func(t *models.Transfer)) {
	r, ok := s.room(roomID, "update transfer")
	if !ok {
		return
	}

	m, ok := r.Messages[messageID]
	if !ok {
		s.logger.Debug("transfer update for unknown message",
			slog.Int64("room_id", roomID),
			slog.Int64("message_id", messageID),
		)

		return
	}

	t := models.Transfer{}
	if m.Transfer != nil {
		t = *m.Transfer
	}

	fn(&t)
	m.Transfer = &t
	r.Messages[messageID] = m
}

func (s *Store) room(id int64, op string) (*models.Room, bool) {
	r, ok := s.rooms[id]
	if !ok {
		s.logger.Debug("store command for unknown room",
			slog.String("op", op),
			slog.Int64("room_id", id),
		)
	}

	return r, ok
}

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/alexjbarnes/pychat-sync/internal/models"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// imagePlaceholder is the notification body for messages without text.
const imagePlaceholder = "Image"

// Reconciler applies inbound server events to the store. Apply is
// synchronous and returns the side effects the event calls for; it never
// fails. Events that reference rooms or messages which are not present
// locally are logged and skipped.
type Reconciler struct {
	logger      *slog.Logger
	store       Store
	registry    *Registry
	presence    *PresenceTracker
	defaultIcon string
}

// NewReconciler creates a reconciler. defaultIcon is used for
// notifications about messages without attachments.
func NewReconciler(store Store, registry *Registry, defaultIcon string, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		logger:      logger,
		store:       store,
		registry:    registry,
		presence:    NewPresenceTracker(store),
		defaultIcon: defaultIcon,
	}
}

// Apply routes ev to its handler. sessionID is the current connection's
// session id; events carrying the same id are echoes of our own
// operations and resolve the matching pending entry.
func (r *Reconciler) Apply(ev Event, sessionID string) []Effect {
	switch e := ev.(type) {
	case InitEvent:
		r.init(e)
	case InternetAppearEvent:
		r.registry.ReplayAll()
	case LoadMessagesEvent:
		r.loadMessages(e)
	case DeleteMessageEvent:
		r.deleteMessage(e, sessionID)
	case EditMessageEvent:
		r.editMessage(e, sessionID)
	case PrintMessageEvent:
		return r.printMessage(e, sessionID)
	case AddOnlineUserEvent:
		return r.addOnlineUser(e)
	case RemoveOnlineUserEvent:
		return r.removeOnlineUser(e)
	case DeleteRoomEvent:
		r.deleteRoom(e)
	case LeaveUserEvent:
		r.setRoomUsers(e.RoomID, e.Users, "leave")
	case InviteUserEvent:
		r.setRoomUsers(e.RoomID, e.Users, "invite")
	case AddRoomEvent:
		r.addRoom(e.RoomDescriptor)
	case AddInviteEvent:
		r.addRoom(e.RoomDescriptor)
	default:
		r.logger.Warn("unhandled event", slog.String("type", fmt.Sprintf("%T", ev)))
	}

	return nil
}

func (r *Reconciler) init(e InitEvent) {
	r.store.SetOnline(e.Online)

	users := make(map[int64]models.User, len(e.Users))
	for _, u := range e.Users {
		users[u.UserID] = u.toUser()
	}

	r.store.SetUsers(users)

	rooms := make(map[int64]*models.Room, len(e.Rooms))
	for _, d := range e.Rooms {
		old, _ := r.store.Room(d.RoomID)
		rooms[d.RoomID] = d.toRoom(old)
	}

	r.store.SetRooms(rooms)

	r.logger.Debug("applied init snapshot",
		slog.Int("users", len(users)),
		slog.Int("rooms", len(rooms)),
		slog.Int("online", len(e.Online)),
	)
}

func (r *Reconciler) loadMessages(e LoadMessagesEvent) {
	room, ok := r.store.Room(e.RoomID)
	if !ok {
		r.logger.Warn("history for unknown room", slog.Int64("room_id", e.RoomID))
		return
	}

	if len(e.Content) == 0 {
		r.store.SetAllLoaded(e.RoomID)
		r.logger.Debug("room history fully loaded", slog.Int64("room_id", e.RoomID))

		return
	}

	fresh := make([]models.Message, 0, len(e.Content))

	for _, d := range e.Content {
		if _, exists := room.Messages[d.ID]; exists {
			continue
		}

		m := d.toMessage()
		m.RoomID = e.RoomID
		fresh = append(fresh, m)
	}

	if len(fresh) == 0 {
		return
	}

	r.store.AddMessages(e.RoomID, fresh)
}

func (r *Reconciler) deleteMessage(e DeleteMessageEvent, sessionID string) {
	cur, ok := r.store.Message(e.RoomID, e.ID)
	if !ok {
		r.logger.Debug("unable to find message to delete",
			slog.Int64("room_id", e.RoomID),
			slog.Int64("id", e.ID),
		)

		return
	}

	cur.Content = nil
	cur.Files = nil
	cur.Giphy = nil
	cur.Symbol = nil
	cur.Edited = e.Edited
	cur.Deleted = true
	cur.Transfer = nil
	r.store.AddMessage(cur)

	if isEcho(e.SenderSession, sessionID) {
		r.registry.Resolve(e.OriginID)
	}
}

func (r *Reconciler) editMessage(e EditMessageEvent, sessionID string) {
	cur, ok := r.store.Message(e.RoomID, e.ID)
	if !ok {
		r.logger.Debug("unable to find message to edit",
			slog.Int64("room_id", e.RoomID),
			slog.Int64("id", e.ID),
		)

		return
	}

	next := overlay(cur, e.MessageDescriptor)
	r.logEditDiff(cur, next)
	r.store.AddMessage(next)

	if isEcho(e.SenderSession, sessionID) {
		r.registry.Resolve(e.OriginID)
	}
}

func (r *Reconciler) printMessage(e PrintMessageEvent, sessionID string) []Effect {
	if isEcho(e.SenderSession, sessionID) {
		r.registry.Resolve(e.OriginID)

		if e.OriginID != e.ID {
			r.store.RemoveMessage(e.RoomID, e.OriginID)
		}
	}

	room, ok := r.store.Room(e.RoomID)
	if !ok {
		r.logger.Warn("message for unknown room",
			slog.Int64("room_id", e.RoomID),
			slog.Int64("id", e.ID),
		)

		return nil
	}

	msg := e.toMessage()
	r.store.AddMessage(msg)

	self := msg.UserID == r.store.UserInfo().UserID

	if r.store.ActiveRoomID() != e.RoomID && !self {
		r.store.IncNewMessages(e.RoomID)
	}

	var effects []Effect

	if room.Notifications && !self {
		effects = append(effects, Notification{
			Title:              r.userName(msg.UserID),
			Body:               notificationBody(msg),
			Icon:               r.notificationIcon(msg),
			RoomID:             e.RoomID,
			Replaced:           1,
			RequireInteraction: true,
		})
	}

	if r.store.Settings().MessageSound {
		cue := CueIncoming
		if self {
			cue = CueOutgoing
		}

		effects = append(effects, Sound{Cue: cue, Volume: room.Volume})
	}

	return append(effects, Scroll{RoomID: e.RoomID})
}

func (r *Reconciler) addOnlineUser(e AddOnlineUserEvent) []Effect {
	if _, ok := r.store.User(e.UserID); !ok {
		r.store.AddUser(models.User{ID: e.UserID, Name: e.User, Sex: e.Sex})
	}

	r.presence.Record(e.UserID, e.Time, true)
	r.store.SetOnline(e.Online)

	return r.presenceCue(e.UserID, CueLogin)
}

func (r *Reconciler) removeOnlineUser(e RemoveOnlineUserEvent) []Effect {
	r.presence.Record(e.UserID, e.Time, false)
	r.store.SetOnline(e.Online)

	return r.presenceCue(e.UserID, CueLogout)
}

func (r *Reconciler) presenceCue(userID int64, cue Cue) []Effect {
	if !r.store.Settings().OnlineChangeSound || userID == r.store.UserInfo().UserID {
		return nil
	}

	return []Effect{Sound{Cue: cue, Volume: presenceCueVolume}}
}

func (r *Reconciler) deleteRoom(e DeleteRoomEvent) {
	if _, ok := r.store.Room(e.RoomID); !ok {
		r.logger.Error("unable to find room to delete", slog.Int64("room_id", e.RoomID))
		return
	}

	r.store.DeleteRoom(e.RoomID)
}

func (r *Reconciler) setRoomUsers(roomID int64, users []int64, reason string) {
	if _, ok := r.store.Room(roomID); !ok {
		r.logger.Error("unable to find room to update members",
			slog.Int64("room_id", roomID),
			slog.String("reason", reason),
		)

		return
	}

	r.store.SetRoomUsers(roomID, users)
}

func (r *Reconciler) addRoom(d RoomDescriptor) {
	old, _ := r.store.Room(d.RoomID)
	r.store.AddRoom(d.toRoom(old))
}

func (r *Reconciler) userName(id int64) string {
	if u, ok := r.store.User(id); ok && u.Name != "" {
		return u.Name
	}

	return fmt.Sprintf("user %d", id)
}

func (r *Reconciler) notificationIcon(m models.Message) string {
	if len(m.Files) == 0 {
		return r.defaultIcon
	}

	keys := make([]string, 0, len(m.Files))
	for k := range m.Files {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	f := m.Files[keys[0]]
	if f.PreviewURL != "" {
		return f.PreviewURL
	}

	if f.URL != "" {
		return f.URL
	}

	return r.defaultIcon
}

// logEditDiff logs how much text an edit changed.
func (r *Reconciler) logEditDiff(prev, next models.Message) {
	if !r.logger.Enabled(context.Background(), slog.LevelDebug) || prev.Content == nil || next.Content == nil {
		return
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(*prev.Content, *next.Content, false)

	var inserted, deleted int

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			inserted += len(d.Text)
		case diffmatchpatch.DiffDelete:
			deleted += len(d.Text)
		}
	}

	r.logger.Debug("message edited",
		slog.Int64("room_id", next.RoomID),
		slog.Int64("id", next.ID),
		slog.Int("inserted", inserted),
		slog.Int("deleted", deleted),
		slog.Int("edited", next.Edited),
	)
}

// overlay replaces the mutable fields of cur with those carried by d.
// Identity fields (id, time, room, author) always come from cur.
func overlay(cur models.Message, d MessageDescriptor) models.Message {
	src := d.toMessage()

	cur.Content = src.Content
	cur.Symbol = src.Symbol
	cur.Giphy = src.Giphy
	cur.Files = src.Files
	cur.Edited = src.Edited
	cur.Deleted = src.Deleted
	cur.Transfer = nil

	return cur
}

func notificationBody(m models.Message) string {
	if m.Content != nil {
		return *m.Content
	}

	return imagePlaceholder
}

// isEcho reports whether an event was caused by this connection.
func isEcho(senderSession, sessionID string) bool {
	return sessionID != "" && senderSession == sessionID
}

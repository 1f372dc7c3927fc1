package chat

import "github.com/alexjbarnes/pychat-sync/internal/models"

// PresenceTracker derives per-room join/leave history from presence
// pushes. History is append-only; pruning is left to the view.
type PresenceTracker struct {
	store Store
}

// NewPresenceTracker creates a tracker over store.
func NewPresenceTracker(store Store) *PresenceTracker {
	return &PresenceTracker{store: store}
}

// Record appends a presence change for userID to every room the user is
// a member of and returns the committed event.
func (p *PresenceTracker) Record(userID, time int64, wentOnline bool) models.PresenceEvent {
	var roomIDs []int64

	for _, r := range p.store.Rooms() {
		if r.HasUser(userID) {
			roomIDs = append(roomIDs, r.ID)
		}
	}

	ev := models.PresenceEvent{
		RoomIDs: roomIDs,
		Change: models.PresenceChange{
			UserID:     userID,
			Time:       time,
			WentOnline: wentOnline,
		},
	}
	p.store.AppendPresenceEvent(ev)

	return ev
}

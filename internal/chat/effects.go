package chat

// Effect is a side effect produced by reconciliation. The reconciler only
// describes effects; notify.Interpreter carries them out.
type Effect interface {
	effect()
}

// Cue names a sound.
type Cue string

const (
	CueIncoming Cue = "incoming"
	CueOutgoing Cue = "outgoing"
	CueLogin    Cue = "login"
	CueLogout   Cue = "logout"
)

// presenceCueVolume is the fixed volume for login/logout cues, which are
// not tied to any one room.
const presenceCueVolume = 50

// Notification asks for a desktop notification about a new message.
// Replaced lets the notifier collapse repeated notifications for the
// same room into one.
type Notification struct {
	Title              string
	Body               string
	Icon               string
	RoomID             int64
	Replaced           int
	RequireInteraction bool
}

// Sound asks for a cue to be played at the given volume (0-100).
type Sound struct {
	Cue    Cue
	Volume int
}

// Scroll asks the view to scroll the room to its latest message.
type Scroll struct {
	RoomID int64
}

func (Notification) effect() {}
func (Sound) effect()        {}
func (Scroll) effect()       {}

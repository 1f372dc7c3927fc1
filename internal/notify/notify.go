// Package notify carries out the side effects the reconciler asks for.
// A terminal client has no desktop notifications or audio, so
// notifications become highlighted transcript lines, sounds become the
// terminal bell, and scrolling prints the newest message of a room.
package notify

import (
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/alexjbarnes/pychat-sync/internal/chat"
	"github.com/alexjbarnes/pychat-sync/internal/models"
	"github.com/charmbracelet/lipgloss"
)

const (
	bell       = "\a"
	timeLayout = "15:04"
)

// View is the read side of the entity store the interpreter renders from.
type View interface {
	Room(id int64) (*models.Room, bool)
	User(id int64) (models.User, bool)
	UserInfo() models.UserInfo
}

type styles struct {
	time   lipgloss.Style
	room   lipgloss.Style
	self   lipgloss.Style
	other  lipgloss.Style
	notice lipgloss.Style
	faint  lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		time:   r.NewStyle().Faint(true),
		room:   r.NewStyle().Foreground(lipgloss.Color("6")),
		self:   r.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		other:  r.NewStyle().Bold(true).Foreground(lipgloss.Color("4")),
		notice: r.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		faint:  r.NewStyle().Faint(true),
	}
}

// Interpreter executes effects on the event loop goroutine. It is not
// safe for concurrent use.
type Interpreter struct {
	out    io.Writer
	view   View
	logger *slog.Logger
	styles styles

	// rendered is the id of the last message printed per room.
	rendered map[int64]int64

	// unseen counts notifications per room since the room was last
	// viewed. Replaceable notifications collapse into one line that
	// carries the count.
	unseen map[int64]int
}

// New creates an interpreter writing to out.
func New(out io.Writer, view View, logger *slog.Logger) *Interpreter {
	return &Interpreter{
		out:      out,
		view:     view,
		logger:   logger,
		styles:   newStyles(lipgloss.NewRenderer(out)),
		rendered: make(map[int64]int64),
		unseen:   make(map[int64]int),
	}
}

// Execute carries out effects in order.
func (i *Interpreter) Execute(effects []chat.Effect) {
	for _, eff := range effects {
		switch e := eff.(type) {
		case chat.Notification:
			i.notify(e)
		case chat.Sound:
			i.sound(e)
		case chat.Scroll:
			i.scroll(e)
		default:
			i.logger.Warn("unknown effect", slog.String("type", fmt.Sprintf("%T", eff)))
		}
	}
}

// Seen resets the notification count of a room, for when the user
// switches to it.
func (i *Interpreter) Seen(roomID int64) {
	delete(i.unseen, roomID)
}

func (i *Interpreter) notify(n chat.Notification) {
	i.unseen[n.RoomID]++

	line := fmt.Sprintf("%s: %s", n.Title, n.Body)
	if n.Replaced > 0 && i.unseen[n.RoomID] > 1 {
		line += fmt.Sprintf(" (%d new)", i.unseen[n.RoomID])
	}

	fmt.Fprintln(i.out, i.styles.notice.Render("* "+line))

	i.logger.Debug("notification",
		slog.Int64("room_id", n.RoomID),
		slog.String("title", n.Title),
		slog.String("icon", n.Icon),
		slog.Bool("require_interaction", n.RequireInteraction),
	)
}

func (i *Interpreter) sound(s chat.Sound) {
	if s.Volume <= 0 {
		return
	}

	fmt.Fprint(i.out, bell)
	i.logger.Debug("sound", slog.String("cue", string(s.Cue)), slog.Int("volume", s.Volume))
}

func (i *Interpreter) scroll(s chat.Scroll) {
	room, ok := i.view.Room(s.RoomID)
	if !ok {
		return
	}

	m, ok := latest(room)
	if !ok || i.rendered[room.ID] == m.ID {
		return
	}

	i.rendered[room.ID] = m.ID
	fmt.Fprintln(i.out, i.Format(room, m))
}

// Format renders one message as a transcript line.
func (i *Interpreter) Format(room *models.Room, m models.Message) string {
	var b strings.Builder

	b.WriteString(i.styles.time.Render(time.UnixMilli(m.Time).Format(timeLayout)))
	b.WriteByte(' ')

	roomName := room.Name
	if roomName == "" {
		roomName = fmt.Sprintf("%d", room.ID)
	}

	b.WriteString(i.styles.room.Render("#" + roomName))
	b.WriteByte(' ')

	name := fmt.Sprintf("user %d", m.UserID)
	if u, ok := i.view.User(m.UserID); ok {
		name = u.Name
	}

	style := i.styles.other
	if m.UserID == i.view.UserInfo().UserID {
		style = i.styles.self
	}

	b.WriteString(style.Render(name))
	b.WriteString(": ")
	b.WriteString(body(m))

	if m.Edited > 0 && !m.Deleted {
		b.WriteString(i.styles.faint.Render(" (edited)"))
	}

	if len(m.Files) > 0 {
		b.WriteString(i.styles.faint.Render(fmt.Sprintf(" [%d files]", len(m.Files))))
	}

	return b.String()
}

func body(m models.Message) string {
	switch {
	case m.Deleted:
		return "(deleted)"
	case m.Content != nil:
		return *m.Content
	case m.Giphy != nil:
		return "gif " + *m.Giphy
	case m.Symbol != nil:
		return *m.Symbol
	}

	return ""
}

// latest returns the newest message of a room by time, then id.
func latest(room *models.Room) (models.Message, bool) {
	if len(room.Messages) == 0 {
		return models.Message{}, false
	}

	msgs := make([]models.Message, 0, len(room.Messages))
	for _, m := range room.Messages {
		msgs = append(msgs, m)
	}

	sort.Slice(msgs, func(a, b int) bool {
		if msgs[a].Time != msgs[b].Time {
			return msgs[a].Time < msgs[b].Time
		}

		return msgs[a].ID < msgs[b].ID
	})

	return msgs[len(msgs)-1], true
}

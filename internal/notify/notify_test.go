package notify

import (
	"bytes"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/alexjbarnes/pychat-sync/internal/chat"
	"github.com/alexjbarnes/pychat-sync/internal/models"
	"github.com/alexjbarnes/pychat-sync/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func strPtr(s string) *string { return &s }

func newTestInterpreter(t *testing.T) (*Interpreter, *store.Store, *bytes.Buffer) {
	t.Helper()

	st := store.New(quietLogger)
	st.SetUserInfo(models.UserInfo{UserID: 1, Name: "me"})
	st.SetUsers(map[int64]models.User{
		1: {ID: 1, Name: "me"},
		2: {ID: 2, Name: "bob"},
	})
	st.AddRoom(&models.Room{ID: 1, Name: "general", Users: []int64{1, 2}})

	var buf bytes.Buffer

	return New(&buf, st, quietLogger), st, &buf
}

func TestExecute_ScrollPrintsLatestMessage(t *testing.T) {
	in, st, buf := newTestInterpreter(t)

	st.AddMessage(models.Message{ID: 10, RoomID: 1, UserID: 2, Time: 1000, Content: strPtr("first")})
	st.AddMessage(models.Message{ID: 11, RoomID: 1, UserID: 2, Time: 2000, Content: strPtr("second")})

	in.Execute([]chat.Effect{chat.Scroll{RoomID: 1}})

	out := buf.String()
	assert.Contains(t, out, "#general")
	assert.Contains(t, out, "bob: second")
	assert.NotContains(t, out, "first")
}

func TestExecute_ScrollSkipsAlreadyRendered(t *testing.T) {
	in, st, buf := newTestInterpreter(t)

	st.AddMessage(models.Message{ID: 10, RoomID: 1, UserID: 2, Time: 1000, Content: strPtr("hi")})

	in.Execute([]chat.Effect{chat.Scroll{RoomID: 1}})
	in.Execute([]chat.Effect{chat.Scroll{RoomID: 1}})

	assert.Equal(t, 1, strings.Count(buf.String(), "bob: hi"))
}

func TestExecute_ScrollUnknownRoomOrEmpty(t *testing.T) {
	in, _, buf := newTestInterpreter(t)

	in.Execute([]chat.Effect{chat.Scroll{RoomID: 99}, chat.Scroll{RoomID: 1}})

	assert.Empty(t, buf.String())
}

func TestExecute_NotificationCollapses(t *testing.T) {
	in, _, buf := newTestInterpreter(t)

	n := chat.Notification{Title: "bob", Body: "hi", RoomID: 1, Replaced: 1}
	in.Execute([]chat.Effect{n})
	in.Execute([]chat.Effect{n})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "* bob: hi")
	assert.NotContains(t, lines[0], "new)")
	assert.Contains(t, lines[1], "(2 new)")

	in.Seen(1)
	buf.Reset()
	in.Execute([]chat.Effect{n})
	assert.NotContains(t, buf.String(), "new)")
}

func TestExecute_SoundRingsBell(t *testing.T) {
	in, _, buf := newTestInterpreter(t)

	in.Execute([]chat.Effect{chat.Sound{Cue: chat.CueIncoming, Volume: 80}})
	assert.Equal(t, bell, buf.String())

	buf.Reset()
	in.Execute([]chat.Effect{chat.Sound{Cue: chat.CueIncoming, Volume: 0}})
	assert.Empty(t, buf.String(), "muted rooms stay silent")
}

func TestFormat(t *testing.T) {
	in, st, _ := newTestInterpreter(t)
	room, _ := st.Room(1)

	tests := []struct {
		name string
		msg  models.Message
		want []string
	}{
		{"own message", models.Message{UserID: 1, Content: strPtr("yo")}, []string{"me: yo"}},
		{"unknown sender", models.Message{UserID: 42, Content: strPtr("?")}, []string{"user 42: ?"}},
		{"edited", models.Message{UserID: 2, Content: strPtr("fixed"), Edited: 2}, []string{"bob: fixed", "(edited)"}},
		{"deleted", models.Message{UserID: 2, Deleted: true, Edited: 3}, []string{"bob: (deleted)"}},
		{"giphy", models.Message{UserID: 2, Giphy: strPtr("https://g/x.gif")}, []string{"gif https://g/x.gif"}},
		{"files", models.Message{UserID: 2, Content: strPtr("look"), Files: map[string]models.File{"a": {ID: 1}}}, []string{"[1 files]"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := in.Format(room, tt.msg)
			for _, w := range tt.want {
				assert.Contains(t, got, w)
			}
		})
	}
}

func TestFormat_DeletedNotMarkedEdited(t *testing.T) {
	in, st, _ := newTestInterpreter(t)
	room, _ := st.Room(1)

	got := in.Format(room, models.Message{UserID: 2, Deleted: true, Edited: 3})
	assert.NotContains(t, got, "(edited)")
}

// Package console is a line-oriented client for the chat core. Plain
// lines are sent to the active room; lines starting with a slash are
// commands. Every command runs on the client's event loop.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/alexjbarnes/pychat-sync/internal/chat"
	apperrors "github.com/alexjbarnes/pychat-sync/internal/errors"
	"github.com/alexjbarnes/pychat-sync/internal/models"
	"github.com/alexjbarnes/pychat-sync/internal/outbox"
	"github.com/dustin/go-humanize"
)

const helpText = `commands:
  TEXT                  send TEXT to the active room
  /room N               switch to room N
  /rooms                list rooms
  /edit ID TEXT         replace the text of message ID
  /delete ID            delete message ID
  /attach PATH [TEXT]   send a file, optionally with TEXT
  /retry ORIGIN         resend a pending operation
  /pending              list operations waiting for the server
  /history [N]          load N older messages of the active room
  /help                 show this help`

// Looper runs closures on the chat event loop.
type Looper interface {
	Do(ctx context.Context, fn func()) error
}

// Outbound issues user-authored operations. *chat.Sender satisfies it.
type Outbound interface {
	SendMessage(content string, roomID int64, files []models.UploadFile, originID int64, originTime time.Time)
	EditMessage(content string, roomID, id int64, files []models.UploadFile)
	DeleteMessage(id, originID int64)
	Resend(originID int64) bool
	Files(originID int64) []models.UploadFile
	Pending() []int64
}

// Rooms is the part of the entity store the console reads and commands.
type Rooms interface {
	Room(id int64) (*models.Room, bool)
	Rooms() []*models.Room
	ActiveRoomID() int64
	SetActiveRoom(id int64)
}

// History requests older messages from the server.
type History interface {
	RequestHistory(roomID int64, count int, excludeIDs []int64) error
}

// Config holds the collaborators of a Console. OnRoomChange, if set, is
// called on the event loop after the active room changes.
type Config struct {
	Loop         Looper
	Sender       Outbound
	Store        Rooms
	History      History
	Origins      *chat.OriginSource
	HistoryCount int
	OnRoomChange func(roomID int64)
	Out          io.Writer
}

// Console reads commands and executes them.
type Console struct {
	loop         Looper
	sender       Outbound
	store        Rooms
	history      History
	origins      *chat.OriginSource
	historyCount int
	onRoomChange func(roomID int64)
	out          io.Writer
	logger       *slog.Logger
	now          func() time.Time
}

// New creates a Console.
func New(cfg Config, logger *slog.Logger) *Console {
	return &Console{
		loop:         cfg.Loop,
		sender:       cfg.Sender,
		store:        cfg.Store,
		history:      cfg.History,
		origins:      cfg.Origins,
		historyCount: cfg.HistoryCount,
		onRoomChange: cfg.OnRoomChange,
		out:          cfg.Out,
		logger:       logger,
		now:          time.Now,
	}
}

// Run reads lines from in until EOF or ctx is cancelled. Command errors
// are printed and do not stop the console.
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	readErr := make(chan error, 1)

	// The reader goroutine stays blocked on in after ctx is cancelled
	// until in is closed; for stdin that is process exit.
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}

		readErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-readErr:
			if err != nil {
				return fmt.Errorf("reading input: %w", err)
			}

			return nil

		case line := <-lines:
			// Captured by the closure; written on the event loop.
			var execErr error

			typed := c.now()
			if err := c.loop.Do(ctx, func() { execErr = c.Exec(line, typed) }); err != nil {
				return err
			}

			if execErr != nil {
				fmt.Fprintf(c.out, "error: %v\n", execErr)

				if !isUserError(execErr) {
					c.logger.Warn("command failed", slog.String("error", execErr.Error()))
				}
			}
		}
	}
}

// Exec runs one input line. typed is when the line was entered. Must be
// called on the event loop.
func (c *Console) Exec(line string, typed time.Time) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if !strings.HasPrefix(line, "/") {
		return c.send(line, nil, typed)
	}

	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/room":
		return c.switchRoom(rest)
	case "/rooms":
		c.listRooms()
		return nil
	case "/edit":
		return c.edit(rest)
	case "/delete":
		return c.remove(rest)
	case "/attach":
		return c.attach(rest, typed)
	case "/retry":
		return c.retry(rest)
	case "/pending":
		c.listPending()
		return nil
	case "/history":
		return c.loadHistory(rest)
	case "/help":
		fmt.Fprintln(c.out, helpText)
		return nil
	}

	return fmt.Errorf("%w: unknown command %s (try /help)", apperrors.ErrInvalidCommand, cmd)
}

func (c *Console) activeRoom() (*models.Room, error) {
	id := c.store.ActiveRoomID()

	room, ok := c.store.Room(id)
	if !ok {
		return nil, fmt.Errorf("%w: active room %d", apperrors.ErrRoomNotFound, id)
	}

	return room, nil
}

func (c *Console) send(content string, files []models.UploadFile, typed time.Time) error {
	room, err := c.activeRoom()
	if err != nil {
		return err
	}

	origin := c.origins.Next()
	c.sender.SendMessage(content, room.ID, files, origin, typed)
	c.logger.Debug("message queued", slog.Int64("room_id", room.ID), slog.Int64("origin_id", origin))

	return nil
}

func (c *Console) switchRoom(arg string) error {
	id, err := parseID(arg, "/room N")
	if err != nil {
		return err
	}

	if _, ok := c.store.Room(id); !ok {
		return fmt.Errorf("%w: %d", apperrors.ErrRoomNotFound, id)
	}

	c.store.SetActiveRoom(id)

	if c.onRoomChange != nil {
		c.onRoomChange(id)
	}

	fmt.Fprintf(c.out, "switched to room %d\n", id)

	return nil
}

func (c *Console) listRooms() {
	active := c.store.ActiveRoomID()

	for _, r := range c.store.Rooms() {
		marker := " "
		if r.ID == active {
			marker = "*"
		}

		line := fmt.Sprintf("%s %d %s (%d users)", marker, r.ID, r.Name, len(r.Users))
		if r.NewMessages > 0 {
			line += fmt.Sprintf(" %d unread", r.NewMessages)
		}

		fmt.Fprintln(c.out, line)
	}
}

func (c *Console) edit(arg string) error {
	idArg, content, _ := strings.Cut(arg, " ")
	content = strings.TrimSpace(content)

	id, err := parseID(idArg, "/edit ID TEXT")
	if err != nil {
		return err
	}

	if content == "" {
		return fmt.Errorf("%w: usage: /edit ID TEXT", apperrors.ErrInvalidCommand)
	}

	room, err := c.messageRoom(id)
	if err != nil {
		return err
	}

	c.sender.EditMessage(content, room.ID, id, nil)

	return nil
}

func (c *Console) remove(arg string) error {
	id, err := parseID(arg, "/delete ID")
	if err != nil {
		return err
	}

	if _, err := c.messageRoom(id); err != nil {
		return err
	}

	c.sender.DeleteMessage(id, c.origins.Next())

	return nil
}

// messageRoom returns the active room if it holds a live message id.
func (c *Console) messageRoom(id int64) (*models.Room, error) {
	room, err := c.activeRoom()
	if err != nil {
		return nil, err
	}

	m, ok := room.Messages[id]
	if !ok || m.Deleted {
		return nil, fmt.Errorf("%w: %d in room %d", apperrors.ErrMessageNotFound, id, room.ID)
	}

	return room, nil
}

func (c *Console) attach(arg string, typed time.Time) error {
	path, content, _ := strings.Cut(arg, " ")
	if path == "" {
		return fmt.Errorf("%w: usage: /attach PATH [TEXT]", apperrors.ErrInvalidCommand)
	}

	file, err := outbox.NewUploadFile(path)
	if err != nil {
		return fmt.Errorf("attaching %s: %w", path, err)
	}

	return c.send(strings.TrimSpace(content), []models.UploadFile{file}, typed)
}

func (c *Console) retry(arg string) error {
	origin, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: usage: /retry ORIGIN", apperrors.ErrInvalidCommand)
	}

	if !c.sender.Resend(origin) {
		return fmt.Errorf("%w: %d", apperrors.ErrUnknownOrigin, origin)
	}

	return nil
}

func (c *Console) listPending() {
	pending := c.sender.Pending()
	if len(pending) == 0 {
		fmt.Fprintln(c.out, "nothing pending")
		return
	}

	for _, origin := range pending {
		line := fmt.Sprintf("%d", origin)

		if files := c.sender.Files(origin); len(files) > 0 {
			line += fmt.Sprintf(" %d files", len(files))
		}

		if t := c.transfer(origin); t != nil {
			switch {
			case t.Error != "":
				line += " failed: " + t.Error
			case t.Upload != nil:
				line += fmt.Sprintf(" uploading %s of %s",
					humanize.Bytes(uint64(max(t.Upload.Uploaded, 0))),
					humanize.Bytes(uint64(max(t.Upload.Total, 0))),
				)
			}
		}

		fmt.Fprintln(c.out, line)
	}
}

// transfer finds the optimistic message of a pending operation.
func (c *Console) transfer(origin int64) *models.Transfer {
	for _, r := range c.store.Rooms() {
		if m, ok := r.Messages[origin]; ok {
			return m.Transfer
		}
	}

	return nil
}

func (c *Console) loadHistory(arg string) error {
	count := c.historyCount
	if arg != "" {
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: usage: /history [N]", apperrors.ErrInvalidCommand)
		}

		count = n
	}

	room, err := c.activeRoom()
	if err != nil {
		return err
	}

	if room.AllLoaded {
		fmt.Fprintln(c.out, "history fully loaded")
		return nil
	}

	exclude := make([]int64, 0, len(room.Messages))
	for id := range room.Messages {
		if id > 0 {
			exclude = append(exclude, id)
		}
	}

	sort.Slice(exclude, func(i, j int) bool { return exclude[i] < exclude[j] })

	if err := c.history.RequestHistory(room.ID, count, exclude); err != nil {
		return fmt.Errorf("requesting history: %w", err)
	}

	return nil
}

func parseID(arg, usage string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: usage: %s", apperrors.ErrInvalidCommand, usage)
	}

	return id, nil
}

// isUserError reports whether err came from bad input rather than a
// failure of the client.
func isUserError(err error) bool {
	return errors.Is(err, apperrors.ErrInvalidCommand) ||
		errors.Is(err, apperrors.ErrRoomNotFound) ||
		errors.Is(err, apperrors.ErrMessageNotFound) ||
		errors.Is(err, apperrors.ErrUnknownOrigin)
}

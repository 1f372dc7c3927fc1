package pychat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/alexjbarnes/pychat-sync/internal/chat"
	apperrors "github.com/alexjbarnes/pychat-sync/internal/errors"
	"github.com/alexjbarnes/pychat-sync/internal/models"
	"github.com/coder/websocket"
	"github.com/tidwall/gjson"
)

const (
	pingAfter        = 10 * time.Second
	disconnectAfter  = 120 * time.Second
	heartbeatCheckAt = 20 * time.Second

	reconnectMin = 5 * time.Second
	reconnectMax = 5 * time.Minute
	writeTimeout = 10 * time.Second
)

const (
	// wsReadLimit caps a single inbound frame. Init snapshots and history
	// pages for busy rooms are the largest frames the server sends.
	wsReadLimit = 16 * 1024 * 1024

	// opChanSize is the buffer size for closures posted to the event loop.
	opChanSize = 64

	// inboundChanSize is the buffer size for the channel carrying
	// messages from the WebSocket reader goroutine to the event loop.
	inboundChanSize = 64

	// jitterDivisor controls the range of random jitter added to
	// reconnect backoff: jitter is uniform in [0, backoff/jitterDivisor).
	jitterDivisor = 2

	// reconnectBackoffMultiplier is the exponential growth factor
	// applied to the reconnect backoff after each consecutive failure.
	reconnectBackoffMultiplier = 2

	// sessionCookie is the cookie the server authenticates connections with.
	sessionCookie = "sessionid"
)

// loopOp is a closure submitted to the event loop.
type loopOp struct {
	fn   func()
	done chan struct{}
}

// SessionStore receives the identity and settings the server sends on
// every connection.
type SessionStore interface {
	SetUserInfo(info models.UserInfo)
	SetSettings(settings models.UserSettings)
}

// EventApplier folds a decoded server event into local state.
type EventApplier interface {
	Apply(ev chat.Event, sessionID string) []chat.Effect
}

// Client manages the WebSocket connection to a pychat server and owns
// the single goroutine all chat state is touched from.
//
// Architecture: a reader goroutine feeds inboundCh with raw WebSocket
// messages. A single event loop goroutine (Listen) applies inbound
// events, runs closures submitted with Do, and sends heartbeats. All
// writes to the connection happen from the event loop, so Client also
// serves as the chat.Transport for operations that run there.
type Client struct {
	conn   wsConn
	logger *slog.Logger

	host      string
	sessionID string
	insecure  bool

	session   SessionStore
	events    EventApplier
	onEffects func([]chat.Effect)
	onConnect func(wsID string)

	dial func(ctx context.Context) (wsConn, error)

	// wsID is the server-assigned id of the current connection. Written
	// during handshake, read on the event loop.
	wsID string

	// opCh receives closures from other goroutines (stdin, outbox
	// watcher, upload workers). The event loop runs them one at a time.
	opCh chan loopOp

	// inboundCh receives messages from the reader goroutine.
	inboundCh chan inboundMsg

	lastMessage time.Time
	lastMsgMu   sync.Mutex

	// connCancel cancels the per-connection context. Used to stop the
	// reader goroutine when the connection drops before reconnecting.
	connCancel context.CancelFunc

	connected   bool
	connectedMu sync.RWMutex
}

// Config holds the parameters needed to connect to a pychat server.
// WsID is the id of a previous connection, which the server uses to
// restore that connection's state. Empty starts fresh.
type Config struct {
	Host      string
	SessionID string
	WsID      string
	Insecure  bool
	Session   SessionStore
	Events    EventApplier
	OnEffects func([]chat.Effect)
	OnConnect func(wsID string)
}

// NewClient creates a Client from the given config.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	c := &Client{
		logger:    logger,
		host:      cfg.Host,
		sessionID: cfg.SessionID,
		wsID:      cfg.WsID,
		insecure:  cfg.Insecure,
		session:   cfg.Session,
		events:    cfg.Events,
		onEffects: cfg.OnEffects,
		onConnect: cfg.OnConnect,
		opCh:      make(chan loopOp, opChanSize),
	}
	c.dial = c.dialWebsocket

	return c
}

// Connect dials the WebSocket and waits for the connection frame.
func (c *Client) Connect(ctx context.Context) error {
	// Cancel any previous reader goroutine from a prior connection.
	if c.connCancel != nil {
		c.connCancel()
	}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}

	return c.handshake(ctx, conn)
}

func (c *Client) dialWebsocket(ctx context.Context) (wsConn, error) {
	u := c.wsURL()
	c.logger.Debug("connecting", slog.String("url", u))

	conn, resp, err := websocket.Dial(ctx, u, &websocket.DialOptions{ //nolint:bodyclose // websocket.Dial closes the response body internally
		HTTPHeader: http.Header{
			"Cookie": []string{sessionCookie + "=" + c.sessionID},
			"Origin": []string{c.httpBase()},
		},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", apperrors.ErrAuthFailed, resp.StatusCode)
		}

		return nil, fmt.Errorf("dialing websocket: %w", err)
	}

	return conn, nil
}

// handshake reads the connection frame. Extracted from Connect so it can
// be tested with a mock wsConn.
func (c *Client) handshake(ctx context.Context, conn wsConn) error {
	c.conn = conn
	c.conn.SetReadLimit(wsReadLimit)
	c.touchLastMessage()

	var frame ConnectionFrame
	if err := c.readJSON(ctx, &frame); err != nil {
		c.conn.Close(websocket.StatusInternalError, "handshake read failed")
		return fmt.Errorf("reading connection frame: %w", err)
	}

	if frame.Action != actionSetWsID || frame.OpponentWsID == "" {
		c.conn.Close(websocket.StatusPolicyViolation, "auth failed")

		msg := frame.Content
		if msg == "" {
			msg = frame.Action
		}

		return fmt.Errorf("%w: %s", apperrors.ErrAuthFailed, msg)
	}

	c.wsID = frame.OpponentWsID
	c.session.SetUserInfo(frame.UserInfo)
	c.session.SetSettings(frame.UserSettings)
	c.setConnected(true)

	c.logger.Info("websocket connected",
		slog.String("ws_id", c.wsID),
		slog.Int64("user_id", frame.UserInfo.UserID),
	)

	if c.onConnect != nil {
		c.onConnect(c.wsID)
	}

	return nil
}

// startReader launches a goroutine that reads from the WebSocket and
// feeds inboundCh. Exits when connCtx is cancelled or a read error
// occurs. The error is delivered as the final message on inboundCh.
func (c *Client) startReader(connCtx context.Context) {
	ch := make(chan inboundMsg, inboundChanSize)
	c.inboundCh = ch
	conn := c.conn

	go func() {
		for {
			typ, data, err := conn.Read(connCtx)
			select {
			case ch <- inboundMsg{typ: typ, data: data, err: err}:
			case <-connCtx.Done():
				return
			}

			if err != nil {
				return
			}
		}
	}()
}

// Listen is the event loop with automatic reconnection. It owns all
// writes to the connection. Returns only on permanent errors or context
// cancellation. After every successful reconnect the pending operations
// are replayed through an internetAppear event.
func (c *Client) Listen(ctx context.Context) error {
	backoff := reconnectMin

	connCtx, connCancel := context.WithCancel(ctx)
	c.connCancel = connCancel
	c.startReader(connCtx)

	for {
		err := c.eventLoop(ctx, connCtx)
		if err == nil {
			return nil
		}

		c.setConnected(false)
		connCancel()

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if isPermanentError(err) {
			return fmt.Errorf("permanent error: %w", err)
		}

		c.logger.Warn("connection lost, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("backoff", backoff),
		)

		jitter := time.Duration(rand.Int64N(int64(backoff) / jitterDivisor)) //nolint:gosec // G404: math/rand is fine for reconnect jitter, no security impact

		timer := time.NewTimer(backoff + jitter)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if err := c.Connect(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			if isPermanentError(err) {
				return fmt.Errorf("permanent reconnect error: %w", err)
			}

			c.logger.Warn("reconnect failed",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)
			backoff = min(backoff*reconnectBackoffMultiplier, reconnectMax)

			continue
		}

		connCtx, connCancel = context.WithCancel(ctx)
		c.connCancel = connCancel
		c.startReader(connCtx)

		backoff = reconnectMin

		c.logger.Info("reconnected")
		c.apply(chat.InternetAppearEvent{})
	}
}

// eventLoop is the single event loop for one connection. Returns on read
// error or context cancellation.
func (c *Client) eventLoop(ctx context.Context, connCtx context.Context) error {
	ticker := time.NewTicker(heartbeatCheckAt)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.inboundCh:
			if msg.err != nil {
				return fmt.Errorf("reading message: %w", msg.err)
			}

			c.touchLastMessage()

			if msg.typ == websocket.MessageBinary {
				c.logger.Debug("unexpected binary frame in event loop", slog.Int("bytes", len(msg.data)))
				continue
			}

			if err := c.handleInbound(msg.data); err != nil {
				return err
			}

		case op := <-c.opCh:
			op.fn()
			close(op.done)

		case <-ticker.C:
			c.lastMsgMu.Lock()
			elapsed := time.Since(c.lastMessage)
			c.lastMsgMu.Unlock()

			if elapsed > disconnectAfter {
				c.logger.Warn("connection timed out, closing")
				c.conn.Close(websocket.StatusGoingAway, "timeout")

				return errors.New("heartbeat timeout")
			}

			if elapsed > pingAfter {
				ping := PingMessage{Action: actionPing, Time: time.Now().UnixMilli()}
				if err := c.writeJSON(ctx, ping); err != nil {
					return fmt.Errorf("sending ping: %w", err)
				}
			}

		case <-ctx.Done():
			return ctx.Err()

		case <-connCtx.Done():
			return connCtx.Err()
		}
	}
}

// handleInbound routes a single text frame. Only a logout from the
// server is returned as an error; everything else is logged and skipped.
func (c *Client) handleInbound(data []byte) error {
	if !gjson.ValidBytes(data) {
		c.logger.Debug("unparseable text frame", slog.Int("bytes", len(data)))
		return nil
	}

	handler := gjson.GetBytes(data, "handler").Str
	action := gjson.GetBytes(data, "action").Str

	if handler == handlerWS {
		switch action {
		case actionPong:
			return nil
		case actionLogout:
			return fmt.Errorf("%w: server logged the session out", apperrors.ErrAuthFailed)
		case actionGrowlError:
			var se ServerError
			if err := json.Unmarshal(data, &se); err == nil {
				c.logger.Warn("server error", slog.String("message", se.Content))
			}

			return nil
		default:
			c.logger.Debug("unexpected ws frame", slog.String("action", action))
			return nil
		}
	}

	if handler != handlerChannels {
		c.logger.Debug("frame from unknown handler",
			slog.String("handler", handler),
			slog.String("action", action),
		)

		return nil
	}

	ev, err := chat.DecodeEvent(data)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, apperrors.ErrUnknownEvent) {
			level = slog.LevelDebug
		}

		c.logger.Log(context.Background(), level, "skipping frame",
			slog.String("handler", handler),
			slog.String("error", err.Error()),
		)

		return nil
	}

	c.apply(ev)

	return nil
}

func (c *Client) apply(ev chat.Event) {
	effects := c.events.Apply(ev, c.wsID)
	if len(effects) > 0 && c.onEffects != nil {
		c.onEffects(effects)
	}
}

// Do runs fn on the event loop and waits for it to finish. fn may read
// and command the chat state freely. Do must not be called from the
// event loop itself.
func (c *Client) Do(ctx context.Context, fn func()) error {
	op := loopOp{fn: fn, done: make(chan struct{})}

	select {
	case c.opCh <- op:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case <-op.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendSendMessage implements chat.Transport. Must be called on the event loop.
func (c *Client) SendSendMessage(content string, roomID int64, fileIDs []int64, originID, elapsedMs int64) error {
	return c.send(SendMessageRequest{
		Action:    actionSendMessage,
		Content:   content,
		RoomID:    roomID,
		Files:     fileIDs,
		MessageID: originID,
		TimeDiff:  elapsedMs,
	})
}

// SendEditMessage implements chat.Transport. Must be called on the event loop.
func (c *Client) SendEditMessage(content *string, id int64, fileIDs []int64, originID int64) error {
	return c.send(EditMessageRequest{
		Action:    actionEditMessage,
		Content:   content,
		ID:        id,
		Files:     fileIDs,
		MessageID: originID,
	})
}

// RequestHistory asks the server for up to count messages of room history
// not in excludeIDs. The page arrives as a loadMessages event. Must be
// called on the event loop.
func (c *Client) RequestHistory(roomID int64, count int, excludeIDs []int64) error {
	if excludeIDs == nil {
		excludeIDs = []int64{}
	}

	return c.send(LoadHistoryRequest{
		Action:     actionLoadHistory,
		RoomID:     roomID,
		Count:      count,
		ExcludeIDs: excludeIDs,
	})
}

// send writes one frame. A failed write closes the connection so the
// reader surfaces the error and Listen reconnects.
func (c *Client) send(v any) error {
	if !c.Connected() || c.conn == nil {
		return apperrors.ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := c.writeJSON(ctx, v); err != nil {
		c.setConnected(false)
		c.conn.Close(websocket.StatusInternalError, "write failed")

		return err
	}

	return nil
}

func (c *Client) setConnected(v bool) {
	c.connectedMu.Lock()
	c.connected = v
	c.connectedMu.Unlock()
}

// WsID returns the id of the current connection. Must be called on the
// event loop.
func (c *Client) WsID() string {
	return c.wsID
}

// Connected reports whether the WebSocket connection is live.
func (c *Client) Connected() bool {
	c.connectedMu.RLock()
	v := c.connected
	c.connectedMu.RUnlock()

	return v
}

// Close cleanly shuts down the WebSocket connection.
func (c *Client) Close() error {
	if c.connCancel != nil {
		c.connCancel()
	}

	if c.conn != nil {
		return c.conn.Close(websocket.StatusNormalClosure, "bye")
	}

	return nil
}

// isPermanentError returns true for errors that won't resolve on retry.
func isPermanentError(err error) bool {
	return errors.Is(err, apperrors.ErrAuthFailed)
}

func (c *Client) wsURL() string {
	scheme := "wss"
	if c.insecure {
		scheme = "ws"
	}

	u := url.URL{Scheme: scheme, Host: c.host, Path: "/ws"}
	if c.wsID != "" {
		u.RawQuery = url.Values{"id": []string{c.wsID}}.Encode()
	}

	return u.String()
}

func (c *Client) httpBase() string {
	if c.insecure {
		return "http://" + c.host
	}

	return "https://" + c.host
}

func (c *Client) touchLastMessage() {
	c.lastMsgMu.Lock()
	c.lastMessage = time.Now()
	c.lastMsgMu.Unlock()
}

// writeJSON marshals v to JSON and writes it as a text frame.
// Only called from the event loop or during Connect (before Listen starts).
func (c *Client) writeJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshalling message: %w", err)
	}

	return c.conn.Write(ctx, websocket.MessageText, data)
}

// readJSON reads a text frame and unmarshals it into v.
// Only called during Connect (before Listen starts).
func (c *Client) readJSON(ctx context.Context, v any) error {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading message: %w", err)
	}

	c.touchLastMessage()

	return json.Unmarshal(data, v)
}

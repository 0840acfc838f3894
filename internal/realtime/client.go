package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"meetly/client/internal/models"
)

// Client-to-server events. Each is acknowledged by the server with an
// envelope carrying the same ackId and a status field.
const (
	eventJoinChat    = "join_chat"
	eventLeaveChat   = "leave_chat"
	eventSendMessage = "send_message"
)

// Server-to-client events.
const (
	EventNewMessage         = "new_message"
	EventMessageDeleted     = "message_deleted"
	EventAllMessagesDeleted = "all_messages_deleted"
)

const (
	statusJoined = "joined"
	statusSent   = "sent"
)

type envelope struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type ackPayload struct {
	Status string `json:"status"`
}

// NewMessageEvent is pushed when any participant posts into a joined room.
type NewMessageEvent struct {
	ChatID  string         `json:"chatId"`
	Message models.Message `json:"message"`
}

// MessageDeletedEvent is pushed when a single message is removed.
type MessageDeletedEvent struct {
	ChatID    string `json:"chatId"`
	MessageID string `json:"messageId"`
}

// AllMessagesDeletedEvent is pushed when a room's history is wiped.
type AllMessagesDeletedEvent struct {
	ChatID string `json:"chatId"`
}

type Config struct {
	URL               string
	JoinTimeout       time.Duration
	ReconnectDelay    time.Duration
	ReconnectAttempts int
}

// Client maintains the persistent room-based channel to the backend. It
// tracks which chat rooms the session has joined so joins are idempotent
// and survive a reconnect.
type Client struct {
	cfg    Config
	dialer *websocket.Dialer
	logger *slog.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected chan struct{}
	closed    bool
	joined    map[string]struct{}
	acks      map[string]chan ackPayload

	handlerMu          sync.Mutex
	nextHandlerID      int
	newMessage         map[int]func(NewMessageEvent)
	messageDeleted     map[int]func(MessageDeletedEvent)
	allMessagesDeleted map[int]func(AllMessagesDeletedEvent)

	writeMu sync.Mutex
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 5 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = time.Second
	}
	if cfg.ReconnectAttempts <= 0 {
		cfg.ReconnectAttempts = 5
	}
	return &Client{
		cfg:                cfg,
		dialer:             websocket.DefaultDialer,
		logger:             logger,
		connected:          make(chan struct{}),
		joined:             make(map[string]struct{}),
		acks:               make(map[string]chan ackPayload),
		newMessage:         make(map[int]func(NewMessageEvent)),
		messageDeleted:     make(map[int]func(MessageDeletedEvent)),
		allMessagesDeleted: make(map[int]func(AllMessagesDeletedEvent)),
	}
}

// Connect dials the channel if it is not already up. Safe to call
// repeatedly; concurrent callers share the same connection.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("realtime client closed")
	}
	if c.conn != nil {
		return nil
	}
	return c.dialLocked()
}

// dialLocked dials and starts the read pump. Caller holds c.mu.
func (c *Client) dialLocked() error {
	conn, _, err := c.dialer.Dial(socketURL(c.cfg.URL), nil)
	if err != nil {
		return fmt.Errorf("dial realtime channel: %w", err)
	}
	c.conn = conn
	close(c.connected)
	go c.readPump(conn)
	if c.logger != nil {
		c.logger.Info("realtime_connected", "url", c.cfg.URL)
	}
	return nil
}

// socketURL rewrites an http(s) base into the ws(s) endpoint.
func socketURL(base string) string {
	parsed, err := url.Parse(base)
	if err != nil {
		return base
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	}
	if !strings.HasSuffix(parsed.Path, "/ws") {
		parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws"
	}
	return parsed.String()
}

// Close tears the channel down and forgets every joined room.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.joined = make(map[string]struct{})
	for id, ch := range c.acks {
		close(ch)
		delete(c.acks, id)
	}
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// JoinChat joins the room for chatID, reporting success. Already-joined
// rooms succeed immediately. If the connection is still establishing the
// call waits up to the join timeout before giving up.
func (c *Client) JoinChat(ctx context.Context, chatID string) bool {
	c.mu.Lock()
	if _, ok := c.joined[chatID]; ok {
		c.mu.Unlock()
		return true
	}
	if c.conn == nil && !c.closed {
		if err := c.dialLocked(); err != nil {
			c.mu.Unlock()
			if c.logger != nil {
				c.logger.Warn("realtime_connect_failed", "error", err)
			}
			return false
		}
	}
	connected := c.connected
	c.mu.Unlock()

	timer := time.NewTimer(c.cfg.JoinTimeout)
	defer timer.Stop()
	select {
	case <-connected:
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}

	status, err := c.emitWithAck(ctx, eventJoinChat, map[string]string{"chatId": chatID})
	if err != nil || status != statusJoined {
		return false
	}
	c.mu.Lock()
	c.joined[chatID] = struct{}{}
	c.mu.Unlock()
	return true
}

// LeaveChat leaves the room and forgets it. The synchronization layer
// never calls this while a session is alive; rooms are kept joined so
// notifications keep flowing after the user backs out of a chat screen.
func (c *Client) LeaveChat(chatID string) {
	c.mu.Lock()
	delete(c.joined, chatID)
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return
	}
	_ = c.emit(eventLeaveChat, "", map[string]string{"chatId": chatID})
}

// SendMessage posts text into the chat room, auto-joining first if
// needed, and reports whether the server acknowledged the send.
func (c *Client) SendMessage(ctx context.Context, chatID, userID, text string) bool {
	c.mu.Lock()
	_, joined := c.joined[chatID]
	c.mu.Unlock()
	if !joined {
		if ok := c.JoinChat(ctx, chatID); !ok {
			return false
		}
	}
	status, err := c.emitWithAck(ctx, eventSendMessage, map[string]string{
		"chatId": chatID,
		"userId": userID,
		"text":   text,
	})
	return err == nil && status == statusSent
}

func (c *Client) emit(event, ackID string, data any) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return err
	}
	env := envelope{Event: event, AckID: ackID, Data: encoded}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("realtime channel not connected")
	}
	return conn.WriteJSON(env)
}

func (c *Client) emitWithAck(ctx context.Context, event string, data any) (string, error) {
	ackID := uuid.NewString()
	ch := make(chan ackPayload, 1)
	c.mu.Lock()
	c.acks[ackID] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.acks, ackID)
		c.mu.Unlock()
	}()

	if err := c.emit(event, ackID, data); err != nil {
		return "", err
	}

	timer := time.NewTimer(c.cfg.JoinTimeout)
	defer timer.Stop()
	select {
	case ack, ok := <-ch:
		if !ok {
			return "", fmt.Errorf("channel closed waiting for ack")
		}
		return ack.Status, nil
	case <-timer.C:
		return "", fmt.Errorf("timed out waiting for %s ack", event)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Client) readPump(conn *websocket.Conn) {
	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			c.handleDisconnect(conn, err)
			return
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env envelope) {
	if env.AckID != "" {
		c.mu.Lock()
		ch, ok := c.acks[env.AckID]
		c.mu.Unlock()
		if ok {
			var ack ackPayload
			_ = json.Unmarshal(env.Data, &ack)
			select {
			case ch <- ack:
			default:
			}
		}
		return
	}

	switch env.Event {
	case EventNewMessage:
		var data NewMessageEvent
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		for _, fn := range c.snapshotNewMessage() {
			fn(data)
		}
	case EventMessageDeleted:
		var data MessageDeletedEvent
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		for _, fn := range c.snapshotMessageDeleted() {
			fn(data)
		}
	case EventAllMessagesDeleted:
		var data AllMessagesDeletedEvent
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		for _, fn := range c.snapshotAllMessagesDeleted() {
			fn(data)
		}
	}
}

// handleDisconnect drops the dead connection and tries a bounded
// reconnect, re-joining every room the session held.
func (c *Client) handleDisconnect(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.connected = make(chan struct{})
	closed := c.closed
	c.mu.Unlock()
	conn.Close()
	if closed {
		return
	}
	if c.logger != nil {
		c.logger.Warn("realtime_disconnected", "error", cause)
	}

	for attempt := 0; attempt < c.cfg.ReconnectAttempts; attempt++ {
		time.Sleep(c.cfg.ReconnectDelay)
		c.mu.Lock()
		if c.closed || c.conn != nil {
			c.mu.Unlock()
			return
		}
		err := c.dialLocked()
		var rooms []string
		if err == nil {
			for id := range c.joined {
				rooms = append(rooms, id)
			}
			c.joined = make(map[string]struct{})
		}
		c.mu.Unlock()
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.JoinTimeout)
		for _, id := range rooms {
			c.JoinChat(ctx, id)
		}
		cancel()
		return
	}
	if c.logger != nil {
		c.logger.Error("realtime_reconnect_gave_up", "attempts", c.cfg.ReconnectAttempts)
	}
}

// --- Subscriptions ---

// OnNewMessage registers fn for pushed messages and returns a handle for
// OffNewMessage.
func (c *Client) OnNewMessage(fn func(NewMessageEvent)) int {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.nextHandlerID++
	c.newMessage[c.nextHandlerID] = fn
	return c.nextHandlerID
}

func (c *Client) OffNewMessage(id int) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	delete(c.newMessage, id)
}

func (c *Client) OnMessageDeleted(fn func(MessageDeletedEvent)) int {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.nextHandlerID++
	c.messageDeleted[c.nextHandlerID] = fn
	return c.nextHandlerID
}

func (c *Client) OffMessageDeleted(id int) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	delete(c.messageDeleted, id)
}

func (c *Client) OnAllMessagesDeleted(fn func(AllMessagesDeletedEvent)) int {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	c.nextHandlerID++
	c.allMessagesDeleted[c.nextHandlerID] = fn
	return c.nextHandlerID
}

func (c *Client) OffAllMessagesDeleted(id int) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	delete(c.allMessagesDeleted, id)
}

func (c *Client) snapshotNewMessage() []func(NewMessageEvent) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	out := make([]func(NewMessageEvent), 0, len(c.newMessage))
	for _, fn := range c.newMessage {
		out = append(out, fn)
	}
	return out
}

func (c *Client) snapshotMessageDeleted() []func(MessageDeletedEvent) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	out := make([]func(MessageDeletedEvent), 0, len(c.messageDeleted))
	for _, fn := range c.messageDeleted {
		out = append(out, fn)
	}
	return out
}

func (c *Client) snapshotAllMessagesDeleted() []func(AllMessagesDeletedEvent) {
	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()
	out := make([]func(AllMessagesDeletedEvent), 0, len(c.allMessagesDeleted))
	for _, fn := range c.allMessagesDeleted {
		out = append(out, fn)
	}
	return out
}

// Joined reports whether the session currently holds the room.
func (c *Client) Joined(chatID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.joined[chatID]
	return ok
}

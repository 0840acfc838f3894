package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"meetly/client/internal/auth"
	"meetly/client/internal/realtime"
)

// fallbackTitle is shown when the chat-to-event lookup fails at every
// level.
const fallbackTitle = "New message"

// Channel is the slice of the real-time client the bridge depends on.
type Channel interface {
	Connect() error
	JoinChat(ctx context.Context, chatID string) bool
	SendMessage(ctx context.Context, chatID, userID, text string) bool
	OnNewMessage(fn func(realtime.NewMessageEvent)) int
	OffNewMessage(id int)
}

// Bridge feeds real-time channel events into the store. On session start
// it joins the rooms of every chat the user participates in and installs
// one global new-message handler that lives for the whole session — it is
// re-registered only when the user identity changes, never when cache
// contents change, and reads the live cache through the store instead of
// a captured snapshot.
type Bridge struct {
	store    *Store
	gateway  Gateway
	channel  Channel
	openChat *OpenChat
	logger   *slog.Logger
	timeout  time.Duration

	mu        sync.Mutex
	handlerID int
	userID    string
}

func NewBridge(store *Store, gateway Gateway, channel Channel, openChat *OpenChat, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	if openChat == nil {
		openChat = store.OpenChatTracker()
	}
	return &Bridge{
		store:    store,
		gateway:  gateway,
		channel:  channel,
		openChat: openChat,
		logger:   logger.With("component", "bridge"),
		timeout:  10 * time.Second,
	}
}

// Start connects the channel, joins every chat room of the session's
// participations plus any already-cached chats, and registers the global
// new-message handler. Starting twice for the same user is a no-op;
// starting for a different user replaces the handler.
func (b *Bridge) Start(ctx context.Context) error {
	user := b.store.CurrentUser()
	if user == nil {
		return auth.ErrNoSession
	}

	b.mu.Lock()
	if b.userID == user.ID && b.handlerID != 0 {
		b.mu.Unlock()
		return nil
	}
	if b.handlerID != 0 {
		b.channel.OffNewMessage(b.handlerID)
		b.handlerID = 0
	}
	b.userID = user.ID
	b.mu.Unlock()

	if err := b.channel.Connect(); err != nil {
		b.logger.Warn("channel_connect_failed", "error", err)
	}

	participations, err := b.gateway.MyParticipations(ctx, user.ID)
	if err != nil {
		b.logger.Warn("participations_load_failed", "error", err)
	}
	for _, event := range participations {
		chat, err := b.gateway.ChatByEvent(ctx, event.ID)
		if err != nil || chat.ID == "" {
			b.logger.Debug("participation_chat_unavailable", "event_id", event.ID, "error", err)
			continue
		}
		b.store.AddChat(chat)
		if !b.channel.JoinChat(ctx, chat.ID) {
			b.logger.Debug("chat_join_failed", "chat_id", chat.ID)
		}
	}
	for _, chat := range b.store.Chats() {
		b.channel.JoinChat(ctx, chat.ID)
	}

	id := b.channel.OnNewMessage(func(event realtime.NewMessageEvent) {
		go b.handleNewMessage(event)
	})
	b.mu.Lock()
	b.handlerID = id
	b.mu.Unlock()
	b.logger.Info("bridge_started", "user_id", user.ID)
	return nil
}

// Stop removes the global handler. Rooms stay joined; the channel owner
// decides when to drop the connection.
func (b *Bridge) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handlerID != 0 {
		b.channel.OffNewMessage(b.handlerID)
		b.handlerID = 0
	}
	b.userID = ""
}

func (b *Bridge) handleNewMessage(event realtime.NewMessageEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	// Re-join defensively in case this room was never joined; idempotent.
	b.channel.JoinChat(ctx, event.ChatID)

	user := b.store.CurrentUser()
	if user == nil {
		return
	}
	if event.Message.UserID == "" || event.Message.UserID == user.ID {
		return
	}
	if b.openChat.Current() == event.ChatID {
		return
	}

	title, eventID := b.resolveTitle(ctx, event.ChatID)
	b.store.ShowNotification(title, event.Message.Text, event.ChatID, eventID)
}

// resolveTitle maps a chat id to its event title with ordered fallbacks:
// cached chat, fetched chat, cached event, fetched event, generic title.
func (b *Bridge) resolveTitle(ctx context.Context, chatID string) (title, eventID string) {
	if chat, ok := b.store.ChatByID(chatID); ok {
		eventID = chat.EventID
	} else if chat, err := b.gateway.Chat(ctx, chatID); err == nil {
		eventID = chat.EventID
	}
	if eventID == "" {
		return fallbackTitle, ""
	}
	if event, ok := b.store.EventByID(eventID); ok {
		return event.Title, eventID
	}
	if event, err := b.gateway.Event(ctx, eventID); err == nil {
		return event.Title, eventID
	}
	return fallbackTitle, ""
}

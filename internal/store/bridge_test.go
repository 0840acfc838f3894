package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"meetly/client/internal/models"
	"meetly/client/internal/realtime"
)

func newTestBridge(gateway *fakeGateway, channel *fakeChannel) (*Bridge, *Store) {
	s := newTestStore(gateway, nil)
	b := NewBridge(s, gateway, channel, s.OpenChatTracker(), nil)
	return b, s
}

func deliver(t *testing.T, ch *fakeChannel, event realtime.NewMessageEvent) {
	t.Helper()
	ch.mu.Lock()
	handlers := make([]func(realtime.NewMessageEvent), 0, len(ch.handlers))
	for _, fn := range ch.handlers {
		handlers = append(handlers, fn)
	}
	ch.mu.Unlock()
	if len(handlers) == 0 {
		t.Fatalf("no handler registered")
	}
	for _, fn := range handlers {
		fn(event)
	}
}

func TestBridgeStartJoinsParticipationChats(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{
		participations: func(userID string) ([]models.Event, error) {
			return []models.Event{{ID: "e1"}, {ID: "e2"}}, nil
		},
		chatByEvent: func(eventID string) (models.Chat, error) {
			if eventID == "e2" {
				return models.Chat{}, errors.New("no chat yet")
			}
			return models.Chat{ID: "c1", EventID: eventID}, nil
		},
	}
	channel := newFakeChannel()
	b, s := newTestBridge(gateway, channel)
	seedUser(s, models.User{ID: "u1", Name: "Anna", City: "Berlin"})

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("bridge start: %v", err)
	}
	if !channel.joined("c1") {
		t.Fatalf("participation chat room must be joined")
	}
	if _, ok := s.ChatByID("c1"); !ok {
		t.Fatalf("participation chat must be cached")
	}
	if channel.handlerCount() != 1 {
		t.Fatalf("exactly one global handler must be registered")
	}
}

func TestBridgeStartRequiresSession(t *testing.T) {
	t.Parallel()

	b, _ := newTestBridge(&fakeGateway{}, newFakeChannel())
	if err := b.Start(context.Background()); err == nil {
		t.Fatalf("start without a session must fail")
	}
}

func TestBridgeStartIsIdempotentPerUser(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{
		participations: func(string) ([]models.Event, error) { return nil, nil },
	}
	channel := newFakeChannel()
	b, s := newTestBridge(gateway, channel)
	seedUser(s, models.User{ID: "u1", Name: "Anna", City: "Berlin"})

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if channel.handlerCount() != 1 {
		t.Fatalf("same-user restart must not stack handlers, got %d", channel.handlerCount())
	}

	// Identity change replaces the handler instead of stacking another.
	seedUser(s, models.User{ID: "u2", Name: "Boris", City: "Berlin"})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("restart for new user: %v", err)
	}
	if channel.handlerCount() != 1 {
		t.Fatalf("identity change must replace the handler, got %d", channel.handlerCount())
	}
}

func TestBridgeNotifiesWithEventTitleFromCache(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{
		participations: func(string) ([]models.Event, error) { return nil, nil },
	}
	channel := newFakeChannel()
	b, s := newTestBridge(gateway, channel)
	seedUser(s, models.User{ID: "u1", Name: "Anna", City: "Berlin"})
	s.mu.Lock()
	s.chats = []models.Chat{{ID: "c1", EventID: "e1"}}
	s.events = []models.Event{{ID: "e1", Title: "Board games"}}
	s.mu.Unlock()

	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("bridge start: %v", err)
	}
	deliver(t, channel, realtime.NewMessageEvent{
		ChatID:  "c1",
		Message: models.Message{ID: "m1", UserID: "u2", Text: "see you there"},
	})

	waitFor(t, time.Second, func() bool { return s.Notification() != nil })
	n := s.Notification()
	if n.Title != "Board games" || n.Message != "see you there" || n.ChatID != "c1" || n.EventID != "e1" {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestBridgeTitleFallbacks(t *testing.T) {
	t.Parallel()

	t.Run("fetched chat then fetched event", func(t *testing.T) {
		t.Parallel()
		gateway := &fakeGateway{
			participations: func(string) ([]models.Event, error) { return nil, nil },
			chat: func(chatID string) (models.Chat, error) {
				return models.Chat{ID: chatID, EventID: "e1"}, nil
			},
			event: func(eventID string) (models.Event, error) {
				return models.Event{ID: eventID, Title: "Hiking"}, nil
			},
		}
		channel := newFakeChannel()
		b, s := newTestBridge(gateway, channel)
		seedUser(s, models.User{ID: "u1", Name: "Anna", City: "Berlin"})
		if err := b.Start(context.Background()); err != nil {
			t.Fatalf("bridge start: %v", err)
		}

		deliver(t, channel, realtime.NewMessageEvent{
			ChatID:  "c9",
			Message: models.Message{ID: "m1", UserID: "u2", Text: "hi"},
		})
		waitFor(t, time.Second, func() bool { return s.Notification() != nil })
		if got := s.Notification().Title; got != "Hiking" {
			t.Fatalf("title = %q, want Hiking", got)
		}
	})

	t.Run("everything unavailable uses generic title", func(t *testing.T) {
		t.Parallel()
		gateway := &fakeGateway{
			participations: func(string) ([]models.Event, error) { return nil, nil },
			chat: func(string) (models.Chat, error) {
				return models.Chat{}, errors.New("offline")
			},
		}
		channel := newFakeChannel()
		b, s := newTestBridge(gateway, channel)
		seedUser(s, models.User{ID: "u1", Name: "Anna", City: "Berlin"})
		if err := b.Start(context.Background()); err != nil {
			t.Fatalf("bridge start: %v", err)
		}

		deliver(t, channel, realtime.NewMessageEvent{
			ChatID:  "c9",
			Message: models.Message{ID: "m1", UserID: "u2", Text: "hi"},
		})
		waitFor(t, time.Second, func() bool { return s.Notification() != nil })
		n := s.Notification()
		if n.Title != "New message" || n.EventID != "" {
			t.Fatalf("expected generic title with empty event id, got %+v", n)
		}
	})
}

func TestBridgeSuppressesOwnAndOpenChatMessages(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{
		participations: func(string) ([]models.Event, error) { return nil, nil },
	}
	channel := newFakeChannel()
	b, s := newTestBridge(gateway, channel)
	seedUser(s, models.User{ID: "u1", Name: "Anna", City: "Berlin"})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("bridge start: %v", err)
	}

	// Own message.
	deliver(t, channel, realtime.NewMessageEvent{
		ChatID:  "c1",
		Message: models.Message{ID: "m1", UserID: "u1", Text: "mine"},
	})
	// Missing sender.
	deliver(t, channel, realtime.NewMessageEvent{
		ChatID:  "c1",
		Message: models.Message{ID: "m2", Text: "anonymous"},
	})
	// Chat currently on screen.
	s.OpenChatTracker().Set("c1")
	deliver(t, channel, realtime.NewMessageEvent{
		ChatID:  "c1",
		Message: models.Message{ID: "m3", UserID: "u2", Text: "visible"},
	})

	// The handlers run asynchronously; give them room to misbehave.
	time.Sleep(50 * time.Millisecond)
	if n := s.Notification(); n != nil {
		t.Fatalf("no notification expected, got %+v", n)
	}

	// Once the chat is closed the same message notifies again.
	s.OpenChatTracker().Clear()
	deliver(t, channel, realtime.NewMessageEvent{
		ChatID:  "c1",
		Message: models.Message{ID: "m4", UserID: "u2", Text: "now you see me"},
	})
	waitFor(t, time.Second, func() bool { return s.Notification() != nil })
}

func TestBridgeRejoinsRoomDefensivelyOnIncomingMessage(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{
		participations: func(string) ([]models.Event, error) { return nil, nil },
	}
	channel := newFakeChannel()
	b, s := newTestBridge(gateway, channel)
	seedUser(s, models.User{ID: "u1", Name: "Anna", City: "Berlin"})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("bridge start: %v", err)
	}

	deliver(t, channel, realtime.NewMessageEvent{
		ChatID:  "c7",
		Message: models.Message{ID: "m1", UserID: "u1", Text: "mine"},
	})
	waitFor(t, time.Second, func() bool { return channel.joined("c7") })
}

func TestBridgeStopRemovesHandler(t *testing.T) {
	t.Parallel()

	gateway := &fakeGateway{
		participations: func(string) ([]models.Event, error) { return nil, nil },
	}
	channel := newFakeChannel()
	b, s := newTestBridge(gateway, channel)
	seedUser(s, models.User{ID: "u1", Name: "Anna", City: "Berlin"})
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("bridge start: %v", err)
	}
	b.Stop()
	if channel.handlerCount() != 0 {
		t.Fatalf("stop must remove the global handler")
	}
}

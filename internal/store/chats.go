package store

import (
	"context"
	"time"

	"meetly/client/internal/models"
)

// Chats returns a snapshot of the chat cache.
func (s *Store) Chats() []models.Chat {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Chat, len(s.chats))
	copy(out, s.chats)
	return out
}

// ChatByID returns the cached chat, if any.
func (s *Store) ChatByID(id string) (models.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chats {
		if c.ID == id {
			return c, true
		}
	}
	return models.Chat{}, false
}

// AddChat inserts the chat if its id is not already cached.
func (s *Store) AddChat(chat models.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chats {
		if c.ID == chat.ID {
			return
		}
	}
	chats := make([]models.Chat, len(s.chats), len(s.chats)+1)
	copy(chats, s.chats)
	s.chats = append(chats, chat)
}

// upsertChat replaces the cached chat by id, appending when absent.
func (s *Store) upsertChat(chat models.Chat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chats := make([]models.Chat, 0, len(s.chats)+1)
	for _, c := range s.chats {
		if c.ID != chat.ID {
			chats = append(chats, c)
		}
	}
	s.chats = append(chats, chat)
}

// RefreshChat re-fetches the canonical chat and replaces the cached copy.
// A chat that was never cached is left alone.
func (s *Store) RefreshChat(ctx context.Context, chatID string) error {
	chat, err := s.gateway.Chat(ctx, chatID)
	if err != nil {
		s.logger.Warn("chat_refresh_failed", "chat_id", chatID, "error", err)
		return err
	}
	s.mu.Lock()
	chats := make([]models.Chat, len(s.chats))
	copy(chats, s.chats)
	for i := range chats {
		if chats[i].ID == chatID {
			chats[i] = chat
		}
	}
	s.chats = chats
	s.mu.Unlock()
	return nil
}

// AddMessage appends the message to the cached chat optimistically, sends
// it to the backend, then re-fetches the canonical chat to reconcile: the
// server's message list supersedes the optimistic entry rather than
// doubling it, and picks up interleaved messages from other participants.
// A failed send also reconciles instead of surfacing an error; if the
// reconciling fetch itself fails the optimistic entry is dropped, so an
// unsent message never sticks around.
func (s *Store) AddMessage(ctx context.Context, chatID string, message models.Message) {
	if message.ID == "" {
		message.ID = models.NewLocalID()
	}
	if message.Timestamp.IsZero() {
		message.Timestamp = time.Now()
	}

	s.mu.Lock()
	for i := range s.chats {
		if s.chats[i].ID != chatID {
			continue
		}
		chat := s.chats[i]
		messages := make([]models.Message, len(chat.Messages), len(chat.Messages)+1)
		copy(messages, chat.Messages)
		chat.Messages = append(messages, message)
		chats := make([]models.Chat, len(s.chats))
		copy(chats, s.chats)
		chats[i] = chat
		s.chats = chats
		break
	}
	s.mu.Unlock()

	if _, err := s.gateway.SendMessage(ctx, chatID, message.UserID, message.Text); err != nil {
		s.logger.Warn("message_send_failed", "chat_id", chatID, "error", err)
	}
	if err := s.RefreshChat(ctx, chatID); err != nil {
		s.dropLocalMessages(chatID)
	}
}

// dropLocalMessages strips unconfirmed optimistic entries from the chat.
func (s *Store) dropLocalMessages(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.chats {
		if s.chats[i].ID != chatID {
			continue
		}
		chat := s.chats[i]
		kept := make([]models.Message, 0, len(chat.Messages))
		for _, m := range chat.Messages {
			if !m.IsLocal() {
				kept = append(kept, m)
			}
		}
		chat.Messages = kept
		chats := make([]models.Chat, len(s.chats))
		copy(chats, s.chats)
		chats[i] = chat
		s.chats = chats
		return
	}
}

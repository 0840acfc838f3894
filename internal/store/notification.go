package store

import "sync"

// Notification is the single-slot transient descriptor the presentation
// layer renders as an in-app banner.
type Notification struct {
	Visible bool
	Title   string
	Message string
	ChatID  string
	EventID string
}

// ShowNotification fills the notification slot, replacing any pending one.
func (s *Store) ShowNotification(title, message, chatID, eventID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notification = &Notification{
		Visible: true,
		Title:   title,
		Message: message,
		ChatID:  chatID,
		EventID: eventID,
	}
}

// HideNotification marks the pending notification as dismissed. The data
// stays for the dismissal animation; the slot empties on the next show.
func (s *Store) HideNotification() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notification == nil {
		return
	}
	hidden := *s.notification
	hidden.Visible = false
	s.notification = &hidden
}

// Notification returns a copy of the pending notification, or nil.
func (s *Store) Notification() *Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.notification == nil {
		return nil
	}
	out := *s.notification
	return &out
}

// OpenChat tracks the single chat screen the user is actively viewing.
// The chat screen sets it on focus and clears it on blur; the real-time
// bridge consults it to suppress notifications for the visible chat. It
// is passed explicitly to whoever needs it rather than living as a
// package global.
type OpenChat struct {
	mu sync.Mutex
	id string
}

func (o *OpenChat) Set(chatID string) {
	o.mu.Lock()
	o.id = chatID
	o.mu.Unlock()
}

func (o *OpenChat) Clear() {
	o.mu.Lock()
	o.id = ""
	o.mu.Unlock()
}

func (o *OpenChat) Current() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.id
}

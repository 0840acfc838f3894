package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"meetly/client/internal/api"
	"meetly/client/internal/auth"
	"meetly/client/internal/models"
)

// Events returns a snapshot of the event cache in server order.
func (s *Store) Events() []models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Event, len(s.events))
	copy(out, s.events)
	return out
}

// EventByID returns the cached event, if any.
func (s *Store) EventByID(id string) (models.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.ID == id {
			return e, true
		}
	}
	return models.Event{}, false
}

// Requests returns a snapshot of the join-request cache.
func (s *Store) Requests() []models.EventRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.EventRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

// RefreshEvents fetches the full event list (optionally filtered by city)
// and replaces the cache wholesale, merging embedded author snapshots into
// the user cache. With a current user present it also reloads join
// requests for events they authored. silent suppresses the loading flag
// so background refreshes do not flicker the UI. Failures are logged and
// swallowed; the cache keeps its last-known-good value.
//
// The wholesale replacement is deliberately not merge-aware: an optimistic
// mutation landing while a refresh is in flight can be overwritten until
// the next round trip. See DESIGN.md.
func (s *Store) RefreshEvents(ctx context.Context, city string, silent bool) {
	if !silent {
		s.mu.Lock()
		s.loading = true
		s.mu.Unlock()
		defer func() {
			s.mu.Lock()
			s.loading = false
			s.mu.Unlock()
		}()
	}

	s.mu.Lock()
	s.cityFilter = city
	cu := s.currentUser
	s.mu.Unlock()

	events, err := s.gateway.Events(ctx, city)
	if err != nil {
		s.logger.Warn("events_refresh_failed", "city", city, "error", err)
		return
	}

	s.mu.Lock()
	for i := range events {
		if author := events[i].Author; author != nil {
			s.addUserLocked(*author)
		}
	}
	s.events = events
	s.mu.Unlock()

	if cu != nil {
		var mine []string
		for _, e := range events {
			if e.AuthorID == cu.ID {
				mine = append(mine, e.ID)
			}
		}
		if len(mine) > 0 {
			s.LoadMyEventsRequests(ctx, mine)
		}
	}
}

// EventDraft is the user-entered form for a new event.
type EventDraft struct {
	Title               string             `validate:"required,max=200"`
	Description         string             `validate:"max=2000"`
	City                string             `validate:"required"`
	Location            string             `validate:"required"`
	Date                string             `validate:"required"`
	Time                string             `validate:"required"`
	Format              models.EventFormat `validate:"required"`
	PaymentType         models.PaymentType `validate:"required"`
	ParticipantLimit    int                `validate:"required,min=1"`
	CurrentParticipants int                `validate:"min=0"`
}

// AddEvent creates the event server-side and appends the canonical
// server-returned record to the cache. Creation is not optimistic: the
// client cannot synthesize a server id the UI is about to navigate to.
// A participant limit of 1 is normalized to 2 before sending.
func (s *Store) AddEvent(ctx context.Context, draft EventDraft) (models.Event, error) {
	cu := s.CurrentUser()
	if cu == nil {
		return models.Event{}, auth.ErrNoSession
	}
	if err := s.validate.Struct(draft); err != nil {
		return models.Event{}, fmt.Errorf("invalid event: %w", err)
	}
	if !draft.Format.Valid() {
		return models.Event{}, fmt.Errorf("invalid event format %q", draft.Format)
	}
	if !draft.PaymentType.Valid() {
		return models.Event{}, fmt.Errorf("invalid payment type %q", draft.PaymentType)
	}

	limit := draft.ParticipantLimit
	if limit < 2 {
		limit = 2
	}

	created, err := s.gateway.CreateEvent(ctx, models.Event{
		Title:               draft.Title,
		Description:         draft.Description,
		City:                draft.City,
		Location:            draft.Location,
		Date:                draft.Date,
		Time:                draft.Time,
		Format:              draft.Format,
		PaymentType:         draft.PaymentType,
		ParticipantLimit:    limit,
		CurrentParticipants: draft.CurrentParticipants,
		AuthorID:            cu.ID,
		AuthorGender:        cu.Gender,
		Status:              models.EventActive,
	})
	if err != nil {
		return models.Event{}, err
	}

	s.mu.Lock()
	events := make([]models.Event, len(s.events), len(s.events)+1)
	copy(events, s.events)
	s.events = append(events, created)
	s.mu.Unlock()
	return created, nil
}

// UpdateEvent applies a local optimistic patch to the cached event. The
// backend has no event-update endpoint; the next refresh reasserts server
// truth.
func (s *Store) UpdateEvent(eventID string, patch func(*models.Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == eventID {
			updated := s.events[i]
			patch(&updated)
			events := make([]models.Event, len(s.events))
			copy(events, s.events)
			events[i] = updated
			s.events = events
			return
		}
	}
}

// DeleteEvent removes the event server-side, then from the cache. The
// server's error text is pattern-matched into a user-facing message.
func (s *Store) DeleteEvent(ctx context.Context, eventID string) error {
	cu := s.CurrentUser()
	if cu == nil {
		return auth.ErrNoSession
	}
	if err := s.gateway.DeleteEvent(ctx, eventID, cu.ID); err != nil {
		return errors.New(deleteEventMessage(err))
	}
	s.mu.Lock()
	kept := make([]models.Event, 0, len(s.events))
	for _, e := range s.events {
		if e.ID != eventID {
			kept = append(kept, e)
		}
	}
	s.events = kept
	s.mu.Unlock()
	return nil
}

func deleteEventMessage(err error) string {
	msg := err.Error()
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		msg = apiErr.Message
	}
	switch {
	case strings.Contains(msg, "not the author"):
		return "You are not the author of this event"
	case strings.Contains(msg, "not found"):
		return "Event not found"
	case strings.Contains(msg, "Internal server error"):
		return "Server error. Try again later"
	case msg != "":
		return msg
	}
	return "Failed to delete event"
}

// AddRequest creates a join request server-side, appends the confirmed
// record, and triggers a full event refresh because capacity bookkeeping
// lives on the backend.
func (s *Store) AddRequest(ctx context.Context, eventID, userID string) (models.EventRequest, error) {
	created, err := s.gateway.CreateEventRequest(ctx, eventID, userID)
	if err != nil {
		return models.EventRequest{}, err
	}
	s.mu.Lock()
	requests := make([]models.EventRequest, len(s.requests), len(s.requests)+1)
	copy(requests, s.requests)
	s.requests = append(requests, created)
	s.mu.Unlock()
	s.RefreshEvents(ctx, "", false)
	return created, nil
}

// UpdateRequest approves or rejects a join request. Approval may return
// an updated event, which is merged into the cache; either way the
// request's local status is updated and a silent refresh runs. On
// approval the event's chat is fetched best-effort — it may not exist yet
// from the server's point of view at race-prone moments.
func (s *Store) UpdateRequest(ctx context.Context, requestID string, status models.RequestStatus) error {
	if status != models.RequestApproved && status != models.RequestRejected {
		return fmt.Errorf("request status must be approved or rejected, got %q", status)
	}

	var updatedEvent *models.Event
	if status == models.RequestApproved {
		event, err := s.gateway.ApproveRequest(ctx, requestID)
		if err != nil {
			return err
		}
		if event.ID != "" {
			updatedEvent = &event
		}
	} else {
		if err := s.gateway.RejectRequest(ctx, requestID); err != nil {
			return err
		}
	}

	var requestEventID string
	s.mu.Lock()
	requests := make([]models.EventRequest, len(s.requests))
	copy(requests, s.requests)
	for i := range requests {
		if requests[i].ID == requestID {
			requests[i].Status = status
			requestEventID = requests[i].EventID
		}
	}
	s.requests = requests
	if updatedEvent != nil {
		events := make([]models.Event, len(s.events))
		copy(events, s.events)
		for i := range events {
			if events[i].ID == updatedEvent.ID {
				events[i] = *updatedEvent
			}
		}
		s.events = events
	}
	city := s.cityFilter
	s.mu.Unlock()

	s.RefreshEvents(ctx, city, true)

	if status == models.RequestApproved && requestEventID != "" {
		chat, err := s.gateway.ChatByEvent(ctx, requestEventID)
		if err != nil || chat.ID == "" {
			s.logger.Debug("approved_chat_not_ready", "event_id", requestEventID, "error", err)
			return nil
		}
		s.upsertChat(chat)
	}
	return nil
}

// GetPendingRequestsCount counts pending requests for one event.
func (s *Store) GetPendingRequestsCount(eventID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, r := range s.requests {
		if r.EventID == eventID && r.Status == models.RequestPending {
			count++
		}
	}
	return count
}

// GetTotalPendingRequestsCount counts pending requests across all events
// the current user authored.
func (s *Store) GetTotalPendingRequestsCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentUser == nil {
		return 0
	}
	mine := make(map[string]struct{})
	for _, e := range s.events {
		if e.AuthorID == s.currentUser.ID {
			mine[e.ID] = struct{}{}
		}
	}
	count := 0
	for _, r := range s.requests {
		if _, ok := mine[r.EventID]; ok && r.Status == models.RequestPending {
			count++
		}
	}
	return count
}

// LoadMyEventsRequests fetches requests for each given event id,
// best-effort per id, then replaces only the cached requests belonging to
// those events. Requests for other events are untouched.
func (s *Store) LoadMyEventsRequests(ctx context.Context, eventIDs []string) {
	cu := s.CurrentUser()
	if cu == nil || len(eventIDs) == 0 {
		return
	}

	var fetched []models.EventRequest
	for _, id := range eventIDs {
		requests, err := s.gateway.EventRequests(ctx, id)
		if err != nil {
			s.logger.Debug("event_requests_load_failed", "event_id", id, "error", err)
			continue
		}
		fetched = append(fetched, requests...)
	}

	inScope := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		inScope[id] = struct{}{}
	}

	s.mu.Lock()
	kept := make([]models.EventRequest, 0, len(s.requests)+len(fetched))
	for _, r := range s.requests {
		if _, ok := inScope[r.EventID]; !ok {
			kept = append(kept, r)
		}
	}
	s.requests = append(kept, fetched...)
	s.mu.Unlock()
}

package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"

	"meetly/client/internal/api"
	"meetly/client/internal/auth"
	"meetly/client/internal/models"
)

// Gateway is the slice of the remote service the store depends on.
type Gateway interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	UpdateUser(ctx context.Context, id string, user models.User) (models.User, error)
	DeleteUser(ctx context.Context, id string) error
	CreateEvent(ctx context.Context, event models.Event) (models.Event, error)
	Events(ctx context.Context, city string) ([]models.Event, error)
	Event(ctx context.Context, id string) (models.Event, error)
	MyParticipations(ctx context.Context, userID string) ([]models.Event, error)
	DeleteEvent(ctx context.Context, eventID, authorID string) error
	CreateEventRequest(ctx context.Context, eventID, userID string) (models.EventRequest, error)
	EventRequests(ctx context.Context, eventID string) ([]models.EventRequest, error)
	ApproveRequest(ctx context.Context, requestID string) (models.Event, error)
	RejectRequest(ctx context.Context, requestID string) error
	Chat(ctx context.Context, id string) (models.Chat, error)
	ChatByEvent(ctx context.Context, eventID string) (models.Chat, error)
	SendMessage(ctx context.Context, chatID, userID, text string) (models.Message, error)
}

// UserStorage is the durable device storage for the session profile.
type UserStorage interface {
	SaveUser(ctx context.Context, user *models.User) error
	LoadUser(ctx context.Context) (*models.User, error)
	Clear(ctx context.Context) error
}

// Store is the client's single source of truth for events, chats, join
// requests, and known users. All mutation goes through its operations;
// reads return snapshots. Cached slices are replaced whole on update,
// never mutated in place, so a snapshot handed to a caller stays stable.
type Store struct {
	gateway  Gateway
	storage  UserStorage
	logger   *slog.Logger
	validate *validator.Validate
	openChat *OpenChat

	mu           sync.Mutex
	currentUser  *models.User
	events       []models.Event
	chats        []models.Chat
	requests     []models.EventRequest
	users        []models.User
	loading      bool
	cityFilter   string
	notification *Notification
}

type Options struct {
	Gateway  Gateway
	Storage  UserStorage
	Logger   *slog.Logger
	OpenChat *OpenChat
}

func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	openChat := opts.OpenChat
	if openChat == nil {
		openChat = &OpenChat{}
	}
	return &Store{
		gateway:  opts.Gateway,
		storage:  opts.Storage,
		logger:   logger.With("component", "store"),
		validate: validator.New(),
		openChat: openChat,
	}
}

// OpenChatTracker returns the shared open-chat slot the chat screen sets
// on focus and clears on blur.
func (s *Store) OpenChatTracker() *OpenChat {
	return s.openChat
}

// CurrentUser returns a copy of the session profile, or nil.
func (s *Store) CurrentUser() *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentUser == nil {
		return nil
	}
	u := *s.currentUser
	return &u
}

// Loading reports whether a non-silent refresh is in flight.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// CityFilter returns the active city filter.
func (s *Store) CityFilter() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cityFilter
}

// Users returns a snapshot of the known-user cache.
func (s *Store) Users() []models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.User, len(s.users))
	copy(out, s.users)
	return out
}

type userDraft struct {
	Name string `validate:"required"`
	City string `validate:"required"`
}

// Bootstrap rehydrates the session from device storage and immediately
// revalidates it against the backend. A fetch failure falls back to the
// stored snapshot rather than dropping the session.
func (s *Store) Bootstrap(ctx context.Context) error {
	stored, err := s.storage.LoadUser(ctx)
	if err != nil {
		s.logger.Warn("stored_user_load_failed", "error", err)
		return nil
	}
	if stored == nil {
		return nil
	}

	fresh, err := s.gateway.GetUser(ctx, stored.ID)
	if err != nil {
		s.logger.Warn("stored_user_revalidate_failed", "user_id", stored.ID, "error", err)
		s.commitCurrentUser(*stored)
		return nil
	}
	s.commitCurrentUser(fresh)
	if err := s.storage.SaveUser(ctx, &fresh); err != nil {
		s.logger.Warn("stored_user_save_failed", "error", err)
	}
	return nil
}

// SetCurrentUser saves the profile server-side before committing it
// locally: update-by-id first, create as the fallback. Only a successful
// round trip commits to cache and device storage; any failure clears the
// local session so it is never ahead of the server. A nil user logs out,
// clearing the session slot and durable record but leaving the entity
// caches alone.
func (s *Store) SetCurrentUser(ctx context.Context, user *models.User) error {
	if user == nil {
		s.mu.Lock()
		s.currentUser = nil
		s.mu.Unlock()
		if err := s.storage.Clear(ctx); err != nil {
			s.logger.Warn("storage_clear_failed", "error", err)
		}
		return nil
	}

	if err := s.validate.Struct(userDraft{Name: user.Name, City: user.City}); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}

	var saved models.User
	var err error
	if user.ID != "" && !models.IsLocalID(user.ID) {
		saved, err = s.gateway.UpdateUser(ctx, user.ID, *user)
		if err != nil {
			saved, err = s.gateway.CreateUser(ctx, *user)
		}
	} else {
		saved, err = s.gateway.CreateUser(ctx, *user)
	}
	if err != nil {
		s.mu.Lock()
		s.currentUser = nil
		s.mu.Unlock()
		if clearErr := s.storage.Clear(ctx); clearErr != nil {
			s.logger.Warn("storage_clear_failed", "error", clearErr)
		}
		return fmt.Errorf("save profile: %w", err)
	}

	s.commitCurrentUser(saved)
	if err := s.storage.SaveUser(ctx, &saved); err != nil {
		s.logger.Warn("stored_user_save_failed", "error", err)
	}
	return nil
}

func (s *Store) commitCurrentUser(user models.User) {
	s.mu.Lock()
	u := user
	s.currentUser = &u
	s.addUserLocked(user)
	s.mu.Unlock()
}

// RefreshCurrentUser re-fetches the session profile to pick up
// server-side changes such as premium status. It no-ops for an identity
// the server has never seen, and keeps the cached value on any fetch
// failure: a 404 or 500 here is transient, not a reason to log out.
func (s *Store) RefreshCurrentUser(ctx context.Context) {
	cu := s.CurrentUser()
	if cu == nil || models.IsLocalID(cu.ID) {
		return
	}
	fresh, err := s.gateway.GetUser(ctx, cu.ID)
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) && (apiErr.Status == 404 || apiErr.Status == 500) {
			s.logger.Debug("current_user_not_on_server", "status", apiErr.Status)
		} else {
			s.logger.Warn("current_user_refresh_failed", "error", err)
		}
		return
	}
	s.commitCurrentUser(fresh)
	if err := s.storage.SaveUser(ctx, &fresh); err != nil {
		s.logger.Warn("stored_user_save_failed", "error", err)
	}
}

// AddUser inserts the user into the cache unless the id is already
// present.
func (s *Store) AddUser(user models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addUserLocked(user)
}

// addUserLocked inserts by id, idempotently. Caller holds s.mu.
func (s *Store) addUserLocked(user models.User) {
	for _, u := range s.users {
		if u.ID == user.ID {
			return
		}
	}
	users := make([]models.User, len(s.users), len(s.users)+1)
	copy(users, s.users)
	s.users = append(users, user)
}

// GetUserByID is a pure cache lookup; it returns nil on a miss.
func (s *Store) GetUserByID(id string) *models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ID == id {
			out := u
			return &out
		}
	}
	return nil
}

// LoadUser returns the cached user or fetches and caches it on a miss.
func (s *Store) LoadUser(ctx context.Context, id string) (*models.User, error) {
	if u := s.GetUserByID(id); u != nil {
		return u, nil
	}
	fetched, err := s.gateway.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	s.AddUser(fetched)
	out := fetched
	return &out, nil
}

// DeleteAccount removes the account server-side and hard-resets every
// cache slot plus durable storage. Unlike logout, nothing survives.
func (s *Store) DeleteAccount(ctx context.Context) error {
	cu := s.CurrentUser()
	if cu == nil {
		return auth.ErrNoSession
	}
	if err := s.gateway.DeleteUser(ctx, cu.ID); err != nil {
		return err
	}
	s.mu.Lock()
	s.currentUser = nil
	s.events = nil
	s.chats = nil
	s.requests = nil
	s.users = nil
	s.notification = nil
	s.mu.Unlock()
	if err := s.storage.Clear(ctx); err != nil {
		s.logger.Warn("storage_clear_failed", "error", err)
	}
	return nil
}

// Logout clears the session without touching the entity caches.
func (s *Store) Logout(ctx context.Context) error {
	return s.SetCurrentUser(ctx, nil)
}

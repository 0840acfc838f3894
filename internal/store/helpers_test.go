package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"meetly/client/internal/models"
	"meetly/client/internal/realtime"
)

var errNotWired = errors.New("not wired in this test")

// fakeGateway implements Gateway with per-call hooks so each test wires
// only what it exercises.
type fakeGateway struct {
	createUser     func(models.User) (models.User, error)
	getUser        func(string) (models.User, error)
	updateUser     func(string, models.User) (models.User, error)
	deleteUser     func(string) error
	createEvent    func(models.Event) (models.Event, error)
	events         func(string) ([]models.Event, error)
	event          func(string) (models.Event, error)
	participations func(string) ([]models.Event, error)
	deleteEvent    func(string, string) error
	createRequest  func(string, string) (models.EventRequest, error)
	eventRequests  func(string) ([]models.EventRequest, error)
	approve        func(string) (models.Event, error)
	reject         func(string) error
	chat           func(string) (models.Chat, error)
	chatByEvent    func(string) (models.Chat, error)
	sendMessage    func(string, string, string) (models.Message, error)
}

func (f *fakeGateway) CreateUser(_ context.Context, u models.User) (models.User, error) {
	if f.createUser == nil {
		return models.User{}, errNotWired
	}
	return f.createUser(u)
}

func (f *fakeGateway) GetUser(_ context.Context, id string) (models.User, error) {
	if f.getUser == nil {
		return models.User{}, errNotWired
	}
	return f.getUser(id)
}

func (f *fakeGateway) UpdateUser(_ context.Context, id string, u models.User) (models.User, error) {
	if f.updateUser == nil {
		return models.User{}, errNotWired
	}
	return f.updateUser(id, u)
}

func (f *fakeGateway) DeleteUser(_ context.Context, id string) error {
	if f.deleteUser == nil {
		return errNotWired
	}
	return f.deleteUser(id)
}

func (f *fakeGateway) CreateEvent(_ context.Context, e models.Event) (models.Event, error) {
	if f.createEvent == nil {
		return models.Event{}, errNotWired
	}
	return f.createEvent(e)
}

func (f *fakeGateway) Events(_ context.Context, city string) ([]models.Event, error) {
	if f.events == nil {
		return nil, errNotWired
	}
	return f.events(city)
}

func (f *fakeGateway) Event(_ context.Context, id string) (models.Event, error) {
	if f.event == nil {
		return models.Event{}, errNotWired
	}
	return f.event(id)
}

func (f *fakeGateway) MyParticipations(_ context.Context, userID string) ([]models.Event, error) {
	if f.participations == nil {
		return nil, errNotWired
	}
	return f.participations(userID)
}

func (f *fakeGateway) DeleteEvent(_ context.Context, eventID, authorID string) error {
	if f.deleteEvent == nil {
		return errNotWired
	}
	return f.deleteEvent(eventID, authorID)
}

func (f *fakeGateway) CreateEventRequest(_ context.Context, eventID, userID string) (models.EventRequest, error) {
	if f.createRequest == nil {
		return models.EventRequest{}, errNotWired
	}
	return f.createRequest(eventID, userID)
}

func (f *fakeGateway) EventRequests(_ context.Context, eventID string) ([]models.EventRequest, error) {
	if f.eventRequests == nil {
		return nil, errNotWired
	}
	return f.eventRequests(eventID)
}

func (f *fakeGateway) ApproveRequest(_ context.Context, requestID string) (models.Event, error) {
	if f.approve == nil {
		return models.Event{}, errNotWired
	}
	return f.approve(requestID)
}

func (f *fakeGateway) RejectRequest(_ context.Context, requestID string) error {
	if f.reject == nil {
		return errNotWired
	}
	return f.reject(requestID)
}

func (f *fakeGateway) Chat(_ context.Context, id string) (models.Chat, error) {
	if f.chat == nil {
		return models.Chat{}, errNotWired
	}
	return f.chat(id)
}

func (f *fakeGateway) ChatByEvent(_ context.Context, eventID string) (models.Chat, error) {
	if f.chatByEvent == nil {
		return models.Chat{}, errNotWired
	}
	return f.chatByEvent(eventID)
}

func (f *fakeGateway) SendMessage(_ context.Context, chatID, userID, text string) (models.Message, error) {
	if f.sendMessage == nil {
		return models.Message{}, errNotWired
	}
	return f.sendMessage(chatID, userID, text)
}

// fakeStorage is an in-memory UserStorage.
type fakeStorage struct {
	mu       sync.Mutex
	user     *models.User
	saveErr  error
	loadErr  error
	clearErr error
}

func (f *fakeStorage) SaveUser(_ context.Context, user *models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	u := *user
	f.user = &u
	return nil
}

func (f *fakeStorage) LoadUser(_ context.Context) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.user == nil {
		return nil, nil
	}
	u := *f.user
	return &u, nil
}

func (f *fakeStorage) Clear(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.clearErr != nil {
		return f.clearErr
	}
	f.user = nil
	return nil
}

func (f *fakeStorage) stored() *models.User {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.user == nil {
		return nil
	}
	u := *f.user
	return &u
}

// fakeChannel implements Channel, recording joins and allowing tests to
// push events at registered handlers.
type fakeChannel struct {
	mu       sync.Mutex
	joins    []string
	handlers map[int]func(realtime.NewMessageEvent)
	next     int
	joinOK   bool
	sendOK   bool
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{
		handlers: make(map[int]func(realtime.NewMessageEvent)),
		joinOK:   true,
		sendOK:   true,
	}
}

func (f *fakeChannel) Connect() error { return nil }

func (f *fakeChannel) JoinChat(_ context.Context, chatID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins = append(f.joins, chatID)
	return f.joinOK
}

func (f *fakeChannel) SendMessage(_ context.Context, _, _, _ string) bool {
	return f.sendOK
}

func (f *fakeChannel) OnNewMessage(fn func(realtime.NewMessageEvent)) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	f.handlers[f.next] = fn
	return f.next
}

func (f *fakeChannel) OffNewMessage(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, id)
}

func (f *fakeChannel) joined(chatID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.joins {
		if id == chatID {
			return true
		}
	}
	return false
}

func (f *fakeChannel) handlerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func newTestStore(gateway Gateway, storage UserStorage) *Store {
	if storage == nil {
		storage = &fakeStorage{}
	}
	return New(Options{Gateway: gateway, Storage: storage})
}

// seedUser puts an authenticated session into the store without a server
// round trip.
func seedUser(s *Store, user models.User) {
	s.commitCurrentUser(user)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

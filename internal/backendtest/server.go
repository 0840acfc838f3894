// Package backendtest is an in-memory stand-in for the meetup backend:
// the REST API under /api plus the room-based websocket channel at /ws.
// It backs the package tests and the local devserver; it is not a
// production server.
package backendtest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"meetly/client/internal/models"
)

type Server struct {
	mu         sync.Mutex
	seq        int
	users      map[string]models.User
	events     map[string]models.Event
	eventOrder []string
	requests   map[string]models.EventRequest
	chats      map[string]models.Chat
	rooms      map[string]map[*wsConn]struct{}

	upgrader websocket.Upgrader
}

type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

type envelope struct {
	Event string          `json:"event"`
	AckID string          `json:"ackId,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func New() *Server {
	return &Server{
		users:    make(map[string]models.User),
		events:   make(map[string]models.Event),
		requests: make(map[string]models.EventRequest),
		chats:    make(map[string]models.Chat),
		rooms:    make(map[string]map[*wsConn]struct{}),
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}
}

// Handler returns the full route tree: REST under /api, websocket at /ws.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Get("/ping", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/users", s.createUser)
		r.Post("/users/login", s.login)
		r.Get("/users/{id}", s.getUser)
		r.Put("/users/{id}", s.updateUser)
		r.Delete("/users/{id}", s.deleteUser)
		r.Put("/users/{id}/fcm-token", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		})

		r.Post("/events", s.createEvent)
		r.Get("/events", s.listEvents)
		r.Get("/events/{id}", s.getEvent)
		r.Get("/events/my/{authorId}", s.myEvents)
		r.Get("/events/participant/{userId}", s.participations)
		r.Put("/events/{id}/delete", s.deleteEvent)
		r.Post("/events/{id}/requests", s.createRequest)
		r.Get("/events/{id}/requests", s.listRequests)
		r.Put("/events/requests/{id}/approve", s.approveRequest)
		r.Put("/events/requests/{id}/reject", s.rejectRequest)

		r.Get("/chats/{id}", s.getChat)
		r.Get("/chats/event/{eventId}", s.chatByEvent)
		r.Get("/chats/{id}/messages", s.listMessages)
		r.Post("/chats/{id}/messages", s.postMessage)
	})
	r.Get("/ws", s.serveWS)
	return r
}

func (s *Server) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s%d", prefix, s.seq)
}

// --- Seeding helpers for tests ---

func (s *Server) SeedUser(user models.User) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if user.ID == "" {
		user.ID = s.nextID("u")
	}
	s.users[user.ID] = user
	return user
}

func (s *Server) SeedEvent(event models.Event) models.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if event.ID == "" {
		event.ID = s.nextID("e")
	}
	if event.Status == "" {
		event.Status = models.EventActive
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	s.events[event.ID] = event
	s.eventOrder = append(s.eventOrder, event.ID)
	return event
}

// ChatForEvent exposes the chat materialized for an event, for test
// assertions.
func (s *Server) ChatForEvent(eventID string) (models.Chat, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, chat := range s.chats {
		if chat.EventID == eventID {
			return chat, true
		}
	}
	return models.Chat{}, false
}

// --- Users ---

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var user models.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if user.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	s.mu.Lock()
	user.ID = s.nextID("u")
	s.users[user.ID] = user
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, user)
}

func (s *Server) getUser(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	user, ok := s.users[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) updateUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var user models.User
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	_, ok := s.users[id]
	if ok {
		user.ID = id
		s.users[id] = user
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "user not found")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	delete(s.users, id)
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Username == body.Username {
			writeJSON(w, http.StatusOK, map[string]any{"user": user})
			return
		}
	}
	writeError(w, http.StatusUnauthorized, "invalid credentials")
}

// --- Events ---

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var event models.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if event.Title == "" || event.AuthorID == "" {
		writeError(w, http.StatusBadRequest, []string{"title is required", "authorId is required"})
		return
	}
	s.mu.Lock()
	event.ID = s.nextID("e")
	event.Status = models.EventActive
	event.CreatedAt = time.Now().UTC()
	s.events[event.ID] = event
	s.eventOrder = append(s.eventOrder, event.ID)
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, event)
}

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	s.mu.Lock()
	out := make([]models.Event, 0, len(s.eventOrder))
	for _, id := range s.eventOrder {
		event, ok := s.events[id]
		if !ok {
			continue
		}
		if city != "" && event.City != city {
			continue
		}
		if author, ok := s.users[event.AuthorID]; ok {
			a := author
			event.Author = &a
		}
		out = append(out, event)
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getEvent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	event, ok := s.events[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) myEvents(w http.ResponseWriter, r *http.Request) {
	authorID := chi.URLParam(r, "authorId")
	s.mu.Lock()
	out := make([]models.Event, 0)
	for _, id := range s.eventOrder {
		if event, ok := s.events[id]; ok && event.AuthorID == authorID {
			out = append(out, event)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) participations(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	s.mu.Lock()
	out := make([]models.Event, 0)
	for _, id := range s.eventOrder {
		event, ok := s.events[id]
		if !ok {
			continue
		}
		if event.AuthorID == userID {
			out = append(out, event)
			continue
		}
		for _, pid := range event.Participants {
			if pid == userID {
				out = append(out, event)
				break
			}
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) deleteEvent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		AuthorID string `json:"authorId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	s.mu.Lock()
	event, ok := s.events[id]
	if ok && event.AuthorID != body.AuthorID {
		s.mu.Unlock()
		writeError(w, http.StatusForbidden, "user is not the author of this event")
		return
	}
	if ok {
		event.Status = models.EventCancelled
		delete(s.events, id)
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// --- Join requests ---

func (s *Server) createRequest(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	s.mu.Lock()
	if _, ok := s.events[eventID]; !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "event not found")
		return
	}
	request := models.EventRequest{
		ID:        s.nextID("r"),
		EventID:   eventID,
		UserID:    body.UserID,
		Status:    models.RequestPending,
		CreatedAt: time.Now().UTC(),
	}
	s.requests[request.ID] = request
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, request)
}

func (s *Server) listRequests(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "id")
	s.mu.Lock()
	out := make([]models.EventRequest, 0)
	for _, request := range s.requests {
		if request.EventID == eventID {
			out = append(out, request)
		}
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

// approveRequest moves the requester into the event's participants and
// materializes the event chat, mirroring the backend's capacity
// bookkeeping.
func (s *Server) approveRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	request, ok := s.requests[id]
	if !ok {
		s.mu.Unlock()
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	request.Status = models.RequestApproved
	s.requests[id] = request

	event := s.events[request.EventID]
	joined := false
	for _, pid := range event.Participants {
		if pid == request.UserID {
			joined = true
		}
	}
	if !joined {
		event.Participants = append(event.Participants, request.UserID)
	}
	s.events[request.EventID] = event

	chat := s.chatForEventLocked(request.EventID)
	if chat == nil {
		created := models.Chat{
			ID:           s.nextID("c"),
			EventID:      request.EventID,
			Participants: []string{event.AuthorID},
			Messages:     []models.Message{},
			CreatedAt:    time.Now().UTC(),
		}
		s.chats[created.ID] = created
		chat = &created
	}
	member := false
	for _, pid := range chat.Participants {
		if pid == request.UserID {
			member = true
		}
	}
	if !member {
		chat.Participants = append(chat.Participants, request.UserID)
		s.chats[chat.ID] = *chat
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) rejectRequest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.mu.Lock()
	request, ok := s.requests[id]
	if ok {
		request.Status = models.RequestRejected
		s.requests[id] = request
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "request not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) chatForEventLocked(eventID string) *models.Chat {
	for id := range s.chats {
		if s.chats[id].EventID == eventID {
			chat := s.chats[id]
			return &chat
		}
	}
	return nil
}

// --- Chats ---

func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	chat, ok := s.chats[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) chatByEvent(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	chat := s.chatForEventLocked(chi.URLParam(r, "eventId"))
	s.mu.Unlock()
	if chat == nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	chat, ok := s.chats[chi.URLParam(r, "id")]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	writeJSON(w, http.StatusOK, chat.Messages)
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "id")
	var body struct {
		UserID string `json:"userId"`
		Text   string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" || body.Text == "" {
		writeError(w, http.StatusBadRequest, "userId and text are required")
		return
	}
	message, ok := s.appendMessage(chatID, body.UserID, body.Text)
	if !ok {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	s.broadcast(chatID, "new_message", map[string]any{"chatId": chatID, "message": message})
	writeJSON(w, http.StatusCreated, message)
}

func (s *Server) appendMessage(chatID, userID, text string) (models.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chat, ok := s.chats[chatID]
	if !ok {
		return models.Message{}, false
	}
	message := models.Message{
		ID:        s.nextID("m"),
		UserID:    userID,
		Text:      text,
		Timestamp: time.Now().UTC(),
	}
	chat.Messages = append(chat.Messages, message)
	s.chats[chatID] = chat
	return message, true
}

// --- Websocket channel ---

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	client := &wsConn{conn: conn}
	defer s.dropConn(client)

	for {
		var env envelope
		if err := conn.ReadJSON(&env); err != nil {
			return
		}
		switch env.Event {
		case "join_chat":
			var data struct {
				ChatID string `json:"chatId"`
			}
			_ = json.Unmarshal(env.Data, &data)
			s.mu.Lock()
			room := s.rooms[data.ChatID]
			if room == nil {
				room = make(map[*wsConn]struct{})
				s.rooms[data.ChatID] = room
			}
			room[client] = struct{}{}
			s.mu.Unlock()
			s.ack(client, env.AckID, "joined")
		case "leave_chat":
			var data struct {
				ChatID string `json:"chatId"`
			}
			_ = json.Unmarshal(env.Data, &data)
			s.mu.Lock()
			delete(s.rooms[data.ChatID], client)
			s.mu.Unlock()
		case "send_message":
			var data struct {
				ChatID string `json:"chatId"`
				UserID string `json:"userId"`
				Text   string `json:"text"`
			}
			_ = json.Unmarshal(env.Data, &data)
			message, ok := s.appendMessage(data.ChatID, data.UserID, data.Text)
			if !ok {
				s.ack(client, env.AckID, "error")
				continue
			}
			s.ack(client, env.AckID, "sent")
			s.broadcast(data.ChatID, "new_message", map[string]any{"chatId": data.ChatID, "message": message})
		}
	}
}

func (s *Server) dropConn(client *wsConn) {
	s.mu.Lock()
	for _, room := range s.rooms {
		delete(room, client)
	}
	s.mu.Unlock()
	client.conn.Close()
}

func (s *Server) ack(client *wsConn, ackID, status string) {
	if ackID == "" {
		return
	}
	data, _ := json.Marshal(map[string]string{"status": status})
	_ = client.writeJSON(envelope{Event: "ack", AckID: ackID, Data: data})
}

func (s *Server) broadcast(chatID, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	env := envelope{Event: event, Data: data}
	s.mu.Lock()
	members := make([]*wsConn, 0, len(s.rooms[chatID]))
	for client := range s.rooms[chatID] {
		members = append(members, client)
	}
	s.mu.Unlock()
	for _, client := range members {
		_ = client.writeJSON(env)
	}
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError mirrors the backend's error shape: a message field holding
// either a string or an array of strings.
func writeError(w http.ResponseWriter, status int, message any) {
	writeJSON(w, status, map[string]any{"message": message})
}

package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventFormat enumerates the kinds of meetups a user can propose.
type EventFormat string

const (
	FormatCoffee   EventFormat = "coffee"
	FormatWalk     EventFormat = "walk"
	FormatLunch    EventFormat = "lunch"
	FormatDinner   EventFormat = "dinner"
	FormatActivity EventFormat = "activity"
	FormatOther    EventFormat = "other"
)

// Valid reports whether f is one of the known formats.
func (f EventFormat) Valid() bool {
	switch f {
	case FormatCoffee, FormatWalk, FormatLunch, FormatDinner, FormatActivity, FormatOther:
		return true
	}
	return false
}

// PaymentType enumerates who pays at the meetup.
type PaymentType string

const (
	PaymentDutch     PaymentType = "dutch"
	PaymentMyTreat   PaymentType = "my_treat"
	PaymentYourTreat PaymentType = "your_treat"
	PaymentFree      PaymentType = "free"
)

func (p PaymentType) Valid() bool {
	switch p {
	case PaymentDutch, PaymentMyTreat, PaymentYourTreat, PaymentFree:
		return true
	}
	return false
}

// EventStatus is the lifecycle state of an event.
type EventStatus string

const (
	EventActive    EventStatus = "active"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

func (s EventStatus) Valid() bool {
	switch s {
	case EventActive, EventCompleted, EventCancelled:
		return true
	}
	return false
}

// RequestStatus is the resolution state of a join request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

func (s RequestStatus) Valid() bool {
	switch s {
	case RequestPending, RequestApproved, RequestRejected:
		return true
	}
	return false
}

// Gender of a profile, optional.
type Gender string

const (
	GenderMale   Gender = "male"
	GenderFemale Gender = "female"
)

func (g Gender) Valid() bool {
	return g == GenderMale || g == GenderFemale
}

type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Bio       string `json:"bio,omitempty"`
	City      string `json:"city"`
	Gender    Gender `json:"gender,omitempty"`
	Instagram string `json:"instagram,omitempty"`
	Telegram  string `json:"telegram,omitempty"`
	Photo     string `json:"photo,omitempty"`
	Username  string `json:"username,omitempty"`
	Premium   bool   `json:"premium,omitempty"`
}

type Event struct {
	ID                  string      `json:"id"`
	Title               string      `json:"title"`
	Description         string      `json:"description"`
	City                string      `json:"city"`
	Location            string      `json:"location"`
	Date                string      `json:"date"`
	Time                string      `json:"time"`
	Format              EventFormat `json:"format"`
	PaymentType         PaymentType `json:"paymentType"`
	ParticipantLimit    int         `json:"participantLimit"`
	CurrentParticipants int         `json:"currentParticipants,omitempty"`
	AuthorID            string      `json:"authorId"`
	AuthorGender        Gender      `json:"authorGender,omitempty"`
	Author              *User       `json:"author,omitempty"`
	Participants        []string    `json:"participants,omitempty"`
	Requests            []string    `json:"requests,omitempty"`
	Status              EventStatus `json:"status"`
	CreatedAt           time.Time   `json:"createdAt"`
}

type EventRequest struct {
	ID        string        `json:"id"`
	EventID   string        `json:"eventId"`
	UserID    string        `json:"userId"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"createdAt"`
}

type Chat struct {
	ID           string    `json:"id"`
	EventID      string    `json:"eventId"`
	Participants []string  `json:"participants"`
	Messages     []Message `json:"messages"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Message struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// localIDPrefix marks ids generated on the device before the server has
// assigned a canonical one. The same convention covers not-yet-persisted
// user identities.
const localIDPrefix = "local_"

// NewLocalID generates a temporary client-side id.
func NewLocalID() string {
	return localIDPrefix + uuid.NewString()
}

// IsLocalID reports whether id was generated on the device and never
// confirmed by the server.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, localIDPrefix)
}

// IsLocal reports whether the message is an unconfirmed optimistic entry.
func (m Message) IsLocal() bool {
	return IsLocalID(m.ID)
}

package push

// Payload is the data contract carried by a platform push notification.
// Tapping a notification deep-links into either a chat or an event.
type Payload struct {
	Type    string `json:"type,omitempty"`
	ChatID  string `json:"chatId,omitempty"`
	EventID string `json:"eventId,omitempty"`
}

// TargetKind says where a tapped notification should navigate.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetChat
	TargetEvent
	TargetEventRequests
)

// ParsePayload extracts the deep-link payload from the flat string map a
// push message carries.
func ParsePayload(data map[string]string) Payload {
	return Payload{
		Type:    data["type"],
		ChatID:  data["chatId"],
		EventID: data["eventId"],
	}
}

// Target resolves the navigation target. A chat id always wins; an
// event_request payload routes to the event's request list; any other
// event id opens the event.
func (p Payload) Target() (TargetKind, string) {
	if p.ChatID != "" {
		return TargetChat, p.ChatID
	}
	if p.EventID != "" {
		if p.Type == "event_request" {
			return TargetEventRequests, p.EventID
		}
		return TargetEvent, p.EventID
	}
	return TargetNone, ""
}

package models

import (
	"encoding/json"
	"testing"
)

func TestEnumValidation(t *testing.T) {
	t.Parallel()

	if !FormatCoffee.Valid() || !FormatOther.Valid() {
		t.Fatalf("known formats must validate")
	}
	if EventFormat("picnic").Valid() || EventFormat("").Valid() {
		t.Fatalf("unknown formats must not validate")
	}
	if !PaymentMyTreat.Valid() || PaymentType("split").Valid() {
		t.Fatalf("payment type validation broken")
	}
	if !EventActive.Valid() || EventStatus("paused").Valid() {
		t.Fatalf("event status validation broken")
	}
	if !RequestPending.Valid() || RequestStatus("maybe").Valid() {
		t.Fatalf("request status validation broken")
	}
	if !GenderFemale.Valid() || Gender("").Valid() {
		t.Fatalf("gender validation broken")
	}
}

func TestLocalIDs(t *testing.T) {
	t.Parallel()

	id := NewLocalID()
	if !IsLocalID(id) {
		t.Fatalf("generated id %q must be recognized as local", id)
	}
	if id == NewLocalID() {
		t.Fatalf("local ids must be unique")
	}
	if IsLocalID("m17") {
		t.Fatalf("server ids must not be recognized as local")
	}

	if !(Message{ID: NewLocalID()}).IsLocal() {
		t.Fatalf("message with a local id must be local")
	}
	if (Message{ID: "m17"}).IsLocal() {
		t.Fatalf("message with a server id must not be local")
	}
}

func TestEventJSONFieldNames(t *testing.T) {
	t.Parallel()

	encoded, err := json.Marshal(Event{
		ID:               "e1",
		Title:            "Coffee",
		Format:           FormatCoffee,
		PaymentType:      PaymentDutch,
		ParticipantLimit: 4,
		AuthorID:         "u1",
		Status:           EventActive,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(encoded, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, field := range []string{"paymentType", "participantLimit", "authorId", "createdAt"} {
		if _, ok := raw[field]; !ok {
			t.Fatalf("wire field %q missing in %s", field, encoded)
		}
	}
	if _, ok := raw["author"]; ok {
		t.Fatalf("empty author snapshot must be omitted")
	}
}

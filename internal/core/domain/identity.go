package domain

import "time"

// PresenceStatus is a custom type for the identity presence ENUM
type PresenceStatus string

const (
	StatusOnline  PresenceStatus = "online"
	StatusOffline PresenceStatus = "offline"
)

// Placeholder values applied when a freshly verified identity has no
// profile data yet. Taken over by the profile editor later (not part of
// this module).
const (
	DefaultName           = "John Doe"
	DefaultProfilePicture = "https://via.placeholder.com/150"
)

// Identity represents one registered user in the profile store.
// Messages is the conversation log embedded in the owner document:
// strictly append-only, insertion order is display order.
type Identity struct {
	ID             string         `json:"id" bson:"_id,omitempty"`
	PhoneNumber    string         `json:"phoneNumber" bson:"phone_number"`
	Name           string         `json:"name" bson:"name"`
	ProfilePicture string         `json:"profilePicture" bson:"profile_picture"`
	Status         PresenceStatus `json:"status" bson:"status"`
	Messages       []Message      `json:"messages" bson:"messages"`
	CreatedAt      time.Time      `json:"createdAt" bson:"created_at"`
	UpdatedAt      time.Time      `json:"updatedAt" bson:"updated_at"`
}

// NewIdentity builds a fresh identity record with placeholder profile
// fields, as written at the moment of successful OTP confirmation.
func NewIdentity(id, phoneNumber string) *Identity {
	now := time.Now()
	return &Identity{
		ID:             id,
		PhoneNumber:    phoneNumber,
		Name:           DefaultName,
		ProfilePicture: DefaultProfilePicture,
		Status:         StatusOffline,
		Messages:       []Message{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// LastMessage returns the newest committed message, or nil for an empty log.
// Used by roster views for conversation previews.
func (i *Identity) LastMessage() *Message {
	if len(i.Messages) == 0 {
		return nil
	}
	return &i.Messages[len(i.Messages)-1]
}

// Clone returns a deep copy. Snapshot delivery hands out copies so a
// subscriber can never mutate store state through a callback argument.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	cp := *i
	cp.Messages = make([]Message, len(i.Messages))
	copy(cp.Messages, i.Messages)
	return &cp
}

package domain

import (
	"fmt"
	"strings"
	"time"
)

// MessageType is the relative direction label stored on a message.
// It is relative to the owner of the document the message lives in,
// which makes it ambiguous across viewers; SenderID is authoritative
// and DirectionFor derives the label for any viewer.
type MessageType string

const (
	TypeSent     MessageType = "sent"
	TypeReceived MessageType = "received"
)

// DeliveryStatus is the delivery progression ENUM for a sent message.
type DeliveryStatus string

const (
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliverySeen      DeliveryStatus = "seen"
)

// deliveryRank orders the progression. Higher rank never goes back down.
var deliveryRank = map[DeliveryStatus]int{
	DeliverySent:      0,
	DeliveryDelivered: 1,
	DeliverySeen:      2,
}

// Valid reports whether s is a known delivery status.
func (s DeliveryStatus) Valid() bool {
	_, ok := deliveryRank[s]
	return ok
}

// Before reports whether s precedes other in the sent→delivered→seen order.
func (s DeliveryStatus) Before(other DeliveryStatus) bool {
	return deliveryRank[s] < deliveryRank[other]
}

// StatusesAtOrBelow lists every status a message may currently hold
// when advancing to target. Store adapters use it to make the advance
// a single guarded write.
func StatusesAtOrBelow(target DeliveryStatus) []DeliveryStatus {
	out := make([]DeliveryStatus, 0, len(deliveryRank))
	for _, s := range []DeliveryStatus{DeliverySent, DeliveryDelivered, DeliverySeen} {
		if !target.Before(s) {
			out = append(out, s)
		}
	}
	return out
}

// Message is a single entry in an identity's conversation log.
type Message struct {
	Text      string         `json:"text" bson:"text"`
	SenderID  string         `json:"senderId" bson:"sender_id"`
	Type      MessageType    `json:"type" bson:"type"`
	Timestamp time.Time      `json:"timestamp" bson:"timestamp"`
	Status    DeliveryStatus `json:"status" bson:"status"`
}

// NewOutgoingMessage builds the message appended by Send: trimmed text,
// tagged sent with delivery status sent.
func NewOutgoingMessage(senderID, text string) Message {
	return Message{
		Text:      strings.TrimSpace(text),
		SenderID:  senderID,
		Type:      TypeSent,
		Timestamp: time.Now(),
		Status:    DeliverySent,
	}
}

// DirectionFor derives the direction label from the viewer's point of
// view. The stored Type only encodes the writer's own perspective.
func (m Message) DirectionFor(viewerID string) MessageType {
	if m.SenderID == viewerID {
		return TypeSent
	}
	return TypeReceived
}

// Advance moves the delivery status forward. Regressions are rejected;
// advancing to the current status is a no-op.
func (m *Message) Advance(to DeliveryStatus) error {
	if !to.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, to)
	}
	if to.Before(m.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrStatusRegression, m.Status, to)
	}
	m.Status = to
	return nil
}

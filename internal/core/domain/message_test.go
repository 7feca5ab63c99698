package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Advance_ForwardOnly(t *testing.T) {
	msg := NewOutgoingMessage("u1", "hello")
	require.Equal(t, DeliverySent, msg.Status)

	require.NoError(t, msg.Advance(DeliveryDelivered))
	assert.Equal(t, DeliveryDelivered, msg.Status)

	require.NoError(t, msg.Advance(DeliverySeen))
	assert.Equal(t, DeliverySeen, msg.Status)

	// Regression must be rejected and leave the status untouched.
	err := msg.Advance(DeliveryDelivered)
	require.ErrorIs(t, err, ErrStatusRegression)
	assert.Equal(t, DeliverySeen, msg.Status)
}

func TestMessage_Advance_SameStatusIsNoOp(t *testing.T) {
	msg := NewOutgoingMessage("u1", "hello")
	require.NoError(t, msg.Advance(DeliverySent))
	assert.Equal(t, DeliverySent, msg.Status)
}

func TestMessage_Advance_UnknownStatus(t *testing.T) {
	msg := NewOutgoingMessage("u1", "hello")
	err := msg.Advance(DeliveryStatus("read"))
	require.ErrorIs(t, err, ErrInvalidStatus)
}

func TestMessage_DirectionFor(t *testing.T) {
	msg := NewOutgoingMessage("u1", "hello")
	assert.Equal(t, TypeSent, msg.DirectionFor("u1"))
	assert.Equal(t, TypeReceived, msg.DirectionFor("u2"))
}

func TestNewOutgoingMessage_TrimsText(t *testing.T) {
	msg := NewOutgoingMessage("u1", "  hello \n")
	assert.Equal(t, "hello", msg.Text)
	assert.Equal(t, TypeSent, msg.Type)
	assert.Equal(t, DeliverySent, msg.Status)
	assert.Equal(t, "u1", msg.SenderID)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestStatusesAtOrBelow(t *testing.T) {
	assert.ElementsMatch(t,
		[]DeliveryStatus{DeliverySent},
		StatusesAtOrBelow(DeliverySent))
	assert.ElementsMatch(t,
		[]DeliveryStatus{DeliverySent, DeliveryDelivered},
		StatusesAtOrBelow(DeliveryDelivered))
	assert.ElementsMatch(t,
		[]DeliveryStatus{DeliverySent, DeliveryDelivered, DeliverySeen},
		StatusesAtOrBelow(DeliverySeen))
}

func TestIdentity_Clone_IsDeep(t *testing.T) {
	identity := NewIdentity("u1", "+15550001111")
	identity.Messages = append(identity.Messages, NewOutgoingMessage("u1", "hello"))

	clone := identity.Clone()
	clone.Messages[0].Text = "changed"
	clone.Name = "Alice"

	assert.Equal(t, "hello", identity.Messages[0].Text)
	assert.Equal(t, DefaultName, identity.Name)
}

func TestIdentity_LastMessage(t *testing.T) {
	identity := NewIdentity("u1", "+15550001111")
	assert.Nil(t, identity.LastMessage())

	identity.Messages = append(identity.Messages,
		NewOutgoingMessage("u1", "first"),
		NewOutgoingMessage("u1", "second"),
	)
	last := identity.LastMessage()
	require.NotNil(t, last)
	assert.Equal(t, "second", last.Text)
}

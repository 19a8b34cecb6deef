package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCode(t *testing.T) {
	cases := map[error]string{
		ErrNotAMember:            "NotAMember",
		ErrRoomNotFound:          "RoomNotFound",
		ErrRoomFull:              "RoomFull",
		ErrForbidden:             "Forbidden",
		ErrPeerNotInRoom:         "PeerNotInRoom",
		ErrMessageNotFound:       "MessageNotFound",
		ErrInvalidSettings:       "InvalidSettings",
		ErrTransportDisconnected: "TransportDisconnected",
	}
	for err, code := range cases {
		assert.Equal(t, code, ErrorCode(err))
	}

	assert.Equal(t, "RoomFull", ErrorCode(fmt.Errorf("join: %w", ErrRoomFull)))
	assert.Equal(t, "Internal", ErrorCode(errors.New("boom")))
}

func TestDroppableEvents(t *testing.T) {
	assert.True(t, ServerEvent{Event: EventUserTyping}.Droppable())
	assert.True(t, ServerEvent{Event: EventUserStoppedTyping}.Droppable())
	assert.True(t, ServerEvent{Event: EventPresenceUpdated}.Droppable())

	assert.False(t, ServerEvent{Event: EventMessageReceived}.Droppable())
	assert.False(t, ServerEvent{Event: EventOffer}.Droppable())
	assert.False(t, ServerEvent{Event: EventRoomDeleted}.Droppable())
}

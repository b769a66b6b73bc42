package server

import (
	"time"

	"github.com/google/uuid"

	"github.com/fenggwsx/SlashHub/internal/hub"
	"github.com/fenggwsx/SlashHub/internal/protocol"
)

func ackEnvelope(referenceID, status, reason string) protocol.Envelope {
	return protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      protocol.MessageTypeAck,
		Timestamp: time.Now().UTC(),
		Payload: protocol.AckPayload{
			ReferenceID: referenceID,
			Status:      status,
			Reason:      reason,
		},
	}
}

func helloEnvelope(s *hub.Session) protocol.Envelope {
	return protocol.Envelope{
		ID:        uuid.NewString(),
		Type:      protocol.MessageTypeHello,
		Timestamp: time.Now().UTC(),
		Payload: protocol.HelloResponse{
			SessionID: s.ID(),
			UserID:    s.UserID(),
			Username:  s.User().Username,
			Rooms:     s.Rooms(),
		},
	}
}

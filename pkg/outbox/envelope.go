package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/keymarket/keymarket-backend/pkg/enums"
)

// EnvelopeVersion is bumped whenever Envelope changes shape.
const EnvelopeVersion = 1

// Envelope is the stable payload structure stored in outbox_events and
// published as the Pub/Sub message body.
type Envelope struct {
	Version    int                    `json:"version"`
	EventID    string                 `json:"eventId"`
	Kind       enums.NotificationKind `json:"kind"`
	AccountID  uuid.UUID              `json:"accountId"`
	OrderID    *uuid.UUID             `json:"orderId,omitempty"`
	OccurredAt time.Time              `json:"occurredAt"`
	Data       json.RawMessage        `json:"data"`
}

// NewEvent builds an outbox row for kind addressed to accountID.
func NewEvent(kind enums.NotificationKind, accountID uuid.UUID, orderID *uuid.UUID, data any, occurredAt time.Time) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	return &Envelope{
		Version:    EnvelopeVersion,
		EventID:    uuid.NewString(),
		Kind:       kind,
		AccountID:  accountID,
		OrderID:    orderID,
		OccurredAt: occurredAt.UTC(),
		Data:       raw,
	}, nil
}

// Decode parses a stored payload back into its envelope.
func Decode(payload []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type SequenceStatus string

const (
	SequenceStatusPreparing SequenceStatus = "preparing"
	SequenceStatusReady     SequenceStatus = "ready"
)

// LineString is an ordered polyline of [lon, lat] WGS84 positions, stored as
// a JSONB coordinate array.
type LineString [][2]float64

func (l LineString) JSON() json.RawMessage {
	b, _ := json.Marshal(l)
	return b
}

type Sequence struct {
	ID         uuid.UUID       `json:"id"`
	Title      string          `json:"title"`
	AccountID  string          `json:"account_id,omitempty"`
	Status     SequenceStatus  `json:"status"`
	Geom       LineString      `json:"geom,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	InsertedAt time.Time       `json:"inserted_at"`
}

// PictureEvent is published on NATS whenever a picture changes status, so
// the API can push progress to connected clients.
type PictureEvent struct {
	PictureID  uuid.UUID     `json:"picture_id"`
	SequenceID uuid.UUID     `json:"sequence_id"`
	Status     PictureStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	At         time.Time     `json:"at"`
}

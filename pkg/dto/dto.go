// Package dto defines the JSON request/response shapes of the HTTP API.
package dto

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/streetpano/internal/models"
)

type CreateSequenceRequest struct {
	Title string `json:"title"`
}

type SequenceResponse struct {
	ID         uuid.UUID         `json:"id"`
	Title      string            `json:"title"`
	Status     string            `json:"status"`
	Geom       models.LineString `json:"geom,omitempty"`
	Pictures   []PictureResponse `json:"pictures"`
	InsertedAt time.Time         `json:"inserted_at"`
}

type PictureResponse struct {
	ID           uuid.UUID  `json:"id"`
	Rank         *int       `json:"rank,omitempty"`
	Status       string     `json:"status"`
	CapturedAt   *time.Time `json:"captured_at,omitempty"`
	Lon          *float64   `json:"lon,omitempty"`
	Lat          *float64   `json:"lat,omitempty"`
	Heading      *int       `json:"heading,omitempty"`
	Projection   string     `json:"projection,omitempty"`
	Width        int        `json:"width,omitempty"`
	Height       int        `json:"height,omitempty"`
	Cols         int        `json:"cols,omitempty"`
	Rows         int        `json:"rows,omitempty"`
	ProcessError string     `json:"process_error,omitempty"`
	InsertedAt   time.Time  `json:"inserted_at"`
}

type UploadPictureResponse struct {
	PictureID  uuid.UUID `json:"picture_id"`
	SequenceID uuid.UUID `json:"sequence_id"`
	Status     string    `json:"status"`
}

type SetVisibilityRequest struct {
	Visible *bool `json:"visible" binding:"required"`
}

package models

import (
	"time"

	"github.com/google/uuid"
)

type Projection string

const (
	ProjectionEquirectangular Projection = "equirectangular"
	ProjectionFlat            Projection = "flat"
)

type PictureStatus string

const (
	StatusWaitingForProcess  PictureStatus = "waiting-for-process"
	StatusPreparing          PictureStatus = "preparing"
	StatusPreparingDerivates PictureStatus = "preparing-derivates"
	StatusReady              PictureStatus = "ready"
	StatusHidden             PictureStatus = "hidden"
	StatusBroken             PictureStatus = "broken"
	StatusWaitingForDelete   PictureStatus = "waiting-for-delete"
)

type ProcessTask string

const (
	TaskPrepare ProcessTask = "prepare"
	TaskDelete  ProcessTask = "delete"
)

// Sizing holds the pixel dimensions of a picture and, for equirectangular
// pictures, the tile grid it splits into (rows is always cols/2).
type Sizing struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	Cols   int `json:"cols,omitempty"`
	Rows   int `json:"rows,omitempty"`
}

// Metadata is the bag of EXIF-derived attributes kept alongside a picture.
// Fields that live in dedicated picture columns (timestamp, position,
// heading) are intentionally absent.
type Metadata struct {
	Type             Projection        `json:"type"`
	Width            int               `json:"width"`
	Height           int               `json:"height"`
	Cols             int               `json:"cols,omitempty"`
	Rows             int               `json:"rows,omitempty"`
	Make             string            `json:"make,omitempty"`
	Model            string            `json:"model,omitempty"`
	FocalLength      float64           `json:"focal_length,omitempty"`
	FieldOfView      *int              `json:"field_of_view,omitempty"`
	OriginalFileName string            `json:"originalFileName,omitempty"`
	BlurredByAuthor  bool              `json:"blurredByAuthor,omitempty"`
	TagWarnings      []string          `json:"tagreader_warnings,omitempty"`
	Exif             map[string]string `json:"-"`
}

type Picture struct {
	ID               uuid.UUID     `json:"id"`
	SequenceID       uuid.UUID     `json:"sequence_id"`
	Rank             *int          `json:"rank,omitempty"`
	Status           PictureStatus `json:"status"`
	CapturedAt       *time.Time    `json:"captured_at,omitempty"`
	Lon              *float64      `json:"lon,omitempty"`
	Lat              *float64      `json:"lat,omitempty"`
	Heading          *int          `json:"heading,omitempty"`
	HeadingComputed  bool          `json:"heading_computed,omitempty"`
	Projection       Projection    `json:"projection,omitempty"`
	Sizing           Sizing        `json:"sizing"`
	IsBlurred        bool          `json:"is_blurred"`
	AccountID        string        `json:"account_id,omitempty"`
	Metadata         Metadata      `json:"metadata"`
	NbErrors         int           `json:"nb_errors,omitempty"`
	ProcessError     string        `json:"process_error,omitempty"`
	ProcessedAt      *time.Time    `json:"processed_at,omitempty"`
	InsertedAt       time.Time     `json:"inserted_at"`
	SequenceStatus   string        `json:"-"`
}

// QueueEntry is one row of the persistent work queue. A picture appears at
// most once.
type QueueEntry struct {
	PictureID  uuid.UUID   `json:"picture_id"`
	Task       ProcessTask `json:"task"`
	InsertedAt time.Time   `json:"inserted_at"`
}

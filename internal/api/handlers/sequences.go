package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/your-org/streetpano/internal/models"
	"github.com/your-org/streetpano/internal/objstore"
	"github.com/your-org/streetpano/internal/picture"
	"github.com/your-org/streetpano/internal/queue"
	"github.com/your-org/streetpano/internal/storage"
	"github.com/your-org/streetpano/pkg/dto"
)

// accountHeader identifies the uploader. Empty means anonymous.
const accountHeader = "X-Account"

// maxUploadBytes caps a single picture upload (100 MB covers 16K panoramas).
const maxUploadBytes = 100 << 20

type SequenceHandler struct {
	db       *storage.PostgresStore
	fs       *objstore.Filesystems
	producer *queue.Producer
}

func NewSequenceHandler(db *storage.PostgresStore, fs *objstore.Filesystems, producer *queue.Producer) *SequenceHandler {
	return &SequenceHandler{db: db, fs: fs, producer: producer}
}

func (h *SequenceHandler) Create(c *gin.Context) {
	var req dto.CreateSequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	seq, err := h.db.CreateSequence(c.Request.Context(), req.Title, c.GetHeader(accountHeader))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, dto.SequenceResponse{
		ID:         seq.ID,
		Title:      seq.Title,
		Status:     string(seq.Status),
		Pictures:   []dto.PictureResponse{},
		InsertedAt: seq.InsertedAt,
	})
}

func (h *SequenceHandler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sequence id"})
		return
	}

	seq, err := h.db.GetSequence(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if seq == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sequence not found"})
		return
	}

	pics, err := h.db.ListSequencePictures(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := dto.SequenceResponse{
		ID:         seq.ID,
		Title:      seq.Title,
		Status:     string(seq.Status),
		Geom:       seq.Geom,
		Pictures:   make([]dto.PictureResponse, 0, len(pics)),
		InsertedAt: seq.InsertedAt,
	}
	for _, p := range pics {
		resp.Pictures = append(resp.Pictures, dto.PictureResponse{
			ID:           p.ID,
			Rank:         p.Rank,
			Status:       string(p.Status),
			CapturedAt:   p.CapturedAt,
			Lon:          p.Lon,
			Lat:          p.Lat,
			Heading:      p.Heading,
			Projection:   string(p.Projection),
			Width:        p.Sizing.Width,
			Height:       p.Sizing.Height,
			Cols:         p.Sizing.Cols,
			Rows:         p.Sizing.Rows,
			ProcessError: p.ProcessError,
			InsertedAt:   p.InsertedAt,
		})
	}

	c.JSON(http.StatusOK, resp)
}

// UploadPicture accepts a multipart JPEG, stages it in tmp storage, and
// queues it for processing. Metadata extraction happens in the worker, so
// the upload returns as soon as the bytes are safe.
func (h *SequenceHandler) UploadPicture(c *gin.Context) {
	seqID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid sequence id"})
		return
	}

	seq, err := h.db.GetSequence(c.Request.Context(), seqID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if seq == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "sequence not found"})
		return
	}
	account := c.GetHeader(accountHeader)
	if seq.AccountID != "" && seq.AccountID != account {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the sequence owner"})
		return
	}

	fileHeader, err := c.FormFile("picture")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing picture file"})
		return
	}
	if fileHeader.Size > maxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "picture too large"})
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	isBlurred, _ := strconv.ParseBool(c.PostForm("isBlurred"))

	pic := &models.Picture{
		ID:         uuid.New(),
		SequenceID: seqID,
		Status:     models.StatusWaitingForProcess,
		IsBlurred:  isBlurred,
		AccountID:  account,
		Metadata: models.Metadata{
			OriginalFileName: fileHeader.Filename,
			BlurredByAuthor:  isBlurred,
		},
	}

	hdPath := picture.HDPath(pic.ID)
	if err := h.fs.Tmp.Write(c.Request.Context(), hdPath, data); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.db.CreatePicture(c.Request.Context(), pic); err != nil {
		// Keep tmp storage consistent with the database.
		if derr := h.fs.Tmp.Delete(c.Request.Context(), hdPath); derr != nil {
			slog.Warn("remove staged upload", "error", derr, "picture", pic.ID)
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			c.JSON(http.StatusConflict, gin.H{"error": "picture already uploaded"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := h.producer.WakeWorkers(c.Request.Context(), pic.ID.String()); err != nil {
		// The poll loop will pick the picture up regardless.
		slog.Warn("wake workers", "error", err, "picture", pic.ID)
	}

	c.JSON(http.StatusAccepted, dto.UploadPictureResponse{
		PictureID:  pic.ID,
		SequenceID: seqID,
		Status:     string(models.StatusWaitingForProcess),
	})
}

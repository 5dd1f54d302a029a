package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/your-org/streetpano/internal/config"
	"github.com/your-org/streetpano/internal/derivates"
	"github.com/your-org/streetpano/internal/models"
	"github.com/your-org/streetpano/internal/objstore"
	"github.com/your-org/streetpano/internal/observability"
	"github.com/your-org/streetpano/internal/picture"
	"github.com/your-org/streetpano/internal/queue"
	"github.com/your-org/streetpano/pkg/dto"
)

var errDerivateMissing = errors.New("derivate not available")

// PictureStore is the database surface the picture endpoints need.
type PictureStore interface {
	GetPicture(ctx context.Context, id uuid.UUID) (*models.Picture, error)
	SetPictureVisibility(ctx context.Context, id uuid.UUID, visible bool) (bool, error)
	MarkForDeletion(ctx context.Context, id uuid.UUID) error
}

// PictureHandler serves picture files and derivates, and handles
// visibility and deletion.
type PictureHandler struct {
	db       PictureStore
	fs       *objstore.Filesystems
	producer *queue.Producer
	strategy config.DerivatesStrategy

	// Collapses concurrent on-demand generations of the same artefact.
	group singleflight.Group
}

func NewPictureHandler(db PictureStore, fs *objstore.Filesystems, producer *queue.Producer, strategy config.DerivatesStrategy) *PictureHandler {
	return &PictureHandler{db: db, fs: fs, producer: producer, strategy: strategy}
}

// SetVisibility toggles a picture between ready and hidden.
func (h *PictureHandler) SetVisibility(c *gin.Context) {
	pic, ok := h.ownedPicture(c)
	if !ok {
		return
	}

	var req dto.SetVisibilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	changed, err := h.db.SetPictureVisibility(c.Request.Context(), pic.ID, *req.Visible)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !changed && ((*req.Visible && pic.Status != models.StatusReady) ||
		(!*req.Visible && pic.Status != models.StatusHidden)) {
		c.JSON(http.StatusConflict, gin.H{"error": fmt.Sprintf("picture is %s, visibility cannot change", pic.Status)})
		return
	}

	c.Status(http.StatusNoContent)
}

// Delete queues the picture for removal. Files and rows disappear when a
// worker picks the task up.
func (h *PictureHandler) Delete(c *gin.Context) {
	pic, ok := h.ownedPicture(c)
	if !ok {
		return
	}

	if err := h.db.MarkForDeletion(c.Request.Context(), pic.ID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if h.producer != nil {
		if err := h.producer.WakeWorkers(c.Request.Context(), pic.ID.String()); err != nil {
			slog.Warn("wake workers", "error", err, "picture", pic.ID)
		}
	}

	c.Status(http.StatusNoContent)
}

// ownedPicture loads the picture from the :id param and enforces that the
// caller owns it. Writes the error response itself when returning false.
func (h *PictureHandler) ownedPicture(c *gin.Context) (*models.Picture, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid picture id"})
		return nil, false
	}

	pic, err := h.db.GetPicture(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if pic == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "picture not found"})
		return nil, false
	}
	if pic.AccountID != "" && pic.AccountID != c.GetHeader(accountHeader) {
		c.JSON(http.StatusForbidden, gin.H{"error": "not the picture owner"})
		return nil, false
	}
	return pic, true
}

// Derivate serves hd/sd/thumb files: GET /api/pictures/:id/<kind>.<jpg|webp>.
func (h *PictureHandler) Derivate(c *gin.Context) {
	kind, format, ok := splitArtefact(c.Param("file"))
	if !ok || (kind != "hd" && kind != "sd" && kind != "thumb") {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown derivate"})
		return
	}

	pic, ok := h.visiblePicture(c)
	if !ok {
		return
	}

	var jpegPath string
	switch kind {
	case "hd":
		jpegPath = picture.HDPath(pic.ID)
	case "sd":
		jpegPath = picture.SDPath(pic.ID)
	case "thumb":
		jpegPath = picture.ThumbPath(pic.ID)
	}

	h.serve(c, pic, kind, jpegPath, format, func(img image.Image, src []byte) ([]byte, error) {
		switch kind {
		case "sd":
			return derivates.SD(img, src)
		default:
			return derivates.Thumbnail(img, pic.Projection)
		}
	})
}

// Tile serves tiles: GET /api/pictures/:id/tiled/<col>_<row>.<jpg|webp>.
func (h *PictureHandler) Tile(c *gin.Context) {
	name, format, ok := splitArtefact(c.Param("tile"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown tile"})
		return
	}
	var col, row int
	if n, err := fmt.Sscanf(name, "%d_%d", &col, &row); err != nil || n != 2 {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown tile"})
		return
	}

	pic, ok := h.visiblePicture(c)
	if !ok {
		return
	}

	// Flat pictures have no tiles, and the grid bounds come from the
	// stored sizing.
	if pic.Projection != models.ProjectionEquirectangular ||
		col < 0 || col >= pic.Sizing.Cols || row < 0 || row >= pic.Sizing.Rows {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such tile"})
		return
	}

	h.serve(c, pic, "tile", picture.TilePath(pic.ID, col, row), format, func(img image.Image, _ []byte) ([]byte, error) {
		return derivates.Tile(img, pic.Sizing, col, row)
	})
}

// visiblePicture loads the picture and applies the read rules: unknown id
// is 404; hidden or unprocessed pictures are only visible to their owner.
func (h *PictureHandler) visiblePicture(c *gin.Context) (*models.Picture, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "picture not found"})
		return nil, false
	}

	pic, err := h.db.GetPicture(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	if pic == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "picture not found"})
		return nil, false
	}

	servable := pic.Status == models.StatusReady || pic.Status == models.StatusPreparingDerivates
	owner := pic.AccountID != "" && pic.AccountID == c.GetHeader(accountHeader)
	if !servable && !owner {
		c.JSON(http.StatusForbidden, gin.H{"error": "picture is not available"})
		return nil, false
	}
	return pic, true
}

// serve returns the artefact bytes in the requested format, generating
// the JPEG on demand when the strategy allows it and transcoding/caching
// the WebP variant on first request.
func (h *PictureHandler) serve(c *gin.Context, pic *models.Picture, kind, jpegPath, format string, gen func(image.Image, []byte) ([]byte, error)) {
	ctx := c.Request.Context()

	if format == "webp" {
		webpPath := strings.TrimSuffix(jpegPath, ".jpg") + ".webp"
		data, err := h.fs.Derivates.Read(ctx, webpPath)
		if err == nil {
			c.Data(http.StatusOK, "image/webp", data)
			return
		}
		if !errors.Is(err, objstore.ErrNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		// The artefact path uniquely identifies the picture, the kind
		// and (for tiles) the col/row, so it doubles as the
		// serialisation key.
		v, err, _ := h.group.Do(webpPath, func() (any, error) {
			jpegData, err := h.jpegArtefact(c, pic, kind, jpegPath, gen)
			if err != nil {
				return nil, err
			}
			data, err := derivates.ToWebP(jpegData)
			if err != nil {
				return nil, err
			}
			if err := h.fs.Derivates.Write(ctx, webpPath, data); err != nil {
				return nil, err
			}
			return data, nil
		})
		h.respond(c, v, err, "image/webp")
		return
	}

	v, err, _ := h.group.Do(jpegPath, func() (any, error) {
		return h.jpegArtefact(c, pic, kind, jpegPath, gen)
	})
	h.respond(c, v, err, "image/jpeg")
}

func (h *PictureHandler) respond(c *gin.Context, v any, err error, contentType string) {
	if err != nil {
		if errors.Is(err, errDerivateMissing) {
			c.JSON(http.StatusNotFound, gin.H{"error": "derivate not available"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, contentType, v.([]byte))
}

// jpegArtefact reads the JPEG artefact, generating exactly the requested
// one from the original when it is missing and the strategy is ON_DEMAND.
func (h *PictureHandler) jpegArtefact(c *gin.Context, pic *models.Picture, kind, jpegPath string, gen func(image.Image, []byte) ([]byte, error)) ([]byte, error) {
	ctx := c.Request.Context()

	fs := h.fs.Derivates
	if kind == "hd" {
		fs = h.fs.Permanent
	}

	data, err := fs.Read(ctx, jpegPath)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, objstore.ErrNotFound) {
		return nil, err
	}
	if kind == "hd" || h.strategy != config.StrategyOnDemand {
		return nil, errDerivateMissing
	}

	src, err := h.fs.Permanent.Read(ctx, picture.HDPath(pic.ID))
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, errDerivateMissing
		}
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("decode original: %w", err)
	}

	data, err = gen(img, src)
	if err != nil {
		return nil, err
	}
	if err := fs.Write(ctx, jpegPath, data); err != nil {
		return nil, err
	}
	observability.OnDemandGenerations.WithLabelValues(kind).Inc()
	return data, nil
}

// splitArtefact turns "thumb.jpg" into ("thumb", "jpg"). Only jpg and
// webp are recognised.
func splitArtefact(file string) (name, format string, ok bool) {
	i := strings.LastIndexByte(file, '.')
	if i <= 0 {
		return "", "", false
	}
	name, format = file[:i], file[i+1:]
	if format != "jpg" && format != "webp" {
		return "", "", false
	}
	return name, format, true
}

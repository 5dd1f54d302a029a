package handlers

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/streetpano/internal/config"
	"github.com/your-org/streetpano/internal/models"
	"github.com/your-org/streetpano/internal/objstore"
	"github.com/your-org/streetpano/internal/picture"
)

func TestSplitArtefact(t *testing.T) {
	cases := []struct {
		in     string
		name   string
		format string
		ok     bool
	}{
		{"hd.jpg", "hd", "jpg", true},
		{"thumb.webp", "thumb", "webp", true},
		{"3_1.jpg", "3_1", "jpg", true},
		{"sd.png", "", "", false},
		{"sd", "", "", false},
		{".jpg", "", "", false},
	}
	for _, c := range cases {
		name, format, ok := splitArtefact(c.in)
		assert.Equal(t, c.ok, ok, c.in)
		assert.Equal(t, c.name, name, c.in)
		assert.Equal(t, c.format, format, c.in)
	}
}

type fakePictureStore struct {
	pics map[uuid.UUID]*models.Picture
}

func (f *fakePictureStore) GetPicture(_ context.Context, id uuid.UUID) (*models.Picture, error) {
	return f.pics[id], nil
}

func (f *fakePictureStore) SetPictureVisibility(context.Context, uuid.UUID, bool) (bool, error) {
	return true, nil
}

func (f *fakePictureStore) MarkForDeletion(context.Context, uuid.UUID) error { return nil }

func testFilesystems(t *testing.T) *objstore.Filesystems {
	t.Helper()
	root := t.TempDir()
	return &objstore.Filesystems{
		Permanent: objstore.NewLocalStore(root + "/permanent"),
		Derivates: objstore.NewLocalStore(root + "/derivates"),
		Tmp:       objstore.NewLocalStore(root + "/tmp"),
	}
}

// encodeJPEG produces a horizontal gradient so every crop of the image
// yields different bytes.
func encodeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		c := color.RGBA{R: uint8(x * 255 / w), G: 128, B: 64, A: 255}
		for y := 0; y < h; y++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func readyPano(id uuid.UUID) *models.Picture {
	return &models.Picture{
		ID:         id,
		Status:     models.StatusReady,
		Projection: models.ProjectionEquirectangular,
		Sizing:     models.Sizing{Width: 1024, Height: 512, Cols: 4, Rows: 2},
	}
}

func newTestRouter(h *PictureHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/pictures/:id/tiled/:tile", h.Tile)
	r.GET("/api/pictures/:id/:file", h.Derivate)
	return r
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestDerivateUnknownPicture(t *testing.T) {
	db := &fakePictureStore{pics: map[uuid.UUID]*models.Picture{}}
	r := newTestRouter(NewPictureHandler(db, testFilesystems(t), nil, config.StrategyPreprocess))

	assert.Equal(t, http.StatusNotFound, get(r, "/api/pictures/"+uuid.NewString()+"/thumb.jpg").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/api/pictures/not-a-uuid/thumb.jpg").Code)
}

func TestDerivateHiddenPicture(t *testing.T) {
	id := uuid.New()
	pic := readyPano(id)
	pic.Status = models.StatusHidden
	db := &fakePictureStore{pics: map[uuid.UUID]*models.Picture{id: pic}}
	r := newTestRouter(NewPictureHandler(db, testFilesystems(t), nil, config.StrategyPreprocess))

	assert.Equal(t, http.StatusForbidden, get(r, "/api/pictures/"+id.String()+"/thumb.jpg").Code)
}

func TestDerivateHiddenVisibleToOwner(t *testing.T) {
	id := uuid.New()
	pic := readyPano(id)
	pic.Status = models.StatusHidden
	pic.AccountID = "cam-42"
	fs := testFilesystems(t)
	require.NoError(t, fs.Derivates.Write(context.Background(), picture.ThumbPath(id), []byte("thumb")))
	db := &fakePictureStore{pics: map[uuid.UUID]*models.Picture{id: pic}}
	r := newTestRouter(NewPictureHandler(db, fs, nil, config.StrategyPreprocess))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/pictures/"+id.String()+"/thumb.jpg", nil)
	req.Header.Set(accountHeader, "cam-42")
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "thumb", w.Body.String())
}

func TestTileRejectsFlatAndOutOfRange(t *testing.T) {
	flatID, panoID := uuid.New(), uuid.New()
	flat := &models.Picture{
		ID:         flatID,
		Status:     models.StatusReady,
		Projection: models.ProjectionFlat,
		Sizing:     models.Sizing{Width: 800, Height: 600},
	}
	db := &fakePictureStore{pics: map[uuid.UUID]*models.Picture{
		flatID: flat,
		panoID: readyPano(panoID),
	}}
	r := newTestRouter(NewPictureHandler(db, testFilesystems(t), nil, config.StrategyPreprocess))

	assert.Equal(t, http.StatusNotFound, get(r, "/api/pictures/"+flatID.String()+"/tiled/0_0.jpg").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/api/pictures/"+panoID.String()+"/tiled/4_0.jpg").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/api/pictures/"+panoID.String()+"/tiled/0_2.jpg").Code)
	assert.Equal(t, http.StatusNotFound, get(r, "/api/pictures/"+panoID.String()+"/tiled/nope.jpg").Code)
}

func TestDerivateOnDemandGeneratesOnlyRequested(t *testing.T) {
	id := uuid.New()
	fs := testFilesystems(t)
	ctx := context.Background()
	require.NoError(t, fs.Permanent.Write(ctx, picture.HDPath(id), encodeJPEG(t, 1024, 512)))
	db := &fakePictureStore{pics: map[uuid.UUID]*models.Picture{id: readyPano(id)}}
	r := newTestRouter(NewPictureHandler(db, fs, nil, config.StrategyOnDemand))

	w := get(r, "/api/pictures/"+id.String()+"/thumb.jpg")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.NotEmpty(t, w.Body.Bytes())

	ok, err := fs.Derivates.Exists(ctx, picture.ThumbPath(id))
	require.NoError(t, err)
	assert.True(t, ok, "requested thumbnail must be cached")
	ok, err = fs.Derivates.Exists(ctx, picture.SDPath(id))
	require.NoError(t, err)
	assert.False(t, ok, "only the requested artefact is generated")
}

func TestDerivateMissingWithoutOnDemand(t *testing.T) {
	id := uuid.New()
	db := &fakePictureStore{pics: map[uuid.UUID]*models.Picture{id: readyPano(id)}}
	r := newTestRouter(NewPictureHandler(db, testFilesystems(t), nil, config.StrategyPreprocess))

	assert.Equal(t, http.StatusNotFound, get(r, "/api/pictures/"+id.String()+"/thumb.jpg").Code)
}

func TestDerivateWebPCached(t *testing.T) {
	id := uuid.New()
	fs := testFilesystems(t)
	ctx := context.Background()
	require.NoError(t, fs.Derivates.Write(ctx, picture.ThumbPath(id), encodeJPEG(t, 500, 300)))
	db := &fakePictureStore{pics: map[uuid.UUID]*models.Picture{id: readyPano(id)}}
	r := newTestRouter(NewPictureHandler(db, fs, nil, config.StrategyPreprocess))

	w := get(r, "/api/pictures/"+id.String()+"/thumb.webp")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/webp", w.Header().Get("Content-Type"))

	cached, err := fs.Derivates.Read(ctx, picture.DirPath(id)+"/thumb.webp")
	require.NoError(t, err)
	assert.Equal(t, cached, w.Body.Bytes())

	// The second request is served straight from the cache.
	again := get(r, "/api/pictures/"+id.String()+"/thumb.webp")
	require.Equal(t, http.StatusOK, again.Code)
	assert.Equal(t, cached, again.Body.Bytes())
}

func TestServeKeysGenerationsByArtefactPath(t *testing.T) {
	// Two tiles of the same picture requested at the same time must each
	// run their own generation and get their own bytes back.
	id := uuid.New()
	fs := testFilesystems(t)
	ctx := context.Background()
	require.NoError(t, fs.Permanent.Write(ctx, picture.HDPath(id), encodeJPEG(t, 64, 32)))
	h := NewPictureHandler(&fakePictureStore{}, fs, nil, config.StrategyOnDemand)
	pic := readyPano(id)

	gin.SetMode(gin.TestMode)
	var inFlight sync.WaitGroup
	inFlight.Add(2)
	serveTile := func(col int, payload []byte) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		h.serve(c, pic, "tile", picture.TilePath(id, col, 0), "jpg", func(image.Image, []byte) ([]byte, error) {
			// Both generations must be running together before either
			// returns, so a shared serialisation key would collapse them.
			inFlight.Done()
			inFlight.Wait()
			return payload, nil
		})
		return w
	}

	var wg sync.WaitGroup
	results := make([]*httptest.ResponseRecorder, 2)
	payloads := [][]byte{[]byte("tile 0_0"), []byte("tile 1_0")}
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = serveTile(i, payloads[i])
		}(i)
	}
	wg.Wait()

	for i, w := range results {
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, payloads[i], w.Body.Bytes())
	}
}

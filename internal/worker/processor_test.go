package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/streetpano/internal/blur"
	"github.com/your-org/streetpano/internal/config"
	"github.com/your-org/streetpano/internal/exifmeta"
	"github.com/your-org/streetpano/internal/models"
	"github.com/your-org/streetpano/internal/objstore"
	"github.com/your-org/streetpano/internal/picture"
	"github.com/your-org/streetpano/internal/storage"
)

type fakeStore struct {
	sensorWidths map[string]float64
	assembled    []models.Picture
	geom         models.LineString
}

func (f *fakeStore) LockNextWork(context.Context) (*storage.Work, error) { return nil, nil }
func (f *fakeStore) GetPicture(context.Context, uuid.UUID) (*models.Picture, error) {
	return nil, nil
}
func (f *fakeStore) StartProcessing(context.Context, uuid.UUID) error { return nil }
func (f *fakeStore) ApplyMetadata(context.Context, uuid.UUID, time.Time, float64, float64, *int, models.Metadata) error {
	return nil
}
func (f *fakeStore) SensorWidth(_ context.Context, make, model string) (float64, bool, error) {
	w, ok := f.sensorWidths[make+" "+model]
	return w, ok, nil
}
func (f *fakeStore) SetPictureStatus(context.Context, uuid.UUID, models.PictureStatus) error {
	return nil
}
func (f *fakeStore) SetPictureBlurred(context.Context, uuid.UUID) error { return nil }
func (f *fakeStore) ReadyPictures(context.Context, uuid.UUID) ([]models.Picture, error) {
	return nil, nil
}
func (f *fakeStore) SaveAssembly(_ context.Context, _ uuid.UUID, pics []models.Picture, geom models.LineString) error {
	f.assembled = pics
	f.geom = geom
	return nil
}

func testFilesystems(t *testing.T) *objstore.Filesystems {
	t.Helper()
	root := t.TempDir()
	return &objstore.Filesystems{
		Permanent: objstore.NewLocalStore(root + "/permanent"),
		Derivates: objstore.NewLocalStore(root + "/derivates"),
		Tmp:       objstore.NewLocalStore(root + "/tmp"),
	}
}

func newTestProcessor(t *testing.T, fs *objstore.Filesystems) *Processor {
	t.Helper()
	return NewProcessor(&fakeStore{}, fs, nil, nil, config.ProcessConfig{
		WorkerCount:  1,
		PollInterval: time.Second,
	})
}

func TestIsRecoverable(t *testing.T) {
	assert.False(t, isRecoverable(&exifmeta.Error{Reason: "no GPS position"}))
	assert.False(t, isRecoverable(fmt.Errorf("extract: %w", &exifmeta.Error{Reason: "no EXIF data"})))

	assert.True(t, isRecoverable(errors.New("connection refused")))
	assert.True(t, isRecoverable(&blur.Error{Reason: "blur service returned 502"}))
	assert.True(t, isRecoverable(fmt.Errorf("read original: %w", objstore.ErrNotFound)))
}

func TestReadOriginalPrefersTmp(t *testing.T) {
	fs := testFilesystems(t)
	p := newTestProcessor(t, fs)
	ctx := context.Background()

	id := uuid.New()
	path := picture.HDPath(id)
	require.NoError(t, fs.Tmp.Write(ctx, path, []byte("fresh upload")))
	require.NoError(t, fs.Permanent.Write(ctx, path, []byte("older copy")))

	data, moved, err := p.readOriginal(ctx, path)
	require.NoError(t, err)
	assert.False(t, moved)
	assert.Equal(t, []byte("fresh upload"), data)
}

func TestReadOriginalFallsBackToPermanent(t *testing.T) {
	fs := testFilesystems(t)
	p := newTestProcessor(t, fs)
	ctx := context.Background()

	id := uuid.New()
	path := picture.HDPath(id)
	require.NoError(t, fs.Permanent.Write(ctx, path, []byte("moved before crash")))

	data, moved, err := p.readOriginal(ctx, path)
	require.NoError(t, err)
	assert.True(t, moved)
	assert.Equal(t, []byte("moved before crash"), data)
}

func TestReadOriginalMissingIsFatal(t *testing.T) {
	fs := testFilesystems(t)
	p := newTestProcessor(t, fs)

	_, _, err := p.readOriginal(context.Background(), picture.HDPath(uuid.New()))

	var xerr *exifmeta.Error
	require.ErrorAs(t, err, &xerr)
	assert.False(t, isRecoverable(err))
}

func TestBuildMetadataFieldOfView(t *testing.T) {
	fs := testFilesystems(t)
	db := &fakeStore{sensorWidths: map[string]float64{
		"OLYMPUS IMAGING CORP. SP-720UZ": 6.16,
	}}
	p := NewProcessor(db, fs, nil, nil, config.ProcessConfig{WorkerCount: 1, PollInterval: time.Second})

	pic := &models.Picture{Metadata: models.Metadata{OriginalFileName: "IMG_0001.jpg"}}
	res := &exifmeta.Result{
		Make:        "OLYMPUS IMAGING CORP.",
		Model:       "SP-720UZ",
		FocalLength: 4.65,
		Projection:  models.ProjectionFlat,
	}

	meta := p.buildMetadata(context.Background(), pic, res, models.Sizing{Width: 800, Height: 600})

	require.NotNil(t, meta.FieldOfView)
	assert.Equal(t, 67, *meta.FieldOfView)
	assert.Equal(t, "IMG_0001.jpg", meta.OriginalFileName)
}

func TestBuildMetadataUnknownCamera(t *testing.T) {
	fs := testFilesystems(t)
	p := newTestProcessor(t, fs)

	res := &exifmeta.Result{Make: "Acme", Model: "Cam3000", FocalLength: 4.0}
	meta := p.buildMetadata(context.Background(), &models.Picture{}, res, models.Sizing{})

	assert.Nil(t, meta.FieldOfView)
	require.NotEmpty(t, meta.TagWarnings)
	assert.Contains(t, meta.TagWarnings[len(meta.TagWarnings)-1], "unknown camera")
}

func TestDeletePictureRemovesAllFiles(t *testing.T) {
	fs := testFilesystems(t)
	p := newTestProcessor(t, fs)
	ctx := context.Background()

	id := uuid.New()
	require.NoError(t, fs.Permanent.Write(ctx, picture.HDPath(id), []byte("hd")))
	require.NoError(t, fs.Derivates.Write(ctx, picture.ThumbPath(id), []byte("thumb")))
	require.NoError(t, fs.Derivates.Write(ctx, picture.TilePath(id, 0, 0), []byte("tile")))
	require.NoError(t, fs.Derivates.Write(ctx, picture.HDWebPPath(id), []byte("hd-webp")))
	require.NoError(t, fs.Tmp.Write(ctx, picture.HDPath(id), []byte("upload")))

	require.NoError(t, p.deletePicture(ctx, id))

	for _, check := range []struct {
		fs   objstore.ObjectStore
		path string
	}{
		{fs.Permanent, picture.HDPath(id)},
		{fs.Derivates, picture.ThumbPath(id)},
		{fs.Derivates, picture.TilePath(id, 0, 0)},
		{fs.Derivates, picture.HDWebPPath(id)},
		{fs.Tmp, picture.HDPath(id)},
	} {
		ok, err := check.fs.Exists(ctx, check.path)
		require.NoError(t, err)
		assert.False(t, ok, check.path)
	}
}

func TestDeletePictureIdempotent(t *testing.T) {
	fs := testFilesystems(t)
	p := newTestProcessor(t, fs)

	// Nothing on disk at all: a retried delete must still succeed.
	assert.NoError(t, p.deletePicture(context.Background(), uuid.New()))
}

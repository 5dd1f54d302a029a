package cleanup

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/streetpano/internal/objstore"
	"github.com/your-org/streetpano/internal/picture"
)

type fakeStore struct {
	pics       []uuid.UUID
	deletedSeq []uuid.UUID
	deletedPic []uuid.UUID
	wipedAll   bool
}

func (f *fakeStore) PictureIDs(context.Context, []uuid.UUID) ([]uuid.UUID, error) {
	return f.pics, nil
}

func (f *fakeStore) DeleteRows(_ context.Context, seqIDs, picIDs []uuid.UUID) error {
	f.deletedSeq = seqIDs
	f.deletedPic = picIDs
	return nil
}

func (f *fakeStore) DeleteAllRows(context.Context) error {
	f.wipedAll = true
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

func seed(t *testing.T, fs *objstore.Filesystems, id uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fs.Permanent.Write(ctx, picture.HDPath(id), []byte("hd")))
	require.NoError(t, fs.Tmp.Write(ctx, picture.HDPath(id), []byte("upload")))
	require.NoError(t, fs.Derivates.Write(ctx, picture.ThumbPath(id), []byte("thumb")))
	require.NoError(t, fs.Derivates.Write(ctx, picture.TilePath(id, 0, 0), []byte("tile")))
	// The hd WebP cache sits beside the derivates directory.
	require.NoError(t, fs.Derivates.Write(ctx, picture.HDWebPPath(id), []byte("hd-webp")))
	// Legacy blurring intermediates from older deployments.
	require.NoError(t, fs.Derivates.Write(ctx, picture.DirPath(id)+"/blurred.jpg", []byte("old")))
	require.NoError(t, fs.Derivates.Write(ctx, picture.DirPath(id)+"/blur_mask.png", []byte("old")))
}

func TestRunAllFacets(t *testing.T) {
	fs := testFilesystems(t)
	id := uuid.New()
	seed(t, fs, id)
	db := &fakeStore{pics: []uuid.UUID{id}}

	require.NoError(t, New(db, fs).Run(context.Background(), All(nil)))

	ctx := context.Background()
	for _, path := range []string{
		picture.ThumbPath(id), picture.TilePath(id, 0, 0), picture.HDWebPPath(id),
		picture.DirPath(id) + "/blurred.jpg", picture.DirPath(id) + "/blur_mask.png",
	} {
		ok, err := fs.Derivates.Exists(ctx, path)
		require.NoError(t, err)
		assert.False(t, ok, path)
	}
	ok, _ := fs.Permanent.Exists(ctx, picture.HDPath(id))
	assert.False(t, ok)
	ok, _ = fs.Tmp.Exists(ctx, picture.HDPath(id))
	assert.False(t, ok)
	assert.True(t, db.wipedAll)
}

func TestRunCacheFacetOnly(t *testing.T) {
	fs := testFilesystems(t)
	id := uuid.New()
	seed(t, fs, id)
	db := &fakeStore{pics: []uuid.UUID{id}}

	require.NoError(t, New(db, fs).Run(context.Background(), Options{Cache: true}))

	ctx := context.Background()
	ok, _ := fs.Derivates.Exists(ctx, picture.ThumbPath(id))
	assert.False(t, ok)
	// Originals and database untouched.
	ok, _ = fs.Permanent.Exists(ctx, picture.HDPath(id))
	assert.True(t, ok)
	assert.False(t, db.wipedAll)
	assert.Nil(t, db.deletedPic)
}

func TestRunScopedSequences(t *testing.T) {
	fs := testFilesystems(t)
	id := uuid.New()
	seqID := uuid.New()
	db := &fakeStore{pics: []uuid.UUID{id}}

	opts := All([]uuid.UUID{seqID})
	require.NoError(t, New(db, fs).Run(context.Background(), opts))

	assert.False(t, db.wipedAll)
	assert.Equal(t, []uuid.UUID{seqID}, db.deletedSeq)
	assert.Equal(t, []uuid.UUID{id}, db.deletedPic)
}

func TestRunTolerantOfMissingFiles(t *testing.T) {
	fs := testFilesystems(t)
	db := &fakeStore{pics: []uuid.UUID{uuid.New()}}

	// Nothing on disk: every facet still succeeds.
	assert.NoError(t, New(db, fs).Run(context.Background(), All(nil)))
}

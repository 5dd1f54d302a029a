// Package worker drains the picture process queue: metadata extraction,
// blurring, the move to permanent storage, derivate generation and
// sequence reassembly.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/streetpano/internal/blur"
	"github.com/your-org/streetpano/internal/config"
	"github.com/your-org/streetpano/internal/derivates"
	"github.com/your-org/streetpano/internal/exifmeta"
	"github.com/your-org/streetpano/internal/models"
	"github.com/your-org/streetpano/internal/objstore"
	"github.com/your-org/streetpano/internal/observability"
	"github.com/your-org/streetpano/internal/picture"
	"github.com/your-org/streetpano/internal/sequence"
	"github.com/your-org/streetpano/internal/storage"
)

// Store is the database surface the processor works against.
type Store interface {
	LockNextWork(ctx context.Context) (*storage.Work, error)
	GetPicture(ctx context.Context, id uuid.UUID) (*models.Picture, error)
	StartProcessing(ctx context.Context, id uuid.UUID) error
	ApplyMetadata(ctx context.Context, id uuid.UUID, capturedAt time.Time, lon, lat float64, heading *int, m models.Metadata) error
	SensorWidth(ctx context.Context, make, model string) (float64, bool, error)
	SetPictureStatus(ctx context.Context, id uuid.UUID, status models.PictureStatus) error
	SetPictureBlurred(ctx context.Context, id uuid.UUID) error
	ReadyPictures(ctx context.Context, seqID uuid.UUID) ([]models.Picture, error)
	SaveAssembly(ctx context.Context, seqID uuid.UUID, pics []models.Picture, geom models.LineString) error
}

// EventPublisher pushes picture status changes out for clients to follow.
type EventPublisher interface {
	PublishEvent(ctx context.Context, ev models.PictureEvent) error
}

type Processor struct {
	db     Store
	fs     *objstore.Filesystems
	blur   *blur.Client
	events EventPublisher
	cfg    config.ProcessConfig

	wake chan struct{}
}

func NewProcessor(db Store, fs *objstore.Filesystems, blurClient *blur.Client, events EventPublisher, cfg config.ProcessConfig) *Processor {
	return &Processor{
		db:     db,
		fs:     fs,
		blur:   blurClient,
		events: events,
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
	}
}

// Wake pokes the workers so they drain the queue without waiting for the
// next poll. Safe to call from any goroutine.
func (p *Processor) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run starts the worker goroutines and blocks until ctx is cancelled.
// Each worker drains the queue, then sleeps until the poll ticker or a
// wake-up fires.
func (p *Processor) Run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < p.cfg.WorkerCount; i++ {
		go func(id int) {
			defer func() { done <- struct{}{} }()
			p.runWorker(ctx, id)
		}(i)
	}
	for i := 0; i < p.cfg.WorkerCount; i++ {
		<-done
	}
}

func (p *Processor) runWorker(ctx context.Context, id int) {
	log := slog.With("worker", id)
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for {
			if ctx.Err() != nil {
				return
			}
			w, err := p.db.LockNextWork(ctx)
			if err != nil {
				log.Error("lock next work", "error", err)
				break
			}
			if w == nil {
				break
			}
			p.handle(ctx, log, w)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

func (p *Processor) handle(ctx context.Context, log *slog.Logger, w *storage.Work) {
	if ctx.Err() != nil {
		w.Release(ctx)
		return
	}
	log = log.With("picture", w.PictureID, "task", w.Task)

	var err error
	switch w.Task {
	case models.TaskDelete:
		err = p.deletePicture(ctx, w.PictureID)
	default:
		err = p.preparePicture(ctx, log, w)
	}

	if err == nil {
		if cerr := w.Complete(ctx); cerr != nil {
			log.Error("complete work", "error", cerr)
			return
		}
		observability.PicturesProcessed.WithLabelValues("ok").Inc()
		return
	}

	recoverable := isRecoverable(err)
	log.Error("process picture", "error", err, "recoverable", recoverable)
	if ferr := w.Fail(ctx, err, recoverable); ferr != nil {
		log.Error("record failure", "error", ferr)
	}
	if recoverable {
		observability.PicturesProcessed.WithLabelValues("recoverable").Inc()
	} else {
		observability.PicturesProcessed.WithLabelValues("fatal").Inc()
		p.publishStatus(ctx, w.PictureID, uuid.Nil, models.StatusBroken, err.Error())
	}
}

// isRecoverable classifies failures. A picture the extractor rejects can
// never succeed, so it goes straight to broken; everything else (blur
// service down, storage hiccup, database error) is worth retrying.
func isRecoverable(err error) bool {
	var xerr *exifmeta.Error
	return !errors.As(err, &xerr)
}

func (p *Processor) preparePicture(ctx context.Context, log *slog.Logger, w *storage.Work) error {
	pic, err := p.db.GetPicture(ctx, w.PictureID)
	if err != nil {
		return err
	}
	if pic == nil {
		log.Warn("queued picture no longer exists")
		return nil
	}

	if err := p.db.StartProcessing(ctx, pic.ID); err != nil {
		return err
	}
	p.publishStatus(ctx, pic.ID, pic.SequenceID, models.StatusPreparing, "")

	hdPath := picture.HDPath(pic.ID)
	data, moved, err := p.readOriginal(ctx, hdPath)
	if err != nil {
		return err
	}

	start := time.Now()
	res, err := exifmeta.Extract(data, p.cfg.KeepFullExif)
	if err != nil {
		return err
	}
	observability.ProcessingDuration.WithLabelValues("metadata").Observe(time.Since(start).Seconds())

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return &exifmeta.Error{Reason: "undecodable image", Err: err}
	}
	sizing := picture.SizingOf(img, res.Projection)

	meta := p.buildMetadata(ctx, pic, res, sizing)
	if err := p.db.ApplyMetadata(ctx, pic.ID, res.CapturedAt, res.Lon, res.Lat, res.Heading, meta); err != nil {
		return err
	}

	if p.blur != nil && !pic.IsBlurred && !pic.Metadata.BlurredByAuthor {
		start = time.Now()
		blurred, err := p.blur.Blur(ctx, data)
		if err != nil {
			observability.BlurCalls.WithLabelValues("error").Inc()
			return err
		}
		observability.BlurCalls.WithLabelValues("ok").Inc()
		observability.ProcessingDuration.WithLabelValues("blur").Observe(time.Since(start).Seconds())

		// Persist the blurred bytes before anything else so a crash
		// never leaves an unblurred original behind.
		target := p.fs.Tmp
		if moved {
			target = p.fs.Permanent
		}
		if err := target.Write(ctx, hdPath, blurred); err != nil {
			return fmt.Errorf("write blurred picture: %w", err)
		}
		if err := p.db.SetPictureBlurred(ctx, pic.ID); err != nil {
			return err
		}
		data = blurred
		if img, _, err = image.Decode(bytes.NewReader(data)); err != nil {
			return &exifmeta.Error{Reason: "undecodable blurred image", Err: err}
		}
	}

	if !moved {
		start = time.Now()
		if err := objstore.Move(ctx, p.fs.Tmp, hdPath, p.fs.Permanent, hdPath); err != nil {
			return err
		}
		observability.ProcessingDuration.WithLabelValues("move").Observe(time.Since(start).Seconds())
	}

	opts := derivates.Options{SkipSD: true, SkipTiles: true}
	if p.cfg.DerivatesStrategy == config.StrategyPreprocess {
		opts = derivates.Options{}
		if err := p.db.SetPictureStatus(ctx, pic.ID, models.StatusPreparingDerivates); err != nil {
			return err
		}
		p.publishStatus(ctx, pic.ID, pic.SequenceID, models.StatusPreparingDerivates, "")
	}
	start = time.Now()
	if err := derivates.Generate(ctx, p.fs.Derivates, data, img, sizing, picture.DirPath(pic.ID), res.Projection, opts); err != nil {
		return err
	}
	observability.ProcessingDuration.WithLabelValues("derivates").Observe(time.Since(start).Seconds())
	observability.DerivatesGenerated.WithLabelValues("thumb").Inc()
	if !opts.SkipSD {
		observability.DerivatesGenerated.WithLabelValues("sd").Inc()
	}
	if !opts.SkipTiles && res.Projection == models.ProjectionEquirectangular {
		observability.DerivatesGenerated.WithLabelValues("tile").Add(float64(sizing.Cols * sizing.Rows))
	}

	if err := p.db.SetPictureStatus(ctx, pic.ID, models.StatusReady); err != nil {
		return err
	}
	p.publishStatus(ctx, pic.ID, pic.SequenceID, models.StatusReady, "")

	start = time.Now()
	if err := p.assembleSequence(ctx, pic.SequenceID); err != nil {
		return err
	}
	observability.ProcessingDuration.WithLabelValues("assemble").Observe(time.Since(start).Seconds())

	log.Info("picture ready", "sequence", pic.SequenceID, "projection", res.Projection,
		"width", sizing.Width, "height", sizing.Height)
	return nil
}

// readOriginal finds the uploaded file, looking in tmp first and falling
// back to permanent storage for pictures whose previous attempt failed
// after the move.
func (p *Processor) readOriginal(ctx context.Context, hdPath string) (data []byte, moved bool, err error) {
	data, err = p.fs.Tmp.Read(ctx, hdPath)
	if err == nil {
		return data, false, nil
	}
	if !errors.Is(err, objstore.ErrNotFound) {
		return nil, false, fmt.Errorf("read original: %w", err)
	}

	data, err = p.fs.Permanent.Read(ctx, hdPath)
	if err != nil {
		if errors.Is(err, objstore.ErrNotFound) {
			return nil, false, &exifmeta.Error{Reason: "original file missing"}
		}
		return nil, false, fmt.Errorf("read original: %w", err)
	}
	return data, true, nil
}

// buildMetadata merges what the extractor found with the upload-time
// attributes already on the picture.
func (p *Processor) buildMetadata(ctx context.Context, pic *models.Picture, res *exifmeta.Result, sizing models.Sizing) models.Metadata {
	meta := models.Metadata{
		Type:             res.Projection,
		Width:            sizing.Width,
		Height:           sizing.Height,
		Cols:             sizing.Cols,
		Rows:             sizing.Rows,
		Make:             res.Make,
		Model:            res.Model,
		FocalLength:      res.FocalLength,
		OriginalFileName: pic.Metadata.OriginalFileName,
		BlurredByAuthor:  pic.Metadata.BlurredByAuthor,
		TagWarnings:      res.Warnings,
		Exif:             res.Exif,
	}

	if res.FocalLength > 0 && (res.Make != "" || res.Model != "") {
		sw, ok, err := p.db.SensorWidth(ctx, res.Make, res.Model)
		switch {
		case err != nil:
			slog.Warn("camera lookup failed", "error", err)
		case ok:
			fov := exifmeta.FieldOfView(sw, res.FocalLength)
			meta.FieldOfView = &fov
		default:
			meta.TagWarnings = append(meta.TagWarnings,
				fmt.Sprintf("unknown camera %q, field of view not available", res.Make+" "+res.Model))
		}
	}
	return meta
}

func (p *Processor) assembleSequence(ctx context.Context, seqID uuid.UUID) error {
	pics, err := p.db.ReadyPictures(ctx, seqID)
	if err != nil {
		return err
	}
	if len(pics) == 0 {
		return nil
	}
	pics, geom := sequence.Assemble(pics, sequence.DefaultMinSpacing)
	return p.db.SaveAssembly(ctx, seqID, pics, geom)
}

// deletePicture removes every file of a picture. The database rows go
// when the work item completes.
func (p *Processor) deletePicture(ctx context.Context, id uuid.UUID) error {
	hdPath := picture.HDPath(id)
	if err := p.fs.Derivates.DeleteTree(ctx, picture.DirPath(id)); err != nil {
		return fmt.Errorf("delete derivates: %w", err)
	}
	if err := p.fs.Derivates.Delete(ctx, picture.HDWebPPath(id)); err != nil {
		return fmt.Errorf("delete hd webp: %w", err)
	}
	if err := p.fs.Permanent.Delete(ctx, hdPath); err != nil {
		return fmt.Errorf("delete original: %w", err)
	}
	if err := p.fs.Tmp.Delete(ctx, hdPath); err != nil {
		return fmt.Errorf("delete upload: %w", err)
	}
	return nil
}

func (p *Processor) publishStatus(ctx context.Context, picID, seqID uuid.UUID, status models.PictureStatus, errMsg string) {
	if p.events == nil {
		return
	}
	ev := models.PictureEvent{
		PictureID:  picID,
		SequenceID: seqID,
		Status:     status,
		Error:      errMsg,
		At:         time.Now().UTC(),
	}
	if err := p.events.PublishEvent(ctx, ev); err != nil {
		slog.Warn("publish picture event", "error", err, "picture", picID)
	}
}

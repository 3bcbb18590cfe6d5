// Package archive stores finalized tracks.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/benmeehan/greta-tracker/internal/constants"
	"github.com/benmeehan/greta-tracker/internal/metrics"
	"github.com/benmeehan/greta-tracker/internal/models"
	"github.com/benmeehan/greta-tracker/internal/utils"
	"github.com/benmeehan/greta-tracker/pkg/file"
	"github.com/benmeehan/greta-tracker/pkg/s3"
	"github.com/rs/zerolog"
)

var ErrNotFinalized = errors.New("track is not finalized")

// Archive persists finalized tracks.
type Archive interface {
	Save(ctx context.Context, details models.TrackDetails) error
}

func objectName(details models.TrackDetails) string {
	return fmt.Sprintf("%s_%s.json", details.StartedAt.UTC().Format("20060102T150405Z"), details.ID)
}

func checkFinalized(details models.TrackDetails) error {
	if details.Status != models.TrackFinalized {
		return fmt.Errorf("%w: %s", ErrNotFinalized, details.ID)
	}
	return nil
}

// FileArchive writes one JSON document per track into a directory.
type FileArchive struct {
	dir        string
	fileClient file.FileOperations
}

func NewFileArchive(dir string, fileClient file.FileOperations) *FileArchive {
	return &FileArchive{dir: dir, fileClient: fileClient}
}

func (a *FileArchive) Save(ctx context.Context, details models.TrackDetails) (err error) {
	defer func() { metrics.IncArchiveSave(constants.ArchiveFile, err) }()

	if err := checkFinalized(details); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.fileClient.EnsureDir(a.dir); err != nil {
		return err
	}
	path := filepath.Join(a.dir, objectName(details))
	if err := a.fileClient.WriteJsonFile(path, details); err != nil {
		return fmt.Errorf("failed to write track %s: %w", details.ID, err)
	}
	return nil
}

// ObjectArchive uploads tracks as JSON objects to an S3 compatible bucket.
type ObjectArchive struct {
	storage s3.ObjectStorageClient
	bucket  string
}

func NewObjectArchive(storage s3.ObjectStorageClient, bucket string) *ObjectArchive {
	return &ObjectArchive{storage: storage, bucket: bucket}
}

func (a *ObjectArchive) Save(ctx context.Context, details models.TrackDetails) (err error) {
	defer func() { metrics.IncArchiveSave(constants.ArchiveS3, err) }()

	if err := checkFinalized(details); err != nil {
		return err
	}
	payload, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to serialize track %s: %w", details.ID, err)
	}
	if _, err := a.storage.PutObject(ctx, a.bucket, objectName(details), bytes.NewReader(payload), int64(len(payload)), "application/json"); err != nil {
		return err
	}
	return nil
}

// QueuedArchive saves tracks asynchronously on a worker pool so finalizing a
// track never waits on storage.
type QueuedArchive struct {
	inner   Archive
	pool    *utils.WorkerPool
	timeout time.Duration
	logger  zerolog.Logger
}

func NewQueuedArchive(inner Archive, pool *utils.WorkerPool, timeout time.Duration, logger zerolog.Logger) *QueuedArchive {
	return &QueuedArchive{inner: inner, pool: pool, timeout: timeout, logger: logger}
}

// Save queues the track. Only validation and queueing errors are returned;
// storage errors are logged by the worker.
func (a *QueuedArchive) Save(_ context.Context, details models.TrackDetails) error {
	if err := checkFinalized(details); err != nil {
		return err
	}
	return a.pool.Submit("archive:"+details.ID, func() {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()

		if err := a.inner.Save(ctx, details); err != nil {
			a.logger.Error().Err(err).Str("track_id", details.ID).Msg("Failed to archive track")
			return
		}
		a.logger.Info().
			Str("track_id", details.ID).
			Int("waypoints", len(details.WayPoints)).
			Msg("Track archived")
	})
}

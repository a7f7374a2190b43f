package libraryserver

import (
	"context"

	"cloud.google.com/go/storage"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// driveManager stores and removes binary objects (avatars, book covers)
// on the remote drive.
type driveManager interface {
	upload(ctx context.Context, object string, contentType string, data []byte) error
	remove(ctx context.Context, object string) error
	close() error
}

// gcsDrive keeps objects in a Google Cloud Storage bucket.  Credentials
// come from Application Default Credentials.
type gcsDrive struct {
	client *storage.Client
	bucket string
}

// newDrive builds the drive backend for the configured bucket.  The
// bucket is probed once so a misconfigured drive fails at startup, not on
// the first upload.  An empty bucket name disables uploads.
func newDrive(ctx context.Context, config *Config, logger *zap.SugaredLogger) (driveManager, error) {
	if config.DriveBucket == "" {
		logger.Warnw("no drive bucket configured, file storage disabled")
		return &noopDrive{}, nil
	}

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create drive client")
	}
	if _, err := client.Bucket(config.DriveBucket).Attrs(ctx); err != nil {
		err2 := client.Close()
		return nil, appendError(
			errors.Wrapf(err, "failed to probe drive bucket %q", config.DriveBucket),
			errors.WithStack(err2))
	}

	logger.Infow("drive bucket ready",
		"bucket", config.DriveBucket)
	return &gcsDrive{client: client, bucket: config.DriveBucket}, nil
}

func (d *gcsDrive) upload(ctx context.Context, object string, contentType string, data []byte) error {
	w := d.client.Bucket(d.bucket).Object(object).NewWriter(ctx)
	if contentType != "" {
		w.ContentType = contentType
	}
	if _, err := w.Write(data); err != nil {
		metricDriveOps.WithLabelValues("upload", "error").Inc()
		err2 := w.Close()
		return appendError(errors.WithStack(err), errors.WithStack(err2))
	}
	if err := w.Close(); err != nil {
		metricDriveOps.WithLabelValues("upload", "error").Inc()
		return errors.WithStack(err)
	}
	metricDriveOps.WithLabelValues("upload", "ok").Inc()
	return nil
}

func (d *gcsDrive) remove(ctx context.Context, object string) error {
	err := d.client.Bucket(d.bucket).Object(object).Delete(ctx)
	if err != nil {
		// Removing an object that is already gone is not a failure.
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		metricDriveOps.WithLabelValues("remove", "error").Inc()
		return errors.WithStack(err)
	}
	metricDriveOps.WithLabelValues("remove", "ok").Inc()
	return nil
}

func (d *gcsDrive) close() error {
	return errors.WithStack(d.client.Close())
}

// noopDrive satisfies driveManager when no bucket is configured.
type noopDrive struct{}

func (d *noopDrive) upload(ctx context.Context, object string, contentType string, data []byte) error {
	return nil
}

func (d *noopDrive) remove(ctx context.Context, object string) error {
	return nil
}

func (d *noopDrive) close() error {
	return nil
}

package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStorageClient is the object storage used to archive finished tracks.
type ObjectStorageClient interface {
	Connect(ctx context.Context, endpoint, accessKeyID, secretAccessKey string, useSSL bool) error
	PutObject(ctx context.Context, bucketName, objectName string, content io.Reader, size int64, contentType string) (int64, error)
}

// ObjectStorage holds the object storage client instance
type ObjectStorage struct {
	Conn   *minio.Client
	region string
}

// NewObjectStorage creates an unconnected client for the given region.
func NewObjectStorage(region string) *ObjectStorage {
	if region == "" {
		region = "us-east-1"
	}
	return &ObjectStorage{region: region}
}

// Connect establishes the object storage connection using client
func (o *ObjectStorage) Connect(ctx context.Context, endpoint, accessKeyID, secretAccessKey string, useSSL bool) error {
	var err error
	o.Conn, err = minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKeyID, secretAccessKey, ""),
		Secure: useSSL,
		Region: o.region,
	})
	if err != nil {
		return fmt.Errorf("failed to create minio client: %w", err)
	}

	// Check connection by listing buckets
	if _, err = o.Conn.ListBuckets(ctx); err != nil {
		return fmt.Errorf("failed to establish minio connection: %w", err)
	}

	return nil
}

// PutObject uploads content, creating the bucket on first use. It returns the
// stored object size.
func (o *ObjectStorage) PutObject(ctx context.Context, bucketName, objectName string, content io.Reader, size int64, contentType string) (int64, error) {
	if o.Conn == nil {
		return 0, fmt.Errorf("object storage is not connected")
	}

	exists, err := o.Conn.BucketExists(ctx, bucketName)
	if err != nil {
		return 0, fmt.Errorf("failed to check bucket %s: %w", bucketName, err)
	}
	if !exists {
		if err := o.Conn.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{Region: o.region}); err != nil {
			return 0, fmt.Errorf("failed to create bucket %s: %w", bucketName, err)
		}
	}

	// Overwrites if same object name already exists
	info, err := o.Conn.PutObject(ctx, bucketName, objectName, content, size, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upload %s/%s: %w", bucketName, objectName, err)
	}

	return info.Size, nil
}

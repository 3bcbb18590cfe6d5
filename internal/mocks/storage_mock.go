package mocks

import (
	"context"
	"io"

	"github.com/benmeehan/greta-tracker/internal/models"
	"github.com/stretchr/testify/mock"
)

// ObjectStorageClient is a mock implementation of the s3.ObjectStorageClient interface
type ObjectStorageClient struct {
	mock.Mock
}

func (m *ObjectStorageClient) Connect(ctx context.Context, endpoint, accessKeyID, secretAccessKey string, useSSL bool) error {
	args := m.Called(ctx, endpoint, accessKeyID, secretAccessKey, useSSL)
	return args.Error(0)
}

func (m *ObjectStorageClient) PutObject(ctx context.Context, bucketName, objectName string, content io.Reader, size int64, contentType string) (int64, error) {
	data, err := io.ReadAll(content)
	if err != nil {
		return 0, err
	}
	args := m.Called(ctx, bucketName, objectName, data, size, contentType)
	return args.Get(0).(int64), args.Error(1)
}

// Archive is a mock implementation of the archive.Archive interface
type Archive struct {
	mock.Mock
}

func (m *Archive) Save(ctx context.Context, details models.TrackDetails) error {
	args := m.Called(ctx, details)
	return args.Error(0)
}

package mocks

import (
	"context"

	"github.com/benmeehan/greta-tracker/pkg/location"
	"github.com/stretchr/testify/mock"
)

// LocationProvider is a mock implementation of the location.Provider interface
type LocationProvider struct {
	mock.Mock
}

func (m *LocationProvider) GetLocation(ctx context.Context) (location.Fix, error) {
	args := m.Called(ctx)
	return args.Get(0).(location.Fix), args.Error(1)
}

func (m *LocationProvider) Close() error {
	args := m.Called()
	return args.Error(0)
}

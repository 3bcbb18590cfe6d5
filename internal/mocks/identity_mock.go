package mocks

import "github.com/stretchr/testify/mock"

// UserInfo is a mock implementation of the identity.UserInfoInterface
type UserInfo struct {
	mock.Mock
}

// NewUserInfo returns a mock that answers with the given identity.
func NewUserInfo(userID, username string) *UserInfo {
	m := new(UserInfo)
	m.On("GetUserID").Return(userID).Maybe()
	m.On("GetUsername").Return(username).Maybe()
	m.On("LoadUserInfo").Return(nil).Maybe()
	return m
}

func (m *UserInfo) LoadUserInfo() error {
	args := m.Called()
	return args.Error(0)
}

func (m *UserInfo) GetUserID() string {
	args := m.Called()
	return args.String(0)
}

func (m *UserInfo) GetUsername() string {
	args := m.Called()
	return args.String(0)
}

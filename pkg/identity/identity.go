package identity

import (
	"fmt"

	"github.com/benmeehan/greta-tracker/pkg/file"
	"github.com/google/uuid"
)

// Identity holds the user's unique identifier and display name.
type Identity struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username,omitempty"`
}

// UserInfoInterface defines methods for managing the local user identity.
type UserInfoInterface interface {
	LoadUserInfo() error
	GetUserID() string
	GetUsername() string
}

// UserInfo manages the user identity and its associated file operations.
type UserInfo struct {
	UserInfoFile string
	Identity     Identity
	fileOps      file.FileOperations
}

// NewUserInfo initializes a new UserInfo instance. defaultUsername is used when the
// identity file carries none.
func NewUserInfo(filePath, defaultUsername string, fileOps file.FileOperations) *UserInfo {
	return &UserInfo{
		UserInfoFile: filePath,
		fileOps:      fileOps,
		Identity:     Identity{Username: defaultUsername},
	}
}

// LoadUserInfo reads the identity file. A missing file or user id is created and
// persisted with a freshly generated id.
func (u *UserInfo) LoadUserInfo() error {
	defaultUsername := u.Identity.Username

	exists, err := u.fileOps.IsFileExists(u.UserInfoFile)
	if err != nil {
		return fmt.Errorf("failed to check identity file: %w", err)
	}

	var loaded Identity
	if exists {
		if err := u.fileOps.ReadJsonFile(u.UserInfoFile, &loaded); err != nil {
			return fmt.Errorf("failed to read identity file: %w", err)
		}
	}
	if loaded.Username == "" {
		loaded.Username = defaultUsername
	}
	u.Identity = loaded

	if u.Identity.UserID != "" {
		return nil
	}
	u.Identity.UserID = uuid.NewString()
	if err := u.fileOps.WriteJsonFile(u.UserInfoFile, u.Identity); err != nil {
		return fmt.Errorf("failed to persist identity: %w", err)
	}
	return nil
}

// GetUserID returns the current user ID.
func (u *UserInfo) GetUserID() string {
	return u.Identity.UserID
}

// GetUsername returns the display name shown to other users.
func (u *UserInfo) GetUsername() string {
	return u.Identity.Username
}

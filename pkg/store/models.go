package store

import (
	"errors"
	"time"
)

// Domain errors returned by the credential store. The dispatcher maps
// these onto protocol responses, so they distinguish every refusal the
// protocol can express.
var (
	ErrMountNotFound    = errors.New("mount not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrAdminNotFound    = errors.New("admin not found")
	ErrBadUserPassword  = errors.New("invalid user password")
	ErrBadMountPassword = errors.New("invalid mount password")
	ErrNotAuthorized    = errors.New("user not authorized for mount")
	ErrDuplicateUser    = errors.New("user already exists")
	ErrDuplicateMount   = errors.New("mount already exists")
	ErrDuplicateAdmin   = errors.New("admin already exists")
)

// Admin is a caster operator account. Admins authenticate against the
// web API and the CLI, never against the NTRIP port.
type Admin struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Username     string `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"not null" json:"-"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// User is a rover (download) account. NTRIP 2.0 base stations also
// authenticate as users.
type User struct {
	ID           uint   `gorm:"primaryKey" json:"id"`
	Username     string `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string `gorm:"not null" json:"-"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Mount is a registered mount point credential. Secret is the upload
// password checked for 0.8/1.0/RTSP producers. OwnerID, when set, binds
// 2.0 uploads to a single user account.
type Mount struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	Name      string  `gorm:"uniqueIndex;not null" json:"name"`
	Secret    string  `gorm:"not null" json:"-"`
	OwnerID   *uint   `gorm:"index" json:"owner_id,omitempty"`
	Owner     *User   `gorm:"foreignKey:OwnerID" json:"-"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// allModels lists every model for AutoMigrate.
func allModels() []any {
	return []any{&Admin{}, &User{}, &Mount{}}
}

package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
)

// EnvAdminInitialPassword overrides the generated password for the
// bootstrap admin account.
const EnvAdminInitialPassword = "NTRIPCASTER_ADMIN_PASSWORD"

const defaultAdminUsername = "admin"

// GetAdmin looks up an admin account by username.
func (s *Store) GetAdmin(ctx context.Context, username string) (*Admin, error) {
	var admin Admin
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&admin).Error; err != nil {
		return nil, convertNotFoundError(err, ErrAdminNotFound)
	}
	return &admin, nil
}

// CreateAdmin inserts a new admin account.
func (s *Store) CreateAdmin(ctx context.Context, username, password string) (*Admin, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	admin := &Admin{Username: username, PasswordHash: hash}
	if err := s.db.WithContext(ctx).Create(admin).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDuplicateAdmin
		}
		return nil, err
	}
	return admin, nil
}

// SetAdminPassword replaces an admin's password.
func (s *Store) SetAdminPassword(ctx context.Context, username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&Admin{}).
		Where("username = ?", username).
		Update("password_hash", hash)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrAdminNotFound
	}
	return nil
}

// VerifyAdmin checks an admin username/password pair.
func (s *Store) VerifyAdmin(ctx context.Context, username, password string) (*Admin, error) {
	admin, err := s.GetAdmin(ctx, username)
	if err != nil {
		return nil, err
	}
	if !VerifyPassword(password, admin.PasswordHash) {
		return nil, ErrBadUserPassword
	}
	return admin, nil
}

// EnsureAdmin creates the bootstrap admin account if none exists.
// Returns the generated password on first creation, empty when the
// account was already present.
func (s *Store) EnsureAdmin(ctx context.Context) (string, error) {
	_, err := s.GetAdmin(ctx, defaultAdminUsername)
	if err == nil {
		return "", nil
	}
	if !errors.Is(err, ErrAdminNotFound) {
		return "", err
	}

	password := os.Getenv(EnvAdminInitialPassword)
	if password == "" {
		raw := make([]byte, 12)
		if _, err := rand.Read(raw); err != nil {
			return "", fmt.Errorf("failed to generate password: %w", err)
		}
		password = hex.EncodeToString(raw)
	}

	if _, err := s.CreateAdmin(ctx, defaultAdminUsername, password); err != nil {
		return "", fmt.Errorf("failed to create admin account: %w", err)
	}

	return password, nil
}

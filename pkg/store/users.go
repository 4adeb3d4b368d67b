package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// GetUser looks up a user by username.
func (s *Store) GetUser(ctx context.Context, username string) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, convertNotFoundError(err, ErrUserNotFound)
	}
	return &user, nil
}

// GetUserByID looks up a user by primary key. Used to resolve mount
// owner bindings for display.
func (s *Store) GetUserByID(ctx context.Context, id uint) (*User, error) {
	var user User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, convertNotFoundError(err, ErrUserNotFound)
	}
	return &user, nil
}

// ListUsers returns all users ordered by username.
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	var users []*User
	if err := s.db.WithContext(ctx).Order("username").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

// CreateUser inserts a new user. The password is hashed before storage.
func (s *Store) CreateUser(ctx context.Context, username, password string) (*User, error) {
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}

	user := &User{Username: username, PasswordHash: hash}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDuplicateUser
		}
		return nil, err
	}
	return user, nil
}

// UpdateUserPassword replaces a user's password.
func (s *Store) UpdateUserPassword(ctx context.Context, username, password string) error {
	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	result := s.db.WithContext(ctx).
		Model(&User{}).
		Where("username = ?", username).
		Update("password_hash", hash)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrUserNotFound
	}
	return nil
}

// DeleteUser removes a user and releases ownership of any mounts bound
// to it.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user User
		if err := tx.Where("username = ?", username).First(&user).Error; err != nil {
			return convertNotFoundError(err, ErrUserNotFound)
		}

		if err := tx.Model(&Mount{}).Where("owner_id = ?", user.ID).Update("owner_id", nil).Error; err != nil {
			return err
		}

		return tx.Delete(&user).Error
	})
}

// ValidateUser checks a username/password pair against the store.
func (s *Store) ValidateUser(ctx context.Context, username, password string) (*User, error) {
	user, err := s.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	if !VerifyPassword(password, user.PasswordHash) {
		return nil, ErrBadUserPassword
	}

	return user, nil
}

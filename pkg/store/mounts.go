package store

import (
	"context"
	"errors"

	"github.com/2rtk/ntripcaster/pkg/ntrip"
)

// GetMount looks up a mount credential by name.
func (s *Store) GetMount(ctx context.Context, name string) (*Mount, error) {
	var mount Mount
	if err := s.db.WithContext(ctx).Where("name = ?", name).First(&mount).Error; err != nil {
		return nil, convertNotFoundError(err, ErrMountNotFound)
	}
	return &mount, nil
}

// ListMounts returns all registered mount credentials ordered by name.
func (s *Store) ListMounts(ctx context.Context) ([]*Mount, error) {
	var mounts []*Mount
	if err := s.db.WithContext(ctx).Order("name").Find(&mounts).Error; err != nil {
		return nil, err
	}
	return mounts, nil
}

// CreateMount registers a mount credential. The secret is stored as
// given: 0.8/1.0 producers send it verbatim, so the caster must be able
// to compare it by equality.
func (s *Store) CreateMount(ctx context.Context, name, secret string, ownerID *uint) (*Mount, error) {
	mount := &Mount{Name: name, Secret: secret, OwnerID: ownerID}
	if err := s.db.WithContext(ctx).Create(mount).Error; err != nil {
		if isUniqueConstraintError(err) {
			return nil, ErrDuplicateMount
		}
		return nil, err
	}
	return mount, nil
}

// UpdateMount changes a mount's secret and/or owner binding.
func (s *Store) UpdateMount(ctx context.Context, name string, secret *string, ownerID *uint, clearOwner bool) error {
	mount, err := s.GetMount(ctx, name)
	if err != nil {
		return err
	}

	updates := map[string]any{}
	if secret != nil {
		updates["secret"] = *secret
	}
	if clearOwner {
		updates["owner_id"] = nil
	} else if ownerID != nil {
		updates["owner_id"] = *ownerID
	}
	if len(updates) == 0 {
		return nil
	}

	return s.db.WithContext(ctx).Model(mount).Updates(updates).Error
}

// DeleteMount removes a mount credential.
func (s *Store) DeleteMount(ctx context.Context, name string) error {
	result := s.db.WithContext(ctx).Where("name = ?", name).Delete(&Mount{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMountNotFound
	}
	return nil
}

// VerifyProducer authorizes an upload to a mount.
//
// For the 0.8, 1.0, and RTSP dialects the producer supplies only the
// mount secret, compared by plain equality; user credentials are
// ignored. For 2.0 the producer authenticates as a user: the user's
// password must verify and, when the mount is bound to an owner, the
// owner must be that user. The 2.0 path never checks the mount secret.
func (s *Store) VerifyProducer(ctx context.Context, mountName string, dialect ntrip.Dialect, mountSecret, username, userPassword string) error {
	mount, err := s.GetMount(ctx, mountName)
	if err != nil {
		return err
	}

	if dialect != ntrip.DialectV20 {
		if mount.Secret != mountSecret {
			return ErrBadMountPassword
		}
		return nil
	}

	user, err := s.ValidateUser(ctx, username, userPassword)
	if err != nil {
		return err
	}

	if mount.OwnerID != nil && *mount.OwnerID != user.ID {
		return ErrNotAuthorized
	}

	return nil
}

// VerifyConsumer authorizes a download from a mount. The mount must be
// registered and the user's credentials must verify; mount ownership is
// not checked for consumers.
func (s *Store) VerifyConsumer(ctx context.Context, mountName, username, password string) error {
	if _, err := s.GetMount(ctx, mountName); err != nil {
		return err
	}

	if _, err := s.ValidateUser(ctx, username, password); err != nil {
		return err
	}

	return nil
}

// UserPassword returns the stored password for digest verification.
// Digest auth needs the cleartext password to compute HA1, so it only
// works for legacy plaintext records; hashed records cannot be used
// with digest and return false.
func (s *Store) UserPassword(ctx context.Context, username string) (string, bool, error) {
	user, err := s.GetUser(ctx, username)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return "", false, nil
		}
		return "", false, err
	}

	if IsHashed(user.PasswordHash) {
		return "", false, nil
	}
	return user.PasswordHash, true, nil
}

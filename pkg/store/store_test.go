package store

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2rtk/ntripcaster/pkg/ntrip"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewInMemory()
	require.NoError(t, err)
	return s
}

func TestHashAndVerifyPassword(t *testing.T) {
	hash, err := HashPassword("secret123")
	require.NoError(t, err)

	salt, digest, found := strings.Cut(hash, "$")
	require.True(t, found, "hash must carry a salt separator")
	assert.Len(t, salt, 32, "salt is 16 bytes hex-encoded")
	assert.Len(t, digest, 64, "digest is 32 bytes hex-encoded")

	assert.True(t, VerifyPassword("secret123", hash))
	assert.False(t, VerifyPassword("secret124", hash))
	assert.False(t, VerifyPassword("", hash))

	// Same password hashes differently each time (random salt).
	hash2, err := HashPassword("secret123")
	require.NoError(t, err)
	assert.NotEqual(t, hash, hash2)
	assert.True(t, VerifyPassword("secret123", hash2))
}

func TestVerifyPasswordLegacyPlaintext(t *testing.T) {
	assert.True(t, VerifyPassword("oldpw", "oldpw"))
	assert.False(t, VerifyPassword("oldpw", "otherpw"))
	assert.False(t, IsHashed("oldpw"))
}

func TestUserCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	user, err := s.CreateUser(ctx, "u1", "pw1")
	require.NoError(t, err)
	assert.NotZero(t, user.ID)
	assert.True(t, IsHashed(user.PasswordHash))

	_, err = s.CreateUser(ctx, "u1", "pw2")
	assert.ErrorIs(t, err, ErrDuplicateUser)

	got, err := s.ValidateUser(ctx, "u1", "pw1")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = s.ValidateUser(ctx, "u1", "wrong")
	assert.ErrorIs(t, err, ErrBadUserPassword)

	_, err = s.ValidateUser(ctx, "ghost", "pw")
	assert.ErrorIs(t, err, ErrUserNotFound)

	require.NoError(t, s.UpdateUserPassword(ctx, "u1", "pw9"))
	_, err = s.ValidateUser(ctx, "u1", "pw9")
	assert.NoError(t, err)

	require.NoError(t, s.DeleteUser(ctx, "u1"))
	_, err = s.GetUser(ctx, "u1")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestVerifyProducerNativeDialects(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateMount(ctx, "BASE1", "pw1", nil)
	require.NoError(t, err)

	for _, d := range []ntrip.Dialect{ntrip.DialectV08, ntrip.DialectV10Native, ntrip.DialectV10HTTP, ntrip.DialectRTSP} {
		assert.NoError(t, s.VerifyProducer(ctx, "BASE1", d, "pw1", "", ""), "dialect %s", d)
		assert.ErrorIs(t, s.VerifyProducer(ctx, "BASE1", d, "bad", "", ""), ErrBadMountPassword, "dialect %s", d)
	}

	assert.ErrorIs(t, s.VerifyProducer(ctx, "GHOST", ntrip.DialectV10Native, "pw1", "", ""), ErrMountNotFound)
}

func TestVerifyProducerV20Ownership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner, err := s.CreateUser(ctx, "owner", "opw")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "other", "xpw")
	require.NoError(t, err)

	_, err = s.CreateMount(ctx, "BOUND", "secret", &owner.ID)
	require.NoError(t, err)
	_, err = s.CreateMount(ctx, "FREE", "secret", nil)
	require.NoError(t, err)

	// V20 ignores the mount secret; user credentials decide.
	assert.NoError(t, s.VerifyProducer(ctx, "BOUND", ntrip.DialectV20, "", "owner", "opw"))
	assert.ErrorIs(t, s.VerifyProducer(ctx, "BOUND", ntrip.DialectV20, "", "owner", "bad"), ErrBadUserPassword)
	assert.ErrorIs(t, s.VerifyProducer(ctx, "BOUND", ntrip.DialectV20, "", "other", "xpw"), ErrNotAuthorized)

	// Unbound mounts accept any valid user.
	assert.NoError(t, s.VerifyProducer(ctx, "FREE", ntrip.DialectV20, "", "other", "xpw"))
}

func TestVerifyConsumer(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner, err := s.CreateUser(ctx, "owner", "opw")
	require.NoError(t, err)
	_, err = s.CreateUser(ctx, "rover", "rpw")
	require.NoError(t, err)
	_, err = s.CreateMount(ctx, "BASE1", "pw1", &owner.ID)
	require.NoError(t, err)

	// Ownership is not checked for consumers.
	assert.NoError(t, s.VerifyConsumer(ctx, "BASE1", "rover", "rpw"))
	assert.ErrorIs(t, s.VerifyConsumer(ctx, "BASE1", "rover", "bad"), ErrBadUserPassword)
	assert.ErrorIs(t, s.VerifyConsumer(ctx, "GHOST", "rover", "rpw"), ErrMountNotFound)
}

func TestDeleteUserReleasesMounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	owner, err := s.CreateUser(ctx, "owner", "opw")
	require.NoError(t, err)
	_, err = s.CreateMount(ctx, "BASE1", "pw1", &owner.ID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteUser(ctx, "owner"))

	mount, err := s.GetMount(ctx, "BASE1")
	require.NoError(t, err)
	assert.Nil(t, mount.OwnerID)
}

func TestAdminBootstrap(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	password, err := s.EnsureAdmin(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, password)

	_, err = s.VerifyAdmin(ctx, "admin", password)
	assert.NoError(t, err)
	_, err = s.VerifyAdmin(ctx, "admin", "wrong")
	assert.ErrorIs(t, err, ErrBadUserPassword)

	// Second call is a no-op.
	again, err := s.EnsureAdmin(ctx)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestUserPasswordForDigest(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Hashed records cannot back digest auth.
	_, err := s.CreateUser(ctx, "hashed", "pw")
	require.NoError(t, err)
	_, ok, err := s.UserPassword(ctx, "hashed")
	require.NoError(t, err)
	assert.False(t, ok)

	// Legacy plaintext records can.
	require.NoError(t, s.DB().Create(&User{Username: "legacy", PasswordHash: "plainpw"}).Error)
	pw, ok, err := s.UserPassword(ctx, "legacy")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "plainpw", pw)

	_, ok, err = s.UserPassword(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

package credential

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/weiawesome/peace-chat/internal/config"
	"github.com/weiawesome/peace-chat/internal/domain"
	"github.com/weiawesome/peace-chat/pkg/database"
)

// testStore runs the behaviour every driver must share.
func testStore(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("create and find case-insensitively", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, &domain.User{Username: "Alice", Password: "secret"}))

		u, err := s.FindByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, "Alice", u.Username, "stored casing is canonical")
		assert.Equal(t, "secret", u.Password)
	})

	t.Run("duplicate username", func(t *testing.T) {
		err := s.Create(ctx, &domain.User{Username: "ALICE", Password: "x"})
		assert.ErrorIs(t, err, ErrUsernameExists)
	})

	t.Run("unknown user", func(t *testing.T) {
		_, err := s.FindByUsername(ctx, "nobody")
		assert.ErrorIs(t, err, ErrUserNotFound)
		assert.ErrorIs(t, s.UpdatePassword(ctx, "nobody", "x"), ErrUserNotFound)
		assert.ErrorIs(t, s.Delete(ctx, "nobody"), ErrUserNotFound)
		_, err = s.SetLastCleared(ctx, "nobody", 1)
		assert.ErrorIs(t, err, ErrUserNotFound)
	})

	t.Run("update password", func(t *testing.T) {
		require.NoError(t, s.UpdatePassword(ctx, "alice", "new"))
		u, err := s.FindByUsername(ctx, "Alice")
		require.NoError(t, err)
		assert.Equal(t, "new", u.Password)
	})

	t.Run("watermark never moves backwards", func(t *testing.T) {
		at, err := s.SetLastCleared(ctx, "alice", 500)
		require.NoError(t, err)
		assert.Equal(t, int64(500), at)

		at, err = s.SetLastCleared(ctx, "alice", 300)
		require.NoError(t, err)
		assert.Equal(t, int64(500), at)

		u, err := s.FindByUsername(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(500), u.LastCleared)
	})

	t.Run("list and delete", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, &domain.User{Username: "bob", Password: "pw"}))

		users, err := s.List(ctx)
		require.NoError(t, err)
		names := make([]string, 0, len(users))
		for _, u := range users {
			names = append(names, u.Username)
		}
		assert.ElementsMatch(t, []string{"Alice", "bob"}, names)

		require.NoError(t, s.Delete(ctx, "BOB"))
		_, err = s.FindByUsername(ctx, "bob")
		assert.ErrorIs(t, err, ErrUserNotFound)
	})
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	s, err := NewFileStore(path, false)
	require.NoError(t, err)
	defer s.Close()

	testStore(t, s)

	t.Run("persists across reopen", func(t *testing.T) {
		reopened, err := NewFileStore(path, false)
		require.NoError(t, err)
		u, err := reopened.FindByUsername(context.Background(), "alice")
		require.NoError(t, err)
		assert.Equal(t, int64(500), u.LastCleared)
	})
}

func TestFileStore_ReadsLegacyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"username":"carol","password":"plain"}]`), 0o600))

	s, err := NewFileStore(path, false)
	require.NoError(t, err)

	u, err := s.FindByUsername(context.Background(), "Carol")
	require.NoError(t, err)
	assert.Equal(t, "plain", u.Password)
	assert.Zero(t, u.LastCleared)
}

func TestFileStore_MissingAndCorruptFile(t *testing.T) {
	dir := t.TempDir()

	s, err := NewFileStore(filepath.Join(dir, "absent.json"), false)
	require.NoError(t, err)
	users, err := s.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{not json`), 0o600))
	_, err = NewFileStore(bad, false)
	assert.Error(t, err)
}

func TestFileStore_WatchReloadsExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "users.json")
	s, err := NewFileStore(path, true)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, os.WriteFile(path, []byte(`[{"username":"dave","password":"pw"}]`), 0o600))

	assert.Eventually(t, func() bool {
		_, err := s.FindByUsername(context.Background(), "dave")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)
}

func TestGormStore_SQLite(t *testing.T) {
	s, err := NewGormStore(&database.Config{
		Driver:   "sqlite",
		FilePath: filepath.Join(t.TempDir(), "chat.db"),
	})
	require.NoError(t, err)
	defer s.Close()

	testStore(t, s)
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("REDIS_ADDRESS")
	if addr == "" {
		t.Skip("REDIS_ADDRESS not set")
	}
	s, err := NewRedisStore(RedisConfig{
		Address: addr,
		Prefix:  "test:user:" + time.Now().Format("150405.000000"),
	})
	require.NoError(t, err)
	defer s.Close()

	testStore(t, s)
}

func TestNew_UnknownDriver(t *testing.T) {
	_, err := New(&config.Config{Credentials: config.CredentialsConfig{Driver: "ldap"}})
	assert.Error(t, err)

	s, err := New(&config.Config{Credentials: config.CredentialsConfig{
		Driver: "file",
		File:   filepath.Join(t.TempDir(), "users.json"),
	}})
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	assert.NoError(t, s.Close())
}

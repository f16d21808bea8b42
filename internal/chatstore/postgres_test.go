package chatstore

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/ragd/internal/domain"
)

// newTestPostgres connects to the database named by TEST_DATABASE_URL,
// skipping when unset so the suite runs without infrastructure.
func newTestPostgres(t *testing.T) *Postgres {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set; skipping Postgres integration test")
	}

	store, err := NewPostgres(context.Background(), PostgresConfig{URL: dsn}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(store.Close)
	return store
}

func TestPostgresSessionAndMessages(t *testing.T) {
	store := newTestPostgres(t)
	ctx := context.Background()

	sess, err := store.CreateSession(ctx, "itest-owner", "integration")
	require.NoError(t, err)
	assert.Positive(t, sess.Handle)

	t.Cleanup(func() {
		_, _ = store.DeleteSession(ctx, sess.ID)
	})

	for i := 0; i < 3; i++ {
		msg, err := store.AddMessage(ctx, sess.ID, domain.RoleUser, fmt.Sprintf("turn %d", i))
		require.NoError(t, err)
		assert.Equal(t, i, msg.Index)
	}

	msgs, err := store.ListMessages(ctx, sess.ID, 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, 1, msgs[0].Index)
	assert.Equal(t, 2, msgs[1].Index)

	byHandle, err := store.GetSessionByHandle(ctx, sess.Handle)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, byHandle.ID)

	deleted, err := store.DeleteSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.GetSession(ctx, sess.ID)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestPostgresUserUniqueEmail(t *testing.T) {
	store := newTestPostgres(t)
	ctx := context.Background()

	email := fmt.Sprintf("itest-%s@example.com", uuid.New().String())
	_, err := store.CreateUser(ctx, email, "hash", "")
	require.NoError(t, err)

	_, err = store.CreateUser(ctx, email, "hash2", "")
	assert.True(t, domain.IsKind(err, domain.KindValidation))
}

func TestPostgresHealth(t *testing.T) {
	store := newTestPostgres(t)

	h := store.Health(context.Background())
	assert.True(t, h.Configured)
	assert.True(t, h.Connected)
}

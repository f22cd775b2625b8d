package redisstore

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func setupRepository(t *testing.T) (*IdempotencyRepository, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewIdempotencyRepository(client), mr
}

func TestCreateProcessing_StoresRecordWithTTL(t *testing.T) {
	repo, mr := setupRepository(t)

	ttlAt := time.Now().UTC().Add(time.Hour)
	created, err := repo.CreateProcessing("key-1", "hash-1", ttlAt)
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusProcessing, created.Status)

	require.True(t, mr.Exists(defaultKeyPrefix+"key-1"))
	ttl := mr.TTL(defaultKeyPrefix + "key-1")
	assert.Greater(t, ttl, 59*time.Minute)
	assert.LessOrEqual(t, ttl, time.Hour)

	got, err := repo.Get("key-1")
	require.NoError(t, err)
	assert.Equal(t, "hash-1", got.RequestHash)
	assert.True(t, got.TTLAt.Equal(ttlAt))
}

func TestCreateProcessing_Conflicts(t *testing.T) {
	repo, _ := setupRepository(t)

	_, err := repo.CreateProcessing("key-1", "hash-1", time.Time{})
	require.NoError(t, err)

	existing, err := repo.CreateProcessing("key-1", "hash-1", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyKeyAlreadyExists)
	assert.Equal(t, domain.IdempotencyStatusProcessing, existing.Status)

	_, err = repo.CreateProcessing("key-1", "hash-2", time.Time{})
	require.ErrorIs(t, err, domain.ErrIdempotencyHashMismatch)
	assert.True(t, domain.IsIdempotencyConflict(err))
}

func TestCreateProcessing_Validation(t *testing.T) {
	repo, _ := setupRepository(t)

	_, err := repo.CreateProcessing(" ", "hash", time.Time{})
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyRequired)

	_, err = repo.CreateProcessing("key", "", time.Time{})
	assert.ErrorIs(t, err, domain.ErrIdempotencyRequestHashRequired)
}

func TestMarkDone_KeepsTTLAndStoresResponse(t *testing.T) {
	repo, mr := setupRepository(t)

	_, err := repo.CreateProcessing("key-1", "hash-1", time.Now().UTC().Add(30*time.Minute))
	require.NoError(t, err)

	require.NoError(t, repo.MarkDone("key-1", []byte(`{"order_id":"o-1"}`), 0))

	got, err := repo.Get("key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusDone, got.Status)
	assert.JSONEq(t, `{"order_id":"o-1"}`, string(got.ResponseBody))
	assert.Greater(t, mr.TTL(defaultKeyPrefix+"key-1"), time.Duration(0))
}

func TestMarkFailed_StoresStatusCode(t *testing.T) {
	repo, _ := setupRepository(t)

	_, err := repo.CreateProcessing("key-1", "hash-1", time.Time{})
	require.NoError(t, err)
	require.NoError(t, repo.MarkFailed("key-1", []byte("stock deduction failed"), 9))

	got, err := repo.Get("key-1")
	require.NoError(t, err)
	assert.Equal(t, domain.IdempotencyStatusFailed, got.Status)
	assert.Equal(t, 9, got.StatusCode)

	assert.ErrorIs(t, repo.MarkDone("missing", nil, 0), domain.ErrIdempotencyKeyNotFound)
}

func TestRecordExpiresInRedis(t *testing.T) {
	repo, mr := setupRepository(t)

	_, err := repo.CreateProcessing("key-1", "hash-1", time.Now().UTC().Add(time.Minute))
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	_, err = repo.Get("key-1")
	assert.ErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestDeleteExpired(t *testing.T) {
	repo, _ := setupRepository(t)

	now := time.Now().UTC()
	for _, key := range []string{"old-1", "old-2", "old-3"} {
		_, err := repo.CreateProcessing(key, "h", now.Add(-time.Minute))
		require.NoError(t, err)
	}
	_, err := repo.CreateProcessing("active", "h", now.Add(time.Hour))
	require.NoError(t, err)

	removed, err := repo.DeleteExpired(now, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = repo.DeleteExpired(now, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = repo.Get("active")
	assert.NoError(t, err)
}

func TestGet_CorruptedRecord(t *testing.T) {
	repo, mr := setupRepository(t)

	require.NoError(t, mr.Set(defaultKeyPrefix+"broken", "not json"))

	_, err := repo.Get("broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrIdempotencyKeyNotFound)
}

func TestWithKeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := NewIdempotencyRepository(client, WithKeyPrefix("test:"))
	_, err := repo.CreateProcessing("k", "h", time.Time{})
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:k"))
}

package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/familyportal/devicelink/internal/testutil"
)

func TestPostgresPairingCodeRepository(t *testing.T) {
	db := testutil.StartPostgres(t)

	t.Run("contract", func(t *testing.T) {
		testPairingCodeRepository(t, NewPostgresPairingCodeRepository(db, nil, testLifetimes))
	})

	t.Run("delete expired", func(t *testing.T) {
		ctx := context.Background()
		_, err := db.ExecContext(ctx, `TRUNCATE pairing_codes`)
		require.NoError(t, err)

		repo := NewPostgresPairingCodeRepository(db, nil, testLifetimes)
		now := time.Now()

		_, err = repo.Create(ctx, createParams("KEEP23"))
		require.NoError(t, err)

		old := createParams("GONE23")
		old.CreatedAt = now.Add(-testLifetimes.PendingTTL - time.Minute)
		_, err = repo.Create(ctx, old)
		require.NoError(t, err)

		count, err := repo.DeleteExpired(ctx, now)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)

		_, err = repo.FindByCode(ctx, "GONE23")
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = repo.FindByCode(ctx, "KEEP23")
		assert.NoError(t, err)
	})
}

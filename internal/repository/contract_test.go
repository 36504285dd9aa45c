package repository

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/familyportal/devicelink/internal/model"
)

var testLifetimes = Lifetimes{PendingTTL: 10 * time.Minute, LinkedGrace: time.Minute}

func createParams(code string) model.CreatePairingCodeParams {
	return model.CreatePairingCodeParams{
		ID:        uuid.NewString(),
		Code:      code,
		CreatedAt: time.Now(),
	}
}

func linkParams(code, token string) model.MarkLinkedParams {
	return model.MarkLinkedParams{
		Code:       code,
		Credential: model.Credential{Token: token, ExpiresAt: time.Now().Add(time.Hour)},
		Identity:   model.Identity{Subject: "u1", Email: "a@b.com", Name: "Ann"},
		LinkedAt:   time.Now(),
	}
}

// testPairingCodeRepository runs the behaviour every backend must share.
func testPairingCodeRepository(t *testing.T, repo PairingCodeRepository) {
	ctx := context.Background()

	t.Run("create then find returns pending record", func(t *testing.T) {
		params := createParams("ABC123")
		created, err := repo.Create(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, params.ID, created.ID)
		assert.Equal(t, model.PairingStatusPending, created.Status)

		found, err := repo.FindByCode(ctx, "ABC123")
		require.NoError(t, err)
		assert.Equal(t, params.ID, found.ID)
		assert.Equal(t, model.PairingStatusPending, found.Status)
		assert.Nil(t, found.Credential)
		assert.Nil(t, found.Identity)
		assert.WithinDuration(t, params.CreatedAt, found.CreatedAt, time.Millisecond)
	})

	t.Run("duplicate code conflicts", func(t *testing.T) {
		_, err := repo.Create(ctx, createParams("DUP234"))
		require.NoError(t, err)

		_, err = repo.Create(ctx, createParams("DUP234"))
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("unknown code is not found", func(t *testing.T) {
		_, err := repo.FindByCode(ctx, "NOPE00")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = repo.MarkLinked(ctx, linkParams("NOPE00", "tok"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("mark linked stores credential and identity", func(t *testing.T) {
		_, err := repo.Create(ctx, createParams("LNK234"))
		require.NoError(t, err)

		params := linkParams("LNK234", "ya29.token")
		linked, err := repo.MarkLinked(ctx, params)
		require.NoError(t, err)
		assert.Equal(t, model.PairingStatusLinked, linked.Status)

		found, err := repo.FindByCode(ctx, "LNK234")
		require.NoError(t, err)
		assert.True(t, found.IsLinked())
		require.NotNil(t, found.Credential)
		assert.Equal(t, "ya29.token", found.Credential.Token)
		assert.WithinDuration(t, params.Credential.ExpiresAt, found.Credential.ExpiresAt, time.Millisecond)
		require.NotNil(t, found.Identity)
		assert.Equal(t, "u1", found.Identity.Subject)
		assert.Equal(t, "a@b.com", found.Identity.Email)
		require.NotNil(t, found.LinkedAt)
	})

	t.Run("second link is rejected and does not overwrite", func(t *testing.T) {
		_, err := repo.Create(ctx, createParams("TWO234"))
		require.NoError(t, err)

		_, err = repo.MarkLinked(ctx, linkParams("TWO234", "first"))
		require.NoError(t, err)

		_, err = repo.MarkLinked(ctx, linkParams("TWO234", "second"))
		assert.ErrorIs(t, err, ErrAlreadyLinked)

		found, err := repo.FindByCode(ctx, "TWO234")
		require.NoError(t, err)
		assert.Equal(t, "first", found.Credential.Token)
	})

	t.Run("concurrent links have exactly one winner", func(t *testing.T) {
		_, err := repo.Create(ctx, createParams("RACE23"))
		require.NoError(t, err)

		const workers = 16
		var wg sync.WaitGroup
		results := make(chan error, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.MarkLinked(ctx, linkParams("RACE23", uuid.NewString()))
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		var wins, rejected int
		for err := range results {
			switch {
			case err == nil:
				wins++
			case assert.ErrorIs(t, err, ErrAlreadyLinked):
				rejected++
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, workers-1, rejected)
	})

	t.Run("stale pending code cannot be linked", func(t *testing.T) {
		params := createParams("OLD234")
		params.CreatedAt = time.Now().Add(-testLifetimes.PendingTTL - time.Second)
		_, err := repo.Create(ctx, params)
		require.NoError(t, err)

		_, err = repo.MarkLinked(ctx, linkParams("OLD234", "tok"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, repo.Ping(ctx))
	})
}

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/itzluthfi/tower-defense/internal/store"
	"github.com/itzluthfi/tower-defense/internal/testutils"
)

func TestPostgres_Contract(t *testing.T) {
	pg := testutils.StartPostgres(t)
	hasher := store.NewBcryptHasher(bcrypt.MinCost)

	runContract(t,
		func(t *testing.T) backend {
			pg.Truncate(t)
			return store.NewPostgres(pg.Pool, hasher, testutils.Logger())
		},
		func(t *testing.T, s backend, id uuid.UUID, d time.Duration) {
			_, err := pg.Pool.Exec(context.Background(),
				`UPDATE matches SET created_at = created_at - make_interval(secs => $2) WHERE id = $1::uuid`,
				id.String(), d.Seconds())
			require.NoError(t, err)
		},
	)
}

// TestPostgres_GetMatch 結束後的欄位與 NULL 處理
func TestPostgres_GetMatch(t *testing.T) {
	pg := testutils.StartPostgres(t)
	s := store.NewPostgres(pg.Pool, store.NewBcryptHasher(bcrypt.MinCost), testutils.Logger())
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))

	alice := mustUser(t, s, "alice")
	bob := mustUser(t, s, "bob")

	id := uuid.New()
	require.NoError(t, s.CreateWaiting(ctx, id, "PGTEST", store.RoleAttacker, alice))

	rec, err := s.GetMatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, alice, rec.AttackerID)
	assert.Zero(t, rec.DefenderID)
	assert.Empty(t, rec.Reason)
	assert.Equal(t, store.StatusWaiting, rec.Status)

	require.NoError(t, s.FillSecondRole(ctx, id, store.RoleDefender, bob))
	require.NoError(t, s.Finish(ctx, id, store.MatchResult{
		WinnerID:    bob,
		LoserID:     alice,
		Reason:      "Time Limit Reached",
		FinalBaseHP: 60,
		DurationSec: 180,
	}))

	rec, err = s.GetMatch(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, bob, rec.DefenderID)
	assert.Equal(t, bob, rec.WinnerID)
	assert.Equal(t, alice, rec.LoserID)
	assert.Equal(t, "Time Limit Reached", rec.Reason)
	assert.Equal(t, 60, rec.BaseHPFinal)
	assert.Equal(t, 180, rec.DurationSec)
	assert.Equal(t, store.StatusFinished, rec.Status)

	_, err = s.GetMatch(ctx, uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

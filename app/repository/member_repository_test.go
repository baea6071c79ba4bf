package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/DuesFox/app/models"
	"github.com/ManuelReschke/DuesFox/internal/pkg/cache/cachetest"
	"github.com/ManuelReschke/DuesFox/internal/pkg/clock"
	"github.com/ManuelReschke/DuesFox/internal/pkg/database/dbtest"
)

func seedMember(t *testing.T, repo MemberRepository, id int64, paid *time.Time, method string) {
	t.Helper()
	m := &models.Member{
		ID:              id,
		Username:        "member",
		LastName:        "Smirnov",
		FirstName:       "Ilya",
		Status:          "Supporter",
		Contribution:    1500,
		LastPaymentDate: paid,
	}
	if method != "" {
		m.PaymentMethodID = &method
	}
	require.NoError(t, repo.Create(context.Background(), m))
}

func day(y int, m time.Month, d int) *time.Time {
	t := clock.Date(y, m, d)
	return &t
}

func TestMemberRepositoryListAndGet(t *testing.T) {
	repo := NewMemberRepository(dbtest.Open(t))
	ctx := context.Background()

	seedMember(t, repo, 20, day(2024, time.March, 10), "pm_20")
	seedMember(t, repo, 10, nil, "")

	members, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.Equal(t, int64(10), members[0].ID)
	assert.Equal(t, int64(20), members[1].ID)

	got, err := repo.GetByID(ctx, 20)
	require.NoError(t, err)
	require.NotNil(t, got.LastPaymentDate)
	assert.True(t, clock.Date(2024, time.March, 10).Equal(clock.DateOf(*got.LastPaymentDate)))
	assert.Equal(t, "pm_20", got.StoredMethodID())

	_, err = repo.GetByID(ctx, 99)
	assert.ErrorIs(t, err, ErrMemberNotFound)

	require.NoError(t, repo.Ping(ctx))
}

func TestMemberRepositoryUpdateBillingFields(t *testing.T) {
	repo := NewMemberRepository(dbtest.Open(t))
	ctx := context.Background()
	seedMember(t, repo, 1, day(2024, time.March, 10), "pm_1")

	require.NoError(t, repo.UpdateBillingFields(ctx, 1, models.NewBillingUpdate().
		SetLastFailedPaymentDate(clock.Date(2025, time.March, 10)).
		SetPreExpiryNotifiedDate(clock.Date(2025, time.March, 9))))

	got, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.FailedOn(clock.Date(2025, time.March, 10)))
	assert.True(t, got.PreExpiryNotifiedOn(clock.Date(2025, time.March, 9)))
	assert.Equal(t, "Smirnov", got.LastName)

	require.NoError(t, repo.UpdateBillingFields(ctx, 1, models.NewBillingUpdate().StartNewCycle(clock.Date(2025, time.March, 12))))
	got, err = repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got.LastFailedPaymentDate)
	assert.Nil(t, got.PreExpiryNotifiedDate)
	assert.True(t, clock.Date(2025, time.March, 12).Equal(clock.DateOf(*got.LastPaymentDate)))

	err = repo.UpdateBillingFields(ctx, 42, models.NewBillingUpdate().ClearAdminNotifiedDate())
	assert.ErrorIs(t, err, ErrMemberNotFound)

	assert.NoError(t, repo.UpdateBillingFields(ctx, 42, models.NewBillingUpdate()))
}

func TestMemberRepositoryWithMemberLockRollsBack(t *testing.T) {
	repo := NewMemberRepository(dbtest.Open(t))
	ctx := context.Background()
	seedMember(t, repo, 1, day(2024, time.March, 10), "pm_1")

	boom := errors.New("boom")
	err := repo.WithMemberLock(ctx, 1, func(tx MemberRepository, m *models.Member) error {
		assert.Equal(t, int64(1), m.ID)
		require.NoError(t, tx.UpdateBillingFields(ctx, m.ID, models.NewBillingUpdate().
			SetLastFailedPaymentDate(clock.Date(2025, time.March, 10))))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got.LastFailedPaymentDate)

	err = repo.WithMemberLock(ctx, 1, func(tx MemberRepository, m *models.Member) error {
		return tx.UpdateBillingFields(ctx, m.ID, models.NewBillingUpdate().
			SetLastFailedPaymentDate(clock.Date(2025, time.March, 10)))
	})
	require.NoError(t, err)

	got, err = repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.NotNil(t, got.LastFailedPaymentDate)

	err = repo.WithMemberLock(ctx, 404, func(MemberRepository, *models.Member) error { return nil })
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestCachedMemberRepositoryInvalidatesOnWrite(t *testing.T) {
	rdb := cachetest.NewIsolatedClient(t, 12)
	base := NewMemberRepository(dbtest.Open(t))
	repo := NewCachedMemberRepository(base, rdb, time.Minute)
	ctx := context.Background()
	seedMember(t, base, 1, day(2024, time.March, 10), "pm_1")

	_, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	exists, err := rdb.Exists(ctx, MemberCacheKey(1)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)

	require.NoError(t, repo.UpdateBillingFields(ctx, 1, models.NewBillingUpdate().
		SetAdminNotifiedDate(clock.Date(2025, time.March, 24))))
	exists, err = rdb.Exists(ctx, MemberCacheKey(1)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)

	got, err := repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.True(t, got.AdminNotified())

	require.NoError(t, repo.WithMemberLock(ctx, 1, func(tx MemberRepository, m *models.Member) error {
		return tx.UpdateBillingFields(ctx, m.ID, models.NewBillingUpdate().ClearAdminNotifiedDate())
	}))
	got, err = repo.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.False(t, got.AdminNotified())
}

func TestNewCachedMemberRepositoryWithoutClient(t *testing.T) {
	base := NewMemberRepository(dbtest.Open(t))
	assert.Same(t, base, NewCachedMemberRepository(base, nil, time.Minute))
}

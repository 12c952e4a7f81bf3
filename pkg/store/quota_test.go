package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eduardocaminha/radreport/pkg/report"
)

func newQuotaStore(t *testing.T) *Store {
	st, err := New()
	require.NoError(t, err)
	return st
}

func TestQuotaAutoProvisionsFreeTier(t *testing.T) {
	st := newQuotaStore(t)

	profile, err := st.GetProfile("new-user")
	require.NoError(t, err)
	assert.Equal(t, report.TierFree, profile.Tier)
	assert.Zero(t, profile.ReportsThisMonth)
}

func TestQuotaFreeTierLimit(t *testing.T) {
	st := newQuotaStore(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, st.CheckAndConsume("u1"), "request %d should pass", i+1)
	}
	assert.ErrorIs(t, st.CheckAndConsume("u1"), ErrQuotaExceeded)

	profile, err := st.GetProfile("u1")
	require.NoError(t, err)
	assert.Equal(t, 10, profile.ReportsThisMonth)
}

func TestQuotaRejectionDoesNotConsume(t *testing.T) {
	st := newQuotaStore(t)

	for i := 0; i < 10; i++ {
		require.NoError(t, st.CheckAndConsume("u1"))
	}
	for i := 0; i < 3; i++ {
		require.ErrorIs(t, st.CheckAndConsume("u1"), ErrQuotaExceeded)
	}

	profile, err := st.GetProfile("u1")
	require.NoError(t, err)
	assert.Equal(t, 10, profile.ReportsThisMonth)
}

func TestQuotaProTier(t *testing.T) {
	st := newQuotaStore(t)
	require.NoError(t, st.SetTier("u1", report.TierPro))

	for i := 0; i < 100; i++ {
		require.NoError(t, st.CheckAndConsume("u1"))
	}
	assert.ErrorIs(t, st.CheckAndConsume("u1"), ErrQuotaExceeded)
}

func TestQuotaEnterpriseUnbounded(t *testing.T) {
	st := newQuotaStore(t)
	require.NoError(t, st.SetTier("u1", report.TierEnterprise))

	for i := 0; i < 250; i++ {
		require.NoError(t, st.CheckAndConsume("u1"))
	}
}

func TestQuotaMonthlyReset(t *testing.T) {
	st := newQuotaStore(t)

	current := time.Date(2026, time.January, 15, 10, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return current }

	for i := 0; i < 10; i++ {
		require.NoError(t, st.CheckAndConsume("u1"))
	}
	require.ErrorIs(t, st.CheckAndConsume("u1"), ErrQuotaExceeded)

	// Next month, without any explicit reset job.
	current = time.Date(2026, time.February, 1, 0, 30, 0, 0, time.UTC)
	require.NoError(t, st.CheckAndConsume("u1"))

	profile, err := st.GetProfile("u1")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.ReportsThisMonth)
}

func TestQuotaResetKeyedOnYearToo(t *testing.T) {
	st := newQuotaStore(t)

	current := time.Date(2026, time.March, 15, 10, 0, 0, 0, time.UTC)
	st.now = func() time.Time { return current }

	for i := 0; i < 10; i++ {
		require.NoError(t, st.CheckAndConsume("u1"))
	}

	// Same month, one year later.
	current = time.Date(2027, time.March, 15, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.CheckAndConsume("u1"))
}

func TestTierLimit(t *testing.T) {
	assert.Equal(t, 10, TierLimit(report.TierFree))
	assert.Equal(t, 100, TierLimit(report.TierPro))
	assert.Negative(t, TierLimit(report.TierEnterprise))
	assert.Equal(t, 10, TierLimit(report.Tier("unknown")))
}

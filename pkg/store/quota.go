package store

import (
	"time"

	memdb "github.com/hashicorp/go-memdb"

	"github.com/eduardocaminha/radreport/pkg/report"
	"github.com/eduardocaminha/radreport/pkg/utils"
)

// Profile is the per-user quota row. UpdatedAt doubles as the marker for the
// lazy monthly reset.
type Profile struct {
	UserID           string
	Tier             report.Tier
	ReportsThisMonth int
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TierLimit returns the monthly generation allowance; a negative value means
// unbounded.
func TierLimit(tier report.Tier) int {
	switch tier {
	case report.TierPro:
		return 100
	case report.TierEnterprise:
		return -1
	default:
		return 10
	}
}

// GetProfile returns the stored profile, auto-provisioning a free-tier row
// for unknown users.
func (s *Store) GetProfile(userID string) (Profile, error) {
	txn := s.db.Txn(true)
	defer txn.Abort()

	profile, err := ensureProfile(txn, userID, s.now())
	if err != nil {
		return Profile{}, utils.WrapIfNotNil(err)
	}
	txn.Commit()
	return profile, nil
}

// SetTier records a subscription change.
func (s *Store) SetTier(userID string, tier report.Tier) error {
	txn := s.db.Txn(true)
	defer txn.Abort()

	profile, err := ensureProfile(txn, userID, s.now())
	if err != nil {
		return utils.WrapIfNotNil(err)
	}
	profile.Tier = tier
	if err := txn.Insert(tableProfiles, &profile); err != nil {
		return utils.WrapIfNotNil(err)
	}
	txn.Commit()
	return nil
}

// CheckAndConsume performs the quota gate as one read-modify-write under the
// single-writer transaction: lazy monthly reset, limit check, increment. Two
// concurrent requests at a near-exhausted quota cannot both pass. The
// increment happens before any backend call is issued; over-quota callers
// are refused with ErrQuotaExceeded.
func (s *Store) CheckAndConsume(userID string) error {
	now := s.now()

	txn := s.db.Txn(true)
	defer txn.Abort()

	profile, err := ensureProfile(txn, userID, now)
	if err != nil {
		return utils.WrapIfNotNil(err)
	}

	if profile.UpdatedAt.Month() != now.Month() || profile.UpdatedAt.Year() != now.Year() {
		profile.ReportsThisMonth = 0
	}

	limit := TierLimit(profile.Tier)
	if limit >= 0 && profile.ReportsThisMonth >= limit {
		return ErrQuotaExceeded
	}

	profile.ReportsThisMonth++
	profile.UpdatedAt = now
	if err := txn.Insert(tableProfiles, &profile); err != nil {
		return utils.WrapIfNotNil(err)
	}
	txn.Commit()
	return nil
}

func ensureProfile(txn *memdb.Txn, userID string, now time.Time) (Profile, error) {
	raw, err := txn.First(tableProfiles, "id", userID)
	if err != nil {
		return Profile{}, err
	}
	if raw != nil {
		return *raw.(*Profile), nil
	}

	profile := Profile{
		UserID:    userID,
		Tier:      report.TierFree,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := txn.Insert(tableProfiles, &profile); err != nil {
		return Profile{}, err
	}
	return profile, nil
}

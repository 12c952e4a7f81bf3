package store

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/eduardocaminha/radreport/pkg/report"
	"github.com/eduardocaminha/radreport/pkg/utils"
)

// GenerationRecord is one row of the generation audit log. Input text is
// never stored, only its hash and length.
type GenerationRecord struct {
	ID              uint64
	UserID          string
	InputTextHash   string
	InputTextLength int
	InputTokens     int64
	OutputTokens    int64
	TotalTokens     int64
	CostUSD         float64
	CostBRL         float64
	Model           string
	DurationMs      int64
	Mode            report.Mode
	Locale          string
	ResearchDetail  bool
	Success         bool
	ErrorMessage    string
	CreatedAt       time.Time
}

// HashInputText returns the SHA-256 hex digest used to dedupe audit rows.
func HashInputText(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func (s *Store) RecordGeneration(record GenerationRecord) error {
	record.ID = s.nextID.Add(1)
	record.CreatedAt = s.now()

	txn := s.db.Txn(true)
	defer txn.Abort()
	if err := txn.Insert(tableGenerations, &record); err != nil {
		return utils.WrapIfNotNil(err)
	}
	txn.Commit()
	return nil
}

// GenerationsForUser returns audit rows in insertion order.
func (s *Store) GenerationsForUser(userID string) ([]GenerationRecord, error) {
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableGenerations, "user", userID)
	if err != nil {
		return nil, utils.WrapIfNotNil(err)
	}

	records := make([]GenerationRecord, 0)
	for raw := it.Next(); raw != nil; raw = it.Next() {
		records = append(records, *raw.(*GenerationRecord))
	}
	return records, nil
}

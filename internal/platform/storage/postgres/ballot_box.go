package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/fairvote/fairvote/internal/domain"
)

const maxCastAttempts = 3

// BallotBox implements the atomic vote unit: inside one serializable
// transaction it verifies the voter has no ballot yet, locks and increments
// the tally, and inserts the ballot. Serialization conflicts between
// concurrent casts are retried with the whole read-check-write unit;
// ErrAlreadyVoted and ErrTallyMissing are terminal.
type BallotBox struct {
	db *gorm.DB
}

func NewBallotBox(db *gorm.DB) *BallotBox {
	return &BallotBox{db: db}
}

func (b *BallotBox) Cast(ctx context.Context, ballot domain.Ballot) error {
	var lastErr error
	for attempt := 0; attempt < maxCastAttempts; attempt++ {
		err := b.castOnce(ctx, ballot)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, domain.ErrAlreadyVoted), errors.Is(err, domain.ErrTallyMissing):
			return err
		case isSerializationFailure(err):
			lastErr = err
			continue
		default:
			return err
		}
	}
	return fmt.Errorf("ballot box: cast retries exhausted: %w", lastErr)
}

func (b *BallotBox) castOnce(ctx context.Context, ballot domain.Ballot) error {
	return b.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing ballotModel
		err := tx.Where("election_id = ? AND voter_id = ?", string(ballot.ElectionID), string(ballot.VoterID)).
			Take(&existing).Error
		if err == nil {
			return domain.ErrAlreadyVoted
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("ballot box: ballot lookup: %w", err)
		}

		var tally tallyModel
		query := tx
		if tx.Dialector.Name() == "postgres" {
			// Row lock narrows the conflict window; SQLite serializes
			// writers on its own and rejects FOR UPDATE.
			query = tx.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		if err := query.Take(&tally, "election_id = ?", string(ballot.ElectionID)).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrTallyMissing
			}
			return fmt.Errorf("ballot box: tally lookup: %w", err)
		}

		counts, err := decodeCounts(tally.Counts)
		if err != nil {
			return fmt.Errorf("ballot box: %w", err)
		}
		for _, candidate := range ballot.Selections {
			counts[candidate]++
		}
		encoded, err := encodeCounts(counts)
		if err != nil {
			return fmt.Errorf("ballot box: %w", err)
		}

		if err := tx.Model(&tallyModel{}).
			Where("election_id = ?", string(ballot.ElectionID)).
			Updates(map[string]any{
				"counts":      encoded,
				"total_votes": tally.TotalVotes + int64(len(ballot.Selections)),
				"updated_at":  ballot.CreatedAt,
			}).Error; err != nil {
			return fmt.Errorf("ballot box: tally update: %w", err)
		}

		model, err := fromDomainBallot(ballot)
		if err != nil {
			return err
		}
		if err := tx.Create(&model).Error; err != nil {
			// The unique (election_id, voter_id) index makes a lost
			// same-voter race deterministic even when the pre-read
			// missed the concurrent insert.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return domain.ErrAlreadyVoted
			}
			return fmt.Errorf("ballot box: ballot insert: %w", err)
		}

		return nil
	}, &sql.TxOptions{Isolation: sql.LevelSerializable})
}

func isSerializationFailure(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	// Postgres SQLSTATE 40001 (serialization) and 40P01 (deadlock); SQLite
	// reports contention as a busy/locked database.
	return strings.Contains(msg, "40001") ||
		strings.Contains(msg, "40P01") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

var _ domain.BallotBox = (*BallotBox)(nil)

package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fairvote/fairvote/internal/domain"
)

// BallotRepository reads the immutable ballot log. Writes go exclusively
// through the BallotBox so that the tally and the log never diverge.
type BallotRepository struct {
	db *gorm.DB
}

func NewBallotRepository(db *gorm.DB) *BallotRepository {
	return &BallotRepository{db: db}
}

type ballotModel struct {
	ID         string    `gorm:"column:id;type:char(26);primaryKey"`
	ElectionID string    `gorm:"column:election_id;type:char(26);not null;uniqueIndex:uq_ballots_election_voter,priority:1;index:idx_ballots_election"`
	VoterID    string    `gorm:"column:voter_id;not null;uniqueIndex:uq_ballots_election_voter,priority:2"`
	VoterEmail string    `gorm:"column:voter_email;not null"`
	Selections string    `gorm:"column:selections;not null"`
	CreatedAt  time.Time `gorm:"column:created_at"`
}

func (ballotModel) TableName() string {
	return "ballots"
}

func (m ballotModel) toDomain() (domain.Ballot, error) {
	selections, err := decodeStrings(m.Selections)
	if err != nil {
		return domain.Ballot{}, fmt.Errorf("gorm ballots: %w", err)
	}
	return domain.Ballot{
		ID:         domain.BallotID(m.ID),
		ElectionID: domain.ElectionID(m.ElectionID),
		VoterID:    domain.UserID(m.VoterID),
		VoterEmail: m.VoterEmail,
		Selections: selections,
		CreatedAt:  m.CreatedAt,
	}, nil
}

func fromDomainBallot(b domain.Ballot) (ballotModel, error) {
	selections, err := encodeStrings(b.Selections)
	if err != nil {
		return ballotModel{}, fmt.Errorf("gorm ballots: %w", err)
	}
	return ballotModel{
		ID:         string(b.ID),
		ElectionID: string(b.ElectionID),
		VoterID:    string(b.VoterID),
		VoterEmail: b.VoterEmail,
		Selections: selections,
		CreatedAt:  b.CreatedAt,
	}, nil
}

func (r *BallotRepository) FindByVoter(ctx context.Context, electionID domain.ElectionID, voter domain.UserID) (domain.Ballot, error) {
	var model ballotModel
	if err := r.db.WithContext(ctx).
		Where("election_id = ? AND voter_id = ?", string(electionID), string(voter)).
		Take(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Ballot{}, domain.ErrNotFound
		}
		return domain.Ballot{}, fmt.Errorf("gorm ballots: find by voter: %w", err)
	}
	return model.toDomain()
}

func (r *BallotRepository) ListByElection(ctx context.Context, electionID domain.ElectionID) ([]domain.Ballot, error) {
	var models []ballotModel
	if err := r.db.WithContext(ctx).
		Where("election_id = ?", string(electionID)).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("gorm ballots: list by election: %w", err)
	}

	result := make([]domain.Ballot, len(models))
	for i, model := range models {
		b, err := model.toDomain()
		if err != nil {
			return nil, err
		}
		result[i] = b
	}
	return result, nil
}

var _ domain.BallotRepository = (*BallotRepository)(nil)

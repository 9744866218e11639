package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fairvote/fairvote/internal/domain"
)

// TallyRepository persists the per-election aggregate. The counts column is
// only mutated through the BallotBox transaction or Publish.
type TallyRepository struct {
	db *gorm.DB
}

func NewTallyRepository(db *gorm.DB) *TallyRepository {
	return &TallyRepository{db: db}
}

type tallyModel struct {
	ElectionID  string    `gorm:"column:election_id;type:char(26);primaryKey"`
	Title       string    `gorm:"column:title;not null"`
	CreatorID   string    `gorm:"column:creator_id;not null"`
	Candidates  string    `gorm:"column:candidates;not null"`
	Counts      string    `gorm:"column:counts;not null"`
	TotalVotes  int64     `gorm:"column:total_votes;not null;default:0"`
	IsClosed    bool      `gorm:"column:is_closed;not null;default:false"`
	IsPublished bool      `gorm:"column:is_published;not null;default:false"`
	CreatedAt   time.Time `gorm:"column:created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at"`
}

func (tallyModel) TableName() string {
	return "tallies"
}

func (m tallyModel) toDomain() (domain.Tally, error) {
	candidates, err := decodeStrings(m.Candidates)
	if err != nil {
		return domain.Tally{}, fmt.Errorf("gorm tallies: %w", err)
	}
	counts, err := decodeCounts(m.Counts)
	if err != nil {
		return domain.Tally{}, fmt.Errorf("gorm tallies: %w", err)
	}
	return domain.Tally{
		ElectionID:  domain.ElectionID(m.ElectionID),
		Title:       m.Title,
		CreatorID:   domain.UserID(m.CreatorID),
		Candidates:  candidates,
		Counts:      counts,
		TotalVotes:  m.TotalVotes,
		IsClosed:    m.IsClosed,
		IsPublished: m.IsPublished,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

func fromDomainTally(t domain.Tally) (tallyModel, error) {
	candidates, err := encodeStrings(t.Candidates)
	if err != nil {
		return tallyModel{}, fmt.Errorf("gorm tallies: %w", err)
	}
	counts, err := encodeCounts(t.Counts)
	if err != nil {
		return tallyModel{}, fmt.Errorf("gorm tallies: %w", err)
	}
	return tallyModel{
		ElectionID:  string(t.ElectionID),
		Title:       t.Title,
		CreatorID:   string(t.CreatorID),
		Candidates:  candidates,
		Counts:      counts,
		TotalVotes:  t.TotalVotes,
		IsClosed:    t.IsClosed,
		IsPublished: t.IsPublished,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}, nil
}

func (r *TallyRepository) Create(ctx context.Context, t domain.Tally) error {
	model, err := fromDomainTally(t)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("gorm tallies: insert: %w", err)
	}
	return nil
}

func (r *TallyRepository) FindByElection(ctx context.Context, id domain.ElectionID) (domain.Tally, error) {
	var model tallyModel
	if err := r.db.WithContext(ctx).
		First(&model, "election_id = ?", string(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Tally{}, domain.ErrNotFound
		}
		return domain.Tally{}, fmt.Errorf("gorm tallies: find by election: %w", err)
	}
	return model.toDomain()
}

func (r *TallyRepository) Publish(ctx context.Context, id domain.ElectionID, counts map[string]int64, totalVotes int64, at time.Time) error {
	encoded, err := encodeCounts(counts)
	if err != nil {
		return fmt.Errorf("gorm tallies: %w", err)
	}

	// Column-level update merges the publish result without touching the
	// denormalized title/candidates fields.
	res := r.db.WithContext(ctx).Model(&tallyModel{}).
		Where("election_id = ?", string(id)).
		Updates(map[string]any{
			"counts":       encoded,
			"total_votes":  totalVotes,
			"is_closed":    true,
			"is_published": true,
			"updated_at":   at,
		})
	if res.Error != nil {
		return fmt.Errorf("gorm tallies: publish: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

var _ domain.TallyRepository = (*TallyRepository)(nil)

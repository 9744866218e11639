package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/fairvote/fairvote/internal/domain"
)

// ElectionRepository maps the election aggregate onto GORM tables. The
// eligible list lives in a child table so the store can answer "which
// elections include this email" with an indexed lookup.
type ElectionRepository struct {
	db *gorm.DB
}

func NewElectionRepository(db *gorm.DB) *ElectionRepository {
	return &ElectionRepository{db: db}
}

type electionModel struct {
	ID            string              `gorm:"column:id;type:char(26);primaryKey"`
	Title         string              `gorm:"column:title;not null"`
	CreatorID     string              `gorm:"column:creator_id;index;not null"`
	CreatorEmail  string              `gorm:"column:creator_email;not null"`
	MaxSelections int                 `gorm:"column:max_selections;not null"`
	Candidates    string              `gorm:"column:candidates;not null"`
	IsClosed      bool                `gorm:"column:is_closed;not null;default:false"`
	IsPublished   bool                `gorm:"column:is_published;not null;default:false"`
	CreatedAt     time.Time           `gorm:"column:created_at"`
	UpdatedAt     time.Time           `gorm:"column:updated_at"`
	Voters        []electionVoterModel `gorm:"foreignKey:ElectionID;references:ID"`
}

func (electionModel) TableName() string {
	return "elections"
}

type electionVoterModel struct {
	ElectionID string `gorm:"column:election_id;type:char(26);primaryKey"`
	Email      string `gorm:"column:email;primaryKey;index:idx_election_voters_email"`
}

func (electionVoterModel) TableName() string {
	return "election_voters"
}

func (m electionModel) toDomain() (domain.Election, error) {
	candidates, err := decodeStrings(m.Candidates)
	if err != nil {
		return domain.Election{}, fmt.Errorf("gorm elections: %w", err)
	}

	emails := make([]string, len(m.Voters))
	for i, v := range m.Voters {
		emails[i] = v.Email
	}

	return domain.Election{
		ID:             domain.ElectionID(m.ID),
		Title:          m.Title,
		CreatorID:      domain.UserID(m.CreatorID),
		CreatorEmail:   m.CreatorEmail,
		MaxSelections:  m.MaxSelections,
		Candidates:     candidates,
		EligibleEmails: emails,
		IsClosed:       m.IsClosed,
		IsPublished:    m.IsPublished,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}, nil
}

func fromDomainElection(e domain.Election) (electionModel, error) {
	candidates, err := encodeStrings(e.Candidates)
	if err != nil {
		return electionModel{}, fmt.Errorf("gorm elections: %w", err)
	}

	voters := make([]electionVoterModel, len(e.EligibleEmails))
	for i, email := range e.EligibleEmails {
		voters[i] = electionVoterModel{ElectionID: string(e.ID), Email: email}
	}

	return electionModel{
		ID:            string(e.ID),
		Title:         e.Title,
		CreatorID:     string(e.CreatorID),
		CreatorEmail:  e.CreatorEmail,
		MaxSelections: e.MaxSelections,
		Candidates:    candidates,
		IsClosed:      e.IsClosed,
		IsPublished:   e.IsPublished,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
		Voters:        voters,
	}, nil
}

func (r *ElectionRepository) Create(ctx context.Context, e domain.Election) error {
	model, err := fromDomainElection(e)
	if err != nil {
		return err
	}
	// Associated voter rows are inserted together with the election row.
	if err := r.db.WithContext(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("gorm elections: insert: %w", err)
	}
	return nil
}

func (r *ElectionRepository) FindByID(ctx context.Context, id domain.ElectionID) (domain.Election, error) {
	var model electionModel
	if err := r.db.WithContext(ctx).
		Preload("Voters").
		First(&model, "id = ?", string(id)).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Election{}, domain.ErrNotFound
		}
		return domain.Election{}, fmt.Errorf("gorm elections: find by id: %w", err)
	}
	return model.toDomain()
}

func (r *ElectionRepository) ListByCreator(ctx context.Context, creator domain.UserID) ([]domain.Election, error) {
	var models []electionModel
	if err := r.db.WithContext(ctx).
		Preload("Voters").
		Where("creator_id = ?", string(creator)).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("gorm elections: list by creator: %w", err)
	}
	return toDomainElections(models)
}

func (r *ElectionRepository) ListByEligibleEmail(ctx context.Context, email string) ([]domain.Election, error) {
	var models []electionModel
	if err := r.db.WithContext(ctx).
		Preload("Voters").
		Joins("JOIN election_voters ON election_voters.election_id = elections.id").
		Where("election_voters.email = ?", email).
		Order("elections.created_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("gorm elections: list by eligible email: %w", err)
	}
	return toDomainElections(models)
}

func (r *ElectionRepository) SetClosed(ctx context.Context, id domain.ElectionID, closed bool, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&electionModel{}).
		Where("id = ?", string(id)).
		Updates(map[string]any{
			"is_closed":  closed,
			"updated_at": at,
		})
	if res.Error != nil {
		return fmt.Errorf("gorm elections: set closed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (r *ElectionRepository) MarkPublished(ctx context.Context, id domain.ElectionID, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&electionModel{}).
		Where("id = ?", string(id)).
		Updates(map[string]any{
			"is_published": true,
			"updated_at":   at,
		})
	if res.Error != nil {
		return fmt.Errorf("gorm elections: mark published: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func toDomainElections(models []electionModel) ([]domain.Election, error) {
	result := make([]domain.Election, len(models))
	for i, model := range models {
		e, err := model.toDomain()
		if err != nil {
			return nil, err
		}
		result[i] = e
	}
	return result, nil
}

var _ domain.ElectionRepository = (*ElectionRepository)(nil)

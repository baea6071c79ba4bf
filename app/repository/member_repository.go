package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/DuesFox/app/models"
)

// memberRepository implements MemberRepository on GORM
type memberRepository struct {
	db *gorm.DB
}

// NewMemberRepository creates a new member repository instance
func NewMemberRepository(db *gorm.DB) MemberRepository {
	return &memberRepository{db: db}
}

func (r *memberRepository) List(ctx context.Context) ([]models.Member, error) {
	var members []models.Member
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&members).Error; err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

func (r *memberRepository) GetByID(ctx context.Context, id int64) (*models.Member, error) {
	var member models.Member
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&member).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, fmt.Errorf("get member %d: %w", id, err)
	}
	return &member, nil
}

func (r *memberRepository) Create(ctx context.Context, member *models.Member) error {
	if member == nil {
		return errors.New("member is nil")
	}
	if err := member.Validate(); err != nil {
		return fmt.Errorf("invalid member: %w", err)
	}
	return r.db.WithContext(ctx).Create(member).Error
}

func (r *memberRepository) UpdateBillingFields(ctx context.Context, id int64, update *models.BillingUpdate) error {
	if update.IsEmpty() {
		return nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Member{}).
		Where("id = ?", id).
		Updates(update.Columns())
	if res.Error != nil {
		return fmt.Errorf("update billing fields of member %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMemberNotFound
	}
	return nil
}

func (r *memberRepository) WithMemberLock(ctx context.Context, id int64, fn func(tx MemberRepository, member *models.Member) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var member models.Member
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&member).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMemberNotFound
			}
			return fmt.Errorf("lock member %d: %w", id, err)
		}
		return fn(&memberRepository{db: tx}, &member)
	})
}

func (r *memberRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("acquire connection pool: %w", err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	return nil
}

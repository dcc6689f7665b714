package persistence

import (
	"context"
	"strings"

	"InsightLink/internal/modules/ai/domain/embedding"
	"InsightLink/internal/modules/ai/domain/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type domainGrantRepositoryImpl struct {
	db *gorm.DB
}

func NewDomainGrantRepository(db *gorm.DB) repository.DomainGrantRepository {
	return &domainGrantRepositoryImpl{db: db}
}

func (r *domainGrantRepositoryImpl) ListDomains(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return []string{}, nil
	}
	var domains []string
	err := r.db.WithContext(ctx).Model(&embedding.AIUserDomainGrant{}).
		Where("user_id = ?", userID).
		Order("domain ASC").
		Pluck("domain", &domains).Error
	return domains, err
}

func (r *domainGrantRepositoryImpl) Grant(ctx context.Context, userID string, domains ...string) error {
	rows := make([]embedding.AIUserDomainGrant, 0, len(domains))
	for _, d := range domains {
		if d = strings.TrimSpace(d); d != "" {
			rows = append(rows, embedding.AIUserDomainGrant{UserId: userID, Domain: d})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&rows).Error
}

func (r *domainGrantRepositoryImpl) Revoke(ctx context.Context, userID string, domain string) error {
	return r.db.WithContext(ctx).
		Where("user_id = ? AND domain = ?", userID, domain).
		Delete(&embedding.AIUserDomainGrant{}).Error
}

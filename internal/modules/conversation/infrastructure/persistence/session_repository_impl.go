package persistence

import (
	"context"
	"errors"
	"time"

	"InsightLink/internal/modules/conversation/domain/entity"
	"InsightLink/internal/modules/conversation/domain/repository"

	"gorm.io/gorm"
)

type sessionRepositoryImpl struct {
	db *gorm.DB
}

func NewSessionRepository(db *gorm.DB) repository.SessionRepository {
	return &sessionRepositoryImpl{db: db}
}

func (r *sessionRepositoryImpl) Create(ctx context.Context, s *entity.ConversationSession) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *sessionRepositoryImpl) GetByUuid(ctx context.Context, uuid string) (*entity.ConversationSession, error) {
	var s entity.ConversationSession
	err := r.db.WithContext(ctx).Where("uuid = ?", uuid).Take(&s).Error
	if err == nil {
		return &s, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, err
}

func (r *sessionRepositoryImpl) ListByUser(ctx context.Context, userID string, offset, limit int) ([]entity.ConversationSession, int64, error) {
	var (
		total int64
		out   []entity.ConversationSession
	)
	q := r.db.WithContext(ctx).Model(&entity.ConversationSession{}).Where("user_id = ?", userID)
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	err := q.Order("last_activity_at DESC").Order("id DESC").Offset(offset).Limit(limit).Find(&out).Error
	return out, total, err
}

func updateVersioned(tx *gorm.DB, s *entity.ConversationSession, expectedVersion int64) error {
	s.Version = expectedVersion + 1
	res := tx.Model(s).
		Where("version = ?", expectedVersion).
		Select("*").
		Omit("id", "uuid", "user_id", "created_at").
		Updates(s)
	if res.Error != nil {
		s.Version = expectedVersion
		return res.Error
	}
	if res.RowsAffected == 0 {
		s.Version = expectedVersion
		return repository.ErrVersionConflict
	}
	return nil
}

func (r *sessionRepositoryImpl) Update(ctx context.Context, s *entity.ConversationSession, expectedVersion int64) error {
	return updateVersioned(r.db.WithContext(ctx), s, expectedVersion)
}

func (r *sessionRepositoryImpl) AppendMessage(ctx context.Context, s *entity.ConversationSession, expectedVersion int64, msg *entity.ConversationMessage) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := updateVersioned(tx, s, expectedVersion); err != nil {
			return err
		}
		return tx.Create(msg).Error
	})
	if err != nil {
		s.Version = expectedVersion
	}
	return err
}

func (r *sessionRepositoryImpl) ListMessages(ctx context.Context, sessionUuid string, limit int) ([]entity.ConversationMessage, error) {
	var out []entity.ConversationMessage
	q := r.db.WithContext(ctx).Where("session_uuid = ?", sessionUuid)
	if limit <= 0 {
		err := q.Order("seq ASC").Find(&out).Error
		return out, err
	}
	if err := q.Order("seq DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, err
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *sessionRepositoryImpl) ExpireBefore(ctx context.Context, now time.Time, batch int) (int64, error) {
	if batch <= 0 {
		batch = 500
	}
	var ids []int64
	err := r.db.WithContext(ctx).Model(&entity.ConversationSession{}).
		Where("status = ? AND expires_at <= ?", entity.StatusActive, now).
		Order("id ASC").
		Limit(batch).
		Pluck("id", &ids).Error
	if err != nil || len(ids) == 0 {
		return 0, err
	}
	res := r.db.WithContext(ctx).Model(&entity.ConversationSession{}).
		Where("id IN ? AND status = ?", ids, entity.StatusActive).
		Updates(map[string]interface{}{
			"status":  entity.StatusExpired,
			"phase":   entity.PhaseExpired,
			"version": gorm.Expr("version + 1"),
		})
	return res.RowsAffected, res.Error
}

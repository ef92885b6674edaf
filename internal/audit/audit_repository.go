package audit

import (
	"context"
	"time"

	"github.com/khanghh/rms/model"
	"gorm.io/gorm"
)

// LogConditions narrows operation log queries. Zero values are ignored.
type LogConditions struct {
	Username  string
	Operation string
	Module    string
	Status    string
	Since     *time.Time // inclusive
	Before    *time.Time // exclusive
}

// NamedCount is one bucket of an aggregated count.
type NamedCount struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

type OperationLogRepository interface {
	Sink
	First(ctx context.Context, id uint64) (*model.OperationLog, error)
	Find(ctx context.Context, conds LogConditions, offset, limit int) ([]*model.OperationLog, int64, error)
	CountBy(ctx context.Context, column string, since time.Time, limit int) ([]NamedCount, error)
	CountByDay(ctx context.Context, since time.Time) ([]NamedCount, error)
}

type operationLogRepository struct {
	db *gorm.DB
}

func (r *operationLogRepository) Append(ctx context.Context, entry *model.OperationLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *operationLogRepository) First(ctx context.Context, id uint64) (*model.OperationLog, error) {
	var entry model.OperationLog
	if err := r.db.WithContext(ctx).First(&entry, id).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *operationLogRepository) where(ctx context.Context, conds LogConditions) *gorm.DB {
	tx := r.db.WithContext(ctx).Model(&model.OperationLog{})
	if conds.Username != "" {
		tx = tx.Where("username LIKE ?", "%"+conds.Username+"%")
	}
	if conds.Operation != "" {
		tx = tx.Where("operation LIKE ?", "%"+conds.Operation+"%")
	}
	if conds.Module != "" {
		tx = tx.Where("module = ?", conds.Module)
	}
	if conds.Status != "" {
		tx = tx.Where("status = ?", conds.Status)
	}
	if conds.Since != nil {
		tx = tx.Where("created_at >= ?", *conds.Since)
	}
	if conds.Before != nil {
		tx = tx.Where("created_at < ?", *conds.Before)
	}
	return tx
}

func (r *operationLogRepository) Find(ctx context.Context, conds LogConditions, offset, limit int) ([]*model.OperationLog, int64, error) {
	var total int64
	if err := r.where(ctx, conds).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var entries []*model.OperationLog
	err := r.where(ctx, conds).
		Order("created_at DESC").
		Order("id DESC").
		Offset(offset).
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// CountBy groups entries created since the given time by column, largest groups first.
// column must be a trusted column name.
func (r *operationLogRepository) CountBy(ctx context.Context, column string, since time.Time, limit int) ([]NamedCount, error) {
	var rows []NamedCount
	tx := r.db.WithContext(ctx).Model(&model.OperationLog{}).
		Select(column+" AS name, COUNT(id) AS count").
		Where("created_at >= ?", since).
		Group(column).
		Order("count DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Scan(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *operationLogRepository) CountByDay(ctx context.Context, since time.Time) ([]NamedCount, error) {
	var rows []NamedCount
	err := r.db.WithContext(ctx).Model(&model.OperationLog{}).
		Select("DATE(created_at) AS name, COUNT(id) AS count").
		Where("created_at >= ?", since).
		Group("DATE(created_at)").
		Order("name").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func NewOperationLogRepository(db *gorm.DB) OperationLogRepository {
	return &operationLogRepository{db}
}

package kv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// KeyValue is the row layout of the key_value_store table.
type KeyValue struct {
	Key       string    `gorm:"primaryKey;type:varchar(255)"`
	Value     string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (KeyValue) TableName() string {
	return "key_value_store"
}

// Postgres is a Store over a single SQL table managed by gorm.
type Postgres struct {
	db *gorm.DB
}

var _ Store = (*Postgres)(nil)

func NewPostgres(db *gorm.DB) *Postgres {
	return &Postgres{db: db}
}

// EnsureSchema creates the key_value_store table when missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&KeyValue{})
}

func (s *Postgres) Get(ctx context.Context, key string) (string, error) {
	var row KeyValue
	err := s.db.WithContext(ctx).Where("key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return row.Value, nil
}

func (s *Postgres) Set(ctx context.Context, key, value string) error {
	row := KeyValue{Key: key, Value: value}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
}

func (s *Postgres) SetIfAbsent(ctx context.Context, key, value string) error {
	row := KeyValue{Key: key, Value: value}
	result := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrExists
	}
	return nil
}

func (s *Postgres) CompareAndSwap(ctx context.Context, key string, expected *string, value string) (bool, error) {
	if expected == nil {
		err := s.SetIfAbsent(ctx, key, value)
		if errors.Is(err, ErrExists) {
			return false, nil
		}
		return err == nil, err
	}

	result := s.db.WithContext(ctx).Model(&KeyValue{}).
		Where("key = ? AND value = ?", key, *expected).
		Updates(map[string]any{"value": value, "updated_at": time.Now()})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (s *Postgres) Delete(ctx context.Context, key string) error {
	return s.db.WithContext(ctx).Where("key = ?", key).Delete(&KeyValue{}).Error
}

func (s *Postgres) ScanPrefix(ctx context.Context, prefix string) ([]Pair, error) {
	var rows []KeyValue
	err := s.db.WithContext(ctx).
		Where(`key LIKE ? ESCAPE '\'`, escapeLike(prefix)+"%").
		Order("key").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("scan %q: %w", prefix, err)
	}

	result := make([]Pair, 0, len(rows))
	for _, r := range rows {
		result = append(result, Pair{Key: r.Key, Value: r.Value})
	}
	return result, nil
}

func (s *Postgres) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

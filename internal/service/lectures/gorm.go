package lectures

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore persists lectures in Postgres through gorm.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// gormConfig is shared by Open and tests.
func gormConfig() *gorm.Config {
	return &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
		Logger:                 logger.Default.LogMode(logger.Silent),
	}
}

// Open connects to Postgres.
func Open(dsn string) (*GormStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), gormConfig())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewGormStore(db), nil
}

// NewGormStore wraps an existing connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate creates or updates the lectures table.
func (s *GormStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Lecture{})
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *GormStore) Create(ctx context.Context, l *Lecture) error {
	err := s.db.WithContext(ctx).Create(l).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("create %s: %w", l.LectureID, ErrExists)
	}
	if err != nil {
		return fmt.Errorf("create %s: %w", l.LectureID, err)
	}
	return nil
}

func (s *GormStore) Get(ctx context.Context, lectureID string) (*Lecture, error) {
	var l Lecture
	err := s.db.WithContext(ctx).Where("lecture_id = ?", lectureID).Take(&l).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get %s: %w", lectureID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", lectureID, err)
	}
	return &l, nil
}

func (s *GormStore) UpdateAudioURL(ctx context.Context, lectureID, audioURL string) error {
	return s.update(ctx, lectureID, map[string]any{"audio_url": audioURL})
}

func (s *GormStore) UpdateStatus(ctx context.Context, lectureID string, status Status) error {
	return s.update(ctx, lectureID, map[string]any{"transcription_status": status})
}

func (s *GormStore) update(ctx context.Context, lectureID string, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	res := s.db.WithContext(ctx).Model(&Lecture{}).Where("lecture_id = ?", lectureID).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("update %s: %w", lectureID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update %s: %w", lectureID, ErrNotFound)
	}
	return nil
}

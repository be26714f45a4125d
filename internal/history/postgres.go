package history

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type roundRow struct {
	ID             uint   `gorm:"primaryKey"`
	RoomCode       string `gorm:"size:8;index"`
	Round          int
	Task           string `gorm:"size:140"`
	ActiveTeam     string `gorm:"size:1"`
	Target         int
	ValidCount     int
	AnswerCount    int
	Winner         string `gorm:"size:1"`
	GaveUp         bool
	TimedOut       bool
	VoteDurationMS int64
	PerformanceMS  int64
	ResolvedAt     time.Time `gorm:"index"`
}

func (roundRow) TableName() string { return "game_history" }

// SQLStore keeps round history in PostgreSQL through gorm.
type SQLStore struct {
	db *gorm.DB
}

func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return NewSQLStore(db)
}

// NewSQLStore migrates the game_history table on db.
func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if err := db.AutoMigrate(&roundRow{}); err != nil {
		return nil, fmt.Errorf("migrate game_history: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Save(ctx context.Context, r Round) error {
	row := roundRow{
		RoomCode:       r.RoomCode,
		Round:          r.Round,
		Task:           r.Task,
		ActiveTeam:     r.ActiveTeam,
		Target:         r.Target,
		ValidCount:     r.ValidCount,
		AnswerCount:    r.AnswerCount,
		Winner:         r.Winner,
		GaveUp:         r.GaveUp,
		TimedOut:       r.TimedOut,
		VoteDurationMS: r.VoteDurationMS,
		PerformanceMS:  r.PerformanceMS,
		ResolvedAt:     r.ResolvedAt,
	}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *SQLStore) ListByRoom(ctx context.Context, code string, limit int) ([]Round, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []roundRow
	err := s.db.WithContext(ctx).
		Where("room_code = ?", code).
		Order("resolved_at, id").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]Round, 0, len(rows))
	for _, row := range rows {
		out = append(out, Round{
			RoomCode:       row.RoomCode,
			Round:          row.Round,
			Task:           row.Task,
			ActiveTeam:     row.ActiveTeam,
			Target:         row.Target,
			ValidCount:     row.ValidCount,
			AnswerCount:    row.AnswerCount,
			Winner:         row.Winner,
			GaveUp:         row.GaveUp,
			TimedOut:       row.TimedOut,
			VoteDurationMS: row.VoteDurationMS,
			PerformanceMS:  row.PerformanceMS,
			ResolvedAt:     row.ResolvedAt,
		})
	}
	return out, nil
}

func (s *SQLStore) Close(context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Package storage persists reports and friend requests and tracks presence.
package storage

import (
	"context"
	"fmt"

	"github.com/dkeye/Roulette/internal/core"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Service writes records through gorm.
type Service struct {
	DB *gorm.DB
}

var (
	_ core.ReportSink = (*Service)(nil)
	_ core.FriendSink = (*Service)(nil)
)

// Open connects to postgres and migrates the tables.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := db.AutoMigrate(&Report{}, &FriendRequest{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	log.Info().Str("module", "storage").Msg("postgres ready")
	return db, nil
}

func NewService(db *gorm.DB) *Service {
	return &Service{DB: db}
}

func (s *Service) SaveReport(ctx context.Context, r core.Report) error {
	rec := &Report{
		ReporterID:   string(r.ReporterID),
		ReportedID:   r.ReportedID,
		ReportedName: r.ReportedName,
		Reason:       r.Reason,
	}
	if err := s.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	log.Debug().Str("module", "storage").Str("id", rec.ID.String()).Msg("report saved")
	return nil
}

func (s *Service) SaveFriendRequest(ctx context.Context, r core.FriendRequest) error {
	rec := &FriendRequest{
		FromUser: string(r.FromUser),
		ToUser:   string(r.ToUser),
		Username: r.Username,
	}
	if err := s.DB.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("save friend request: %w", err)
	}
	return nil
}

// ReportsAgainst counts reports filed against a user.
func (s *Service) ReportsAgainst(ctx context.Context, reported string) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&Report{}).Where("reported_id = ?", reported).Count(&n).Error
	return n, err
}

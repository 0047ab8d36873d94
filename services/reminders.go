package services

import (
	"context"
	"log/slog"
	"time"

	"superviseme/models"

	"gorm.io/gorm"
)

// ReminderNotifier flags reminders whose deadline is getting close.
type ReminderNotifier struct {
	db     *gorm.DB
	logger *slog.Logger
	notice time.Duration
}

func NewReminderNotifier(db *gorm.DB, logger *slog.Logger, notice time.Duration) *ReminderNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReminderNotifier{db: db, logger: logger, notice: notice}
}

// NotifyDue marks every unnotified reminder due before now+notice as
// notified and returns how many it marked.
func (n *ReminderNotifier) NotifyDue(ctx context.Context, now time.Time) (int, error) {
	var due []models.Reminder
	if err := n.db.WithContext(ctx).
		Where("notified = ? AND deadline <= ?", false, now.Add(n.notice)).
		Order("deadline asc").
		Find(&due).Error; err != nil {
		return 0, err
	}
	if len(due) == 0 {
		return 0, nil
	}

	ids := make([]string, 0, len(due))
	for i := range due {
		ids = append(ids, due[i].ID)
		n.logger.Info("task deadline approaching",
			slog.String("reminder_id", due[i].ID),
			slog.String("task_id", due[i].TaskID),
			slog.String("student", due[i].StudentEmail),
			slog.String("time_left", due[i].TimeLeft(now)))
	}

	result := n.db.WithContext(ctx).Model(&models.Reminder{}).
		Where("id IN ? AND notified = ?", ids, false).
		Update("notified", true)
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

// Start runs NotifyDue every interval until ctx is cancelled.
func (n *ReminderNotifier) Start(ctx context.Context, interval time.Duration) {
	go func() {
		n.logger.Info("reminder scheduler started", slog.Duration("interval", interval))
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				n.logger.Info("reminder scheduler stopped")
				return
			case now := <-ticker.C:
				count, err := n.NotifyDue(ctx, now)
				if err != nil {
					n.logger.Error("reminder sweep failed", slog.String("error", err.Error()))
					continue
				}
				if count > 0 {
					n.logger.Info("reminders notified", slog.Int("count", count))
				}
			}
		}
	}()
}

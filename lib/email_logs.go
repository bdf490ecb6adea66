package lib

import (
	"context"
	"fmt"
	"time"

	"github.com/relaymail/relaymail/models"
	"gorm.io/gorm"
)

// InterruptedDelivery is the error text written by SweepPending.
const InterruptedDelivery = "delivery interrupted"

// DeliveryLog persists one row per relayed email. Rows start pending and are
// moved to sent or failed exactly once.
type DeliveryLog struct {
	db *gorm.DB
}

func NewDeliveryLog(db *gorm.DB) *DeliveryLog {
	return &DeliveryLog{db: db}
}

// EmailSummary is one row of an account's delivery history.
type EmailSummary struct {
	Id           uint                  `json:"id"`
	Recipient    string                `json:"recipient"`
	Subject      string                `json:"subject"`
	Status       models.DeliveryStatus `json:"status"`
	Timestamp    time.Time             `json:"timestamp"`
	KeyName      string                `json:"key_name"`
	ErrorMessage *string               `json:"error_message,omitempty"`
}

// Create inserts a pending entry and returns it with its id assigned.
func (l *DeliveryLog) Create(ctx context.Context, recipient, subject string, keyID uint) (*models.EmailLogs, error) {
	entry := &models.EmailLogs{
		Recipient: recipient,
		Subject:   subject,
		Status:    models.Pending,
		ApiKeyID:  keyID,
	}
	if err := l.db.WithContext(ctx).Create(entry).Error; err != nil {
		return nil, fmt.Errorf("create email log: %w", err)
	}
	return entry, nil
}

// Finalize moves a pending entry to status. The update is conditional on the
// row still being pending, so a second call returns ErrAlreadyFinalized and
// leaves the stored row untouched. errText is stored only when non-empty.
func (l *DeliveryLog) Finalize(ctx context.Context, entry *models.EmailLogs, status models.DeliveryStatus, errText string) error {
	if !status.Terminal() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}

	now := time.Now().UTC()
	var errorMessage *string
	if errText != "" {
		errorMessage = &errText
	}

	result := l.db.WithContext(ctx).
		Model(&models.EmailLogs{}).
		Where("id = ? AND status = ?", entry.Id, models.Pending).
		Updates(map[string]interface{}{
			"status":        status,
			"error_message": errorMessage,
			"finalized_at":  now,
		})
	if result.Error != nil {
		return fmt.Errorf("finalize email log %d: %w", entry.Id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrAlreadyFinalized
	}

	entry.Status = status
	entry.ErrorMessage = errorMessage
	entry.FinalizedAt = &now
	return nil
}

// ListForAccount returns the latest entries sent with any of the account's
// keys, revoked ones included, newest first.
func (l *DeliveryLog) ListForAccount(ctx context.Context, accountID uint, limit int) ([]EmailSummary, error) {
	if limit <= 0 {
		limit = 100
	}
	rows := make([]EmailSummary, 0)
	err := l.db.WithContext(ctx).
		Table("email_logs").
		Select("email_logs.id, email_logs.recipient, email_logs.subject, email_logs.status, "+
			"email_logs.created_at AS timestamp, api_keys.name AS key_name, email_logs.error_message").
		Joins("JOIN api_keys ON api_keys.id = email_logs.api_key_id").
		Where("api_keys.account_id = ?", accountID).
		Order("email_logs.created_at DESC, email_logs.id DESC").
		Limit(limit).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list email logs: %w", err)
	}
	return rows, nil
}

// SweepPending fails every entry still pending that was created before
// cutoff. It exists for rows left behind by a process that died mid-send.
func (l *DeliveryLog) SweepPending(ctx context.Context, cutoff time.Time) (int64, error) {
	errText := InterruptedDelivery
	result := l.db.WithContext(ctx).
		Model(&models.EmailLogs{}).
		Where("status = ? AND created_at < ?", models.Pending, cutoff).
		Updates(map[string]interface{}{
			"status":        models.Failed,
			"error_message": &errText,
			"finalized_at":  time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("sweep pending email logs: %w", result.Error)
	}
	return result.RowsAffected, nil
}

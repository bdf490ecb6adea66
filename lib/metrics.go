package lib

import (
	"context"
	"fmt"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/relaymail/relaymail/models"
)

var (
	EmailsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_emails_total",
		Help: "Relayed emails by final delivery status.",
	}, []string{"status"})

	SendDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_send_duration_seconds",
		Help:    "Time spent in the SMTP conversation for one email.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	RejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_rejected_requests_total",
		Help: "Send requests rejected before any email log was written.",
	}, []string{"reason"})
)

// AccountStats summarises an account's delivery history.
type AccountStats struct {
	Total      int64   `json:"total"`
	Sent       int64   `json:"sent"`
	Failed     int64   `json:"failed"`
	Rate       float64 `json:"rate"`
	ActiveKeys int64   `json:"active_keys"`
}

// SuccessRate is sent/total as a percentage rounded to one decimal place.
func SuccessRate(sent, total int64) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(sent)/float64(total)*1000) / 10
}

// Stats counts the account's emails by status across all of its keys.
func (l *DeliveryLog) Stats(ctx context.Context, accountID uint) (AccountStats, error) {
	var counts []struct {
		Status models.DeliveryStatus
		Count  int64
	}
	err := l.db.WithContext(ctx).
		Table("email_logs").
		Select("email_logs.status AS status, COUNT(*) AS count").
		Joins("JOIN api_keys ON api_keys.id = email_logs.api_key_id").
		Where("api_keys.account_id = ?", accountID).
		Group("email_logs.status").
		Scan(&counts).Error
	if err != nil {
		return AccountStats{}, fmt.Errorf("count email logs: %w", err)
	}

	var stats AccountStats
	for _, c := range counts {
		stats.Total += c.Count
		switch c.Status {
		case models.Sent:
			stats.Sent = c.Count
		case models.Failed:
			stats.Failed = c.Count
		}
	}
	stats.Rate = SuccessRate(stats.Sent, stats.Total)

	err = l.db.WithContext(ctx).
		Model(&models.ApiKeys{}).
		Where("account_id = ? AND is_active = ?", accountID, true).
		Count(&stats.ActiveKeys).Error
	if err != nil {
		return AccountStats{}, fmt.Errorf("count api keys: %w", err)
	}
	return stats, nil
}

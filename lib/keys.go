package lib

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relaymail/relaymail/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// KeyStore owns API keys. Resolve is the only read path used when relaying;
// the rest serves key management.
type KeyStore struct {
	db    *gorm.DB
	cache *Cache
	log   *zap.Logger
}

func NewKeyStore(db *gorm.DB, cache *Cache, log *zap.Logger) *KeyStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &KeyStore{db: db, cache: cache, log: log}
}

// KeySummary is how a key is listed to its owner. The token itself is never
// returned after creation.
type KeySummary struct {
	Id        uint       `json:"id"`
	Name      string     `json:"name"`
	KeyToken  string     `json:"key_token"`
	CreatedAt time.Time  `json:"created_at"`
	LastUsed  *time.Time `json:"last_used"`
}

// Resolve returns the active key with the given token, or ErrKeyNotFound.
func (s *KeyStore) Resolve(ctx context.Context, token string) (models.ApiKeys, error) {
	if token == "" {
		return models.ApiKeys{}, ErrKeyNotFound
	}

	if cached, ok, err := s.cache.Get(ctx, token); err != nil {
		s.log.Warn("credential cache read failed", zap.Error(err))
	} else if ok {
		var key models.ApiKeys
		if err := json.Unmarshal(cached, &key); err == nil && key.IsActive {
			key.Token = token
			return key, nil
		}
	}

	var key models.ApiKeys
	err := s.db.WithContext(ctx).
		Where("token = ? AND is_active = ?", token, true).
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.ApiKeys{}, ErrKeyNotFound
	}
	if err != nil {
		return models.ApiKeys{}, fmt.Errorf("resolve api key: %w", err)
	}

	if s.cache.Enabled() {
		if encoded, err := json.Marshal(key); err == nil {
			if err := s.cache.Set(ctx, token, encoded); err != nil {
				s.log.Warn("credential cache write failed", zap.Error(err))
			}
		}
	}
	return key, nil
}

// Create issues a new active key for the account. An empty name becomes
// "Key YYYY-MM-DD HH:MM" in UTC.
func (s *KeyStore) Create(ctx context.Context, accountID uint, name string) (models.ApiKeys, error) {
	token, err := GenerateToken()
	if err != nil {
		return models.ApiKeys{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Key " + time.Now().UTC().Format("2006-01-02 15:04")
	}

	key := models.ApiKeys{
		Token:     token,
		Name:      name,
		AccountID: accountID,
		IsActive:  true,
	}
	if err := s.db.WithContext(ctx).Create(&key).Error; err != nil {
		return models.ApiKeys{}, fmt.Errorf("create api key: %w", err)
	}
	s.log.Info("api key created",
		zap.Uint("key_id", key.Id),
		zap.Uint("account_id", accountID),
		zap.String("key", MaskToken(token)))
	return key, nil
}

// List returns the account's active keys, newest first, with the time of the
// most recent email each one sent.
func (s *KeyStore) List(ctx context.Context, accountID uint) ([]KeySummary, error) {
	var keys []models.ApiKeys
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND is_active = ?", accountID, true).
		Order("created_at DESC").
		Find(&keys).Error
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}

	summaries := make([]KeySummary, 0, len(keys))
	for _, key := range keys {
		summary := KeySummary{
			Id:        key.Id,
			Name:      key.Name,
			KeyToken:  MaskToken(key.Token),
			CreatedAt: key.CreatedAt,
		}
		var last []models.EmailLogs
		err := s.db.WithContext(ctx).
			Select("id", "created_at").
			Where("api_key_id = ?", key.Id).
			Order("created_at DESC").
			Limit(1).
			Find(&last).Error
		if err != nil {
			return nil, fmt.Errorf("last use of api key %d: %w", key.Id, err)
		}
		if len(last) == 1 {
			used := last[0].CreatedAt
			summary.LastUsed = &used
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Revoke deactivates a key owned by accountID. Revoking an inactive key is a
// no-op; a key owned by someone else is reported as ErrKeyNotFound.
func (s *KeyStore) Revoke(ctx context.Context, accountID, keyID uint) error {
	var key models.ApiKeys
	err := s.db.WithContext(ctx).
		Where("id = ? AND account_id = ?", keyID, accountID).
		First(&key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrKeyNotFound
	}
	if err != nil {
		return fmt.Errorf("find api key: %w", err)
	}

	if key.IsActive {
		err := s.db.WithContext(ctx).
			Model(&models.ApiKeys{}).
			Where("id = ?", key.Id).
			Update("is_active", false).Error
		if err != nil {
			return fmt.Errorf("revoke api key: %w", err)
		}
	}
	if err := s.cache.Delete(ctx, key.Token); err != nil {
		s.log.Warn("credential cache eviction failed", zap.Uint("key_id", key.Id), zap.Error(err))
	}
	s.log.Info("api key revoked", zap.Uint("key_id", key.Id), zap.Uint("account_id", accountID))
	return nil
}

package lib

import (
	"context"
	"errors"
	"fmt"

	"github.com/relaymail/relaymail/models"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type AccountStore struct {
	db   *gorm.DB
	cost int
}

func NewAccountStore(db *gorm.DB) *AccountStore {
	return &AccountStore{db: db, cost: bcrypt.DefaultCost}
}

// Create registers an account. Emails are compared case-insensitively.
func (s *AccountStore) Create(ctx context.Context, email, password string) (models.Accounts, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return models.Accounts{}, ErrInvalidAccount
	}

	var count int64
	err := s.db.WithContext(ctx).
		Model(&models.Accounts{}).
		Where("email = ?", email).
		Count(&count).Error
	if err != nil {
		return models.Accounts{}, fmt.Errorf("check account: %w", err)
	}
	if count > 0 {
		return models.Accounts{}, ErrEmailTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return models.Accounts{}, fmt.Errorf("hash password: %w", err)
	}
	account := models.Accounts{Email: email, PasswordHash: string(hash)}
	err = s.db.WithContext(ctx).Create(&account).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		// lost a race with a concurrent signup for the same email
		return models.Accounts{}, ErrEmailTaken
	}
	if err != nil {
		return models.Accounts{}, fmt.Errorf("create account: %w", err)
	}
	return account, nil
}

// Authenticate returns the account when password matches. Unknown emails and
// wrong passwords both yield ErrInvalidCredentials.
func (s *AccountStore) Authenticate(ctx context.Context, email, password string) (models.Accounts, error) {
	account, err := s.ByEmail(ctx, email)
	if errors.Is(err, ErrAccountNotFound) {
		return models.Accounts{}, ErrInvalidCredentials
	}
	if err != nil {
		return models.Accounts{}, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)); err != nil {
		return models.Accounts{}, ErrInvalidCredentials
	}
	return account, nil
}

func (s *AccountStore) ByEmail(ctx context.Context, email string) (models.Accounts, error) {
	var account models.Accounts
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Accounts{}, ErrAccountNotFound
	}
	if err != nil {
		return models.Accounts{}, fmt.Errorf("find account: %w", err)
	}
	return account, nil
}

func (s *AccountStore) ByID(ctx context.Context, id uint) (models.Accounts, error) {
	var account models.Accounts
	err := s.db.WithContext(ctx).First(&account, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Accounts{}, ErrAccountNotFound
	}
	if err != nil {
		return models.Accounts{}, fmt.Errorf("find account: %w", err)
	}
	return account, nil
}

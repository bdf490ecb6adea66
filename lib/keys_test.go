package lib

import (
	"context"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	dialector := postgres.New(postgres.Config{
		Conn:       sqlDB,
		DriverName: "postgres",
	})
	db, err := gorm.Open(dialector, &gorm.Config{DisableAutomaticPing: true, TranslateError: true})
	require.NoError(t, err)
	return db, mock
}

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewRedisClient("redis://" + mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewCache(client, CacheConfig{Enabled: true, TTL: 60}), mr
}

var keyColumns = []string{"id", "created_at", "token", "name", "account_id", "is_active"}

func TestKeyStore_Resolve(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKeyStore(db, nil, nil)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "api_keys" WHERE token = $1 AND is_active = $2`)).
		WillReturnRows(sqlmock.NewRows(keyColumns).AddRow(3, created, "tok", "ci", 9, true))

	key, err := store.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, uint(3), key.Id)
	assert.Equal(t, uint(9), key.AccountID)
	assert.True(t, key.IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyStore_ResolveUnknown(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKeyStore(db, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "api_keys"`)).
		WillReturnRows(sqlmock.NewRows(keyColumns))

	_, err := store.Resolve(context.Background(), "revoked")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	_, err = store.Resolve(context.Background(), "")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyStore_ResolveCached(t *testing.T) {
	db, mock := newMockDB(t)
	cache, _ := newTestCache(t)
	store := NewKeyStore(db, cache, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "api_keys"`)).
		WillReturnRows(sqlmock.NewRows(keyColumns).AddRow(3, time.Now(), "tok", "ci", 9, true))

	first, err := store.Resolve(context.Background(), "tok")
	require.NoError(t, err)
	second, err := store.Resolve(context.Background(), "tok")
	require.NoError(t, err)

	assert.Equal(t, first.Id, second.Id)
	assert.Equal(t, "tok", second.Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyStore_Create(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKeyStore(db, nil, nil)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "api_keys"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(5))
	mock.ExpectCommit()

	key, err := store.Create(context.Background(), 9, "  ")
	require.NoError(t, err)
	assert.Equal(t, uint(5), key.Id)
	assert.Len(t, key.Token, 43)
	assert.True(t, key.IsActive)
	assert.True(t, strings.HasPrefix(key.Name, "Key "), key.Name)
	_, err = time.Parse("2006-01-02 15:04", strings.TrimPrefix(key.Name, "Key "))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyStore_List(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKeyStore(db, nil, nil)

	used := time.Date(2024, 6, 1, 8, 30, 0, 0, time.UTC)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "api_keys" WHERE account_id = $1 AND is_active = $2`)).
		WillReturnRows(sqlmock.NewRows(keyColumns).
			AddRow(4, time.Now(), "abcdefgh", "prod", 9, true).
			AddRow(3, time.Now(), "zyxwvuts", "ci", 9, true))
	mock.ExpectQuery(`FROM "email_logs" WHERE api_key_id = `).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(20, used))
	mock.ExpectQuery(`FROM "email_logs" WHERE api_key_id = `).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}))

	keys, err := store.List(context.Background(), 9)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "rk_live_abcd...", keys[0].KeyToken)
	require.NotNil(t, keys[0].LastUsed)
	assert.True(t, used.Equal(*keys[0].LastUsed))
	assert.Nil(t, keys[1].LastUsed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyStore_Revoke(t *testing.T) {
	db, mock := newMockDB(t)
	cache, mr := newTestCache(t)
	store := NewKeyStore(db, cache, nil)
	require.NoError(t, cache.Set(context.Background(), "tok", []byte(`{"id":3,"is_active":true}`)))

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "api_keys" WHERE id = $1 AND account_id = $2`)).
		WillReturnRows(sqlmock.NewRows(keyColumns).AddRow(3, time.Now(), "tok", "ci", 9, true))
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "api_keys" SET "is_active"=$1`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, store.Revoke(context.Background(), 9, 3))
	assert.False(t, mr.Exists(cacheKey("tok")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyStore_RevokeNotOwned(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKeyStore(db, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "api_keys" WHERE id = $1 AND account_id = $2`)).
		WillReturnRows(sqlmock.NewRows(keyColumns))

	err := store.Revoke(context.Background(), 1, 3)
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestKeyStore_RevokeInactive(t *testing.T) {
	db, mock := newMockDB(t)
	store := NewKeyStore(db, nil, nil)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "api_keys"`)).
		WillReturnRows(sqlmock.NewRows(keyColumns).AddRow(3, time.Now(), "tok", "ci", 9, false))

	require.NoError(t, store.Revoke(context.Background(), 9, 3))
	assert.NoError(t, mock.ExpectationsWereMet())
}

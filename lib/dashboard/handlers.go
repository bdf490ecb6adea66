package dashboard

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/relaymail/relaymail/lib"
	"github.com/relaymail/relaymail/models"
	"go.uber.org/zap"
)

const emailHistoryLimit = 100

type Accounts interface {
	Create(ctx context.Context, email, password string) (models.Accounts, error)
	Authenticate(ctx context.Context, email, password string) (models.Accounts, error)
	ByID(ctx context.Context, id uint) (models.Accounts, error)
}

type Keys interface {
	Create(ctx context.Context, accountID uint, name string) (models.ApiKeys, error)
	List(ctx context.Context, accountID uint) ([]lib.KeySummary, error)
	Revoke(ctx context.Context, accountID, keyID uint) error
}

type History interface {
	ListForAccount(ctx context.Context, accountID uint, limit int) ([]lib.EmailSummary, error)
	Stats(ctx context.Context, accountID uint) (lib.AccountStats, error)
}

// Handler serves the session-authenticated account API.
type Handler struct {
	accounts Accounts
	keys     Keys
	history  History
	sessions *lib.Sessions
	log      *zap.Logger
}

func NewHandler(accounts Accounts, keys Keys, history History, sessions *lib.Sessions, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		accounts: accounts,
		keys:     keys,
		history:  history,
		sessions: sessions,
		log:      log,
	}
}

// Routes registers the login flow on r, behind authLimit, and the account
// API under /api/v1 behind a session check.
func (h *Handler) Routes(r chi.Router, authLimit func(http.Handler) http.Handler) {
	r.Group(func(r chi.Router) {
		if authLimit != nil {
			r.Use(authLimit)
		}
		r.Post("/signup", h.Signup)
		r.Post("/login", h.Login)
	})
	r.Get("/logout", h.Logout)
	r.Post("/logout", h.Logout)

	r.Group(func(r chi.Router) {
		r.Use(h.sessions.RequireSession)
		r.Get("/api/v1/account", h.Account)
		r.Get("/api/v1/keys", h.ListKeys)
		r.Post("/api/v1/keys", h.CreateKey)
		r.Delete("/api/v1/keys/{id}", h.RevokeKey)
		r.Get("/api/v1/emails", h.ListEmails)
		r.Get("/api/v1/metrics", h.Metrics)
	})
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// readCredentials accepts a JSON body or a form post.
func readCredentials(r *http.Request) (credentials, error) {
	var c credentials
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := render.DecodeJSON(r.Body, &c); err != nil {
			return c, err
		}
		return c, nil
	}
	if err := r.ParseForm(); err != nil {
		return c, err
	}
	c.Email = r.PostForm.Get("email")
	c.Password = r.PostForm.Get("password")
	return c, nil
}

type accountResponse struct {
	Id    uint   `json:"id"`
	Email string `json:"email"`
}

func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	c, err := readCredentials(r)
	if err != nil {
		lib.ErrorResponse(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, err := h.accounts.Create(r.Context(), c.Email, c.Password)
	switch {
	case errors.Is(err, lib.ErrEmailTaken):
		lib.ErrorResponse(w, r, http.StatusConflict, "Email already registered")
		return
	case errors.Is(err, lib.ErrInvalidAccount):
		lib.ErrorResponse(w, r, http.StatusBadRequest, "Email and password are required")
		return
	case err != nil:
		h.log.Error("signup failed", zap.Error(err))
		lib.InternalError(w, r)
		return
	}

	if err := h.sessions.Start(w, r, account.Id); err != nil {
		h.log.Error("start session failed", zap.Uint("account_id", account.Id), zap.Error(err))
		lib.InternalError(w, r)
		return
	}
	h.log.Info("account created", zap.Uint("account_id", account.Id))
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, accountResponse{Id: account.Id, Email: account.Email})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	c, err := readCredentials(r)
	if err != nil {
		lib.ErrorResponse(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	account, err := h.accounts.Authenticate(r.Context(), c.Email, c.Password)
	if errors.Is(err, lib.ErrInvalidCredentials) {
		lib.ErrorResponse(w, r, http.StatusUnauthorized, "Invalid email or password")
		return
	}
	if err != nil {
		h.log.Error("login failed", zap.Error(err))
		lib.InternalError(w, r)
		return
	}

	if err := h.sessions.Start(w, r, account.Id); err != nil {
		h.log.Error("start session failed", zap.Uint("account_id", account.Id), zap.Error(err))
		lib.InternalError(w, r)
		return
	}
	render.JSON(w, r, accountResponse{Id: account.Id, Email: account.Email})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.End(w, r); err != nil {
		h.log.Warn("destroy session failed", zap.Error(err))
	}
	render.JSON(w, r, map[string]string{"message": "Logged out"})
}

type createKeyRequest struct {
	Name string `json:"name"`
}

type createKeyResponse struct {
	Id      uint      `json:"id"`
	Name    string    `json:"name"`
	Key     string    `json:"key"`
	Created time.Time `json:"created"`
}

func (h *Handler) CreateKey(w http.ResponseWriter, r *http.Request) {
	accountID, _ := lib.AccountIDFromContext(r.Context())

	var req createKeyRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
		lib.ErrorResponse(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}

	key, err := h.keys.Create(r.Context(), accountID, req.Name)
	if err != nil {
		h.log.Error("create api key failed", zap.Uint("account_id", accountID), zap.Error(err))
		lib.InternalError(w, r)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, createKeyResponse{
		Id:      key.Id,
		Name:    key.Name,
		Key:     key.Token,
		Created: key.CreatedAt,
	})
}

// Account returns the signed-in account. A session that outlived its account
// is treated as signed out.
func (h *Handler) Account(w http.ResponseWriter, r *http.Request) {
	accountID, _ := lib.AccountIDFromContext(r.Context())

	account, err := h.accounts.ByID(r.Context(), accountID)
	if errors.Is(err, lib.ErrAccountNotFound) {
		lib.ErrorResponse(w, r, http.StatusUnauthorized, "Authentication required")
		return
	}
	if err != nil {
		h.log.Error("load account failed", zap.Uint("account_id", accountID), zap.Error(err))
		lib.InternalError(w, r)
		return
	}
	render.JSON(w, r, accountResponse{Id: account.Id, Email: account.Email})
}

func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	accountID, _ := lib.AccountIDFromContext(r.Context())

	keys, err := h.keys.List(r.Context(), accountID)
	if err != nil {
		h.log.Error("list api keys failed", zap.Uint("account_id", accountID), zap.Error(err))
		lib.InternalError(w, r)
		return
	}
	if keys == nil {
		keys = []lib.KeySummary{}
	}
	render.JSON(w, r, keys)
}

func (h *Handler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	accountID, _ := lib.AccountIDFromContext(r.Context())

	keyID, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		lib.ErrorResponse(w, r, http.StatusNotFound, "Key not found")
		return
	}

	err = h.keys.Revoke(r.Context(), accountID, uint(keyID))
	if errors.Is(err, lib.ErrKeyNotFound) {
		lib.ErrorResponse(w, r, http.StatusNotFound, "Key not found")
		return
	}
	if err != nil {
		h.log.Error("revoke api key failed", zap.Uint64("key_id", keyID), zap.Error(err))
		lib.InternalError(w, r)
		return
	}
	render.JSON(w, r, map[string]string{"message": "Key revoked"})
}

func (h *Handler) ListEmails(w http.ResponseWriter, r *http.Request) {
	accountID, _ := lib.AccountIDFromContext(r.Context())

	emails, err := h.history.ListForAccount(r.Context(), accountID, emailHistoryLimit)
	if err != nil {
		h.log.Error("list email logs failed", zap.Uint("account_id", accountID), zap.Error(err))
		lib.InternalError(w, r)
		return
	}
	if emails == nil {
		emails = []lib.EmailSummary{}
	}
	render.JSON(w, r, emails)
}

func (h *Handler) Metrics(w http.ResponseWriter, r *http.Request) {
	accountID, _ := lib.AccountIDFromContext(r.Context())

	stats, err := h.history.Stats(r.Context(), accountID)
	if err != nil {
		h.log.Error("account metrics failed", zap.Uint("account_id", accountID), zap.Error(err))
		lib.InternalError(w, r)
		return
	}
	render.JSON(w, r, stats)
}

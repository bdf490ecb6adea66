package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/relaymail/relaymail/lib"
	"github.com/relaymail/relaymail/lib/smtp"
	"github.com/relaymail/relaymail/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	activeToken  = "active-token-0123456789"
	revokedToken = "revoked-token-0123456789"
)

type fakeKeys struct {
	keys map[string]models.ApiKeys
	err  error
	hits int
}

func (f *fakeKeys) Resolve(_ context.Context, token string) (models.ApiKeys, error) {
	f.hits++
	if f.err != nil {
		return models.ApiKeys{}, f.err
	}
	key, ok := f.keys[token]
	if !ok || !key.IsActive {
		return models.ApiKeys{}, lib.ErrKeyNotFound
	}
	return key, nil
}

type fakeLog struct {
	mu          sync.Mutex
	entries     []*models.EmailLogs
	finalized   map[uint]int
	createErr   error
	finalizeErr error
}

func newFakeLog() *fakeLog {
	return &fakeLog{finalized: map[uint]int{}}
}

func (f *fakeLog) Create(_ context.Context, recipient, subject string, keyID uint) (*models.EmailLogs, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	entry := &models.EmailLogs{
		Recipient: recipient,
		Subject:   subject,
		Status:    models.Pending,
		ApiKeyID:  keyID,
	}
	entry.Id = uint(len(f.entries) + 1)
	f.entries = append(f.entries, entry)
	return entry, nil
}

func (f *fakeLog) Finalize(ctx context.Context, entry *models.EmailLogs, status models.DeliveryStatus, errText string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.finalized[entry.Id]++
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	if entry.Status != models.Pending {
		return lib.ErrAlreadyFinalized
	}
	entry.Status = status
	if errText != "" {
		entry.ErrorMessage = &errText
	}
	return nil
}

type fakeTransport struct {
	config smtp.Config
	err    error
	sent   []*smtp.Message
	ctxErr error
	cancel context.CancelFunc
}

func (f *fakeTransport) Config() smtp.Config {
	return f.config
}

func (f *fakeTransport) Send(ctx context.Context, msg *smtp.Message) error {
	if f.cancel != nil {
		f.cancel()
	}
	f.ctxErr = ctx.Err()
	f.sent = append(f.sent, msg)
	return f.err
}

func validConfig() smtp.Config {
	return smtp.Config{Host: "smtp.example.com", Port: 587, Username: "relay@example.com", Password: "secret"}
}

type fixture struct {
	keys      *fakeKeys
	logs      *fakeLog
	transport *fakeTransport
	pipeline  *Pipeline
}

func newFixture(opts Options) *fixture {
	f := &fixture{
		keys: &fakeKeys{keys: map[string]models.ApiKeys{
			activeToken:  {Base: models.Base{Id: 7}, Token: activeToken, Name: "ci", AccountID: 1, IsActive: true},
			revokedToken: {Base: models.Base{Id: 8}, Token: revokedToken, Name: "old", AccountID: 1, IsActive: false},
		}},
		logs:      newFakeLog(),
		transport: &fakeTransport{config: validConfig()},
	}
	f.pipeline = NewPipeline(f.keys, f.logs, f.transport, opts, nil)
	return f
}

func requireKind(t *testing.T, err error, kind Kind) *Error {
	t.Helper()
	var e *Error
	require.True(t, errors.As(err, &e), "expected *relay.Error, got %v", err)
	assert.Equal(t, kind, e.Kind)
	return e
}

func TestPipeline_SenderIsTrimmed(t *testing.T) {
	padded := lib.SMTPConfig{Username: " relay@example.com "}
	f := newFixture(Options{Sender: padded.SenderAddress()})
	f.transport.config.Username = padded.Username

	_, err := f.pipeline.HandleSend(context.Background(), "Bearer "+activeToken,
		Request{To: "a@b.com", Subject: "Hi", Body: "hello"})
	require.NoError(t, err)

	require.Len(t, f.transport.sent, 1)
	msg := f.transport.sent[0]
	assert.Equal(t, "relay@example.com", msg.From)
	data, err := msg.Bytes()
	require.NoError(t, err)
	assert.Contains(t, string(data), "From: <relay@example.com>")

	f = newFixture(Options{Sender: "  "})
	f.transport.config.Username = padded.Username
	_, err = f.pipeline.HandleSend(context.Background(), "Bearer "+activeToken,
		Request{To: "a@b.com", Subject: "Hi", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "relay@example.com", f.transport.sent[0].From)
}

func TestPipeline_SendTextOnly(t *testing.T) {
	f := newFixture(Options{ExposeTransportErrors: true})

	result, err := f.pipeline.HandleSend(context.Background(), "Bearer "+activeToken,
		Request{To: "a@b.com", Subject: "Hi", Body: "hello"})
	require.NoError(t, err)

	assert.Equal(t, Result{Id: 1, Message: "Email sent successfully"}, result)
	require.Len(t, f.logs.entries, 1)
	entry := f.logs.entries[0]
	assert.Equal(t, models.Sent, entry.Status)
	assert.Equal(t, "a@b.com", entry.Recipient)
	assert.Equal(t, "Hi", entry.Subject)
	assert.Equal(t, uint(7), entry.ApiKeyID)
	assert.Nil(t, entry.ErrorMessage)
	assert.Equal(t, 1, f.logs.finalized[1])

	require.Len(t, f.transport.sent, 1)
	msg := f.transport.sent[0]
	assert.Equal(t, "relay@example.com", msg.From)
	assert.Equal(t, "a@b.com", msg.To)
	assert.Equal(t, "hello", msg.Text)
	assert.Empty(t, msg.HTML)
}

func TestPipeline_SendBothAlternatives(t *testing.T) {
	f := newFixture(Options{})

	_, err := f.pipeline.HandleSend(context.Background(), "Bearer "+activeToken,
		Request{To: "a@b.com", Subject: "Hi", Body: "hello", HTML: "<p>hello</p>"})
	require.NoError(t, err)

	require.Len(t, f.transport.sent, 1)
	assert.Equal(t, "hello", f.transport.sent[0].Text)
	assert.Equal(t, "<p>hello</p>", f.transport.sent[0].HTML)
}

func TestPipeline_Unauthorized(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		message string
		lookups int
	}{
		{"missing header", "", MsgMissingAPIKey, 0},
		{"wrong scheme", "Basic " + activeToken, MsgMissingAPIKey, 0},
		{"empty token", "Bearer ", MsgMissingAPIKey, 0},
		{"unknown token", "Bearer nope", MsgInvalidAPIKey, 1},
		{"revoked token", "Bearer " + revokedToken, MsgInvalidAPIKey, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Options{})

			_, err := f.pipeline.HandleSend(context.Background(), tt.header,
				Request{To: "a@b.com", Subject: "Hi", Body: "hello"})

			e := requireKind(t, err, Unauthorized)
			assert.Equal(t, tt.message, e.Message)
			assert.Equal(t, tt.lookups, f.keys.hits)
			assert.Empty(t, f.logs.entries)
			assert.Empty(t, f.transport.sent)
		})
	}
}

func TestPipeline_InvalidRequest(t *testing.T) {
	tests := []struct {
		name    string
		req     Request
		message string
	}{
		{"missing to", Request{Subject: "Hi", Body: "x"}, MsgMissingFields},
		{"missing subject", Request{To: "a@b.com", Body: "x"}, MsgMissingFields},
		{"blank to", Request{To: "   ", Subject: "Hi", Body: "x"}, MsgMissingFields},
		{"blank subject", Request{To: "a@b.com", Subject: "\t", Body: "x"}, MsgMissingFields},
		{"no content", Request{To: "a@b.com", Subject: "Hi"}, MsgMissingContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(Options{})

			_, err := f.pipeline.HandleSend(context.Background(), "Bearer "+activeToken, tt.req)

			e := requireKind(t, err, InvalidRequest)
			assert.Equal(t, tt.message, e.Message)
			assert.Equal(t, 400, e.Kind.HTTPStatus())
			assert.Empty(t, f.logs.entries)
			assert.Empty(t, f.transport.sent)
		})
	}
}

func TestPipeline_ConfigurationError(t *testing.T) {
	f := newFixture(Options{})
	f.transport.config.Username = "  "

	_, err := f.pipeline.HandleSend(context.Background(), "Bearer "+activeToken,
		Request{To: "a@b.com", Subject: "Hi", Body: "hello"})

	e := requireKind(t, err, ConfigurationError)
	assert.Equal(t, MsgConfiguration, e.Message)
	assert.Equal(t, 500, e.Kind.HTTPStatus())
	assert.ErrorIs(t, err, smtp.ErrMissingCredentials)
	assert.Empty(t, f.logs.entries)
	assert.Empty(t, f.transport.sent)
}

func TestPipeline_TransportFailure(t *testing.T) {
	f := newFixture(Options{ExposeTransportErrors: true})
	f.transport.err = &smtp.Error{Op: "auth", Err: errors.New("535 5.7.8 authentication failed")}

	_, err := f.pipeline.HandleSend(context.Background(), "Bearer "+activeToken,
		Request{To: "a@b.com", Subject: "Hi", Body: "hello"})

	e := requireKind(t, err, TransportError)
	assert.Equal(t, "smtp auth: 535 5.7.8 authentication failed", e.Message)

	require.Len(t, f.logs.entries, 1)
	entry := f.logs.entries[0]
	assert.Equal(t, models.Failed, entry.Status)
	require.NotNil(t, entry.ErrorMessage)
	assert.Equal(t, "smtp auth: 535 5.7.8 authentication failed", *entry.ErrorMessage)
	assert.Equal(t, 1, f.logs.finalized[entry.Id])
}

func TestPipeline_TransportFailureHidden(t *testing.T) {
	f := newFixture(Options{ExposeTransportErrors: false})
	f.transport.err = &smtp.Error{Op: "connect", Err: errors.New("connection refused")}

	_, err := f.pipeline.HandleSend(context.Background(), "Bearer "+activeToken,
		Request{To: "a@b.com", Subject: "Hi", Body: "hello"})

	e := requireKind(t, err, TransportError)
	assert.Equal(t, MsgDeliveryFailed, e.Message)
	require.NotNil(t, f.logs.entries[0].ErrorMessage)
	assert.Contains(t, *f.logs.entries[0].ErrorMessage, "connection refused")
}

func TestPipeline_FinalizeSurvivesCancellation(t *testing.T) {
	f := newFixture(Options{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.transport.cancel = cancel
	f.transport.err = context.Canceled

	_, err := f.pipeline.HandleSend(ctx, "Bearer "+activeToken,
		Request{To: "a@b.com", Subject: "Hi", Body: "hello"})

	requireKind(t, err, TransportError)
	assert.ErrorIs(t, f.transport.ctxErr, context.Canceled)
	require.Len(t, f.logs.entries, 1)
	assert.Equal(t, models.Failed, f.logs.entries[0].Status)
}

func TestPipeline_FinalizeFailureAfterSend(t *testing.T) {
	f := newFixture(Options{})
	f.logs.finalizeErr = errors.New("database is locked")

	_, err := f.pipeline.HandleSend(context.Background(), "Bearer "+activeToken,
		Request{To: "a@b.com", Subject: "Hi", Body: "hello"})

	e := requireKind(t, err, Internal)
	assert.Equal(t, MsgLogUpdateFailed, e.Message)
	assert.Len(t, f.transport.sent, 1)
}

func TestPipeline_CreateLogFailure(t *testing.T) {
	f := newFixture(Options{})
	f.logs.createErr = errors.New("disk full")

	_, err := f.pipeline.HandleSend(context.Background(), "Bearer "+activeToken,
		Request{To: "a@b.com", Subject: "Hi", Body: "hello"})

	requireKind(t, err, Internal)
	assert.Empty(t, f.transport.sent)
}

func TestPipeline_NotIdempotent(t *testing.T) {
	f := newFixture(Options{})
	req := Request{To: "a@b.com", Subject: "Hi", Body: "hello"}

	first, err := f.pipeline.HandleSend(context.Background(), "Bearer "+activeToken, req)
	require.NoError(t, err)
	second, err := f.pipeline.HandleSend(context.Background(), "Bearer "+activeToken, req)
	require.NoError(t, err)

	assert.NotEqual(t, first.Id, second.Id)
	assert.Len(t, f.logs.entries, 2)
	assert.Len(t, f.transport.sent, 2)
}

func TestPipeline_TextFallback(t *testing.T) {
	f := newFixture(Options{TextFallback: true})

	_, err := f.pipeline.HandleSend(context.Background(), "Bearer "+activeToken,
		Request{To: "a@b.com", Subject: "Hi", HTML: "<p>Fish &amp; <b>chips</b></p>"})
	require.NoError(t, err)

	require.Len(t, f.transport.sent, 1)
	assert.Equal(t, "Fish & chips", f.transport.sent[0].Text)
	assert.Equal(t, "<p>Fish &amp; <b>chips</b></p>", f.transport.sent[0].HTML)
}

func TestPipeline_SenderOverride(t *testing.T) {
	f := newFixture(Options{Sender: "noreply@example.com"})

	_, err := f.pipeline.HandleSend(context.Background(), "Bearer "+activeToken,
		Request{To: "a@b.com", Subject: "Hi", Body: "hello"})
	require.NoError(t, err)
	assert.Equal(t, "noreply@example.com", f.transport.sent[0].From)
}

func TestPipeline_CredentialStoreFailure(t *testing.T) {
	f := newFixture(Options{})
	f.keys.err = errors.New("connection reset")

	_, err := f.pipeline.HandleSend(context.Background(), "Bearer "+activeToken,
		Request{To: "a@b.com", Subject: "Hi", Body: "hello"})

	requireKind(t, err, Internal)
	assert.Empty(t, f.logs.entries)
}

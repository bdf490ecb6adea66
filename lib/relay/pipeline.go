package relay

import (
	"context"
	"errors"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/relaymail/relaymail/lib"
	"github.com/relaymail/relaymail/lib/smtp"
	"github.com/relaymail/relaymail/models"
	"go.uber.org/zap"
)

const (
	MsgMissingAPIKey   = "Missing or invalid API Key"
	MsgInvalidAPIKey   = "Invalid API Key"
	MsgMissingFields   = "Missing required fields: 'to', 'subject'"
	MsgMissingContent  = "Missing email content. Provide 'body' (text) or 'html'."
	MsgInvalidBody     = "Request body must be a JSON object"
	MsgConfiguration   = "Server configuration error"
	MsgDeliveryFailed  = "Failed to deliver email"
	MsgSent            = "Email sent successfully"
	MsgLogUpdateFailed = "Email sent but delivery log update failed"
	MsgInternal        = "Internal Server Error"
)

// CredentialStore resolves a bearer token to an active key. Unknown and
// revoked tokens yield lib.ErrKeyNotFound.
type CredentialStore interface {
	Resolve(ctx context.Context, token string) (models.ApiKeys, error)
}

type DeliveryLog interface {
	Create(ctx context.Context, recipient, subject string, keyID uint) (*models.EmailLogs, error)
	Finalize(ctx context.Context, entry *models.EmailLogs, status models.DeliveryStatus, errText string) error
}

// Transport sends one message over its own connection.
type Transport interface {
	Config() smtp.Config
	Send(ctx context.Context, msg *smtp.Message) error
}

type Request struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body,omitempty"`
	HTML    string `json:"html,omitempty"`
}

type Result struct {
	Id      uint   `json:"id"`
	Message string `json:"message"`
}

type Options struct {
	// Sender overrides the From header. The envelope sender is always the
	// SMTP username.
	Sender string
	// ExposeTransportErrors returns the SMTP diagnostic to the caller instead
	// of a generic message. The log row keeps the diagnostic either way.
	ExposeTransportErrors bool
	// TextFallback derives a plain-text alternative from html-only requests.
	TextFallback bool
}

// Pipeline authenticates, validates, delivers and records one email per call.
// It holds no per-request state and is safe for concurrent use.
type Pipeline struct {
	keys      CredentialStore
	logs      DeliveryLog
	transport Transport
	opts      Options
	stripper  *bluemonday.Policy
	log       *zap.Logger
}

func NewPipeline(keys CredentialStore, logs DeliveryLog, transport Transport, opts Options, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	opts.Sender = strings.TrimSpace(opts.Sender)
	return &Pipeline{
		keys:      keys,
		logs:      logs,
		transport: transport,
		opts:      opts,
		stripper:  bluemonday.StrictPolicy(),
		log:       log,
	}
}

// Authenticate resolves the Authorization header to an active key.
func (p *Pipeline) Authenticate(ctx context.Context, authHeader string) (models.ApiKeys, error) {
	token, ok := lib.ParseBearerToken(authHeader)
	if !ok {
		lib.RejectedTotal.WithLabelValues(Unauthorized.String()).Inc()
		return models.ApiKeys{}, newError(Unauthorized, MsgMissingAPIKey, nil)
	}
	key, err := p.keys.Resolve(ctx, token)
	if errors.Is(err, lib.ErrKeyNotFound) {
		lib.RejectedTotal.WithLabelValues(Unauthorized.String()).Inc()
		p.log.Info("rejected unknown api key", zap.String("key", lib.MaskToken(token)))
		return models.ApiKeys{}, newError(Unauthorized, MsgInvalidAPIKey, err)
	}
	if err != nil {
		p.log.Error("api key lookup failed", zap.Error(err))
		return models.ApiKeys{}, newError(Internal, MsgInternal, err)
	}
	return key, nil
}

// Validate checks the payload and returns it with to and subject trimmed.
func Validate(req Request) (Request, error) {
	req.To = strings.TrimSpace(req.To)
	req.Subject = strings.TrimSpace(req.Subject)
	if req.To == "" || req.Subject == "" {
		return req, newError(InvalidRequest, MsgMissingFields, nil)
	}
	if req.Body == "" && req.HTML == "" {
		return req, newError(InvalidRequest, MsgMissingContent, nil)
	}
	return req, nil
}

// Send delivers req on behalf of key. Once validation and the configuration
// check pass, exactly one email log row is created and finalized, whatever
// the outcome of delivery.
func (p *Pipeline) Send(ctx context.Context, key models.ApiKeys, req Request) (Result, error) {
	req, err := Validate(req)
	if err != nil {
		lib.RejectedTotal.WithLabelValues(InvalidRequest.String()).Inc()
		return Result{}, err
	}

	cfg := p.transport.Config()
	if err := cfg.Validate(); err != nil {
		lib.RejectedTotal.WithLabelValues(ConfigurationError.String()).Inc()
		p.log.Error("smtp configuration incomplete",
			zap.String("host", cfg.Host),
			zap.String("username", cfg.Username),
			zap.Bool("password_set", strings.TrimSpace(cfg.Password) != ""))
		return Result{}, newError(ConfigurationError, MsgConfiguration, err)
	}

	entry, err := p.logs.Create(ctx, req.To, req.Subject, key.Id)
	if err != nil {
		p.log.Error("create email log failed", zap.Uint("key_id", key.Id), zap.Error(err))
		return Result{}, newError(Internal, MsgInternal, err)
	}

	fields := []zap.Field{
		zap.Uint("log_id", entry.Id),
		zap.Uint("key_id", key.Id),
		zap.String("key", lib.MaskToken(key.Token)),
		zap.String("recipient", req.To),
	}

	start := time.Now()
	sendErr := p.transport.Send(ctx, p.compose(cfg, req))
	elapsed := time.Since(start)
	lib.SendDuration.Observe(elapsed.Seconds())
	fields = append(fields, zap.Duration("duration", elapsed))

	// The row must reach a terminal state even if the caller went away.
	finalizeCtx := context.WithoutCancel(ctx)

	if sendErr != nil {
		lib.EmailsTotal.WithLabelValues(string(models.Failed)).Inc()
		if err := p.logs.Finalize(finalizeCtx, entry, models.Failed, sendErr.Error()); err != nil {
			p.log.Error("finalize failed email log", append(fields, zap.Error(err))...)
		}
		p.log.Warn("email delivery failed", append(fields, zap.Error(sendErr))...)

		message := MsgDeliveryFailed
		if p.opts.ExposeTransportErrors {
			message = sendErr.Error()
		}
		return Result{}, newError(TransportError, message, sendErr)
	}

	lib.EmailsTotal.WithLabelValues(string(models.Sent)).Inc()
	if err := p.logs.Finalize(finalizeCtx, entry, models.Sent, ""); err != nil {
		p.log.Error("finalize sent email log", append(fields, zap.Error(err))...)
		return Result{}, newError(Internal, MsgLogUpdateFailed, err)
	}
	p.log.Info("email sent", fields...)
	return Result{Id: entry.Id, Message: MsgSent}, nil
}

// HandleSend authenticates authHeader and then sends req.
func (p *Pipeline) HandleSend(ctx context.Context, authHeader string, req Request) (Result, error) {
	key, err := p.Authenticate(ctx, authHeader)
	if err != nil {
		return Result{}, err
	}
	return p.Send(ctx, key, req)
}

func (p *Pipeline) compose(cfg smtp.Config, req Request) *smtp.Message {
	from := p.opts.Sender
	if from == "" {
		from = strings.TrimSpace(cfg.Username)
	}
	text := req.Body
	if text == "" && req.HTML != "" && p.opts.TextFallback {
		text = strings.TrimSpace(html.UnescapeString(p.stripper.Sanitize(req.HTML)))
	}
	return &smtp.Message{
		From:    from,
		To:      req.To,
		Subject: req.Subject,
		Text:    text,
		HTML:    req.HTML,
	}
}

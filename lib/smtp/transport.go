package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
	"go.uber.org/zap"
)

const (
	DefaultPort     = 587
	ImplicitTLSPort = 465
	DefaultTimeout  = 30 * time.Second
)

type TLSMode string

const (
	// TLSAuto uses implicit TLS on port 465 and mandatory STARTTLS elsewhere.
	TLSAuto     TLSMode = "auto"
	TLSImplicit TLSMode = "implicit"
	TLSStartTLS TLSMode = "starttls"
)

// Config is the upstream relay the transport talks to. It is fixed when the
// transport is built.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	TLSMode  TLSMode
	Timeout  time.Duration
	HeloName string
}

// Validate reports ErrMissingCredentials when host, username or password is
// blank after trimming.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" ||
		strings.TrimSpace(c.Username) == "" ||
		strings.TrimSpace(c.Password) == "" {
		return ErrMissingCredentials
	}
	return nil
}

func (c Config) Address() string {
	port := c.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(strings.TrimSpace(c.Host), strconv.Itoa(port))
}

func (c Config) implicitTLS() bool {
	switch c.TLSMode {
	case TLSImplicit:
		return true
	case TLSStartTLS:
		return false
	default:
		return c.Port == ImplicitTLSPort
	}
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return DefaultTimeout
	}
	return c.Timeout
}

func (c Config) heloName() string {
	if c.HeloName == "" {
		return "localhost"
	}
	return c.HeloName
}

// Transport delivers one message per connection to the configured relay.
// Connections are never pooled or reused.
type Transport struct {
	config    Config
	tlsConfig *tls.Config
	logger    *zap.Logger
}

type Option func(*Transport)

// WithTLSConfig overrides the TLS settings used for implicit TLS and
// STARTTLS. ServerName defaults to the configured host.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(t *Transport) {
		t.tlsConfig = cfg
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

func NewTransport(cfg Config, opts ...Option) *Transport {
	t := &Transport{
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Config() Config {
	return t.config
}

// Send runs a full SMTP conversation for msg: connect, greeting, TLS,
// AUTH, MAIL FROM (the configured username), RCPT TO, DATA and QUIT.
// Every step is bounded by the configured timeout and by ctx. The QUIT
// outcome never changes the returned error.
func (t *Transport) Send(ctx context.Context, msg *Message) error {
	if msg.To == "" {
		return &Error{Op: "compose", Err: ErrNoRecipient}
	}
	data, err := msg.Bytes()
	if err != nil {
		return &Error{Op: "compose", Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, t.config.timeout())
	defer cancel()

	dialer := net.Dialer{Timeout: t.config.timeout()}
	conn, err := dialer.DialContext(ctx, "tcp", t.config.Address())
	if err != nil {
		return &Error{Op: "connect", Err: err}
	}
	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	c, err := t.open(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}
	sent := false
	defer func() {
		t.release(c, sent)
	}()

	if err := t.authenticate(c); err != nil {
		return err
	}
	if err := c.Mail(t.config.Username, nil); err != nil {
		return &Error{Op: "mail", Err: err}
	}
	if err := c.Rcpt(msg.To, nil); err != nil {
		return &Error{Op: "rcpt", Err: err}
	}
	w, err := c.Data()
	if err != nil {
		return &Error{Op: "data", Err: err}
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return &Error{Op: "data", Err: err}
	}
	if err := w.Close(); err != nil {
		return &Error{Op: "data", Err: err}
	}
	sent = true
	return nil
}

// open performs the TLS setup and greetings. With implicit TLS the handshake
// happens before EHLO and HeloName is used for the greeting. Otherwise the
// client greets in clear with the library default name, STARTTLS is required,
// and EHLO is repeated over the upgraded connection on the next command.
func (t *Transport) open(ctx context.Context, conn net.Conn) (*gosmtp.Client, error) {
	if !t.config.implicitTLS() {
		c, err := gosmtp.NewClientStartTLS(conn, t.clientTLSConfig())
		if err != nil {
			if isSTARTTLSUnsupported(err) {
				err = ErrSTARTTLSUnsupported
			}
			return nil, &Error{Op: "starttls", Err: err}
		}
		t.setTimeouts(c)
		return c, nil
	}

	tlsConn := tls.Client(conn, t.clientTLSConfig())
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, &Error{Op: "tls", Err: err}
	}
	c := gosmtp.NewClient(tlsConn)
	t.setTimeouts(c)
	if err := c.Hello(t.config.heloName()); err != nil {
		c.Close()
		return nil, &Error{Op: "greeting", Err: err}
	}
	return c, nil
}

func (t *Transport) setTimeouts(c *gosmtp.Client) {
	c.CommandTimeout = t.config.timeout()
	c.SubmissionTimeout = t.config.timeout()
}

// isSTARTTLSUnsupported matches the error go-smtp returns when the server
// does not advertise the extension. A rejected STARTTLS command comes back as
// an *SMTPError and is reported as is.
func isSTARTTLSUnsupported(err error) bool {
	var smtpErr *gosmtp.SMTPError
	if errors.As(err, &smtpErr) {
		return false
	}
	return strings.Contains(err.Error(), "support STARTTLS")
}

func (t *Transport) authenticate(c *gosmtp.Client) error {
	ok, params := c.Extension("AUTH")
	if !ok {
		return &Error{Op: "auth", Err: ErrNoAuthMechanism}
	}

	var client sasl.Client
	mechanisms := strings.Fields(strings.ToUpper(params))
	switch {
	case contains(mechanisms, sasl.Plain):
		client = sasl.NewPlainClient("", t.config.Username, t.config.Password)
	case contains(mechanisms, sasl.Login):
		client = sasl.NewLoginClient(t.config.Username, t.config.Password)
	default:
		return &Error{Op: "auth", Err: ErrNoAuthMechanism}
	}

	if err := c.Auth(client); err != nil {
		return &Error{Op: "auth", Err: err}
	}
	return nil
}

func (t *Transport) release(c *gosmtp.Client, sent bool) {
	if err := c.Quit(); err != nil {
		_ = c.Close()
		t.logger.Debug("smtp quit failed",
			zap.String("host", t.config.Host),
			zap.Bool("sent", sent),
			zap.Error(err))
	}
}

func (t *Transport) clientTLSConfig() *tls.Config {
	var cfg *tls.Config
	if t.tlsConfig != nil {
		cfg = t.tlsConfig.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		cfg.ServerName = strings.TrimSpace(t.config.Host)
	}
	return cfg
}

func contains(values []string, want string) bool {
	for _, v := range values {
		if v == want {
			return true
		}
	}
	return false
}

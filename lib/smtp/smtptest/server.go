// Package smtptest runs an in-process SMTP relay for tests. It speaks
// STARTTLS or implicit TLS with a certificate for 127.0.0.1 and requires
// AUTH PLAIN before MAIL FROM.
package smtptest

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"
)

const (
	Username = "relay@example.com"
	Password = "s3cret"
)

// Delivery is one accepted message.
type Delivery struct {
	From string
	To   []string
	Data []byte
}

type Options struct {
	// ImplicitTLS wraps the listener in TLS, like port 465.
	ImplicitTLS bool
	// NoSTARTTLS stops the server from advertising STARTTLS.
	NoSTARTTLS bool
}

type Server struct {
	Host  string
	Port  int
	Roots *x509.CertPool

	mu         sync.Mutex
	deliveries []Delivery
	server     *gosmtp.Server
}

// NewServer starts a relay that is closed when the test ends.
func NewServer(t testing.TB, opts Options) *Server {
	t.Helper()
	cert, roots := Certificate()

	s := &Server{Host: "127.0.0.1", Roots: roots}
	server := gosmtp.NewServer(&backend{server: s})
	server.Domain = "localhost"
	server.ReadTimeout = 5 * time.Second
	server.WriteTimeout = 5 * time.Second
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}}
	if !opts.ImplicitTLS && !opts.NoSTARTTLS {
		server.TLSConfig = tlsConfig
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("smtptest: listen: %v", err)
	}
	if opts.ImplicitTLS {
		l = tls.NewListener(l, tlsConfig)
	}
	go func() {
		_ = server.Serve(l)
	}()
	t.Cleanup(func() {
		_ = server.Close()
	})

	s.server = server
	s.Port = l.Addr().(*net.TCPAddr).Port
	return s
}

// ClientTLSConfig trusts the server certificate.
func (s *Server) ClientTLSConfig() *tls.Config {
	return &tls.Config{RootCAs: s.Roots}
}

func (s *Server) Deliveries() []Delivery {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Delivery(nil), s.deliveries...)
}

func (s *Server) record(d Delivery) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, d)
}

// Certificate borrows the self-signed certificate httptest issues for
// 127.0.0.1 and returns it with a pool that trusts it.
func Certificate() (tls.Certificate, *x509.CertPool) {
	ts := httptest.NewUnstartedServer(http.NotFoundHandler())
	ts.StartTLS()
	defer ts.Close()

	pool := x509.NewCertPool()
	pool.AddCert(ts.Certificate())
	return ts.TLS.Certificates[0], pool
}

type backend struct {
	server *Server
}

func (b *backend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &session{server: b.server}, nil
}

type session struct {
	server  *Server
	authed  bool
	current Delivery
}

func (s *session) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *session) Auth(_ string) (sasl.Server, error) {
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != Username || password != Password {
			return errors.New("invalid username or password")
		}
		s.authed = true
		return nil
	}), nil
}

func (s *session) Mail(from string, _ *gosmtp.MailOptions) error {
	if !s.authed {
		return &gosmtp.SMTPError{
			Code:         530,
			EnhancedCode: gosmtp.EnhancedCode{5, 7, 0},
			Message:      "Authentication required",
		}
	}
	s.current.From = from
	return nil
}

func (s *session) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.current.To = append(s.current.To, to)
	return nil
}

func (s *session) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.current.Data = data
	s.server.record(s.current)
	return nil
}

func (s *session) Reset() {
	s.current = Delivery{}
}

func (s *session) Logout() error {
	return nil
}

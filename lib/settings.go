package lib

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// loadDotEnv loads .env from the working directory when present. Values
// already set in the process environment win.
func loadDotEnv() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}
	path := filepath.Join(cwd, ".env")
	if _, err := os.Stat(path); err != nil {
		return
	}
	if err := godotenv.Load(path); err != nil {
		fmt.Fprintln(os.Stderr, "Error loading .env file:", err)
	}
}

// SenderAddress is the From address used on every relayed message: the
// configured sender, or the SMTP username when none is set. Both are trimmed
// the same way the transport trims the username.
func (c SMTPConfig) SenderAddress() string {
	if sender := strings.TrimSpace(c.Sender); sender != "" {
		return sender
	}
	return strings.TrimSpace(c.Username)
}

// ShutdownGrace returns how long in-flight requests get on shutdown.
func (n Network) ShutdownGrace() time.Duration {
	if n.ShutdownTimeout <= 0 {
		return 15 * time.Second
	}
	return time.Duration(n.ShutdownTimeout) * time.Second
}

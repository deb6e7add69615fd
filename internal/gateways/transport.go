package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

var (
	// ErrTransport wraps every failed delivery attempt.
	ErrTransport = errors.New("mail transport failed")
)

const (
	DriverLog   = "log"
	DriverSMTP  = "smtp"
	DriverSES   = "ses"
	DriverRelay = "relay"
)

// Email is one fully rendered outbound message.
type Email struct {
	TrackingID string
	FromName   string
	From       string
	ToName     string
	To         string
	Subject    string
	HTML       string
}

func (e *Email) FromHeader() string {
	return (&mail.Address{Name: e.FromName, Address: e.From}).String()
}

func (e *Email) ToHeader() string {
	return (&mail.Address{Name: e.ToName, Address: e.To}).String()
}

// Transport delivers a message and returns the identifier the transport
// assigned to it.
type Transport interface {
	Send(ctx context.Context, msg *Email) (string, error)
	Name() string
}

type Options struct {
	Driver  string
	Timeout time.Duration

	SMTP SMTPConfig
	SES  SESConfig

	RelayUrls []string
}

// New builds the transport named by opts.Driver.
func New(ctx context.Context, opts Options) (Transport, error) {
	switch strings.ToLower(opts.Driver) {
	case "", DriverLog:
		return NewLogTransport(), nil
	case DriverSMTP:
		return NewSMTPTransport(opts.SMTP)
	case DriverSES:
		return NewSESTransport(ctx, opts.SES)
	case DriverRelay:
		return NewRelayTransport(opts.RelayUrls, opts.Timeout)
	default:
		return nil, fmt.Errorf("unknown transport driver %q", opts.Driver)
	}
}

func transportError(driver string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrTransport, driver, err)
}

// messageIDDomain picks the right-hand side of generated Message-IDs.
func messageIDDomain(from string) string {
	if i := strings.LastIndex(from, "@"); i >= 0 && i < len(from)-1 {
		return from[i+1:]
	}
	return "localhost"
}

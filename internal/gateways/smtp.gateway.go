package gateway

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/nimasrn/mail-tracker/pkg/logger"
)

type SMTPConfig struct {
	Host     string
	Port     int
	Secure   bool
	User     string
	Password string
	// InsecureSkipVerify disables certificate checks for private relays.
	InsecureSkipVerify bool
}

// SMTPTransport submits each message over a fresh SMTP session. Secure
// selects implicit TLS (port 465); otherwise STARTTLS is used when offered.
type SMTPTransport struct {
	cfg    SMTPConfig
	dialer *net.Dialer
	now    func() time.Time
}

func NewSMTPTransport(cfg SMTPConfig) (*SMTPTransport, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 465
	}
	return &SMTPTransport{
		cfg:    cfg,
		dialer: &net.Dialer{Timeout: 30 * time.Second},
		now:    time.Now,
	}, nil
}

func (t *SMTPTransport) Name() string {
	return DriverSMTP
}

func (t *SMTPTransport) Send(ctx context.Context, msg *Email) (string, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), messageIDDomain(msg.From))
	raw := buildMIME(msg, messageID, t.now())

	if err := t.deliver(ctx, msg.From, msg.To, raw); err != nil {
		return "", transportError(DriverSMTP, err)
	}
	logger.Debug("smtp message accepted", "to", msg.To, "message_id", messageID, "tracking_id", msg.TrackingID)
	return messageID, nil
}

func (t *SMTPTransport) deliver(ctx context.Context, from, to string, raw []byte) error {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	tlsCfg := &tls.Config{ServerName: t.cfg.Host, InsecureSkipVerify: t.cfg.InsecureSkipVerify} //nolint:gosec

	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	if t.cfg.Secure {
		conn = tls.Client(conn, tlsCfg)
	}

	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("smtp client: %w", err)
	}
	defer c.Close()

	if !t.cfg.Secure {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsCfg); err != nil {
				return fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}
	if t.cfg.User != "" {
		if ok, _ := c.Extension("AUTH"); ok {
			if err := c.Auth(smtp.PlainAuth("", t.cfg.User, t.cfg.Password, t.cfg.Host)); err != nil {
				return fmt.Errorf("AUTH: %w", err)
			}
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := c.Rcpt(to); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("DATA close: %w", err)
	}
	return c.Quit()
}

// buildMIME renders a multipart/alternative message with a single
// quoted-printable HTML part.
func buildMIME(msg *Email, messageID string, now time.Time) []byte {
	boundary := "=_" + uuid.NewString()[:16]

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "From: %s\r\n", msg.FromHeader())
	fmt.Fprintf(&buf, "To: %s\r\n", msg.ToHeader())
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&buf, "Date: %s\r\n", now.Format(time.RFC1123Z))
	fmt.Fprintf(&buf, "Message-ID: %s\r\n", messageID)
	if msg.TrackingID != "" {
		fmt.Fprintf(&buf, "X-Tracking-ID: %s\r\n", msg.TrackingID)
	}
	buf.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	buf.WriteString("\r\n")

	fmt.Fprintf(&buf, "--%s\r\n", boundary)
	buf.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	qp := quotedprintable.NewWriter(&buf)
	_, _ = qp.Write([]byte(msg.HTML))
	_ = qp.Close()
	buf.WriteString("\r\n")
	fmt.Fprintf(&buf, "--%s--\r\n", boundary)

	return buf.Bytes()
}

package gateway

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// fakeSMTPServer accepts one plain-text session and records the envelope.
type fakeSMTPServer struct {
	ln   net.Listener
	mu   sync.Mutex
	from string
	to   string
	data string
	done chan struct{}
}

func startFakeSMTP(t *testing.T) *fakeSMTPServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeSMTPServer{ln: ln, done: make(chan struct{})}
	go s.serve()
	t.Cleanup(func() { _ = ln.Close() })
	return s
}

func (s *fakeSMTPServer) serve() {
	defer close(s.done)
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 fake.local ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		cmd := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
			_ = tp.PrintfLine("250 fake.local")
		case strings.HasPrefix(cmd, "MAIL FROM:"):
			s.mu.Lock()
			s.from = strings.Trim(line[len("MAIL FROM:"):], "<> ")
			s.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case strings.HasPrefix(cmd, "RCPT TO:"):
			s.mu.Lock()
			s.to = strings.Trim(line[len("RCPT TO:"):], "<> ")
			s.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case cmd == "DATA":
			_ = tp.PrintfLine("354 go ahead")
			body, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.data = string(body)
			s.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case cmd == "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 unsupported")
		}
	}
}

func TestSMTPTransport_Send(t *testing.T) {
	srv := startFakeSMTP(t)
	host, port, err := net.SplitHostPort(srv.ln.Addr().String())
	require.NoError(t, err)

	p, err := strconv.Atoi(port)
	require.NoError(t, err)

	tr, err := NewSMTPTransport(SMTPConfig{Host: host, Port: p})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	id, err := tr.Send(ctx, &Email{
		TrackingID: "abc123",
		FromName:   "Sender",
		From:       "sender@example.com",
		ToName:     "Ada",
		To:         "ada@example.com",
		Subject:    "Hello Ada",
		HTML:       "<p>hi</p>",
	})
	require.NoError(t, err)
	<-srv.done

	assert.True(t, strings.HasPrefix(id, "<"))
	assert.True(t, strings.HasSuffix(id, "@example.com>"))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Equal(t, "sender@example.com", srv.from)
	assert.Equal(t, "ada@example.com", srv.to)
	assert.Contains(t, srv.data, "Message-ID: "+id)
	assert.Contains(t, srv.data, "X-Tracking-ID: abc123")
	assert.Contains(t, srv.data, "Subject: Hello Ada")
	assert.Contains(t, srv.data, "<p>hi</p>")
}

func TestSMTPTransport_ConnectFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	tr, err := NewSMTPTransport(SMTPConfig{Host: "127.0.0.1", Port: addr.Port})
	require.NoError(t, err)

	_, err = tr.Send(context.Background(), &Email{From: "a@example.com", To: "b@example.com"})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestBuildMIME_EncodesSubject(t *testing.T) {
	raw := string(buildMIME(&Email{
		From:    "sender@example.com",
		To:      "ada@example.com",
		Subject: "Grüße",
		HTML:    "<p>" + strings.Repeat("x", 200) + "</p>",
	}, "<id@example.com>", time.Unix(0, 0)))

	assert.Contains(t, raw, "Subject: =?utf-8?q?")
	assert.Contains(t, raw, "Content-Transfer-Encoding: quoted-printable")
	assert.Contains(t, raw, "multipart/alternative")
}

type mockSES struct {
	mock.Mock
}

func (m *mockSES) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	args := m.Called(ctx, params)
	if out := args.Get(0); out != nil {
		return out.(*sesv2.SendEmailOutput), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestSESTransport_Send(t *testing.T) {
	api := new(mockSES)
	tr := &SESTransport{client: api}
	msgID := "0100018c-ses"

	api.On("SendEmail", mock.Anything, mock.MatchedBy(func(in *sesv2.SendEmailInput) bool {
		return *in.FromEmailAddress == `"Sender" <sender@example.com>` &&
			in.Destination.ToAddresses[0] == "<ada@example.com>" &&
			*in.Content.Simple.Subject.Data == "Hello" &&
			*in.EmailTags[0].Value == "abc"
	})).Return(&sesv2.SendEmailOutput{MessageId: &msgID}, nil)

	id, err := tr.Send(context.Background(), &Email{
		TrackingID: "abc",
		FromName:   "Sender",
		From:       "sender@example.com",
		To:         "ada@example.com",
		Subject:    "Hello",
		HTML:       "<p>hi</p>",
	})
	require.NoError(t, err)
	assert.Equal(t, msgID, id)
	api.AssertExpectations(t)
}

func TestSESTransport_Error(t *testing.T) {
	api := new(mockSES)
	tr := &SESTransport{client: api}
	api.On("SendEmail", mock.Anything, mock.Anything).Return(nil, errors.New("throttled"))

	_, err := tr.Send(context.Background(), &Email{From: "a@example.com", To: "b@example.com"})
	assert.ErrorIs(t, err, ErrTransport)
	assert.Contains(t, err.Error(), "throttled")
}

func TestLogTransport(t *testing.T) {
	tr := NewLogTransport()
	id, err := tr.Send(context.Background(), &Email{From: "a@example.com", To: "b@example.com"})
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(id, "@example.com>"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Send(ctx, &Email{From: "a@example.com", To: "b@example.com"})
	assert.ErrorIs(t, err, ErrTransport)
}

func TestNew_Drivers(t *testing.T) {
	tr, err := New(context.Background(), Options{Driver: DriverLog})
	require.NoError(t, err)
	assert.Equal(t, DriverLog, tr.Name())

	_, err = New(context.Background(), Options{Driver: DriverSMTP})
	assert.Error(t, err)

	_, err = New(context.Background(), Options{Driver: "pigeon"})
	assert.Error(t, err)
}

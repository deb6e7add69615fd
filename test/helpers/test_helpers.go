package helpers

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	gateway "github.com/nimasrn/mail-tracker/internal/gateways"
	"github.com/nimasrn/mail-tracker/internal/model"
	"github.com/nimasrn/mail-tracker/internal/repository"
	"github.com/nimasrn/mail-tracker/pkg/pg"
	"github.com/nimasrn/mail-tracker/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// SetupTestDB opens an in-memory sqlite database with the tracking tables.
func SetupTestDB(t *testing.T) *pg.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), pg.GormConfig(false))
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&repository.TrackingEntity{}, &repository.TrackingLinkEntity{}))
	return pg.Wrap(db)
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)

	adapter, err := redis.NewRedisAdapter(fmt.Sprintf("test-%s-%d", t.Name(), time.Now().UnixNano()), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = adapter.Close() })

	return mr, adapter
}

// Recipient builds a recipient row with the default column names.
func Recipient(name, email, platform string, send bool) *model.Recipient {
	return model.NewRecipient(
		model.Field{Key: "Name", Value: name},
		model.Field{Key: "Email", Value: email},
		model.Field{Key: "Job Role", Value: "Backend Engineer"},
		model.Field{Key: "Company Name", Value: "Acme"},
		model.Field{Key: "hiringPlatform", Value: platform},
		model.Field{Key: "shouldSend", Value: fmt.Sprint(send)},
	)
}

// FakeTransport records every message and fails for the listed addresses.
type FakeTransport struct {
	mu     sync.Mutex
	Sent   []*gateway.Email
	FailTo map[string]bool
}

func NewFakeTransport(failTo ...string) *FakeTransport {
	t := &FakeTransport{FailTo: make(map[string]bool)}
	for _, addr := range failTo {
		t.FailTo[addr] = true
	}
	return t
}

func (f *FakeTransport) Name() string { return "fake" }

func (f *FakeTransport) Send(_ context.Context, msg *gateway.Email) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.FailTo[msg.To] {
		return "", fmt.Errorf("%w: fake: mailbox unavailable", gateway.ErrTransport)
	}
	f.Sent = append(f.Sent, msg)
	return fmt.Sprintf("<%d@fake.local>", len(f.Sent)), nil
}

func (f *FakeTransport) Messages() []*gateway.Email {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*gateway.Email(nil), f.Sent...)
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

package app

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/mail-tracker/internal/config"
	"github.com/nimasrn/mail-tracker/internal/lock"
	"github.com/nimasrn/mail-tracker/internal/queue"
	"github.com/nimasrn/mail-tracker/internal/recipients"
	"github.com/nimasrn/mail-tracker/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() *config.Config {
	c := &config.Config{}
	config.Set(c)
	return c
}

func TestBootstrap_Defaults(t *testing.T) {
	c := testConfig()

	d, err := Bootstrap(context.Background(), c)
	require.NoError(t, err)
	defer d.Close(context.Background())

	assert.Equal(t, repository.BackendMemory, d.Store.Backend())
	assert.Equal(t, "log", d.Transport.Name())
	assert.Nil(t, d.Redis)
	assert.IsType(t, &lock.LocalLocker{}, d.Locker)
	assert.IsType(t, queue.NopPublisher{}, d.Publisher)
}

func TestBootstrap_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	c := testConfig()
	c.RedisAddr = mr.Addr()

	d, err := Bootstrap(context.Background(), c)
	require.NoError(t, err)
	defer d.Close(context.Background())

	require.NotNil(t, d.Redis)
	assert.IsType(t, &lock.RedisLocker{}, d.Locker)
	assert.IsType(t, &queue.EngagementStream{}, d.Publisher)
}

func TestBootstrap_UnreachableRedisFallsBack(t *testing.T) {
	c := testConfig()
	c.RedisAddr = "127.0.0.1:1"

	d, err := Bootstrap(context.Background(), c)
	require.NoError(t, err)
	defer d.Close(context.Background())

	assert.Nil(t, d.Redis)
	assert.IsType(t, &lock.LocalLocker{}, d.Locker)
}

func TestNewTransport_UnknownDriver(t *testing.T) {
	c := testConfig()
	c.TransportDriver = "pigeon"

	_, err := NewTransport(context.Background(), c)
	assert.Error(t, err)
}

func TestRecipientFields(t *testing.T) {
	c := testConfig()
	c.RecipientLinkFields = []string{"hiringPlatform", "portfolio"}

	f := RecipientFields(c)
	assert.Equal(t, "Name", f.Name)
	assert.Equal(t, "Email", f.Email)
	assert.Equal(t, "shouldSend", f.Send)
	assert.Equal(t, []string{"hiringPlatform", "portfolio"}, f.Links)
}

func TestNewDispatchService_MissingTemplate(t *testing.T) {
	c := testConfig()
	c.TemplatePath = "/nonexistent/template.html"

	d, err := Bootstrap(context.Background(), c)
	require.NoError(t, err)

	_, err = NewDispatchService(c, d, recipients.StaticSource{})
	assert.Error(t, err)
}

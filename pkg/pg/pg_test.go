package pg

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_DSN(t *testing.T) {
	c := Config{Host: "db", Port: "5432", User: "u", Password: "p", Database: "mail"}
	assert.Equal(t, "host=db user=u password=p dbname=mail port=5432 sslmode=disable", c.DSN())

	c.ConnectTimeout = 1500 * time.Millisecond
	assert.Contains(t, c.DSN(), " connect_timeout=2")
}

func TestCreateReadWrite_SameConfigSharesPool(t *testing.T) {
	c := Config{Host: "127.0.0.1", Port: "1", User: "u", Database: "mail", ConnectTimeout: time.Second}

	db, err := CreateReadWrite(c, c, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	assert.Same(t, db.read, db.write)
}

func TestCreate_DoesNotDial(t *testing.T) {
	c := Config{Host: "192.0.2.1", Port: "5432", User: "u", Database: "mail", ConnectTimeout: time.Second}

	start := time.Now()
	db, err := CreateReadWrite(c, c, false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	assert.Less(t, time.Since(start), time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.Error(t, db.Ping(ctx))
}

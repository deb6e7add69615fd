package pg

import (
	"database/sql"
	"fmt"
	"math"
	"time"
)

type Config struct {
	User     string `env:"USER"`
	Host     string `env:"HOST"`
	Port     string `env:"PORT"`
	Password string `env:"PASSWORD"`
	Database string `env:"DBNAME"`
	// ConnectTimeout bounds dialing a new connection; zero leaves it to the OS.
	ConnectTimeout time.Duration
}

func (c Config) DSN() string {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable", c.Host, c.User, c.Password, c.Database, c.Port)
	if c.ConnectTimeout > 0 {
		// libpq counts whole seconds
		dsn += fmt.Sprintf(" connect_timeout=%d", int(math.Ceil(c.ConnectTimeout.Seconds())))
	}
	return dsn
}

func newSqlConnection(config Config) (*sql.DB, error) {
	return sql.Open("postgres", config.DSN())
}

package pg

import (
	"context"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"
)

type txContextKey string

const txKey txContextKey = "trx"

type DB struct {
	read  *gorm.DB
	write *gorm.DB
}

// GormConfig is shared by every connection so driver errors such as unique
// violations surface as gorm.ErrDuplicatedKey.
func GormConfig(withDebug bool) *gorm.Config {
	c := &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		TranslateError: true,
	}
	if !withDebug {
		c.Logger = logger.Default.LogMode(logger.Silent)
	}
	return c
}

// Create opens a lazy connection pool; nothing is dialed until the first
// query or Ping, so callers decide how long reachability may take.
func Create(config Config, withDebug bool) (*gorm.DB, error) {
	c := GormConfig(withDebug)
	c.DisableAutomaticPing = true
	db, err := gorm.Open(postgres.Open(config.DSN()), c)
	if err != nil {
		return nil, err
	}

	if withDebug {
		db = db.Debug()
	}
	return db, nil
}

// CreateReadWrite shares one pool when both sides point at the same server.
func CreateReadWrite(readConfig Config, writeConfig Config, withDebug bool) (*DB, error) {
	if readConfig == writeConfig {
		db, err := Create(writeConfig, withDebug)
		if err != nil {
			return nil, err
		}
		return Wrap(db), nil
	}

	read, err := Create(readConfig, withDebug)
	if err != nil {
		return nil, err
	}
	write, err := Create(writeConfig, withDebug)
	if err != nil {
		if readDB, dbErr := read.DB(); dbErr == nil {
			_ = readDB.Close()
		}
		return nil, err
	}
	return &DB{read, write}, nil
}

// Wrap uses a single gorm handle for both reads and writes.
func Wrap(db *gorm.DB) *DB {
	return &DB{read: db, write: db}
}

func (r *DB) Ping(ctx context.Context) error {
	sqlDB, err := r.write.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *DB) Close() error {
	sqlDB, err := r.write.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.Close(); err != nil {
		return err
	}
	if r.read == r.write {
		return nil
	}
	readDB, err := r.read.DB()
	if err != nil {
		return err
	}
	return readDB.Close()
}

func (r *DB) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return r.write.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ctx = context.WithValue(ctx, txKey, tx)
		return fn(ctx)
	})
}

func (r *DB) Write(ctx context.Context) *gorm.DB {
	tx, ok := ctx.Value(txKey).(*gorm.DB)
	if ok {
		return tx
	}

	tx = r.write.WithContext(ctx)

	return tx
}

func (r *DB) Read(ctx context.Context) *gorm.DB {
	tx, ok := ctx.Value(txKey).(*gorm.DB)
	if ok {
		return tx
	}

	tx = r.read.WithContext(ctx)

	return tx
}

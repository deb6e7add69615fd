// Package app wires the tracking store, Redis, the mail transport and the
// services from the loaded configuration. Both binaries start from here.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/nimasrn/mail-tracker/internal/config"
	gateway "github.com/nimasrn/mail-tracker/internal/gateways"
	"github.com/nimasrn/mail-tracker/internal/lock"
	"github.com/nimasrn/mail-tracker/internal/model"
	"github.com/nimasrn/mail-tracker/internal/queue"
	"github.com/nimasrn/mail-tracker/internal/recipients"
	"github.com/nimasrn/mail-tracker/internal/repository"
	"github.com/nimasrn/mail-tracker/internal/services"
	"github.com/nimasrn/mail-tracker/internal/templates"
	"github.com/nimasrn/mail-tracker/pkg/logger"
	"github.com/nimasrn/mail-tracker/pkg/pg"
	"github.com/nimasrn/mail-tracker/pkg/redis"
)

type Deps struct {
	Store     repository.TrackingStore
	Redis     redis.RedisAdapter // nil when Redis is not configured or unreachable
	Transport gateway.Transport
	Locker    lock.Locker
	Publisher queue.EventPublisher
}

func Bootstrap(ctx context.Context, c *config.Config) (*Deps, error) {
	transport, err := NewTransport(ctx, c)
	if err != nil {
		return nil, err
	}

	d := &Deps{
		Store:     OpenStore(ctx, c),
		Redis:     OpenRedis(c),
		Transport: transport,
		Locker:    lock.NewLocalLocker(),
		Publisher: queue.NopPublisher{},
	}

	if d.Redis != nil {
		d.Locker = lock.NewRedisLocker(d.Redis, lock.Config{TTL: c.BatchLockTTL})
		stream, err := NewEngagementStream(d.Redis, c, "")
		if err != nil {
			return nil, err
		}
		d.Publisher = stream
	}
	return d, nil
}

func (d *Deps) Close(ctx context.Context) {
	if err := d.Store.Close(ctx); err != nil {
		logger.Warn("failed to close tracking store", "error", err)
	}
	if closer, ok := d.Transport.(interface{ Close() error }); ok {
		_ = closer.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
}

func PostgresConfig(c *config.Config) pg.Config {
	return pg.Config{
		User:     c.PostgresUser,
		Host:     c.PostgresHost,
		Port:     c.PostgresPort,
		Password: c.PostgresPassword,
		Database: c.PostgresDatabase,
	}
}

func OpenStore(ctx context.Context, c *config.Config) repository.TrackingStore {
	return repository.Open(ctx, repository.OpenOptions{
		MongoURI:      c.MongoURI,
		MongoDatabase: c.MongoDatabase,
		Postgres:      PostgresConfig(c),
		ProbeTimeout:  c.StoreProbeTimeout,
		Debug:         c.AppDebug,
	})
}

// OpenRedis connects when REDIS_ADDR is set. Without Redis the batch lock is
// process-local and engagement events are not published.
func OpenRedis(c *config.Config) redis.RedisAdapter {
	if c.RedisAddr == "" {
		logger.Info("redis not configured, using in-process batch lock")
		return nil
	}
	adapter, err := redis.NewRedisAdapter("default", c.RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{c.RedisAddr},
		ClientName: c.AppName,
		DB:         c.RedisDatabase,
		Username:   c.RedisUsername,
		Password:   c.RedisPassword,
	})
	if err != nil {
		logger.Warn("redis unreachable, using in-process batch lock", "addr", c.RedisAddr, "error", err)
		return nil
	}
	return adapter
}

// NewEngagementStream binds the engagement stream; consumer may be empty for
// publish-only use.
func NewEngagementStream(adapter redis.RedisAdapter, c *config.Config, consumer string) (*queue.EngagementStream, error) {
	q, err := queue.NewQueue(adapter, queue.QueueConfig{
		Name:          c.EventStreamName,
		ConsumerGroup: c.EventStreamGroup,
		ConsumerName:  consumer,
		MaxLen:        c.EventStreamMaxLen,
	})
	if err != nil {
		return nil, fmt.Errorf("engagement stream: %w", err)
	}
	return queue.NewEngagementStream(q), nil
}

func NewTransport(ctx context.Context, c *config.Config) (gateway.Transport, error) {
	t, err := gateway.New(ctx, gateway.Options{
		Driver:  c.TransportDriver,
		Timeout: c.TransportTimeout,
		SMTP: gateway.SMTPConfig{
			Host:     c.SmtpHost,
			Port:     c.SmtpPort,
			Secure:   c.SmtpSecure,
			User:     c.SmtpUser,
			Password: c.SmtpPassword,
		},
		SES: gateway.SESConfig{
			Region:          c.SesRegion,
			AccessKeyID:     c.SesAccessKeyID,
			SecretAccessKey: c.SesSecretAccessKey,
		},
		RelayUrls: c.RelayUrls(),
	})
	if err != nil {
		return nil, fmt.Errorf("mail transport: %w", err)
	}
	logger.Info("mail transport selected", "driver", t.Name())
	return t, nil
}

func RecipientFields(c *config.Config) model.RecipientFields {
	return model.RecipientFields{
		Name:  c.RecipientNameField,
		Email: c.RecipientEmailField,
		Send:  c.RecipientSendField,
		Links: c.RecipientLinkFields,
	}
}

// NewDispatchService reads the body template once; an unset TEMPLATE_PATH
// selects the built-in body.
func NewDispatchService(c *config.Config, d *Deps, source recipients.Source) (*services.DispatchService, error) {
	if source == nil {
		if _, err := os.Stat(c.RecipientsPath); err != nil {
			logger.Warn("recipient file not found, batches will fail until it exists", "path", c.RecipientsPath)
		}
		source = recipients.NewFileSource(c.RecipientsPath)
	}
	body, err := templates.LoadBody(c.TemplatePath)
	if err != nil {
		return nil, err
	}
	return services.NewDispatchService(d.Store, d.Transport, source, d.Locker, services.DispatchConfig{
		BaseURL:     c.AppBaseUrl,
		Subject:     c.EmailSubject,
		Body:        body,
		FromName:    c.EmailFromName,
		FromAddress: c.EmailFromAddress,
		Fields:      RecipientFields(c),
		SendTimeout: c.TransportTimeout,
	}), nil
}

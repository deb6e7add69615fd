package config

import (
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/joho/godotenv"
	"github.com/nimasrn/mail-tracker/pkg/logger"
	"github.com/pkg/errors"
)

var config *Config

// Config holds every setting of the service. Only this struct must be used
// to hold configuration values; no direct access to env or any other
// config source should be made elsewhere.
type Config struct {
	AppEnv              string `env:"APP_ENV"`
	AppName             string `env:"APP_NAME"`
	AppDebug            bool   `env:"APP_DEBUG"`
	AppDebugMetricsAddr string `env:"APP_DEBUG_METRIC_ADDR"`
	AppDebugMetricsURI  string `env:"APP_DEBUG_METRIC_URI"`
	// AppBaseUrl is the public origin embedded in tracking pixel and click URLs.
	AppBaseUrl string `env:"APP_BASE_URL"`

	HttpListenAddr string `env:"HTTP_LISTEN_ADDR"`

	PostgresHost     string `env:"POSTGRES_HOST"`
	PostgresPort     string `env:"POSTGRES_PORT"`
	PostgresUser     string `env:"POSTGRES_USER"`
	PostgresPassword string `env:"POSTGRES_PASSWORD"`
	PostgresDatabase string `env:"POSTGRES_DBNAME"`

	MongoURI      string `env:"MONGO_URI"`
	MongoDatabase string `env:"MONGO_DATABASE"`

	StoreProbeTimeout time.Duration `env:"STORE_PROBE_TIMEOUT"`

	RedisAddr               string `env:"REDIS_ADDR"`
	RedisUsername           string `env:"REDIS_USER"`
	RedisPassword           string `env:"REDIS_PASS"`
	RedisDatabase           int    `env:"REDIS_DATABASE"`
	RedisUniversalKeyPrefix string `env:"REDIS_UNIVERSAL_KEY_PREFIX"`

	PromNamespace string `env:"PROM_NAMESPACE"`

	LogLevel []string `env:"LOG_LEVEL"`

	EventStreamName   string `env:"EVENT_STREAM_NAME"`
	EventStreamMaxLen int64  `env:"EVENT_STREAM_MAX_LEN"`
	EventStreamGroup  string `env:"EVENT_STREAM_GROUP"`

	BatchLockTTL time.Duration `env:"BATCH_LOCK_TTL"`

	TemplatePath     string `env:"TEMPLATE_PATH"`
	EmailSubject     string `env:"EMAIL_SUBJECT"`
	EmailFromName    string `env:"EMAIL_FROM_NAME"`
	EmailFromAddress string `env:"EMAIL_FROM_ADDRESS"`

	RecipientsPath      string   `env:"RECIPIENTS_PATH"`
	RecipientNameField  string   `env:"RECIPIENT_NAME_FIELD"`
	RecipientEmailField string   `env:"RECIPIENT_EMAIL_FIELD"`
	RecipientLinkFields []string `env:"RECIPIENT_LINK_FIELDS"`
	RecipientSendField  string   `env:"RECIPIENT_SEND_FIELD"`

	TransportDriver  string        `env:"TRANSPORT_DRIVER"`
	TransportTimeout time.Duration `env:"TRANSPORT_TIMEOUT"`

	SmtpHost     string `env:"EMAIL_HOST"`
	SmtpPort     int    `env:"EMAIL_PORT"`
	SmtpSecure   bool   `env:"EMAIL_SECURE"`
	SmtpUser     string `env:"EMAIL_USER"`
	SmtpPassword string `env:"EMAIL_PASS"`

	SesRegion          string `env:"SES_REGION"`
	SesAccessKeyID     string `env:"SES_ACCESS_KEY_ID"`
	SesSecretAccessKey string `env:"SES_SECRET_ACCESS_KEY"`

	RelayPrimaryUrl   string `env:"RELAY_PRIMARY_URL"`
	RelaySecondaryUrl string `env:"RELAY_SECONDARY_URL"`
	RelayBackupUrl    string `env:"RELAY_BACKUP_URL"`
}

func Load(path string) error {
	logger.Info("loading configs..", "path", path)
	c := &Config{}
	var err error
	if path != "" {
		logger.Info("trying to publish env from file", "path", path)
		err = godotenv.Load(path)
		if err != nil {
			return errors.New("failed to load configuration file " + path + " error: " + err.Error())
		}
	}

	_, err = env.UnmarshalFromEnviron(c)
	if err != nil {
		return errors.New("failed to map env variables to Configuration object " + " error: " + err.Error())
	}

	c.applyDefaults()
	if err = c.validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	config = c
	return nil
}

// Set replaces the active configuration. Intended for tests and tools that
// build a Config in code.
func Set(c *Config) {
	c.applyDefaults()
	config = c
}

func Get() *Config {
	if config == nil {
		logger.Panic("Config is not initialized")
	}
	return config
}

func (c *Config) applyDefaults() {
	if c.AppEnv == "" {
		c.AppEnv = "dev"
	}
	if c.AppName == "" {
		c.AppName = "mail_tracker"
	}
	if c.AppBaseUrl == "" {
		c.AppBaseUrl = "http://localhost:3000"
	}
	c.AppBaseUrl = strings.TrimRight(c.AppBaseUrl, "/")
	if c.HttpListenAddr == "" {
		c.HttpListenAddr = ":3000"
	}
	if c.PostgresPort == "" {
		c.PostgresPort = "5432"
	}
	if c.MongoDatabase == "" {
		c.MongoDatabase = "mail_tracker"
	}
	if c.StoreProbeTimeout == 0 {
		c.StoreProbeTimeout = 3 * time.Second
	}
	if c.PromNamespace == "" {
		c.PromNamespace = c.AppName
	}
	if c.EventStreamName == "" {
		c.EventStreamName = "mail:engagement"
	}
	if c.EventStreamMaxLen == 0 {
		c.EventStreamMaxLen = 100_000
	}
	if c.EventStreamGroup == "" {
		c.EventStreamGroup = "engagement-tail"
	}
	if c.BatchLockTTL == 0 {
		c.BatchLockTTL = 30 * time.Minute
	}
	if c.EmailSubject == "" {
		c.EmailSubject = "Regarding the {{ fields[\"Job Role\"] }} role at {{ fields[\"Company Name\"] }}"
	}
	if c.EmailFromAddress == "" {
		c.EmailFromAddress = c.SmtpUser
	}
	if c.RecipientsPath == "" {
		c.RecipientsPath = "recipients.xlsx"
	}
	if c.RecipientNameField == "" {
		c.RecipientNameField = "Name"
	}
	if c.RecipientEmailField == "" {
		c.RecipientEmailField = "Email"
	}
	if len(c.RecipientLinkFields) == 0 {
		c.RecipientLinkFields = []string{"hiringPlatform"}
	}
	if c.RecipientSendField == "" {
		c.RecipientSendField = "shouldSend"
	}
	if c.TransportDriver == "" {
		c.TransportDriver = "log"
	}
	if c.TransportTimeout == 0 {
		c.TransportTimeout = 30 * time.Second
	}
	if c.SmtpPort == 0 {
		c.SmtpPort = 465
	}
}

func (c *Config) validate() error {
	switch c.TransportDriver {
	case "log", "relay":
	case "smtp":
		if c.SmtpHost == "" {
			return errors.New("EMAIL_HOST is required for the smtp transport")
		}
	case "ses":
		if c.SesRegion == "" {
			return errors.New("SES_REGION is required for the ses transport")
		}
	default:
		return errors.Errorf("unknown transport driver %q", c.TransportDriver)
	}
	return nil
}

// RelayUrls lists the configured relay endpoints in priority order.
func (c *Config) RelayUrls() []string {
	var urls []string
	for _, u := range []string{c.RelayPrimaryUrl, c.RelaySecondaryUrl, c.RelayBackupUrl} {
		if u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Configuration keys. Every key may come from the config file or from the
// environment with the ORGANIZER_ prefix, e.g. ORGANIZER_TELEGRAM_TOKEN.
const (
	CfgTgToken         = "telegram.token"
	CfgTgEndpoint      = "telegram.endpoint"
	CfgTgTimeout       = "telegram.timeout"
	CfgTgRetryAttempts = "telegram.retry_attempts"
	CfgTgRetryDelay    = "telegram.retry_delay"
	CfgDbConnStr       = "database.url"
	CfgDbRetryAttempts = "database.retry_attempts"
	CfgDbRetryDelay    = "database.retry_delay"
	CfgDbTimeout       = "database.timeout"
	CfgServerAddr      = "server.addr"
	CfgCronSecret      = "cron.secret"
	CfgCronSchedule    = "cron.schedule"
	CfgBatchSize       = "delivery.batch_size"
	CfgClaimTimeout    = "delivery.claim_timeout"
	CfgStatePath       = "client.state_path"
	CfgClientUser      = "client.user_id"
	CfgClientChat      = "client.chat_id"
	CfgClientInterval  = "client.interval"
	CfgClientTimeZone  = "client.timezone"
	CfgBaseCurrency    = "ledger.base_currency"
	CfgRates           = "ledger.rates"
	CfgLogLevel        = "logging.level"
	CfgLogDevelopment  = "logging.development"
)

const EnvPrefix = "ORGANIZER"

// MinClaimTimeout is the shortest claim timeout accepted. A claim that goes
// stale while its message is still being sent gets delivered twice.
const MinClaimTimeout = time.Second

var errMissingFields = errors.New("configuration is missing field(s)")

// Config keeps the application configuration.
type Config struct {
	TgToken         string
	TgEndpoint      string
	TgTimeout       time.Duration
	TgRetryAttempts int
	TgRetryDelay    time.Duration

	DBConnStr       string
	DBRetryAttempts int
	DBRetryDelay    time.Duration
	DBTimeout       time.Duration

	ServerAddr   string
	CronSecret   string
	CronSchedule string

	BatchSize    int
	ClaimTimeout time.Duration

	StatePath      string
	ClientUser     string
	ClientChat     int64
	ClientInterval time.Duration
	ClientTimeZone string

	BaseCurrency string
	Rates        map[string]decimal.Decimal

	LogLevel       string
	LogDevelopment bool
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(CfgTgEndpoint, "https://api.telegram.org/bot%s/%s")
	v.SetDefault(CfgTgTimeout, 10*time.Second)
	v.SetDefault(CfgTgRetryAttempts, 3)
	v.SetDefault(CfgTgRetryDelay, time.Second)
	v.SetDefault(CfgDbRetryAttempts, 3)
	v.SetDefault(CfgDbRetryDelay, time.Second)
	v.SetDefault(CfgDbTimeout, 5*time.Second)
	v.SetDefault(CfgServerAddr, ":8080")
	v.SetDefault(CfgBatchSize, 100)
	v.SetDefault(CfgClaimTimeout, 5*time.Minute)
	v.SetDefault(CfgStatePath, "organizer.db")
	v.SetDefault(CfgClientInterval, 30*time.Second)
	v.SetDefault(CfgClientTimeZone, "UTC")
	v.SetDefault(CfgBaseCurrency, "USD")
	v.SetDefault(CfgLogLevel, "info")
}

// Load reads the configuration out of v.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		TgToken:         v.GetString(CfgTgToken),
		TgEndpoint:      v.GetString(CfgTgEndpoint),
		TgTimeout:       v.GetDuration(CfgTgTimeout),
		TgRetryAttempts: v.GetInt(CfgTgRetryAttempts),
		TgRetryDelay:    v.GetDuration(CfgTgRetryDelay),
		DBConnStr:       v.GetString(CfgDbConnStr),
		DBRetryAttempts: v.GetInt(CfgDbRetryAttempts),
		DBRetryDelay:    v.GetDuration(CfgDbRetryDelay),
		DBTimeout:       v.GetDuration(CfgDbTimeout),
		ServerAddr:      v.GetString(CfgServerAddr),
		CronSecret:      v.GetString(CfgCronSecret),
		CronSchedule:    v.GetString(CfgCronSchedule),
		BatchSize:       v.GetInt(CfgBatchSize),
		ClaimTimeout:    v.GetDuration(CfgClaimTimeout),
		StatePath:       v.GetString(CfgStatePath),
		ClientUser:      v.GetString(CfgClientUser),
		ClientChat:      v.GetInt64(CfgClientChat),
		ClientInterval:  v.GetDuration(CfgClientInterval),
		ClientTimeZone:  v.GetString(CfgClientTimeZone),
		BaseCurrency:    strings.ToUpper(v.GetString(CfgBaseCurrency)),
		Rates:           make(map[string]decimal.Decimal),
		LogLevel:        v.GetString(CfgLogLevel),
		LogDevelopment:  v.GetBool(CfgLogDevelopment),
	}

	for cur, rate := range v.GetStringMapString(CfgRates) {
		r, err := decimal.NewFromString(rate)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid exchange rate for %q", cur)
		}
		cfg.Rates[strings.ToUpper(cur)] = r
	}

	if cfg.BatchSize <= 0 {
		return nil, errors.Errorf("%s must be positive, got %d", CfgBatchSize, cfg.BatchSize)
	}

	// a unit-less value is read as nanoseconds
	if cfg.ClaimTimeout < MinClaimTimeout {
		return nil, errors.Errorf("%s must be at least %s, got %s", CfgClaimTimeout, MinClaimTimeout, cfg.ClaimTimeout)
	}

	if cfg.TgTimeout <= 0 {
		return nil, errors.Errorf("%s must be positive, got %s", CfgTgTimeout, cfg.TgTimeout)
	}

	return cfg, nil
}

// Require makes sure that all the given keys have non-empty values.
func (c *Config) Require(keys ...string) error {
	values := map[string]bool{
		CfgTgToken:    c.TgToken != "",
		CfgDbConnStr:  c.DBConnStr != "",
		CfgCronSecret: c.CronSecret != "",
		CfgStatePath:  c.StatePath != "",
		CfgClientUser: c.ClientUser != "",
	}

	missing := []string{}
	for _, k := range keys {
		if set, known := values[k]; !known || !set {
			missing = append(missing, k)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", errMissingFields, strings.Join(missing, ", "))
	}

	return nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port           int           `mapstructure:"port"`
		ReadTimeout    time.Duration `mapstructure:"readTimeout"`
		WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
		RequestTimeout time.Duration `mapstructure:"requestTimeout"` // upper bound for one webhook's processing
	} `mapstructure:"server"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresSchema      string `mapstructure:"postgresSchema"` // empty means the search_path default
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
	} `mapstructure:"database"`
	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`
	Lease struct {
		Backend       string        `mapstructure:"backend"` // postgres | redis
		TTL           time.Duration `mapstructure:"ttl"`
		SweepInterval time.Duration `mapstructure:"sweepInterval"`
	} `mapstructure:"lease"`
	Calls struct {
		DemoMaxDuration time.Duration `mapstructure:"demoMaxDuration"` // caps the lease TTL for demo workspaces
	} `mapstructure:"calls"`
	Tool struct {
		URL     string        `mapstructure:"url"`
		APIKey  string        `mapstructure:"apiKey"`
		Timeout time.Duration `mapstructure:"timeout"` // per shot
	} `mapstructure:"tool"`
	Phone struct {
		DefaultRegion string `mapstructure:"defaultRegion"`
	} `mapstructure:"phone"`
	Persona struct {
		Fallback string `mapstructure:"fallback"`
	} `mapstructure:"persona"`
	Webhook struct {
		Secret    string `mapstructure:"secret"`
		RateLimit struct {
			RPS   float64 `mapstructure:"rps"` // 0 disables the limiter
			Burst int     `mapstructure:"burst"`
		} `mapstructure:"rateLimit"`
	} `mapstructure:"webhook"`
	NATS struct {
		Enabled bool   `mapstructure:"enabled"`
		URL     string `mapstructure:"url"`
		Stream  string `mapstructure:"stream"`
		Subject string `mapstructure:"subject"`
	} `mapstructure:"nats"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
		Port    int  `mapstructure:"port"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		Anomaly AnomalyWorkerPoolConfig `mapstructure:"anomaly"`
	} `mapstructure:"workerPools"`
}

// AnomalyWorkerPoolConfig holds configuration for the async anomaly check pool
type AnomalyWorkerPoolConfig struct {
	PoolSize          int           `mapstructure:"poolSize"`
	QueueSize         int           `mapstructure:"queueSize"`
	ExpiryTime        time.Duration `mapstructure:"expiryTime"`
	Window            time.Duration `mapstructure:"window"`            // look-back for repeated calls
	MaxCallsPerWindow int           `mapstructure:"maxCallsPerWindow"` // more than this from one caller is flagged
	VerdictTTL        time.Duration `mapstructure:"verdictTTL"`        // how long a flag stays visible to guardrails
}

const (
	LeaseBackendPostgres = "postgres"
	LeaseBackendRedis    = "redis"
)

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 10*time.Second)
	v.SetDefault("server.writeTimeout", 30*time.Second)
	v.SetDefault("server.requestTimeout", 25*time.Second)
	v.SetDefault("database.postgresAutoMigrate", true)
	v.SetDefault("lease.backend", LeaseBackendPostgres)
	v.SetDefault("lease.ttl", 15*time.Minute)
	v.SetDefault("lease.sweepInterval", 10*time.Second)
	v.SetDefault("calls.demoMaxDuration", 5*time.Minute)
	v.SetDefault("tool.timeout", 5*time.Second)
	v.SetDefault("phone.defaultRegion", "US")
	v.SetDefault("persona.fallback", "support_en")
	v.SetDefault("webhook.rateLimit.rps", 50)
	v.SetDefault("webhook.rateLimit.burst", 100)
	v.SetDefault("nats.stream", "CALLS")
	v.SetDefault("nats.subject", "v1.calls.finalized")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 2112)
	v.SetDefault("workerPools.anomaly.poolSize", 10)
	v.SetDefault("workerPools.anomaly.queueSize", 1000)
	v.SetDefault("workerPools.anomaly.expiryTime", time.Minute)
	v.SetDefault("workerPools.anomaly.window", 10*time.Minute)
	v.SetDefault("workerPools.anomaly.maxCallsPerWindow", 5)
	v.SetDefault("workerPools.anomaly.verdictTTL", 30*time.Minute)

	v.SetConfigName("default")
	v.SetConfigType("yaml")

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("/etc/denku-call-events")

	if err := v.ReadInConfig(); err != nil {
		// It's ok if config file is not found, we'll use env vars
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		v.Set("webhook.secret", secret)
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		v.Set("redis.addr", addr)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if url := os.Getenv("TOOL_URL"); url != "" {
		v.Set("tool.url", url)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 {
		errs = append(errs, errors.New("server.port must be positive"))
	}
	switch c.Lease.Backend {
	case LeaseBackendPostgres:
	case LeaseBackendRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, errors.New("redis.addr is required when lease.backend=redis"))
		}
	default:
		errs = append(errs, fmt.Errorf("lease.backend %q must be %q or %q", c.Lease.Backend, LeaseBackendPostgres, LeaseBackendRedis))
	}
	if c.Lease.TTL <= 0 {
		errs = append(errs, errors.New("lease.ttl must be positive"))
	}
	if c.Calls.DemoMaxDuration < 0 {
		errs = append(errs, errors.New("calls.demoMaxDuration must not be negative"))
	}
	if c.Tool.URL != "" && c.Tool.Timeout <= 0 {
		errs = append(errs, errors.New("tool.timeout must be positive when tool.url is set"))
	}
	if c.Webhook.RateLimit.RPS < 0 {
		errs = append(errs, errors.New("webhook.rateLimit.rps must not be negative"))
	}
	if c.NATS.Enabled && c.NATS.URL == "" {
		errs = append(errs, errors.New("nats.url is required when nats.enabled"))
	}
	if c.Persona.Fallback == "" {
		errs = append(errs, errors.New("persona.fallback must not be empty"))
	}
	return errors.Join(errs...)
}

// LeaseTTLFor returns the lease TTL for a workspace, capped for demo workspaces.
func (c *Config) LeaseTTLFor(demo bool) time.Duration {
	if demo && c.Calls.DemoMaxDuration > 0 && c.Calls.DemoMaxDuration < c.Lease.TTL {
		return c.Calls.DemoMaxDuration
	}
	return c.Lease.TTL
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(append([]string{}, parts...), tag)
		key := strings.Join(path, ".")

		// time.Duration is an int64, so only real structs recurse
		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}

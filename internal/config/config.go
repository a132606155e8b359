package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	DNS       DNSConfig
	ACME      ACMEConfig
	Plans     PlansConfig
	Scheduler SchedulerConfig
	Notify    NotifyConfig
}

type ServerConfig struct {
	Port      string
	Mode      string
	JWTSecret string
	// InternalToken authorizes edge nodes calling the routing lookup.
	InternalToken string
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MaxIdleConns   int
	MigrationsPath string
}

type RedisConfig struct {
	URL string
}

type DNSConfig struct {
	// Nameserver used for verification lookups, host:port.
	Nameserver string
	// CNAMETarget is the canonical ingress hostname tenant DNS must point to.
	CNAMETarget string
	// ChallengePrefix is the TXT record label for ownership tokens.
	ChallengePrefix string
	// ReservedDomains extends the built-in denylist of hostnames tenants
	// may never claim.
	ReservedDomains []string
	Timeout         time.Duration
	// RetryAfter is the hint returned while records are still propagating.
	RetryAfter time.Duration
}

type ACMEConfig struct {
	DirectoryURL string
	Email        string
	Enabled      bool
	Timeout      time.Duration
}

type PlansConfig struct {
	// ServiceURL points at the plan/tenant service. When empty the
	// static tier limits below apply.
	ServiceURL string
	AuthToken  string
	TierLimits map[string]int
}

type SchedulerConfig struct {
	WorkerCount         int
	CheckTimeout        time.Duration
	HealthStaleAfter    time.Duration
	RenewBeforeExpiry   time.Duration
	BatchLimit          int
	ExternalCallsPerSec float64
	ExternalCallsBurst  int
}

type NotifyConfig struct {
	WebhookURL string
	FromEmail  string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.SetEnvPrefix("DOMAINWARDEN")
	viper.AutomaticEnv()

	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.maxconnections", 25)
	viper.SetDefault("database.maxidleconns", 5)
	viper.SetDefault("database.migrationspath", "migrations")
	viper.SetDefault("dns.nameserver", "8.8.8.8:53")
	viper.SetDefault("dns.challengeprefix", "_acme-challenge")
	viper.SetDefault("dns.timeout", "5s")
	viper.SetDefault("dns.retryafter", "300s")
	viper.SetDefault("acme.directoryurl", "https://acme-v02.api.letsencrypt.org/directory")
	viper.SetDefault("acme.timeout", "60s")
	viper.SetDefault("scheduler.workercount", 5)
	viper.SetDefault("scheduler.checktimeout", "30s")
	viper.SetDefault("scheduler.healthstaleafter", "60m")
	viper.SetDefault("scheduler.renewbeforeexpiry", "720h") // 30 days
	viper.SetDefault("scheduler.batchlimit", 100)
	viper.SetDefault("scheduler.externalcallspersec", 5)
	viper.SetDefault("scheduler.externalcallsburst", 10)

	var cfg Config
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Override with environment variables
	if url := os.Getenv("DATABASE_URL"); url != "" {
		cfg.Database.URL = url
	}
	if url := os.Getenv("REDIS_URL"); url != "" {
		cfg.Redis.URL = url
	}
	if url := os.Getenv("ACME_DIRECTORY_URL"); url != "" {
		cfg.ACME.DirectoryURL = url
	}
	if target := os.Getenv("DNS_CNAME_TARGET"); target != "" {
		cfg.DNS.CNAMETarget = target
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.Server.JWTSecret = secret
	}
	if token := os.Getenv("INTERNAL_API_TOKEN"); token != "" {
		cfg.Server.InternalToken = token
	}

	// Default tier limits if not configured
	if len(cfg.Plans.TierLimits) == 0 {
		cfg.Plans.TierLimits = map[string]int{
			"free":       1,
			"starter":    3,
			"business":   10,
			"enterprise": 50,
		}
	}

	return &cfg, nil
}

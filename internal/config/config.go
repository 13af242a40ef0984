package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Policy   PolicyConfig   `mapstructure:"policy"`
	Sweeper  SweeperConfig  `mapstructure:"sweeper"`
}

type ServerConfig struct {
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Stream   string `mapstructure:"stream"`
}

// PolicyConfig carries the lending constants as configured (flat numeric
// values); ToPolicy resolves them into the types the services consume.
type PolicyConfig struct {
	LoanPeriodDays       int     `mapstructure:"loan_period_days"`
	MaxRenewals          int     `mapstructure:"max_renewals"`
	MaxBorrowings        int     `mapstructure:"max_borrowings"`
	FinePerDay           float64 `mapstructure:"fine_per_day"`
	MaxFine              float64 `mapstructure:"max_fine"`
	PickupWindowHours    int     `mapstructure:"pickup_window_hours"`
	OutstandingFineLimit float64 `mapstructure:"outstanding_fine_limit"`
	ConflictRetries      int     `mapstructure:"conflict_retries"`
}

type SweeperConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// Policy is the resolved lending policy.
type Policy struct {
	LoanPeriod           time.Duration
	MaxRenewals          int32
	MaxBorrowings        int
	FinePerDay           decimal.Decimal
	MaxFine              decimal.Decimal
	PickupWindow         time.Duration
	OutstandingFineLimit decimal.Decimal
	ConflictRetries      int
}

// ToPolicy resolves the raw config values into the types the services use.
func (p PolicyConfig) ToPolicy() Policy {
	return Policy{
		LoanPeriod:           time.Duration(p.LoanPeriodDays) * 24 * time.Hour,
		MaxRenewals:          int32(p.MaxRenewals),
		MaxBorrowings:        p.MaxBorrowings,
		FinePerDay:           decimal.NewFromFloat(p.FinePerDay),
		MaxFine:              decimal.NewFromFloat(p.MaxFine),
		PickupWindow:         time.Duration(p.PickupWindowHours) * time.Hour,
		OutstandingFineLimit: decimal.NewFromFloat(p.OutstandingFineLimit),
		ConflictRetries:      p.ConflictRetries,
	}
}

// DefaultPolicy returns the policy used when no configuration is provided.
func DefaultPolicy() Policy {
	return PolicyConfig{
		LoanPeriodDays:       14,
		MaxRenewals:          2,
		MaxBorrowings:        5,
		FinePerDay:           0.50,
		MaxFine:              25.00,
		PickupWindowHours:    72,
		OutstandingFineLimit: 10.00,
		ConflictRetries:      3,
	}.ToPolicy()
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("$HOME/.circulation")
	viper.AddConfigPath("/etc/circulation")

	viper.SetEnvPrefix("CIRCULATION")
	viper.AutomaticEnv()

	// Set default values
	viper.SetDefault("server.mode", "debug")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.stream", "circulation:events")
	viper.SetDefault("policy.loan_period_days", 14)
	viper.SetDefault("policy.max_renewals", 2)
	viper.SetDefault("policy.max_borrowings", 5)
	viper.SetDefault("policy.fine_per_day", 0.50)
	viper.SetDefault("policy.max_fine", 25.00)
	viper.SetDefault("policy.pickup_window_hours", 72)
	viper.SetDefault("policy.outstanding_fine_limit", 10.00)
	viper.SetDefault("policy.conflict_retries", 3)
	viper.SetDefault("sweeper.interval", 15*time.Minute)

	// Try to read config file
	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if errors.As(err, &configFileNotFoundError) {
			// Config file not found, use defaults and environment variables
			fmt.Printf("Config file not found, using defaults and environment variables\n")
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

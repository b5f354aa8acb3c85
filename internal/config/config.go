/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the escrow-service.
// These values are loaded from environment variables.
//
// Desk tuning knobs:
//   - REQUEST_COST_UNITS: ledger units captured up front per request.
//   - REVIEW_PERIOD_SECONDS: duration before a contribution becomes
//     finalize-eligible (seed value; administrator-mutable at runtime).
//   - MIN_VALIDATOR_QUORUM: approval votes required for an approved outcome
//     (seed value; administrator-mutable at runtime).
//   - MAX_VALIDATORS_PER_CONTRIBUTION: size of the rotating review window.
type Config struct {
	ServerPort           string `mapstructure:"SERVER_PORT"`
	DatabaseURL          string `mapstructure:"DATABASE_URL"`
	RedisURL             string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	RabbitMQURL          string `mapstructure:"RABBITMQ_URL"`
	LedgerAPIBaseURL     string `mapstructure:"LEDGER_API_BASE_URL"`
	LedgerAPIKey         string `mapstructure:"LEDGER_API_KEY"`
	JWKSURL              string `mapstructure:"JWKS_URL"`
	AdminAddress         string `mapstructure:"ADMIN_ADDRESS"`
	DeskAccountAddress   string `mapstructure:"DESK_ACCOUNT_ADDRESS"`
	PoolAccountAddress   string `mapstructure:"POOL_ACCOUNT_ADDRESS"`

	RequestCostUnits             int64 `mapstructure:"REQUEST_COST_UNITS"`
	MaxQueryLength               int   `mapstructure:"MAX_QUERY_LENGTH"`
	MaxTitleLength               int   `mapstructure:"MAX_TITLE_LENGTH"`
	MaxDescriptionLength         int   `mapstructure:"MAX_DESCRIPTION_LENGTH"`
	ReviewPeriodSeconds          int64 `mapstructure:"REVIEW_PERIOD_SECONDS"`
	MinValidatorQuorum           int   `mapstructure:"MIN_VALIDATOR_QUORUM"`
	MaxValidatorsPerContribution int   `mapstructure:"MAX_VALIDATORS_PER_CONTRIBUTION"`

	ClaimRateLimitPerMinute int `mapstructure:"CLAIM_RATE_LIMIT_PER_MINUTE"`
	VoteRateLimitPerMinute  int `mapstructure:"VOTE_RATE_LIMIT_PER_MINUTE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "escrow:rate_limit")
	viper.SetDefault("REQUEST_COST_UNITS", 25)
	viper.SetDefault("MAX_QUERY_LENGTH", 2000)
	viper.SetDefault("MAX_TITLE_LENGTH", 200)
	viper.SetDefault("MAX_DESCRIPTION_LENGTH", 4000)
	viper.SetDefault("REVIEW_PERIOD_SECONDS", 259200) // 3 days
	viper.SetDefault("MIN_VALIDATOR_QUORUM", 3)
	viper.SetDefault("MAX_VALIDATORS_PER_CONTRIBUTION", 5)
	viper.SetDefault("CLAIM_RATE_LIMIT_PER_MINUTE", 30)
	viper.SetDefault("VOTE_RATE_LIMIT_PER_MINUTE", 60)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "ESCROW_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("LEDGER_API_BASE_URL")
	_ = viper.BindEnv("LEDGER_API_KEY")
	_ = viper.BindEnv("JWKS_URL")
	_ = viper.BindEnv("ADMIN_ADDRESS")
	_ = viper.BindEnv("DESK_ACCOUNT_ADDRESS")
	_ = viper.BindEnv("POOL_ACCOUNT_ADDRESS")
	_ = viper.BindEnv("REQUEST_COST_UNITS")
	_ = viper.BindEnv("MAX_QUERY_LENGTH")
	_ = viper.BindEnv("MAX_TITLE_LENGTH")
	_ = viper.BindEnv("MAX_DESCRIPTION_LENGTH")
	_ = viper.BindEnv("REVIEW_PERIOD_SECONDS")
	_ = viper.BindEnv("MIN_VALIDATOR_QUORUM")
	_ = viper.BindEnv("MAX_VALIDATORS_PER_CONTRIBUTION")
	_ = viper.BindEnv("CLAIM_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("VOTE_RATE_LIMIT_PER_MINUTE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "escrow:rate_limit"
	}
	config.AdminAddress = strings.TrimSpace(config.AdminAddress)
	config.DeskAccountAddress = strings.TrimSpace(config.DeskAccountAddress)
	config.PoolAccountAddress = strings.TrimSpace(config.PoolAccountAddress)

	if config.RequestCostUnits < 0 {
		log.Printf("level=warn component=config msg=\"negative request cost configured; coercing to zero\" cost_units=%d", config.RequestCostUnits)
		config.RequestCostUnits = 0
	}
	if config.MaxQueryLength <= 0 {
		config.MaxQueryLength = 2000
	}
	if config.MaxTitleLength <= 0 {
		config.MaxTitleLength = 200
	}
	if config.MaxDescriptionLength <= 0 {
		config.MaxDescriptionLength = 4000
	}
	if config.ReviewPeriodSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive review period configured; using default\" seconds=%d", config.ReviewPeriodSeconds)
		config.ReviewPeriodSeconds = 259200
	}
	if config.MinValidatorQuorum <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive quorum configured; using default\" quorum=%d", config.MinValidatorQuorum)
		config.MinValidatorQuorum = 3
	}
	if config.MaxValidatorsPerContribution <= 0 {
		config.MaxValidatorsPerContribution = 5
	}
	if config.ClaimRateLimitPerMinute <= 0 {
		config.ClaimRateLimitPerMinute = 30
	}
	if config.VoteRateLimitPerMinute <= 0 {
		config.VoteRateLimitPerMinute = 60
	}

	return
}

package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	authConfig "github.com/iurnickita/sugarrush/internal/auth/config"
	balanceConfig "github.com/iurnickita/sugarrush/internal/balance/config"
	directoryConfig "github.com/iurnickita/sugarrush/internal/directory/config"
	"github.com/iurnickita/sugarrush/internal/escalation"
	handlerConfig "github.com/iurnickita/sugarrush/internal/handler/config"
	lifecycleConfig "github.com/iurnickita/sugarrush/internal/lifecycle/config"
	loggerConfig "github.com/iurnickita/sugarrush/internal/logger/config"
	notifyConfig "github.com/iurnickita/sugarrush/internal/notify/config"
	quotaConfig "github.com/iurnickita/sugarrush/internal/quota/config"
	storeConfig "github.com/iurnickita/sugarrush/internal/store/config"
)

type Config struct {
	Handler   handlerConfig.Config
	Auth      authConfig.Config
	Store     storeConfig.Config
	Logger    loggerConfig.Config
	Directory directoryConfig.Config
	Notify    notifyConfig.Config
	Lifecycle lifecycleConfig.Config
	Balance   balanceConfig.Config
	Quota     quotaConfig.Config
	Policy    escalation.Policy

	// PolicyFile is the YAML tuning file layered over the defaults.
	PolicyFile string
}

// Tuning is the layout of the policy file. Absent keys keep their defaults.
type Tuning struct {
	Lifecycle lifecycleConfig.Config `yaml:"lifecycle"`
	Balance   balanceConfig.Config   `yaml:"balance"`
	Quota     quotaConfig.Config     `yaml:"quota"`
	Policy    escalation.Policy      `yaml:"escalation"`
}

func Default() Config {
	return Config{
		Handler:   handlerConfig.Config{ServerAddr: ":8080"},
		Logger:    loggerConfig.Config{LogLevel: "info"},
		Notify:    notifyConfig.Config{Sink: "log"},
		Lifecycle: lifecycleConfig.Default(),
		Balance:   balanceConfig.Default(),
		Quota:     quotaConfig.Default(),
		Policy:    escalation.DefaultPolicy(),
	}
}

// GetConfig reads .env, flags and environment, environment winning. The
// policy file then tunes prices, windows, strike tiers and the quota.
func GetConfig() (Config, error) {
	// .env необязателен
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return load(os.Args[1:], os.LookupEnv)
}

func load(args []string, lookupEnv func(string) (string, bool)) (Config, error) {
	cfg := Default()

	fset := flag.NewFlagSet("sugarrush", flag.ContinueOnError)
	fset.StringVar(&cfg.Handler.ServerAddr, "a", cfg.Handler.ServerAddr, "address and port to run server")
	fset.StringVar(&cfg.Store.DBDsn, "d", cfg.Store.DBDsn, "database connection string")
	fset.StringVar(&cfg.Logger.LogLevel, "l", cfg.Logger.LogLevel, "log level")
	fset.StringVar(&cfg.Auth.Secret, "s", cfg.Auth.Secret, "actor token secret")
	fset.StringVar(&cfg.Directory.URL, "directory", cfg.Directory.URL, "membership service address")
	fset.StringVar(&cfg.Directory.OwnerID, "owner", cfg.Directory.OwnerID, "owner actor id")
	fset.StringVar(&cfg.Notify.Sink, "sink", cfg.Notify.Sink, "notification sink: log, webhook or kafka")
	fset.StringVar(&cfg.PolicyFile, "p", cfg.PolicyFile, "policy file (yaml)")
	if err := fset.Parse(args); err != nil {
		return Config{}, err
	}

	env := func(key string, dst *string) {
		if v, ok := lookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	env("RUN_ADDRESS", &cfg.Handler.ServerAddr)
	env("DATABASE_URI", &cfg.Store.DBDsn)
	env("LOG_LEVEL", &cfg.Logger.LogLevel)
	env("JWT_SECRET", &cfg.Auth.Secret)
	env("DIRECTORY_URL", &cfg.Directory.URL)
	env("DIRECTORY_TOKEN", &cfg.Directory.Token)
	env("OWNER_ID", &cfg.Directory.OwnerID)
	env("NOTIFY_SINK", &cfg.Notify.Sink)
	env("NOTIFY_URL", &cfg.Notify.URL)
	env("NOTIFY_TOKEN", &cfg.Notify.Token)
	env("POLICY_FILE", &cfg.PolicyFile)
	if v, ok := lookupEnv("KAFKA_BROKERS"); ok && v != "" {
		cfg.Notify.Brokers = strings.Split(v, ",")
	}

	if cfg.PolicyFile != "" {
		if err := cfg.overlay(cfg.PolicyFile); err != nil {
			return Config{}, err
		}
	}
	if cfg.Auth.Secret == "" {
		return Config{}, errors.New("actor token secret is not set")
	}
	return cfg, nil
}

func (cfg *Config) overlay(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read policy file: %w", err)
	}
	tuning := Tuning{
		Lifecycle: cfg.Lifecycle,
		Balance:   cfg.Balance,
		Quota:     cfg.Quota,
		Policy:    cfg.Policy,
	}
	if err = yaml.Unmarshal(data, &tuning); err != nil {
		return fmt.Errorf("parse policy file: %w", err)
	}
	cfg.Lifecycle = tuning.Lifecycle
	cfg.Balance = tuning.Balance
	cfg.Quota = tuning.Quota
	cfg.Policy = tuning.Policy
	return nil
}

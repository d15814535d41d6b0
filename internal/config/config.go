// Package config содержит логику чтения конфигурации сервиса treeledger.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

const (
	defaultRunAddress   = "localhost:8080"
	defaultTreasury     = "treasury"
	defaultAuthSecret   = "treeledger-secret"
	defaultOperators    = "operator"
	defaultRateLimitRPM = 120
)

// Config содержит параметры конфигурации сервиса treeledger.
type Config struct {
	RunAddress         string `env:"RUN_ADDRESS"`
	DatabaseURI        string `env:"DATABASE_URI"`
	PaymentRailAddress string `env:"PAYMENT_RAIL_ADDRESS"`
	TreasuryAccount    string `env:"TREASURY_ACCOUNT"`
	JournalPath        string `env:"JOURNAL_PATH"`
	ProtocolFile       string `env:"PROTOCOL_FILE"`
	AuthSecret         string `env:"AUTH_SECRET"`
	Operators          string `env:"OPERATORS"`
	RateLimitRPM       int    `env:"RATE_LIMIT_RPM"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Переменные окружения имеют приоритет над флагами.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	fromEnv := *cfg

	flag.StringVar(&cfg.RunAddress, "a", defaultRunAddress, "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.PaymentRailAddress, "r", "", "payment rail address")
	flag.StringVar(&cfg.TreasuryAccount, "t", defaultTreasury, "treasury account on the payment rail")
	flag.StringVar(&cfg.JournalPath, "j", "", "event journal directory")
	flag.StringVar(&cfg.ProtocolFile, "p", "", "protocol parameters YAML file")
	flag.StringVar(&cfg.AuthSecret, "s", defaultAuthSecret, "secret for cookies and operator tokens")
	flag.StringVar(&cfg.Operators, "o", defaultOperators, "comma separated operator subjects")
	flag.IntVar(&cfg.RateLimitRPM, "l", defaultRateLimitRPM, "requests per minute per client on mutating endpoints")

	flag.Parse()

	if fromEnv.RunAddress != "" {
		cfg.RunAddress = fromEnv.RunAddress
	}
	if fromEnv.DatabaseURI != "" {
		cfg.DatabaseURI = fromEnv.DatabaseURI
	}
	if fromEnv.PaymentRailAddress != "" {
		cfg.PaymentRailAddress = fromEnv.PaymentRailAddress
	}
	if fromEnv.TreasuryAccount != "" {
		cfg.TreasuryAccount = fromEnv.TreasuryAccount
	}
	if fromEnv.JournalPath != "" {
		cfg.JournalPath = fromEnv.JournalPath
	}
	if fromEnv.ProtocolFile != "" {
		cfg.ProtocolFile = fromEnv.ProtocolFile
	}
	if fromEnv.AuthSecret != "" {
		cfg.AuthSecret = fromEnv.AuthSecret
	}
	if fromEnv.Operators != "" {
		cfg.Operators = fromEnv.Operators
	}
	if fromEnv.RateLimitRPM != 0 {
		cfg.RateLimitRPM = fromEnv.RateLimitRPM
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = defaultRunAddress
	}
	if cfg.TreasuryAccount == "" {
		cfg.TreasuryAccount = defaultTreasury
	}
	if cfg.AuthSecret == "" {
		cfg.AuthSecret = defaultAuthSecret
	}
	if cfg.RateLimitRPM < 0 {
		return nil, fmt.Errorf("rate limit must not be negative, got %d", cfg.RateLimitRPM)
	}

	return cfg, nil
}

// OperatorList возвращает список субъектов с ролью оператора.
func (c *Config) OperatorList() []string {
	var res []string
	for _, op := range strings.Split(c.Operators, ",") {
		if op = strings.TrimSpace(op); op != "" {
			res = append(res, op)
		}
	}
	return res
}

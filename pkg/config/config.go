package config

import (
	"os"
	"time"

	"github.com/pkg/errors"
)

type Config struct {
	DatabaseBusyTimeout       time.Duration
	DatabaseConnectRetryCount int
	DatabaseConnectRetryDelay time.Duration
	DatabaseDebug             bool
	DatabaseFilePath          string
	DatabaseMaxRetries        int
	DDEXPartyID               string
	DDEXPartyName             string
	Hostname                  string
	PollInterval              time.Duration
	PublishInterval           time.Duration
	ReportsBucket             string
	ServerHost                string
	ServerPort                int
	SourcesFilePath           string
	StorageRootPath           string
}

const environmentENV = "ENVIRONMENT"

func New() (*Config, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	cfg := &Config{
		DatabaseBusyTimeout:       5 * time.Second,
		DatabaseConnectRetryCount: 5,
		DatabaseConnectRetryDelay: 2 * time.Second,
		DatabaseMaxRetries:        3,
		DDEXPartyID:               "PADPIDA0000000000X",
		DDEXPartyName:             "Tonefeed, Inc.",
		Hostname:                  hostname,
		PollInterval:              time.Minute,
		PublishInterval:           30 * time.Second,
		ServerPort:                8989,
	}

	switch os.Getenv(environmentENV) {
	case "development", "":
		loadDevelopmentConfig(cfg)
	case "test":
		loadTestConfig(cfg)
	case "production":
		loadProductionConfig(cfg)
	}

	return cfg, nil
}

package config

import (
	"os"
	"strconv"
)

func loadProductionConfig(cfg *Config) {
	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err == nil {
		cfg.ServerPort = port
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "/data"
	}

	cfg.DatabaseFilePath = dataDir + "/ddex.sqlite"
	cfg.SourcesFilePath = dataDir + "/sources.yaml"
	cfg.StorageRootPath = dataDir + "/buckets"

	if p := os.Getenv("DATABASE_FILE_PATH"); p != "" {
		cfg.DatabaseFilePath = p
	}
	if p := os.Getenv("SOURCES_FILE_PATH"); p != "" {
		cfg.SourcesFilePath = p
	}
	if p := os.Getenv("STORAGE_ROOT_PATH"); p != "" {
		cfg.StorageRootPath = p
	}
	if p := os.Getenv("REPORTS_BUCKET"); p != "" {
		cfg.ReportsBucket = p
	}
	if p := os.Getenv("DDEX_PARTY_ID"); p != "" {
		cfg.DDEXPartyID = p
	}
	if p := os.Getenv("DDEX_PARTY_NAME"); p != "" {
		cfg.DDEXPartyName = p
	}
}

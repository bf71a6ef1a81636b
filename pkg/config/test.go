package config

func loadTestConfig(cfg *Config) {
	cfg.DatabaseFilePath = ":memory:"
	cfg.ServerHost = "127.0.0.1"
	// Port 0 lets the listener pick a free port so test runs don't collide.
	cfg.ServerPort = 0
	cfg.SourcesFilePath = "./fixtures/sources.test.yaml"
	cfg.StorageRootPath = "./tmp/buckets"
}

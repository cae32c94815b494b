package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/ingesthub/ingesthub/internal/api"
	"github.com/ingesthub/ingesthub/internal/database"
	"github.com/ingesthub/ingesthub/internal/ingest"
	"github.com/ingesthub/ingesthub/internal/media"
	"github.com/mitchellh/go-homedir"
)

const ingestHubDirSuffix = "ingesthub"

// IngestHubConfig is the struct used to contain the various user config
// supplied by file, or manually inside the code.
type IngestHubConfig struct {
	Database database.DatabaseConfig `yaml:"database" env-required:"true"`
	Ingest   ingest.Config           `yaml:"ingest"`
	Media    media.Config            `yaml:"media"`
	Rest     api.RestConfig          `yaml:"api"`
}

// LoadFromFile loads a YAML configuration file in to an IngestHubConfig,
// falling back to environment variables alone when no file exists at the
// given path.
func (config *IngestHubConfig) LoadFromFile(configPath string) error {
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		if err := cleanenv.ReadEnv(config); err != nil {
			return fmt.Errorf("failed to load configuration from environment - %w", err)
		}

		config.applyDefaults()
		return nil
	}

	if err := cleanenv.ReadConfig(configPath, config); err != nil {
		return fmt.Errorf("failed to load configuration from %s - %w", configPath, err)
	}

	config.applyDefaults()
	return nil
}

// applyDefaults fills the path-like settings whose defaults depend on the
// running user's home directory.
func (config *IngestHubConfig) applyDefaults() {
	if config.Ingest.ProxyDir == "" {
		config.Ingest.ProxyDir = filepath.Join(userDataDir(), "proxies")
	}
}

// DefaultConfigPath returns where the configuration file is expected when
// no explicit path is provided.
func DefaultConfigPath() string {
	return filepath.Join(userDataDir(), "config.yaml")
}

func userDataDir() string {
	home, err := homedir.Dir()
	if err != nil {
		panic(fmt.Sprintf("FAILURE to derive user home dir %s", err))
	}

	return filepath.Join(home, "."+ingestHubDirSuffix)
}

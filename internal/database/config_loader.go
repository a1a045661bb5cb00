package database

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

// ConfigLoader reads connection settings through viper
type ConfigLoader struct {
	viper *viper.Viper
}

// NewConfigLoader creates a loader over v. A nil v gets a fresh instance.
func NewConfigLoader(v *viper.Viper) *ConfigLoader {
	if v == nil {
		v = viper.New()
	}
	return &ConfigLoader{viper: v}
}

// LoadConfig reads the optional config file, then unmarshals the source and
// target blocks. Flags bound to "source_url"/"target_url" override the file.
func (cl *ConfigLoader) LoadConfig(configFile string) (*CLIConfig, error) {
	if configFile != "" {
		cl.viper.SetConfigFile(configFile)
	} else {
		cl.viper.SetConfigName(".sqlferry")
		cl.viper.SetConfigType("yaml")
		cl.viper.AddConfigPath(".")
		cl.viper.AddConfigPath("$HOME")
	}

	cl.viper.SetEnvPrefix("SQLFERRY")
	cl.viper.AutomaticEnv()

	if err := cl.viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config CLIConfig
	if err := cl.viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	return &config, nil
}

// GetUsedConfigFile returns the path of the config file that was used
func (cl *ConfigLoader) GetUsedConfigFile() string {
	return cl.viper.ConfigFileUsed()
}

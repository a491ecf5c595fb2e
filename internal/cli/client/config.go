package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	envAPIKey    = "KBQA_API_KEY"
	envAPIURL    = "KBQA_API_URL"
	envConfigDir = "KBQA_CONFIG_DIR"

	configFile = "config.json"
)

// GlobalConfig is the client state kept in config.json: credentials plus the
// session that ask continues when no --session is given.
type GlobalConfig struct {
	APIKey  string `json:"api_key,omitempty"`
	APIURL  string `json:"api_url,omitempty"`
	Session string `json:"session,omitempty"`
}

// ConfigDir is $KBQA_CONFIG_DIR when set, else kbqa/ under the user config directory.
func ConfigDir() (string, error) {
	if dir := os.Getenv(envConfigDir); dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user config directory: %w", err)
	}
	return filepath.Join(base, "kbqa"), nil
}

// ConfigPath is the location of config.json.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// LoadGlobalConfig reads config.json. A missing file yields a nil config and no error.
func LoadGlobalConfig() (*GlobalConfig, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config GlobalConfig
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &config, nil
}

// SaveGlobalConfig replaces config.json. The file is written next to the
// target and renamed over it, so readers never see a partial file.
func SaveGlobalConfig(config *GlobalConfig) error {
	if config == nil {
		return errors.New("config cannot be nil")
	}

	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	tmp, err := os.CreateTemp(dir, configFile+".*")
	if err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(dir, configFile)); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}

// UpdateGlobalConfig applies fn to the stored config, starting from an empty
// one when none exists, and writes the result back.
func UpdateGlobalConfig(fn func(*GlobalConfig)) error {
	config, err := LoadGlobalConfig()
	if err != nil {
		return err
	}
	if config == nil {
		config = &GlobalConfig{}
	}
	fn(config)
	return SaveGlobalConfig(config)
}

// CurrentSession returns the remembered session ID, or "" when none is stored.
func CurrentSession() string {
	config, err := LoadGlobalConfig()
	if err != nil || config == nil {
		return ""
	}
	return config.Session
}

func rememberSession(id string) error {
	return UpdateGlobalConfig(func(c *GlobalConfig) { c.Session = id })
}

// forgetSession clears the remembered session if it is id, or unconditionally when id is "".
func forgetSession(id string) error {
	current := CurrentSession()
	if current == "" || (id != "" && current != id) {
		return nil
	}
	return UpdateGlobalConfig(func(c *GlobalConfig) { c.Session = "" })
}

// DeleteGlobalConfig removes config.json, including the remembered session.
func DeleteGlobalConfig() error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete config file: %w", err)
	}
	return nil
}

// IsValidAPIKey rejects empty keys and keys containing whitespace.
func IsValidAPIKey(key string) bool {
	return key != "" && !strings.ContainsAny(key, " \t\r\n")
}

// CredentialSource represents where credentials came from
type CredentialSource string

const (
	SourceFlag         CredentialSource = "flag"
	SourceEnv          CredentialSource = "env"
	SourceGlobalConfig CredentialSource = "global_config"
	SourceNone         CredentialSource = "none"
)

// GetCredentialSource reports where a complete key and URL pair comes from,
// checking flags, then KBQA_API_KEY/KBQA_API_URL, then config.json.
func GetCredentialSource(flagAPIKey, flagAPIURL string) (CredentialSource, string, string) {
	if flagAPIKey != "" && flagAPIURL != "" {
		return SourceFlag, flagAPIKey, flagAPIURL
	}

	envKey := os.Getenv(envAPIKey)
	envURL := os.Getenv(envAPIURL)
	if envKey != "" && envURL != "" {
		return SourceEnv, envKey, envURL
	}

	config, err := LoadGlobalConfig()
	if err == nil && config != nil && config.APIKey != "" && config.APIURL != "" {
		return SourceGlobalConfig, config.APIKey, config.APIURL
	}

	return SourceNone, "", ""
}

package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// useTempConfig points config.json at a fresh temp dir for the test and
// returns the file path.
func useTempConfig(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "kbqa")
	t.Setenv(envConfigDir, dir)
	return filepath.Join(dir, configFile)
}

func TestConfigDir_DefaultsUnderUserConfigDir(t *testing.T) {
	t.Setenv(envConfigDir, "")
	base, err := os.UserConfigDir()
	require.NoError(t, err)

	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "kbqa"), dir)

	path, err := ConfigPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "config.json"), path)
}

func TestConfigDir_EnvOverride(t *testing.T) {
	path := useTempConfig(t)

	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(path), dir)
}

func TestLoadGlobalConfig_MissingFile(t *testing.T) {
	useTempConfig(t)

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Nil(t, config)
}

func TestLoadGlobalConfig_InvalidJSON(t *testing.T) {
	path := useTempConfig(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte("{invalid json}"), 0o600))

	config, err := LoadGlobalConfig()
	require.Error(t, err)
	assert.Nil(t, config)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestSaveGlobalConfig(t *testing.T) {
	path := useTempConfig(t)

	in := &GlobalConfig{APIKey: "kbqa-0123456789abcdef0123", APIURL: "http://localhost:8080", Session: "s-1"}
	require.NoError(t, SaveGlobalConfig(in))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	out, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, in, out)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")

	assert.ErrorContains(t, SaveGlobalConfig(nil), "config cannot be nil")
}

func TestDeleteGlobalConfig(t *testing.T) {
	path := useTempConfig(t)
	require.NoError(t, SaveGlobalConfig(&GlobalConfig{APIURL: "http://x"}))

	require.NoError(t, DeleteGlobalConfig())
	assert.NoFileExists(t, path)
	require.NoError(t, DeleteGlobalConfig(), "deleting twice is fine")
}

func TestUpdateGlobalConfig_CreatesAndPreserves(t *testing.T) {
	useTempConfig(t)

	require.NoError(t, UpdateGlobalConfig(func(c *GlobalConfig) { c.APIURL = "http://kb:8080" }))
	require.NoError(t, UpdateGlobalConfig(func(c *GlobalConfig) { c.Session = "s-7" }))

	config, err := LoadGlobalConfig()
	require.NoError(t, err)
	assert.Equal(t, "http://kb:8080", config.APIURL)
	assert.Equal(t, "s-7", config.Session)
}

func TestCurrentSession(t *testing.T) {
	useTempConfig(t)
	assert.Empty(t, CurrentSession())

	require.NoError(t, rememberSession("s-1"))
	assert.Equal(t, "s-1", CurrentSession())

	require.NoError(t, forgetSession("s-other"))
	assert.Equal(t, "s-1", CurrentSession(), "forgetting another session keeps the current one")

	require.NoError(t, forgetSession("s-1"))
	assert.Empty(t, CurrentSession())

	require.NoError(t, rememberSession("s-2"))
	require.NoError(t, forgetSession(""))
	assert.Empty(t, CurrentSession())
}

func TestIsValidAPIKey(t *testing.T) {
	tests := []struct {
		name string
		key  string
		want bool
	}{
		{"plain token", "kbqa-0123456789abcdef", true},
		{"opaque secret", "s3cr3t/with+symbols=", true},
		{"empty", "", false},
		{"inner space", "kbqa 0123", false},
		{"trailing newline", "kbqa-0123\n", false},
		{"tab", "kbqa\t0123", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsValidAPIKey(tt.key))
		})
	}
}

func TestGetCredentialSource(t *testing.T) {
	stored := &GlobalConfig{APIKey: "kbqa-globalkey123456789ab", APIURL: "http://global:8080"}

	tests := []struct {
		name             string
		flagKey, flagURL string
		envKey, envURL   string
		stored           *GlobalConfig
		wantSource       CredentialSource
		wantKey, wantURL string
	}{
		{
			name:    "flags win",
			flagKey: "kbqa-flag", flagURL: "http://flag:8080",
			envKey: "kbqa-env", envURL: "http://env:8080",
			stored:     stored,
			wantSource: SourceFlag, wantKey: "kbqa-flag", wantURL: "http://flag:8080",
		},
		{
			name:   "env beats config file",
			envKey: "kbqa-env", envURL: "http://env:8080",
			stored:     stored,
			wantSource: SourceEnv, wantKey: "kbqa-env", wantURL: "http://env:8080",
		},
		{
			name:       "config file",
			stored:     stored,
			wantSource: SourceGlobalConfig, wantKey: stored.APIKey, wantURL: stored.APIURL,
		},
		{
			name:       "partial env is ignored",
			envKey:     "kbqa-env",
			wantSource: SourceNone,
		},
		{
			name:       "session only config has no credentials",
			stored:     &GlobalConfig{Session: "s-1"},
			wantSource: SourceNone,
		},
		{
			name:       "nothing",
			wantSource: SourceNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			useTempConfig(t)
			t.Setenv(envAPIKey, tt.envKey)
			t.Setenv(envAPIURL, tt.envURL)
			if tt.stored != nil {
				require.NoError(t, SaveGlobalConfig(tt.stored))
			}

			source, key, url := GetCredentialSource(tt.flagKey, tt.flagURL)
			assert.Equal(t, tt.wantSource, source)
			assert.Equal(t, tt.wantKey, key)
			assert.Equal(t, tt.wantURL, url)
		})
	}
}

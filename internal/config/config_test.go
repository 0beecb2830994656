package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), DefaultFileName)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_MissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.cue"))
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.DataDir)
	assert.Equal(t, "store", cfg.StoreName)
	assert.True(t, cfg.AutoFinalize)
	assert.False(t, cfg.ValidationEnabled())
	assert.Equal(t, 15*time.Second, cfg.ValidatorTimeout())
	assert.False(t, cfg.Journal.Enabled)
	assert.Equal(t, 30*24*time.Hour, cfg.MaxAge())
	assert.Equal(t, 7*24*time.Hour, cfg.InitiatedGrace())
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
config: {
	data_dir:      "/var/lib/vend"
	store_name:    "play"
	auto_finalize: false
	validator: {
		url:             "https://validate.example.com/receipts"
		timeout_seconds: 5
	}
	journal: {
		enabled: true
		file:    "transitions.db"
	}
	retention: {
		max_age_days:         14
		initiated_grace_days: 2
	}
}
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/vend", cfg.DataDir)
	assert.Equal(t, "play", cfg.StoreName)
	assert.False(t, cfg.AutoFinalize)
	assert.True(t, cfg.ValidationEnabled())
	assert.Equal(t, "https://validate.example.com/receipts", cfg.Validator.URL)
	assert.Equal(t, 5*time.Second, cfg.ValidatorTimeout())
	assert.True(t, cfg.Journal.Enabled)
	assert.Equal(t, filepath.Join("/var/lib/vend", "transitions.db"), cfg.JournalPath())
	assert.Equal(t, 14*24*time.Hour, cfg.MaxAge())
	assert.Equal(t, 2*24*time.Hour, cfg.InitiatedGrace())
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
config: validator: url: "https://validate.example.com"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.ValidationEnabled())
	assert.Equal(t, 15*time.Second, cfg.ValidatorTimeout(), "unset fields keep schema defaults")
	assert.Equal(t, ".", cfg.DataDir)
}

func TestLoad_RejectsOutOfRangeValues(t *testing.T) {
	path := writeConfig(t, `
config: validator: timeout_seconds: 0
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `
config: validater: url: "https://typo.example.com"
`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoad_RejectsMalformedCUE(t *testing.T) {
	path := writeConfig(t, `config: { data_dir: `)

	_, err := Load(path)
	require.Error(t, err)
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "store", cfg.StoreName)
	assert.Equal(t, filepath.Join(".", "journal.db"), cfg.JournalPath())
}

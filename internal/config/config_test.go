// File: internal/config/config_test.go
package config

import (
	"bytes"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger.Level)
	assert.True(t, cfg.Browser.Headless)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 200*time.Millisecond, cfg.Resolver.PollInterval)
	assert.Equal(t, 5*time.Second, cfg.Resolver.WaitBound)
	assert.Equal(t, 10*time.Second, cfg.Auth.ChallengeTimeout)
	assert.Equal(t, `input[name="username"]`, cfg.Auth.UsernameSelector)
	assert.False(t, cfg.TestRail.Enabled)
	assert.Equal(t, 1, cfg.Runner.Concurrency)
	assert.Equal(t, "artifacts", cfg.Artifacts.Dir)
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		assert.NoError(t, cfg.Validate(), "default config should be valid")

		invalidConcurrency := *cfg
		invalidConcurrency.Runner.Concurrency = 0
		err := invalidConcurrency.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "runner.concurrency must be a positive integer")

		invalidPoll := *cfg
		invalidPoll.Resolver.PollInterval = 0
		err = invalidPoll.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "resolver.poll_interval")

		invertedBounds := *cfg
		invertedBounds.Resolver.WaitBound = 50 * time.Millisecond
		err = invertedBounds.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "resolver.wait_bound")
	})

	t.Run("TestRail Validation", func(t *testing.T) {
		valid := TestRailConfig{
			Enabled:           true,
			URL:               "https://example.testrail.io",
			Username:          "bot@example.com",
			APIKey:            "key-123",
			ProjectID:         4,
			SuiteID:           7,
			RequestsPerSecond: 3,
		}
		assert.NoError(t, valid.Validate())

		disabled := valid
		disabled.Enabled = false
		disabled.APIKey = ""
		assert.NoError(t, disabled.Validate(), "disabled bridge should always be valid")

		missingURL := valid
		missingURL.URL = ""
		err := missingURL.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "testrail.url is required")

		missingKey := valid
		missingKey.APIKey = ""
		err = missingKey.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "VERITRAIL_TESTRAIL_API_KEY")

		badSuite := valid
		badSuite.SuiteID = 0
		err = badSuite.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "suite_id")
	})
}

// -- File Loading Tests --

func TestNewFromViper(t *testing.T) {
	yaml := []byte(`
environment:
  base_url: "https://staging.example.com"
  username: "qa-bot"
browser:
  headless: false
  navigation_timeout: 45s
testrail:
  enabled: true
  url: "https://example.testrail.io"
  username: "bot@example.com"
  api_key: "from-file"
  project_id: 4
  suite_id: 7
runner:
  concurrency: 3
`)

	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewReader(yaml)))

	cfg, err := NewFromViper(v)
	require.NoError(t, err)

	assert.Equal(t, "https://staging.example.com", cfg.Environment.BaseURL)
	assert.Equal(t, "qa-bot", cfg.Environment.Username)
	assert.False(t, cfg.Browser.Headless)
	assert.Equal(t, 45*time.Second, cfg.Browser.NavigationTimeout)
	assert.True(t, cfg.TestRail.Enabled)
	assert.Equal(t, 7, cfg.TestRail.SuiteID)
	assert.Equal(t, 3, cfg.Runner.Concurrency)
	// Defaults survive partial files.
	assert.Equal(t, 200*time.Millisecond, cfg.Resolver.PollInterval)
}

func TestNewFromViperRejectsInvalid(t *testing.T) {
	yaml := []byte(`
testrail:
  enabled: true
`)
	v := viper.New()
	SetDefaults(v)
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(bytes.NewReader(yaml)))

	_, err := NewFromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "testrail")
}

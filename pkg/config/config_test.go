package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/bqloader/pkg/etlerrors"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv(KeyProjectID, "my-project")
	t.Setenv(KeyDataset, "ibge")
	t.Setenv(KeyTable, "estados")
}

func TestLoad_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "my-project", cfg.Destination.ProjectID)
	assert.Equal(t, "ibge", cfg.Destination.DatasetID)
	assert.Equal(t, "estados", cfg.Destination.TableID)
	assert.Equal(t, "US", cfg.Destination.Location)
	assert.Equal(t, DefaultAPIURL, cfg.Source.BaseURL)
	assert.Equal(t, 10*time.Second, cfg.Source.Timeout)
	assert.Equal(t, 3, cfg.Source.MaxRetries)
	assert.Equal(t, 1.5, cfg.Source.BackoffFactor)
	assert.Equal(t, "WRITE_APPEND", cfg.Load.WriteDisposition)
	assert.True(t, cfg.Load.CreateDataset)
	assert.False(t, cfg.Load.CreateTable)
	assert.Equal(t, "southamerica-east1", cfg.FunctionRegion)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "my-project.ibge.estados", cfg.Destination.TableRef())
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv(KeyAPIURL, "https://example.com/api")
	t.Setenv(KeyAPITimeout, "3s")
	t.Setenv(KeyAPIMaxRetries, "5")
	t.Setenv(KeyWriteMode, "truncate")
	t.Setenv(KeyJobLabels, "team=data, source=ibge")
	t.Setenv(KeyLocation, "southamerica-east1")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://example.com/api", cfg.Source.BaseURL)
	assert.Equal(t, 3*time.Second, cfg.Source.Timeout)
	assert.Equal(t, 5, cfg.Source.MaxRetries)
	assert.Equal(t, "WRITE_TRUNCATE", cfg.Load.WriteDisposition)
	assert.Equal(t, map[string]string{"team": "data", "source": "ibge"}, cfg.Load.JobLabels)
	assert.Equal(t, []string{"source", "team"}, cfg.Load.LabelKeys())
	assert.Equal(t, "southamerica-east1", cfg.Destination.Location)
}

func TestLoad_UnitlessTimeoutIsSeconds(t *testing.T) {
	setRequired(t)
	t.Setenv(KeyAPITimeout, "10")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Second, cfg.Source.Timeout)
}

func TestLoad_MalformedTimeout(t *testing.T) {
	setRequired(t)
	t.Setenv(KeyAPITimeout, "ten seconds")

	_, err := Load("")
	require.Error(t, err)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "API_TIMEOUT")
}

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		raw  string
		want time.Duration
	}{
		{"", 0},
		{"10", 10 * time.Second},
		{"2.5", 2500 * time.Millisecond},
		{" 30 ", 30 * time.Second},
		{"500ms", 500 * time.Millisecond},
		{"1m", time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTimeout(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad_PortFallback(t *testing.T) {
	setRequired(t)
	t.Setenv("PORT", "9090")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Server.Port)
}

func TestLoad_MissingKeys(t *testing.T) {
	t.Setenv(KeyProjectID, "my-project")
	t.Setenv(KeyDataset, "")
	t.Setenv(KeyTable, "")

	_, err := Load("")
	require.Error(t, err)

	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), KeyDataset)
	assert.Contains(t, err.Error(), KeyTable)
	assert.NotContains(t, err.Error(), KeyProjectID)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Source:      SourceConfig{BaseURL: "https://x", Timeout: time.Second, MaxRetries: 1, BackoffFactor: 1.5},
			Destination: DestinationConfig{ProjectID: "p", DatasetID: "d", TableID: "t"},
			Load:        LoadConfig{WriteDisposition: "WRITE_EMPTY"},
		}
	}

	tests := []struct {
		name      string
		mutate    func(c *Config)
		wantError bool
	}{
		{"valid config", func(c *Config) {}, false},
		{"zero retries", func(c *Config) { c.Source.MaxRetries = 0 }, true},
		{"negative backoff", func(c *Config) { c.Source.BackoffFactor = -1 }, true},
		{"zero timeout", func(c *Config) { c.Source.Timeout = 0 }, true},
		{"nanosecond timeout", func(c *Config) { c.Source.Timeout = 10 * time.Nanosecond }, true},
		{"empty base url", func(c *Config) { c.Source.BaseURL = "" }, true},
		{"bad write mode", func(c *Config) { c.Load.WriteDisposition = "WRITE_SOMETIMES" }, true},
		{"short write mode", func(c *Config) { c.Load.WriteDisposition = "fail-if-nonempty" }, false},
		{"empty write mode", func(c *Config) { c.Load.WriteDisposition = "" }, false},
		{"missing table", func(c *Config) { c.Destination.TableID = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantError {
				assert.Error(t, err)
				assert.True(t, etlerrors.IsDomain(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseLabels(t *testing.T) {
	labels, err := ParseLabels("")
	require.NoError(t, err)
	assert.Nil(t, labels)

	labels, err = ParseLabels("a=1,,b=")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": ""}, labels)

	_, err = ParseLabels("novalue")
	assert.Error(t, err)
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bqloader.yaml")
	content := "gcp_project_id: file-project\nbigquery_dataset: file_ds\nbigquery_table: file_table\napi_max_retries: 4\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	t.Setenv(KeyTable, "env_table")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-project", cfg.Destination.ProjectID)
	assert.Equal(t, "file_ds", cfg.Destination.DatasetID)
	assert.Equal(t, "env_table", cfg.Destination.TableID)
	assert.Equal(t, 4, cfg.Source.MaxRetries)
}

func TestLoad_ConfigFileFlatKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bqloader.yaml")
	content := `gcp_project_id: p
bigquery_dataset: ds
bigquery_table: tbl
api_timeout: 15
write_disposition: truncate
job_labels: team=data
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15*time.Second, cfg.Source.Timeout)
	assert.Equal(t, "WRITE_TRUNCATE", cfg.Load.WriteDisposition)
	assert.Equal(t, map[string]string{"team": "data"}, cfg.Load.JobLabels)
	assert.Equal(t, "p.ds.tbl", cfg.Destination.TableRef())
}

func TestLoad_MissingConfigFile(t *testing.T) {
	setRequired(t)
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.True(t, etlerrors.IsType(err, etlerrors.ErrorTypeConfig))
}

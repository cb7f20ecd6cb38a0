package config

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/ajitpratap0/bqloader/pkg/etlerrors"
)

// Environment keys. Viper keys are the lower-cased forms.
const (
	KeyProjectID       = "GCP_PROJECT_ID"
	KeyDataset         = "BIGQUERY_DATASET"
	KeyTable           = "BIGQUERY_TABLE"
	KeyAPIURL          = "API_URL"
	KeyAPIEndpoint     = "API_ENDPOINT"
	KeyAPITimeout      = "API_TIMEOUT"
	KeyAPIMaxRetries   = "API_MAX_RETRIES"
	KeyAPIBackoff      = "API_BACKOFF_FACTOR"
	KeyAPITokenSecret  = "API_TOKEN_SECRET"
	KeyLocation        = "BQ_LOCATION"
	KeyWriteMode       = "WRITE_DISPOSITION"
	KeyCreateDataset   = "CREATE_DATASET"
	KeyCreateTable     = "CREATE_TABLE"
	KeyTableSchema     = "TABLE_SCHEMA"
	KeyJobLabels       = "JOB_LABELS"
	KeyStagingBucket   = "STAGING_BUCKET"
	KeyCredentialsFile = "GOOGLE_APPLICATION_CREDENTIALS_FILE"
	KeyFunctionRegion  = "FUNCTION_REGION"
	KeyLogLevel        = "LOG_LEVEL"
	KeyLogEncoding     = "LOG_ENCODING"
	KeyTracingEnabled  = "TRACING_ENABLED"
	KeyTracingSample   = "TRACING_SAMPLE_RATE"
	KeyHTTPPort        = "HTTP_PORT"
	KeyTriggerRate     = "TRIGGER_RATE_LIMIT"
	KeyTriggerBurst    = "TRIGGER_RATE_BURST"

	// KeyConfigFile names a YAML file read by the Cloud Functions entry point
	KeyConfigFile = "BQLOADER_CONFIG"
)

// DefaultAPIURL is the IBGE states endpoint used when API_URL is unset.
const DefaultAPIURL = "https://servicodados.ibge.gov.br/api/v1/localidades/estados"

// RequiredKeys lists the settings without defaults, in reporting order.
var RequiredKeys = []string{KeyProjectID, KeyDataset, KeyTable}

// Config is the single configuration structure of a pipeline invocation.
// It is built once at the process boundary and passed down by pointer.
type Config struct {
	// Source describes the REST API being extracted
	Source SourceConfig `json:"source"`

	// Destination identifies the BigQuery table
	Destination DestinationConfig `json:"destination"`

	// Load controls provisioning and the load job
	Load LoadConfig `json:"load"`

	// Observability settings for logs and traces
	Observability ObservabilityConfig `json:"observability"`

	// Server settings for the HTTP trigger adapter
	Server ServerConfig `json:"server"`

	// CredentialsFile is an explicit service-account key for all GCP clients
	CredentialsFile string `json:"credentials_file"`
	// FunctionRegion is informational; it is logged at start-up
	FunctionRegion string `json:"function_region"`
}

// SourceConfig contains the fetch client settings.
type SourceConfig struct {
	// BaseURL of the REST API
	BaseURL string `json:"base_url"`
	// Endpoint is appended to BaseURL
	Endpoint string `json:"endpoint"`
	// Timeout per HTTP attempt
	Timeout time.Duration `json:"timeout"`
	// MaxRetries is the total number of attempts
	MaxRetries int `json:"max_retries"`
	// BackoffFactor is raised to the attempt number to get the wait in seconds
	BackoffFactor float64 `json:"backoff_factor"`
	// TokenSecret names a Secret Manager secret holding a bearer token
	TokenSecret string `json:"token_secret"`
}

// DestinationConfig identifies the BigQuery destination.
type DestinationConfig struct {
	ProjectID string `json:"project_id"`
	DatasetID string `json:"dataset_id"`
	TableID   string `json:"table_id"`
	Location  string `json:"location"`
}

// LoadConfig controls provisioning and the load job.
type LoadConfig struct {
	// WriteDisposition is WRITE_APPEND, WRITE_TRUNCATE or WRITE_EMPTY
	WriteDisposition string `json:"write_disposition"`
	CreateDataset    bool   `json:"create_dataset"`
	CreateTable      bool   `json:"create_table"`
	// TableSchema is "ibge_state" or a path to a YAML schema file
	TableSchema string            `json:"table_schema"`
	JobLabels   map[string]string `json:"job_labels"`
	// StagingBucket enables loading through a GCS object
	StagingBucket string `json:"staging_bucket"`
}

// ObservabilityConfig contains logging and tracing settings.
type ObservabilityConfig struct {
	LogLevel          string  `json:"log_level"`
	LogEncoding       string  `json:"log_encoding"`
	EnableTracing     bool    `json:"enable_tracing"`
	TracingSampleRate float64 `json:"tracing_sample_rate"`
}

// ServerConfig contains the HTTP trigger settings.
type ServerConfig struct {
	Port      string  `json:"port"`
	RateLimit float64 `json:"rate_limit"`
	RateBurst int     `json:"rate_burst"`
}

var writeModes = map[string]string{
	"":                 "WRITE_APPEND",
	"WRITE_APPEND":     "WRITE_APPEND",
	"APPEND":           "WRITE_APPEND",
	"WRITE_TRUNCATE":   "WRITE_TRUNCATE",
	"TRUNCATE":         "WRITE_TRUNCATE",
	"WRITE_EMPTY":      "WRITE_EMPTY",
	"EMPTY":            "WRITE_EMPTY",
	"FAIL-IF-NONEMPTY": "WRITE_EMPTY",
}

// NewViper returns a viper instance with every default registered and
// environment lookup enabled.
func NewViper() *viper.Viper {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault(key(KeyAPIURL), DefaultAPIURL)
	v.SetDefault(key(KeyAPIEndpoint), "")
	v.SetDefault(key(KeyAPITimeout), "10s")
	v.SetDefault(key(KeyAPIMaxRetries), 3)
	v.SetDefault(key(KeyAPIBackoff), 1.5)
	v.SetDefault(key(KeyLocation), "US")
	v.SetDefault(key(KeyWriteMode), "WRITE_APPEND")
	v.SetDefault(key(KeyCreateDataset), true)
	v.SetDefault(key(KeyCreateTable), false)
	v.SetDefault(key(KeyFunctionRegion), "southamerica-east1")
	v.SetDefault(key(KeyLogLevel), "info")
	v.SetDefault(key(KeyLogEncoding), "json")
	v.SetDefault(key(KeyTracingEnabled), false)
	v.SetDefault(key(KeyTracingSample), 1.0)
	v.SetDefault(key(KeyHTTPPort), "8080")
	v.SetDefault(key(KeyTriggerRate), 1.0)
	v.SetDefault(key(KeyTriggerBurst), 5)

	// Cloud Run and Cloud Functions inject PORT
	_ = v.BindEnv(key(KeyHTTPPort), KeyHTTPPort, "PORT")

	return v
}

// Load builds and validates the configuration. When configFile is not empty
// it is read as YAML first; environment variables override it.
func Load(configFile string) (*Config, error) {
	v := NewViper()
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, etlerrors.Config(err, "failed to read config file").
				WithDetail("file", configFile)
		}
	}

	cfg, err := FromViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromViper maps viper values onto a Config without validating it.
func FromViper(v *viper.Viper) (*Config, error) {
	labels, err := ParseLabels(v.GetString(key(KeyJobLabels)))
	if err != nil {
		return nil, err
	}
	timeout, err := ParseTimeout(v.GetString(key(KeyAPITimeout)))
	if err != nil {
		return nil, err
	}

	return &Config{
		Source: SourceConfig{
			BaseURL:       v.GetString(key(KeyAPIURL)),
			Endpoint:      v.GetString(key(KeyAPIEndpoint)),
			Timeout:       timeout,
			MaxRetries:    v.GetInt(key(KeyAPIMaxRetries)),
			BackoffFactor: v.GetFloat64(key(KeyAPIBackoff)),
			TokenSecret:   v.GetString(key(KeyAPITokenSecret)),
		},
		Destination: DestinationConfig{
			ProjectID: strings.TrimSpace(v.GetString(key(KeyProjectID))),
			DatasetID: strings.TrimSpace(v.GetString(key(KeyDataset))),
			TableID:   strings.TrimSpace(v.GetString(key(KeyTable))),
			Location:  v.GetString(key(KeyLocation)),
		},
		Load: LoadConfig{
			WriteDisposition: v.GetString(key(KeyWriteMode)),
			CreateDataset:    v.GetBool(key(KeyCreateDataset)),
			CreateTable:      v.GetBool(key(KeyCreateTable)),
			TableSchema:      v.GetString(key(KeyTableSchema)),
			JobLabels:        labels,
			StagingBucket:    v.GetString(key(KeyStagingBucket)),
		},
		Observability: ObservabilityConfig{
			LogLevel:          v.GetString(key(KeyLogLevel)),
			LogEncoding:       v.GetString(key(KeyLogEncoding)),
			EnableTracing:     v.GetBool(key(KeyTracingEnabled)),
			TracingSampleRate: v.GetFloat64(key(KeyTracingSample)),
		},
		Server: ServerConfig{
			Port:      v.GetString(key(KeyHTTPPort)),
			RateLimit: v.GetFloat64(key(KeyTriggerRate)),
			RateBurst: v.GetInt(key(KeyTriggerBurst)),
		},
		CredentialsFile: v.GetString(key(KeyCredentialsFile)),
		FunctionRegion:  v.GetString(key(KeyFunctionRegion)),
	}, nil
}

// Validate checks required settings and value ranges. Every missing required
// key is reported in a single ConfigurationFailure.
func (c *Config) Validate() error {
	var missing []string
	if c.Destination.ProjectID == "" {
		missing = append(missing, KeyProjectID)
	}
	if c.Destination.DatasetID == "" {
		missing = append(missing, KeyDataset)
	}
	if c.Destination.TableID == "" {
		missing = append(missing, KeyTable)
	}
	if len(missing) > 0 {
		return etlerrors.MissingKeys(missing)
	}

	if c.Source.BaseURL == "" {
		return etlerrors.Config(nil, "API_URL cannot be empty")
	}
	if c.Source.MaxRetries < 1 {
		return etlerrors.Config(nil, "API_MAX_RETRIES must be at least 1").
			WithDetail("value", c.Source.MaxRetries)
	}
	if c.Source.BackoffFactor <= 0 {
		return etlerrors.Config(nil, "API_BACKOFF_FACTOR must be positive").
			WithDetail("value", c.Source.BackoffFactor)
	}
	if c.Source.Timeout < minTimeout {
		return etlerrors.Config(nil, "API_TIMEOUT must be at least 1ms").
			WithDetail("value", c.Source.Timeout.String())
	}

	mode, ok := writeModes[strings.ToUpper(strings.TrimSpace(c.Load.WriteDisposition))]
	if !ok {
		return etlerrors.Config(nil, "unsupported WRITE_DISPOSITION").
			WithDetail("value", c.Load.WriteDisposition)
	}
	c.Load.WriteDisposition = mode

	return nil
}

// TableRef returns the fully qualified destination "project.dataset.table".
func (d DestinationConfig) TableRef() string {
	return d.ProjectID + "." + d.DatasetID + "." + d.TableID
}

// minTimeout is the smallest per-attempt timeout accepted.
const minTimeout = time.Millisecond

// ParseTimeout reads a bare number as seconds ("10", "2.5") and anything else
// as a Go duration ("10s", "500ms"). An empty string yields zero.
func ParseTimeout(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, etlerrors.Config(err, "malformed API_TIMEOUT").WithDetail("value", raw)
	}
	return d, nil
}

// ParseLabels parses "k=v,k2=v2" into a map. An empty string yields nil.
func ParseLabels(raw string) (map[string]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	labels := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, etlerrors.Config(nil, "malformed JOB_LABELS entry").
				WithDetail("entry", pair)
		}
		labels[k] = strings.TrimSpace(v)
	}
	return labels, nil
}

// LabelKeys returns the label keys in sorted order, for logging.
func (l LoadConfig) LabelKeys() []string {
	keys := make([]string, 0, len(l.JobLabels))
	for k := range l.JobLabels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func key(envKey string) string {
	return strings.ToLower(envKey)
}

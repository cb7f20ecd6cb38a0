// Package config provides the configuration of a bqloader run.
//
// Configuration is sourced from the environment (optionally pre-populated
// from a .env file by the caller) and, when given, a YAML file. Environment
// variables always win over file values. The configuration is organised into
// logical sections:
//   - Source: the REST API being extracted
//   - Destination: the BigQuery table being loaded
//   - Load: write mode, provisioning flags, schema, labels, staging
//   - Observability: logging and tracing
//   - Server: the HTTP trigger adapter
//
// # Required Settings
//
// GCP_PROJECT_ID, BIGQUERY_DATASET and BIGQUERY_TABLE must be set and
// non-empty. Validation reports every missing key in one
// ConfigurationFailure rather than stopping at the first.
//
// # Optional Settings
//
//	API_URL              source base URL (IBGE estados endpoint)
//	API_ENDPOINT         path appended to API_URL
//	API_TIMEOUT          per-attempt timeout (10s)
//	API_MAX_RETRIES      total attempts (3)
//	API_BACKOFF_FACTOR   wait after attempt n is factor^n seconds (1.5)
//	API_TOKEN_SECRET     Secret Manager id of a bearer token
//	BQ_LOCATION          dataset location (US)
//	WRITE_DISPOSITION    append, truncate or empty (append)
//	CREATE_DATASET       create the dataset when absent (true)
//	CREATE_TABLE         create the table when absent (false)
//	TABLE_SCHEMA         "ibge_state" or a YAML schema file
//	JOB_LABELS           k=v,k2=v2
//	STAGING_BUCKET       stage loads through GCS when set
//	HTTP_PORT            trigger port, falls back to PORT (8080)
//	BQLOADER_CONFIG      YAML file read by the Cloud Functions entry point
//
// API_TIMEOUT accepts a Go duration ("10s", "500ms") or a bare number of
// seconds ("10").
//
// # Config File
//
// The YAML file is flat and uses the lower-cased environment names as keys.
// Nested sections are not read.
//
//	gcp_project_id: my-project
//	bigquery_dataset: ibge
//	bigquery_table: estados
//	api_timeout: 10
//	write_disposition: truncate
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    return err // a ConfigurationFailure naming every missing key
//	}
package config

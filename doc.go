// Package bqloader loads a snapshot of a JSON REST API into a BigQuery table.
//
// Each run fetches the source endpoint (the IBGE Brazilian states API by
// default), flattens the payload into a table with normalised column names and
// loads it with a blocking BigQuery load job. Datasets and tables are created
// on demand, and concurrent creators are tolerated.
//
// # Entry Points
//
// bqloader runs in three ways:
//
//  1. bqloader run: one pass from the command line, exiting 1 on failure.
//  2. bqloader serve: an HTTP service where every request to / runs one pass.
//  3. RunPipeline: the Cloud Functions HTTP entry point registered by this
//     package.
//
// All three read the same environment variables:
//
//	GCP_PROJECT_ID=my-project
//	BIGQUERY_DATASET=ibge
//	BIGQUERY_TABLE=estados
//	API_URL=https://servicodados.ibge.gov.br/api/v1/localidades/estados
//
// # Responses
//
// The HTTP adapters answer 200 with
//
//	{"status": "success", "load_result": {"status": "success", "job_id": "...", "total_rows": 27, ...}}
//
// or 500 with
//
//	{"status": "error", "message": "extract: failed to consume API after 3 attempts: ..."}
//
// # Packages
//
//   - internal/pipeline: run orchestration and client construction
//   - internal/trigger: HTTP trigger handler and server
//   - pkg/clients: retrying JSON fetch client
//   - pkg/transform: payload classification and column normalisation
//   - pkg/warehouse: BigQuery provisioning, loads and queries
//   - pkg/schema: table schemas and value validators
//   - pkg/secrets: Secret Manager access
//   - pkg/config, pkg/logger, pkg/etlerrors, pkg/metrics, pkg/observability
package bqloader

// Package observability provides OpenTelemetry metrics and tracing for the retail insights hub.
package observability

// Metric names (Prometheus / OpenTelemetry).
const (
	MetricNameFilesProcessed          = "hub_files_processed_total"
	MetricNameFileProcessingDuration  = "hub_file_processing_duration_seconds"
	MetricNameIngestionStageErrors    = "hub_ingestion_stage_errors_total"
	MetricNameChunksCreated           = "hub_chunks_created_total"
	MetricNameEmbeddingBatches        = "hub_embedding_batches_total"
	MetricNameRAGQueries              = "hub_rag_queries_total"
	MetricNameRAGQueryDuration        = "hub_rag_query_duration_seconds"
	MetricNameJobFailures             = "hub_job_failures_total"
	MetricNameRiverQueueDepth         = "hub_river_queue_depth"
	MetricNameFilesSwept              = "hub_files_lease_expired_total"
	MetricNameWebhookJobsEnqueued     = "hub_webhook_jobs_enqueued_total"
	MetricNameWebhookDeliveries       = "hub_webhook_deliveries_total"
	MetricNameWebhookDeliveryDuration = "hub_webhook_delivery_duration_seconds"
	MetricNameCacheLookups            = "hub_cache_lookups_total"
	MetricNameRequestBodyTooLarge     = "hub_request_body_too_large_total"
	MetricNameHTTPRequests            = "hub_http_requests_total"
	MetricNameHTTPRequestDuration     = "hub_http_request_duration_seconds"
)

// Attribute keys.
const (
	AttrEventType   = "event_type"
	AttrReason      = "reason"
	AttrStatus      = "status"
	AttrStage       = "stage"
	AttrOutcome     = "outcome"
	AttrKind        = "kind"
	AttrQueue       = "queue"
	AttrFinal       = "final"
	AttrMethod      = "method"
	AttrRoute       = "route"
	AttrStatusClass = "status_class"
	AttrCache       = "cache"
	AttrResult      = "result"
)

// AllowedFileOutcomes for hub_files_processed_total and hub_file_processing_duration_seconds.
var AllowedFileOutcomes = map[string]bool{
	"completed": true,
	"failed":    true,
	"skipped":   true,
}

// AllowedIngestionStages for hub_ingestion_stage_errors_total.
var AllowedIngestionStages = map[string]bool{
	"transition": true,
	"fetch":      true,
	"analyze":    true,
	"build":      true,
	"persist":    true,
	"embed":      true,
	"complete":   true,
}

// AllowedRAGOutcomes for hub_rag_queries_total and hub_rag_query_duration_seconds.
var AllowedRAGOutcomes = map[string]bool{
	"answered":   true,
	"unanswered": true,
	"rejected":   true,
	"error":      true,
}

// AllowedJobKinds for hub_job_failures_total.
var AllowedJobKinds = map[string]bool{
	"analyze_file":        true,
	"embed_chunks":        true,
	"file_status_webhook": true,
}

// AllowedQueues for hub_river_queue_depth.
var AllowedQueues = map[string]bool{
	"analysis":   true,
	"embeddings": true,
	"webhooks":   true,
}

// AllowedEventTypes for webhook metrics.
var AllowedEventTypes = map[string]bool{
	"file.completed": true,
	"file.failed":    true,
}

// AllowedDeliveryStatuses for hub_webhook_deliveries_total and hub_webhook_delivery_duration_seconds.
var AllowedDeliveryStatuses = map[string]bool{
	"success": true,
	"failed":  true,
	"gone":    true,
}

// AllowedCacheNames for hub_cache_lookups_total.
var AllowedCacheNames = map[string]bool{
	"rag_query_embedding": true,
	"session":             true,
}

// Normalize returns value if allowed, otherwise "other".
func Normalize(value string, allowed map[string]bool) string {
	if allowed[value] {
		return value
	}

	return "other"
}

// NormalizeEventType returns eventType if allowed, otherwise "unknown".
func NormalizeEventType(eventType string) string {
	if AllowedEventTypes[eventType] {
		return eventType
	}

	return "unknown"
}

// NormalizeCacheName returns name if allowed, otherwise "other".
func NormalizeCacheName(name string) string {
	return Normalize(name, AllowedCacheNames)
}

// StatusClass maps an HTTP status code to 1xx..5xx.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Analysis types requested from the analysis service.
const (
	AnalysisTypeBasicStats       = "basic_stats"
	AnalysisTypeSalesAnalysis    = "sales_analysis"
	AnalysisTypeProductAnalysis  = "product_analysis"
	AnalysisTypeCustomerAnalysis = "customer_analysis"
	AnalysisKeyDataPreview       = "data_preview"
	AnalysisKeyColumns           = "columns"
	AnalysisTypeRawFileBase64    = "raw_file_b64"
	BasicStatsTotalRowsField     = "total_rows"
)

// RequestedAnalysisTypes is the fixed list sent with every analysis request.
var RequestedAnalysisTypes = []string{
	AnalysisTypeBasicStats,
	AnalysisTypeSalesAnalysis,
	AnalysisTypeProductAnalysis,
	AnalysisTypeCustomerAnalysis,
}

// AnalysisResult is one analysis output (one per analysis type) for a file.
type AnalysisResult struct {
	ID           uuid.UUID       `json:"id"`
	FileID       uuid.UUID       `json:"file_id"`
	AnalysisType string          `json:"analysis_type"`
	ResultJSON   json.RawMessage `json:"result_json"`
	CreatedAt    time.Time       `json:"created_at"`
}

// ChunkType tags where a chunk's text came from.
type ChunkType string

const (
	ChunkTypeAnalysis ChunkType = "analysis"
	ChunkTypeRow      ChunkType = "row"
)

// Chunk is a bounded slice of text used as the unit of retrieval.
type Chunk struct {
	ID        uuid.UUID `json:"id"`
	FileID    uuid.UUID `json:"file_id"`
	Text      string    `json:"chunk_text"`
	Type      ChunkType `json:"chunk_type"`
	Source    string    `json:"source"`
	Position  int       `json:"position"`
	CreatedAt time.Time `json:"created_at"`
}

// Vector store tags recorded on each embedding row.
const (
	VectorStoreJSON   = "pg-json"
	VectorStoreSimple = "pg-simple"
)

// Embedding is the vector for one chunk.
type Embedding struct {
	ID          uuid.UUID `json:"id"`
	FileID      uuid.UUID `json:"file_id"`
	ChunkID     uuid.UUID `json:"chunk_id"`
	Vector      []float32 `json:"vector"`
	VectorStore string    `json:"vector_store"`
	Model       string    `json:"model"`
	CreatedAt   time.Time `json:"created_at"`
}

// LatestAnalysisResponse is the response for GET /api/analyze/workspace/latest.
type LatestAnalysisResponse struct {
	Success  bool                       `json:"success"`
	File     UploadedFile               `json:"file"`
	Analysis map[string]json.RawMessage `json:"analysis"`
	Message  string                     `json:"message"`
}

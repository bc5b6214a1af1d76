package models

import "github.com/google/uuid"

// RAGQueryRequest is the body of POST /api/rag-query.
type RAGQueryRequest struct {
	FileID string `json:"file_id" validate:"required,uuid"`
	Query  string `json:"query" validate:"required,no_null_bytes,max=4000"`
	TopK   *int   `json:"top_k,omitempty"`
}

// RetrievedChunk is one chunk returned to the caller alongside its similarity score.
type RetrievedChunk struct {
	ID     uuid.UUID `json:"id"`
	Text   string    `json:"text"`
	Type   ChunkType `json:"type"`
	Source string    `json:"source"`
	Score  float64   `json:"score"`
}

// RAGQueryResponse is returned for every handled query, including expected failures (success=false).
type RAGQueryResponse struct {
	Success         bool             `json:"success"`
	Answer          string           `json:"answer"`
	RetrievedChunks []RetrievedChunk `json:"retrieved_chunks"`
	Message         string           `json:"message"`
}

// Package chunking turns analysis service output into analysis results and retrieval chunks.
//
// Build is pure: the same analysis map always yields the same results and chunks, in the
// same order, so the ingestion worker can replace previously derived rows safely.
package chunking

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"unicode/utf8"

	"github.com/retailiq/hub/internal/models"
)

// Defaults used by the ingestion worker.
const (
	DefaultWindowSize   = 1000
	DefaultMaxRowChunks = 100
)

// Options controls window size and the number of preview rows turned into chunks.
// Zero values select the defaults.
type Options struct {
	WindowSize   int
	MaxRowChunks int
	// SkipRows disables row chunks entirely.
	SkipRows bool
}

// Output is everything derived from one analysis map.
type Output struct {
	Results []Result
	Chunks  []Piece
	// RowCount is basic_stats.total_rows when present and numeric.
	RowCount *int
	// Columns is the raw top-level "columns" value when present.
	Columns json.RawMessage
}

// Result is one analysis type with its raw JSON value.
type Result struct {
	AnalysisType string
	Value        json.RawMessage
}

// Piece is one chunk before it is assigned ids.
type Piece struct {
	Text     string
	Type     models.ChunkType
	Source   string
	Position int
}

// Build derives results and chunks from the analysis map. Keys are processed in sorted order.
// Null values produce no result but are still chunked as {"key":null}. data_preview is neither
// a result nor an analysis chunk; when it is an array its first MaxRowChunks rows become row chunks.
func Build(analysis map[string]json.RawMessage, opts Options) (*Output, error) {
	if opts.WindowSize <= 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.MaxRowChunks <= 0 {
		opts.MaxRowChunks = DefaultMaxRowChunks
	}

	keys := make([]string, 0, len(analysis))
	for k := range analysis {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := &Output{}
	position := 0

	for _, key := range keys {
		if key == models.AnalysisKeyDataPreview {
			continue
		}

		value := analysis[key]
		compacted := json.RawMessage("null")
		if !isNull(value) {
			var err error
			if compacted, err = compact(value); err != nil {
				return nil, fmt.Errorf("analysis key %q: %w", key, err)
			}
			out.Results = append(out.Results, Result{AnalysisType: key, Value: compacted})
		}

		text, err := keyedJSON(key, compacted)
		if err != nil {
			return nil, fmt.Errorf("analysis key %q: %w", key, err)
		}

		for _, window := range Split(text, opts.WindowSize) {
			out.Chunks = append(out.Chunks, Piece{
				Text:     window,
				Type:     models.ChunkTypeAnalysis,
				Source:   key,
				Position: position,
			})
			position++
		}
	}

	if preview, ok := analysis[models.AnalysisKeyDataPreview]; ok && !opts.SkipRows && !isNull(preview) {
		var rows []json.RawMessage
		// A non-array preview is ignored.
		if err := json.Unmarshal(preview, &rows); err == nil {
			for i, row := range rows {
				if i >= opts.MaxRowChunks {
					break
				}
				compacted, err := compact(row)
				if err != nil {
					return nil, fmt.Errorf("data_preview row %d: %w", i, err)
				}
				out.Chunks = append(out.Chunks, Piece{
					Text:     string(compacted),
					Type:     models.ChunkTypeRow,
					Source:   fmt.Sprintf("row_%d", i),
					Position: position,
				})
				position++
			}
		}
	}

	out.RowCount = totalRows(analysis[models.AnalysisTypeBasicStats])

	if columns, ok := analysis[models.AnalysisKeyColumns]; ok && !isNull(columns) {
		out.Columns = columns
	}

	return out, nil
}

// Split slices text into windows of at most size runes. Concatenating the windows in order
// yields text again. Empty text yields no windows.
func Split(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultWindowSize
	}

	windows := make([]string, 0, utf8.RuneCountInString(text)/size+1)
	start, count := 0, 0
	for i := range text {
		if count == size {
			windows = append(windows, text[start:i])
			start, count = i, 0
		}
		count++
	}
	windows = append(windows, text[start:])

	return windows
}

func keyedJSON(key string, value json.RawMessage) (string, error) {
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	buf.Write(keyJSON)
	buf.WriteByte(':')
	buf.Write(value)
	buf.WriteByte('}')

	return buf.String(), nil
}

func compact(raw json.RawMessage) (json.RawMessage, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func totalRows(basicStats json.RawMessage) *int {
	if isNull(basicStats) {
		return nil
	}

	var stats map[string]json.RawMessage
	if err := json.Unmarshal(basicStats, &stats); err != nil {
		return nil
	}

	var n float64
	if err := json.Unmarshal(stats[models.BasicStatsTotalRowsField], &n); err != nil {
		return nil
	}

	rows := int(n)
	return &rows
}

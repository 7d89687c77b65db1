package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Row is one parsed row keyed by header name.
type Row map[string]any

// HashRow returns the SHA-256 of the row's canonical JSON. Keys are sorted by
// the encoder so the digest is independent of column order.
func HashRow(row Row) (string, error) {
	payload, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("encode row: %w", err)
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BatchRow is a parsed row together with the annotations later stages add.
type BatchRow struct {
	Index         int    `json:"index"`
	Data          Row    `json:"data"`
	Hash          string `json:"hash,omitempty"`
	Duplicate     bool   `json:"duplicate,omitempty"`
	Location      *Point `json:"location,omitempty"`
	GeocodeSource string `json:"geocodeSource,omitempty"`
}

// Batch is a bounded slice of rows processed as one queued unit of work.
type Batch struct {
	ImportJobID uuid.UUID  `json:"importJobId"`
	Index       int        `json:"index"`
	Rows        []BatchRow `json:"rows"`
	Processed   int        `json:"processed"`
	Errors      int        `json:"errors"`
	Duplicates  int        `json:"duplicates"`
}

// StorageKey returns the blob key holding this batch.
func (b Batch) StorageKey() string {
	return BatchStorageKey(b.ImportJobID, b.Index)
}

// BatchStorageKey returns the blob key of the batch at index for a job.
func BatchStorageKey(jobID uuid.UUID, index int) string {
	return fmt.Sprintf("batches/%s/%05d.json", jobID, index)
}

// PartitionRows splits rows into batches of at most size rows each.
func PartitionRows(jobID uuid.UUID, rows []Row, size int) []Batch {
	if size <= 0 {
		size = 100
	}
	batches := make([]Batch, 0, (len(rows)+size-1)/size)
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		batch := Batch{
			ImportJobID: jobID,
			Index:       len(batches),
			Rows:        make([]BatchRow, 0, end-start),
		}
		for idx := start; idx < end; idx++ {
			batch.Rows = append(batch.Rows, BatchRow{Index: idx, Data: rows[idx]})
		}
		batches = append(batches, batch)
	}
	return batches
}

package model

import "time"

// ProvenanceStatus is the lifecycle state of an ingested source file.
type ProvenanceStatus string

const (
	ProvenanceDownloaded ProvenanceStatus = "downloaded"
	ProvenanceProcessed  ProvenanceStatus = "processed"
	ProvenanceFailed     ProvenanceStatus = "failed"
)

// Valid reports whether s is a known provenance status.
func (s ProvenanceStatus) Valid() bool {
	switch s {
	case ProvenanceDownloaded, ProvenanceProcessed, ProvenanceFailed:
		return true
	default:
		return false
	}
}

// Provenance tracks where an ingested file came from and its processing state.
// One provenance record owns zero or more incident rows.
type Provenance struct {
	ID           int64            `json:"id" yaml:"id"`
	SourceName   string           `json:"source_name" yaml:"source_name"`
	SourceURL    string           `json:"source_url,omitempty" yaml:"source_url,omitempty"`
	DataType     string           `json:"data_type" yaml:"data_type"`
	Year         int              `json:"year" yaml:"year"`
	DownloadedAt time.Time        `json:"downloaded_at" yaml:"downloaded_at"`
	FilePath     string           `json:"file_path,omitempty" yaml:"file_path,omitempty"`
	FileHash     string           `json:"file_hash,omitempty" yaml:"file_hash,omitempty"`
	Status       ProvenanceStatus `json:"status" yaml:"status"`
	Metadata     map[string]any   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt    time.Time        `json:"created_at" yaml:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at" yaml:"updated_at"`
}

package models

import "time"

// HeaderPolicy decides the CSV header when records carry different field sets
type HeaderPolicy string

const (
	// HeaderFirst uses the first record's keys; unknown keys in later records are dropped
	HeaderFirst HeaderPolicy = "first"
	// HeaderUnion appends every new key in the order it is first seen
	HeaderUnion HeaderPolicy = "union"
	// HeaderStrict rejects the export when a later record has a key the first lacks
	HeaderStrict HeaderPolicy = "strict"
)

// WriteOptions contains configuration for CSV writing
type WriteOptions struct {
	Directory       string
	StagingDir      string
	Date            time.Time
	HeaderPolicy    HeaderPolicy
	IncludeRecordID bool
}

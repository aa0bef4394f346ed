package ingest

import (
	"path/filepath"
	"strings"
)

// Shape is the top-level layout of an export document.
type Shape int

const (
	// ShapeUnrecognized is any layout the ingester cannot read.
	ShapeUnrecognized Shape = iota
	// ShapeArray is a bare array of entries.
	ShapeArray
	// ShapeObjectWithEntries is {"entries": [...]}.
	ShapeObjectWithEntries
	// ShapeObjectWithFileMetadata is {"fileMetadata": {...}, "entries": [...]}.
	ShapeObjectWithFileMetadata
	// ShapeManifest is an index or manifest file with no content.
	ShapeManifest
)

func (s Shape) String() string {
	switch s {
	case ShapeArray:
		return "array"
	case ShapeObjectWithEntries:
		return "object_with_entries"
	case ShapeObjectWithFileMetadata:
		return "object_with_file_metadata"
	case ShapeManifest:
		return "manifest"
	default:
		return "unrecognized"
	}
}

// Reserved names of non-content files produced next to exports.
const (
	ManifestFileName  = "manifest.json"
	MetadataIndexName = "metadata_index"
)

// manifestSignatures are key sets that identify a manifest object.
var manifestSignatures = [][]string{
	{"files", "version"},
	{"fileIndex"},
	{"manifestVersion"},
}

// nameKeys may carry a file name or id equal to a reserved name.
var nameKeys = []string{"entryId", "id", "fileName", "filename", "name"}

// IsReservedName reports whether a file name or id names a manifest or
// metadata index rather than content.
func IsReservedName(name string) bool {
	if name == "" {
		return false
	}
	base := filepath.Base(name)
	if strings.EqualFold(base, ManifestFileName) {
		return true
	}
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return strings.EqualFold(stem, MetadataIndexName)
}

// isManifest reports whether obj is a manifest or index object.
func isManifest(obj map[string]any) bool {
	for _, k := range nameKeys {
		if s, ok := obj[k].(string); ok && IsReservedName(s) {
			return true
		}
	}
	for _, sig := range manifestSignatures {
		matched := true
		for _, k := range sig {
			if _, ok := obj[k]; !ok {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

// Classify determines the shape of a materialized root object.
func Classify(root map[string]any) Shape {
	entries, hasEntries := root["entries"]
	if !hasEntries {
		if isManifest(root) {
			return ShapeManifest
		}
		return ShapeUnrecognized
	}
	if _, ok := entries.([]any); !ok {
		return ShapeUnrecognized
	}
	if _, ok := root["fileMetadata"].(map[string]any); ok {
		return ShapeObjectWithFileMetadata
	}
	return ShapeObjectWithEntries
}

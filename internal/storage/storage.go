// Package storage defines the versioned-snapshot contract persistence
// backends honor and the retention algorithms shared between them. A
// backend owns one catalogue tree: version files, the latest/history/
// filtered-history indices, per-subsystem artifact directories and their
// hash caches.
package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strconv"

	"github.com/xroad-catalogue/collector/internal/catalogue"
	"github.com/xroad-catalogue/collector/internal/xroad"
)

// Index and status document names, fixed across backends.
const (
	LatestFile          = "index.json"
	HistoryFile         = "history.json"
	FilteredHistoryFile = "filtered_history.json"
	StatusFile          = "status.json"
	CleanupStatusFile   = "cleanup_status.json"
)

// Hash cache file names kept next to a subsystem's artifacts.
const (
	WSDLHashFile    = "_wsdl_hashes"
	OpenAPIHashFile = "_openapi_hashes"
)

// Backend persists collection snapshots and maintains the catalogue's
// version history on one storage medium.
type Backend interface {
	// Persist writes the snapshot as a new catalogue version: document
	// artifacts, the version file, the latest index and both history
	// indices. It then runs Cleanup, whose own interval gate decides
	// whether anything happens.
	Persist(ctx context.Context, snapshot *catalogue.Snapshot) error
	// ListHistory returns the full version history, oldest first.
	ListHistory(ctx context.Context) ([]catalogue.Version, error)
	// Cleanup deletes versions outside the retention window together
	// with artifacts no retained version references. It is a no-op when
	// the configured interval since the last cleanup has not passed.
	Cleanup(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}

// Retention bundles the thinning and cleanup parameters a backend applies.
type Retention struct {
	FilteredHours   int
	FilteredDays    int
	FilteredMonths  int
	DaysToKeep      int
	CleanupInterval int
}

// Status is the content of the last-run status document.
type Status struct {
	LastReport string `json:"lastReport"`
}

// CleanupStatus is the content of the cleanup marker document.
type CleanupStatus struct {
	LastCleanup string `json:"lastCleanup"`
}

var (
	wsdlNameRegex    = regexp.MustCompile(`^(\d+)\.wsdl$`)
	openAPINameRegex = regexp.MustCompile(`^.+_(\d+)\.(yaml|json)$`)
)

// DocHash returns the hex md5 digest used to deduplicate artifacts.
func DocHash(doc string) string {
	sum := md5.Sum([]byte(doc))
	return hex.EncodeToString(sum[:])
}

// ResolveDocName maps a document onto an artifact name within a subsystem
// directory. When the hash cache already holds an artifact with matching
// name pattern and content hash, that name is reused and existing is true;
// otherwise the next free sequence number is allocated and the caller must
// write the artifact and record it in the cache. OpenAPI names carry the
// percent-encoded service code, so the stored name is byte-identical to the
// path published in index documents.
func ResolveDocName(hashes map[string]string, doc *catalogue.Document) (name, hash string, existing bool, err error) {
	hash = DocHash(doc.Content)

	var pattern *regexp.Regexp
	var prefix string
	switch doc.Format {
	case catalogue.DocWSDL:
		pattern = wsdlNameRegex
	case catalogue.DocJSON, catalogue.DocYAML:
		prefix = xroad.EncodePart(doc.ServiceCode)
		pattern = regexp.MustCompile(
			`^` + regexp.QuoteMeta(prefix) + `_(\d+)\.(yaml|json)$`)
	default:
		return "", "", false, fmt.Errorf("unknown document format %q", doc.Format)
	}

	maxSeq := -1
	for fileName, fileHash := range hashes {
		match := pattern.FindStringSubmatch(fileName)
		if match == nil {
			continue
		}
		if fileHash == hash {
			return fileName, hash, true, nil
		}
		if seq, err := strconv.Atoi(match[1]); err == nil && seq > maxSeq {
			maxSeq = seq
		}
	}

	if doc.Format == catalogue.DocWSDL {
		return fmt.Sprintf("%d.wsdl", maxSeq+1), hash, false, nil
	}
	return fmt.Sprintf("%s_%d.%s", prefix, maxSeq+1, doc.Format), hash, false, nil
}

// IsArtifactName reports whether a file name follows one of the artifact
// naming schemes. The cleanup sweep only ever touches such files.
func IsArtifactName(name string) bool {
	return IsWSDLName(name) || IsOpenAPIName(name)
}

// IsWSDLName reports whether a file name follows the WSDL artifact scheme.
func IsWSDLName(name string) bool {
	return wsdlNameRegex.MatchString(name)
}

// IsOpenAPIName reports whether a file name follows the OpenAPI artifact
// scheme. Version files (index_<timestamp>.json) share the
// <prefix>_<n>.json shape and must never be taken for artifacts.
func IsOpenAPIName(name string) bool {
	if _, ok := catalogue.VersionFromFileName(name); ok {
		return false
	}
	return openAPINameRegex.MatchString(name)
}

package storage

import (
	"encoding/json"

	"github.com/xroad-catalogue/collector/internal/catalogue"
)

// reportEntry is the subset of the published version document the cleanup
// sweep reads back: only the artifact references matter here.
type reportEntry struct {
	Methods []struct {
		WSDL string `json:"wsdl"`
	} `json:"methods"`
	Services []struct {
		OpenAPI string `json:"openapi"`
	} `json:"services"`
}

// UsedDocs extracts the relative artifact paths referenced by a persisted
// version document. Cleanup deletes only artifacts no retained version
// references.
func UsedDocs(reportJSON []byte) (map[string]struct{}, error) {
	var entries []reportEntry
	if err := json.Unmarshal(reportJSON, &entries); err != nil {
		return nil, err
	}

	used := make(map[string]struct{})
	for _, entry := range entries {
		for _, method := range entry.Methods {
			if method.WSDL != "" {
				used[method.WSDL] = struct{}{}
			}
		}
		for _, service := range entry.Services {
			if service.OpenAPI != "" {
				used[service.OpenAPI] = struct{}{}
			}
		}
	}
	return used, nil
}

// EncodeHistory renders a history index document.
func EncodeHistory(versions []catalogue.Version) ([]byte, error) {
	if versions == nil {
		versions = []catalogue.Version{}
	}
	return json.MarshalIndent(versions, "", "  ")
}

// DecodeHistory reads a history index document.
func DecodeHistory(data []byte) ([]catalogue.Version, error) {
	var versions []catalogue.Version
	if err := json.Unmarshal(data, &versions); err != nil {
		return nil, err
	}
	return versions, nil
}

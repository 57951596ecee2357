package xroad

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "github.com/xroad-catalogue/collector/pkg/errors"
)

// Endpoint is one operation parsed out of an OpenAPI description.
type Endpoint struct {
	Verb        string `json:"verb"`
	Path        string `json:"path"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
}

// DetectOpenAPIFormat reports the storage extension for a description:
// "json" when the document is valid JSON, "yaml" otherwise.
func DetectOpenAPIFormat(doc string) string {
	if json.Valid([]byte(doc)) {
		return "json"
	}
	return "yaml"
}

// OpenAPIEndpoints extracts the endpoint list from an OpenAPI document.
// JSON documents are a YAML subset, so a single decoder covers both. The
// document order of paths and verbs is preserved so repeated collection of
// an unchanged description yields an identical endpoint list.
func OpenAPIEndpoints(doc string) ([]Endpoint, error) {
	var root yaml.Node
	if err := yaml.Unmarshal([]byte(doc), &root); err != nil {
		return nil, apperrors.NewParseError("openapi", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, apperrors.NewParseError("openapi", fmt.Errorf("empty document"))
	}

	paths := mappingValue(root.Content[0], "paths")
	if paths == nil || paths.Kind != yaml.MappingNode {
		return nil, apperrors.NewParseError("openapi", fmt.Errorf("document contains no paths"))
	}

	var endpoints []Endpoint
	for i := 0; i+1 < len(paths.Content); i += 2 {
		path := paths.Content[i].Value
		operations := paths.Content[i+1]
		if operations.Kind != yaml.MappingNode {
			continue
		}
		for j := 0; j+1 < len(operations.Content); j += 2 {
			verb := operations.Content[j].Value
			operation := operations.Content[j+1]
			if !isHTTPVerb(verb) || operation.Kind != yaml.MappingNode {
				continue
			}
			endpoints = append(endpoints, Endpoint{
				Verb:        verb,
				Path:        path,
				Summary:     scalarValue(operation, "summary"),
				Description: scalarValue(operation, "description"),
			})
		}
	}

	return endpoints, nil
}

func mappingValue(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func scalarValue(node *yaml.Node, key string) string {
	value := mappingValue(node, key)
	if value == nil || value.Kind != yaml.ScalarNode {
		return ""
	}
	return value.Value
}

func isHTTPVerb(verb string) bool {
	switch strings.ToLower(verb) {
	case "get", "put", "post", "delete", "options", "head", "patch", "trace":
		return true
	}
	return false
}

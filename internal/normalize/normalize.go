// Package normalize strips volatile fragments out of fetched service
// descriptions before they are hashed and stored. Producers commonly embed
// generation timestamps in WSDL documents; without normalization every run
// would store a new artifact for an unchanged service.
package normalize

import (
	"regexp"

	apperrors "github.com/xroad-catalogue/collector/pkg/errors"
)

// Rule is one pattern/replacement pair applied to a document.
type Rule struct {
	pattern     *regexp.Regexp
	replacement string
}

// Normalizer applies an ordered rule list to document text.
type Normalizer struct {
	rules []Rule
}

// Compile builds a normalizer from raw [pattern, replacement] pairs. Rules
// keep their configured order; a later rule sees the output of earlier ones.
func Compile(pairs [][2]string) (*Normalizer, error) {
	rules := make([]Rule, 0, len(pairs))
	for _, pair := range pairs {
		pattern, err := regexp.Compile(pair[0])
		if err != nil {
			return nil, apperrors.NewValidationError("wsdl_replaces", "invalid pattern "+pair[0], err)
		}
		rules = append(rules, Rule{pattern: pattern, replacement: pair[1]})
	}
	return &Normalizer{rules: rules}, nil
}

// Apply runs every rule over the document and returns the result. With no
// rules configured the document passes through unchanged.
func (n *Normalizer) Apply(doc string) string {
	if n == nil {
		return doc
	}
	for _, rule := range n.rules {
		doc = rule.pattern.ReplaceAllString(doc, rule.replacement)
	}
	return doc
}

// Len reports the number of configured rules.
func (n *Normalizer) Len() int {
	if n == nil {
		return 0
	}
	return len(n.rules)
}

package xroad

import (
	"net/url"
	"strings"
)

// MemberID identifies a registry participant.
type MemberID struct {
	Instance    string
	MemberClass string
	MemberCode  string
}

// SubsystemID identifies a sub-unit of a member. It is the unit of
// discovery: method and service lists are queried per subsystem.
type SubsystemID struct {
	MemberID
	SubsystemCode string
}

// MethodID identifies one discoverable SOAP method.
type MethodID struct {
	SubsystemID
	ServiceCode    string
	ServiceVersion string
}

// ServiceID identifies one discoverable REST service.
type ServiceID struct {
	SubsystemID
	ServiceCode string
}

// ClientID is the caller's own identity placed in query headers. The
// subsystem code may be empty, in which case queries are issued with
// member-level identity.
type ClientID struct {
	Instance      string
	MemberClass   string
	MemberCode    string
	SubsystemCode string
}

func (m MemberID) parts() []string {
	return []string{m.Instance, m.MemberClass, m.MemberCode}
}

func (s SubsystemID) parts() []string {
	return append(s.MemberID.parts(), s.SubsystemCode)
}

func (m MethodID) parts() []string {
	return append(m.SubsystemID.parts(), m.ServiceCode, m.ServiceVersion)
}

func (s ServiceID) parts() []string {
	return append(s.SubsystemID.parts(), s.ServiceCode)
}

// String returns the percent-encoded slash-separated identifier form used
// in REST query URLs and log messages.
func (m MemberID) String() string { return Identifier(m.parts()) }

// String returns the percent-encoded identifier form.
func (s SubsystemID) String() string { return Identifier(s.parts()) }

// String returns the percent-encoded identifier form.
func (m MethodID) String() string { return Identifier(m.parts()) }

// String returns the percent-encoded identifier form.
func (s ServiceID) String() string { return Identifier(s.parts()) }

// Key returns a plain slash-joined form suitable for deterministic sorting
// and as a map key. Identifier parts are assumed not to contain slashes.
func (s SubsystemID) Key() string {
	return strings.Join(s.parts(), "/")
}

// Path returns the relative storage path for the subsystem's artifacts,
// rooted at <memberClass>/<memberCode>/<subsystemCode>. Parts are
// percent-encoded so the on-medium layout matches the paths published in
// index documents.
func (s SubsystemID) Path() string {
	return Identifier([]string{s.MemberClass, s.MemberCode, s.SubsystemCode})
}

// Less orders subsystems lexicographically by their full identity.
func (s SubsystemID) Less(other SubsystemID) bool {
	return s.Key() < other.Key()
}

// Member returns the subsystem's owning member identity.
func (s SubsystemID) Member() MemberID {
	return s.MemberID
}

func (c ClientID) parts() []string {
	if c.SubsystemCode == "" {
		return []string{c.Instance, c.MemberClass, c.MemberCode}
	}
	return []string{c.Instance, c.MemberClass, c.MemberCode, c.SubsystemCode}
}

// String returns the percent-encoded identifier form used in the
// X-Road-Client header.
func (c ClientID) String() string { return Identifier(c.parts()) }

// IsMember reports whether the client identity is member-level.
func (c ClientID) IsMember() bool { return c.SubsystemCode == "" }

// EncodePart percent-encodes a single identifier part. Spaces are encoded
// as %20 so encoded identifiers are valid in both URL paths and queries.
func EncodePart(part string) string {
	return strings.ReplaceAll(url.QueryEscape(part), "+", "%20")
}

// Identifier joins identifier parts into the slash-separated string
// representation. Each part is percent-encoded.
func Identifier(parts []string) string {
	encoded := make([]string, len(parts))
	for i, part := range parts {
		encoded[i] = EncodePart(part)
	}
	return strings.Join(encoded, "/")
}

// IdentifierParts splits a slash-separated identifier back into its
// decoded parts.
func IdentifierParts(identifier string) []string {
	raw := strings.Split(identifier, "/")
	parts := make([]string, len(raw))
	for i, part := range raw {
		decoded, err := url.QueryUnescape(part)
		if err != nil {
			parts[i] = part
			continue
		}
		parts[i] = decoded
	}
	return parts
}

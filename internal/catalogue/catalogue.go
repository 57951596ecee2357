// Package catalogue defines the data model of a collection run: per-method
// and per-service reports, per-subsystem reports, the immutable snapshot a
// run produces, and the versioned history entries the storage layer keeps.
package catalogue

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"time"

	"github.com/xroad-catalogue/collector/internal/xroad"
)

// Status classifies the outcome of one registry query.
type Status string

const (
	// StatusOK means the query and parse both succeeded.
	StatusOK Status = "OK"
	// StatusError means the query answered but the response was a fault
	// or its content could not be used.
	StatusError Status = "ERROR"
	// StatusTimeout means no response arrived within the deadline.
	StatusTimeout Status = "TIMEOUT"
	// StatusSkipped means the query was deliberately not attempted
	// because an earlier query to the same security server timed out.
	StatusSkipped Status = "SKIPPED"
)

// DateFormat is the timestamp layout used in index documents and history
// entries.
const DateFormat = "2006-01-02 15:04:05"

// FileSuffixFormat is the timestamp layout embedded in version file names.
const FileSuffixFormat = "20060102150405"

// DocFormat names the storage format of a description artifact.
type DocFormat string

const (
	DocWSDL DocFormat = "wsdl"
	DocJSON DocFormat = "json"
	DocYAML DocFormat = "yaml"
)

// Document is a fetched description carried inside the snapshot until a
// backend writes it out during persist.
type Document struct {
	Content string
	Format  DocFormat
	// ServiceCode prefixes OpenAPI artifact names; unused for WSDL.
	ServiceCode string
}

// MethodReport records the outcome for one SOAP method.
type MethodReport struct {
	ID       xroad.MethodID
	Status   Status
	WSDLPath string
	Document *Document
}

// ServiceReport records the outcome for one REST service. A service with
// StatusOK and no document is a plain REST service without a description.
type ServiceReport struct {
	ID          xroad.ServiceID
	Status      Status
	OpenAPIPath string
	Document    *Document
	Endpoints   []xroad.Endpoint
}

// SubsystemReport aggregates the discovery outcome for one subsystem.
// SubsystemStatus reflects the SOAP directory query, ServicesStatus the
// REST one; the two are independent.
type SubsystemReport struct {
	ID              xroad.SubsystemID
	SubsystemStatus Status
	ServicesStatus  Status
	Methods         []MethodReport
	Services        []ServiceReport
}

// Snapshot is one collection run's full result set. It is assembled in
// memory, ordered by subsystem identity, and never mutated after being
// handed to a storage backend.
type Snapshot struct {
	ReportTime time.Time
	Subsystems []SubsystemReport
}

// Version is one entry in the history index referencing a persisted
// snapshot.
type Version struct {
	ReportTime time.Time
	ReportPath string
}

// Sort orders the snapshot's subsystems by identity. Worker completion
// order must not leak into the persisted document.
func (s *Snapshot) Sort() {
	sort.Slice(s.Subsystems, func(i, j int) bool {
		return s.Subsystems[i].ID.Less(s.Subsystems[j].ID)
	})
}

// AllFailed reports whether every subsystem's SOAP directory query failed.
// A run where nothing resolved produces no catalogue version.
func (s *Snapshot) AllFailed() bool {
	for _, subsystem := range s.Subsystems {
		if subsystem.SubsystemStatus == StatusOK {
			return false
		}
	}
	return true
}

// FileName returns the version file name for the snapshot.
func (s *Snapshot) FileName() string {
	return "index_" + s.ReportTime.Format(FileSuffixFormat) + ".json"
}

type methodJSON struct {
	ServiceCode    string `json:"serviceCode"`
	ServiceVersion string `json:"serviceVersion"`
	MethodStatus   string `json:"methodStatus"`
	WSDL           string `json:"wsdl"`
}

type serviceJSON struct {
	ServiceCode string           `json:"serviceCode"`
	Status      string           `json:"status"`
	OpenAPI     string           `json:"openapi"`
	Endpoints   []xroad.Endpoint `json:"endpoints"`
}

type subsystemJSON struct {
	XRoadInstance   string        `json:"xRoadInstance"`
	MemberClass     string        `json:"memberClass"`
	MemberCode      string        `json:"memberCode"`
	SubsystemCode   string        `json:"subsystemCode"`
	SubsystemStatus string        `json:"subsystemStatus"`
	ServicesStatus  string        `json:"servicesStatus"`
	Methods         []methodJSON  `json:"methods"`
	Services        []serviceJSON `json:"services"`
}

// MarshalJSON emits the published document shape.
func (m MethodReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(methodJSON{
		ServiceCode:    m.ID.ServiceCode,
		ServiceVersion: m.ID.ServiceVersion,
		MethodStatus:   string(m.Status),
		WSDL:           m.WSDLPath,
	})
}

// MarshalJSON emits the published document shape.
func (s ServiceReport) MarshalJSON() ([]byte, error) {
	endpoints := s.Endpoints
	if endpoints == nil {
		endpoints = []xroad.Endpoint{}
	}
	return json.Marshal(serviceJSON{
		ServiceCode: s.ID.ServiceCode,
		Status:      string(s.Status),
		OpenAPI:     s.OpenAPIPath,
		Endpoints:   endpoints,
	})
}

// MarshalJSON emits the published document shape.
func (r SubsystemReport) MarshalJSON() ([]byte, error) {
	methods := make([]methodJSON, 0, len(r.Methods))
	for _, m := range r.Methods {
		methods = append(methods, methodJSON{
			ServiceCode:    m.ID.ServiceCode,
			ServiceVersion: m.ID.ServiceVersion,
			MethodStatus:   string(m.Status),
			WSDL:           m.WSDLPath,
		})
	}
	services := make([]serviceJSON, 0, len(r.Services))
	for _, s := range r.Services {
		endpoints := s.Endpoints
		if endpoints == nil {
			endpoints = []xroad.Endpoint{}
		}
		services = append(services, serviceJSON{
			ServiceCode: s.ID.ServiceCode,
			Status:      string(s.Status),
			OpenAPI:     s.OpenAPIPath,
			Endpoints:   endpoints,
		})
	}
	return json.Marshal(subsystemJSON{
		XRoadInstance:   r.ID.Instance,
		MemberClass:     r.ID.MemberClass,
		MemberCode:      r.ID.MemberCode,
		SubsystemCode:   r.ID.SubsystemCode,
		SubsystemStatus: string(r.SubsystemStatus),
		ServicesStatus:  string(r.ServicesStatus),
		Methods:         methods,
		Services:        services,
	})
}

type versionJSON struct {
	ReportTime string `json:"reportTime"`
	ReportPath string `json:"reportPath"`
}

// MarshalJSON emits history entries with the published timestamp layout.
func (v Version) MarshalJSON() ([]byte, error) {
	return json.Marshal(versionJSON{
		ReportTime: v.ReportTime.Format(DateFormat),
		ReportPath: v.ReportPath,
	})
}

// UnmarshalJSON reads history entries back.
func (v *Version) UnmarshalJSON(data []byte) error {
	var raw versionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := time.Parse(DateFormat, raw.ReportTime)
	if err != nil {
		return fmt.Errorf("invalid reportTime %q: %w", raw.ReportTime, err)
	}
	v.ReportTime = parsed
	v.ReportPath = raw.ReportPath
	return nil
}

var versionFileRegex = regexp.MustCompile(`^index_(\d{14})\.json$`)

// VersionFromFileName recovers a Version from a version file name, used
// when rebuilding history from a listing.
func VersionFromFileName(name string) (Version, bool) {
	match := versionFileRegex.FindStringSubmatch(name)
	if match == nil {
		return Version{}, false
	}
	parsed, err := time.Parse(FileSuffixFormat, match[1])
	if err != nil {
		return Version{}, false
	}
	return Version{ReportTime: parsed, ReportPath: name}, true
}

// SortVersions orders history oldest first.
func SortVersions(versions []Version) {
	sort.Slice(versions, func(i, j int) bool {
		if versions[i].ReportTime.Equal(versions[j].ReportTime) {
			return versions[i].ReportPath < versions[j].ReportPath
		}
		return versions[i].ReportTime.Before(versions[j].ReportTime)
	})
}

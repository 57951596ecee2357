package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration document. One file drives a whole
// collection run: security server access, discovery scope, normalization
// rules and the storage backend.
type Config struct {
	ServerURL          string        `yaml:"server_url" validate:"required"`
	Client             []string      `yaml:"client" validate:"required,min=3,max=4,dive,min=1"`
	Instance           string        `yaml:"instance,omitempty"`
	Timeout            float64       `yaml:"timeout,omitempty" validate:"omitempty,gt=0"`
	ServerCert         string        `yaml:"server_cert,omitempty"`
	ClientCert         string        `yaml:"client_cert,omitempty"`
	ClientKey          string        `yaml:"client_key,omitempty"`
	ThreadCount        int           `yaml:"thread_count,omitempty" validate:"omitempty,gte=1"`
	WSDLReplaces       []ReplaceRule `yaml:"wsdl_replaces,omitempty"`
	ExcludedMembers    []Exclusion   `yaml:"excluded_members,omitempty" validate:"dive"`
	ExcludedSubsystems []Exclusion   `yaml:"excluded_subsystems,omitempty" validate:"dive"`
	Logging            Logging       `yaml:"logging,omitempty"`
	Storage            Storage       `yaml:"storage"`
}

// ReplaceRule is one pattern/replacement pair applied to fetched WSDL text
// before hashing and storage. In YAML it is a two-element sequence.
type ReplaceRule struct {
	Pattern     string
	Replacement string
}

// UnmarshalYAML decodes the [pattern, replacement] sequence form.
func (r *ReplaceRule) UnmarshalYAML(value *yaml.Node) error {
	var pair []string
	if err := value.Decode(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("wsdl_replaces entry must have exactly 2 elements, got %d", len(pair))
	}
	r.Pattern = pair[0]
	r.Replacement = pair[1]
	return nil
}

// Exclusion removes one member or subsystem from the discovery scope. The
// identifier is the slash-separated form; the tag is free-form text echoed
// in audit logs when the exclusion fires.
type Exclusion struct {
	ID  string `yaml:"id" validate:"required"`
	Tag string `yaml:"tag,omitempty"`
}

// Logging selects log level and output format.
type Logging struct {
	Level         string `yaml:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error fatal panic"`
	HumanReadable bool   `yaml:"human_readable,omitempty"`
}

// Storage selects and configures the persistence backend. Retention
// parameters are shared by all backend types; the type field decides which
// backend-specific block is decoded.
type Storage struct {
	Type string

	FilteredHours   int
	FilteredDays    int
	FilteredMonths  int
	CleanupInterval int
	DaysToKeep      int

	FS    *FSStorage
	MinIO *MinIOStorage
}

// FSStorage configures the filesystem backend.
type FSStorage struct {
	OutputPath string `yaml:"output_path" validate:"required"`
}

// MinIOStorage configures the object storage backend.
type MinIOStorage struct {
	URL       string `yaml:"url" validate:"required"`
	AccessKey string `yaml:"access_key" validate:"required"`
	SecretKey string `yaml:"secret_key" validate:"required"`
	Bucket    string `yaml:"bucket" validate:"required"`
	Path      string `yaml:"path,omitempty"`
	Secure    bool   `yaml:"secure,omitempty"`
}

// Default retention applied when the configuration leaves a knob unset.
const (
	defaultFilteredHours   = 24
	defaultFilteredDays    = 30
	defaultFilteredMonths  = 12
	defaultCleanupInterval = 7
	defaultDaysToKeep      = 30
)

// UnmarshalYAML decodes the shared fields, applies retention defaults and
// dispatches on the backend type to populate the matching block.
func (s *Storage) UnmarshalYAML(value *yaml.Node) error {
	type baseStorage struct {
		Type            string `yaml:"type"`
		FilteredHours   int    `yaml:"filtered_hours"`
		FilteredDays    int    `yaml:"filtered_days"`
		FilteredMonths  int    `yaml:"filtered_months"`
		CleanupInterval int    `yaml:"cleanup_interval"`
		DaysToKeep      int    `yaml:"days_to_keep"`
	}

	var base baseStorage
	if err := value.Decode(&base); err != nil {
		return err
	}

	s.Type = base.Type
	s.FilteredHours = orDefault(base.FilteredHours, defaultFilteredHours)
	s.FilteredDays = orDefault(base.FilteredDays, defaultFilteredDays)
	s.FilteredMonths = orDefault(base.FilteredMonths, defaultFilteredMonths)
	s.CleanupInterval = orDefault(base.CleanupInterval, defaultCleanupInterval)
	s.DaysToKeep = orDefault(base.DaysToKeep, defaultDaysToKeep)

	s.FS = nil
	s.MinIO = nil

	switch base.Type {
	case "fs":
		var fs FSStorage
		if err := value.Decode(&fs); err != nil {
			return err
		}
		s.FS = &fs
	case "minio":
		var m MinIOStorage
		if err := value.Decode(&m); err != nil {
			return err
		}
		s.MinIO = &m
	case "":
		return fmt.Errorf("storage type is required")
	default:
		return fmt.Errorf("unknown storage type %q", base.Type)
	}

	return nil
}

func orDefault(value, fallback int) int {
	if value <= 0 {
		return fallback
	}
	return value
}

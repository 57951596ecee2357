package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/xroad-catalogue/collector/internal/xroad"
	apperrors "github.com/xroad-catalogue/collector/pkg/errors"
)

var (
	validatorOnce sync.Once
	validateInst  *validator.Validate
)

func validatorInstance() *validator.Validate {
	validatorOnce.Do(func() {
		validateInst = validator.New()
	})
	return validateInst
}

// ValidateConfig performs schema and cross-field validation on the
// configuration.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return apperrors.NewValidationError("config", "configuration is nil", nil)
	}

	v := validatorInstance()
	if err := v.Struct(cfg); err != nil {
		return convertValidationError(err)
	}

	if cfg.Storage.FS == nil && cfg.Storage.MinIO == nil {
		return apperrors.NewValidationError("storage", "storage backend is not configured", nil)
	}

	for i, rule := range cfg.WSDLReplaces {
		if _, err := regexp.Compile(rule.Pattern); err != nil {
			return apperrors.NewValidationError(
				fmt.Sprintf("wsdl_replaces[%d]", i),
				fmt.Sprintf("invalid pattern %q", rule.Pattern), err)
		}
	}

	for i, excluded := range cfg.ExcludedMembers {
		if len(xroad.IdentifierParts(excluded.ID)) != 3 {
			return apperrors.NewValidationError(
				fmt.Sprintf("excluded_members[%d]", i),
				fmt.Sprintf("member identifier must have 3 parts: %q", excluded.ID), nil)
		}
	}
	for i, excluded := range cfg.ExcludedSubsystems {
		if len(xroad.IdentifierParts(excluded.ID)) != 4 {
			return apperrors.NewValidationError(
				fmt.Sprintf("excluded_subsystems[%d]", i),
				fmt.Sprintf("subsystem identifier must have 4 parts: %q", excluded.ID), nil)
		}
	}

	if (cfg.ClientCert == "") != (cfg.ClientKey == "") {
		return apperrors.NewValidationError(
			"client_cert", "client_cert and client_key must be set together", nil)
	}

	return nil
}

func convertValidationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return apperrors.NewValidationError("config", "validation failed", err)
	}

	first := errs[0]
	field := strings.TrimPrefix(first.Namespace(), "Config.")
	return apperrors.NewValidationError(
		field,
		fmt.Sprintf("failed %q validation", first.Tag()), err)
}

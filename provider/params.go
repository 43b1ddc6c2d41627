package provider

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/casualjim/chatwire/pkg/chaterr"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Params are the sampling parameters of a generation.
type Params struct {
	Temperature float64 `json:"temperature" toml:"temperature" validate:"gte=0,lte=2"`
	// MaxTokens caps the reply length; zero leaves it to the server.
	MaxTokens int `json:"max_tokens,omitempty" toml:"max_tokens" validate:"gte=0"`
	// DisableStreaming requests the whole reply in one response.
	DisableStreaming bool `json:"disable_streaming,omitempty" toml:"disable_streaming"`
}

// DefaultParams returns the parameters used when none are configured.
func DefaultParams() Params {
	return Params{Temperature: 0.7}
}

// Validate reports parameters outside their allowed range as a validation error.
func (p Params) Validate() error {
	if math.IsNaN(p.Temperature) {
		return chaterr.Validation("validate params", "Temperature must be a number")
	}
	return structError("validate params", validate.Struct(p))
}

// Target names the provider and model a generation is sent to.
type Target struct {
	ProviderID string `json:"provider_id" validate:"required"`
	ModelID    string `json:"model_id" validate:"required"`
}

func (t Target) String() string {
	return t.ProviderID + "/" + t.ModelID
}

// IsZero reports whether no provider or model is set.
func (t Target) IsZero() bool {
	return t.ProviderID == "" && t.ModelID == ""
}

// ParseTarget parses "provider/model". Model ids may contain slashes, only the
// first one separates the provider.
func ParseTarget(s string) (Target, error) {
	providerID, modelID, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || providerID == "" || modelID == "" {
		return Target{}, chaterr.Configuration("parse target", "expected provider/model, got %q", s)
	}
	return Target{ProviderID: providerID, ModelID: modelID}, nil
}

// structError converts validator output into a single validation error with
// one line per failing field.
func structError(op string, err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return chaterr.Validation(op, "%w", err)
	}
	errs := make([]error, 0, len(verrs))
	for _, fe := range verrs {
		errs = append(errs, errors.New(describe(fe)))
	}
	return chaterr.Validation(op, "%w", errors.Join(errs...))
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "gte":
		return fmt.Sprintf("%s must be at least %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "lte":
		return fmt.Sprintf("%s must be at most %s, got %v", fe.Field(), fe.Param(), fe.Value())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %v", fe.Field(), fe.Param(), fe.Value())
	case "url", "http_url":
		return fmt.Sprintf("%s must be a URL, got %q", fe.Field(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}

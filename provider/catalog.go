package provider

import (
	"slices"
	"strings"

	"github.com/alphadose/haxmap"
)

// LocalID is the provider id of the local runtime.
const LocalID = "local"

// Auth describes where a provider expects its API key. An empty Header means
// the provider takes no credential.
type Auth struct {
	Header string `json:"header,omitempty" toml:"header"`
	// Scheme prefixes the key, e.g. "Bearer". Empty sends the bare key.
	Scheme string `json:"scheme,omitempty" toml:"scheme"`
}

// Required reports whether requests need a credential.
func (a Auth) Required() bool {
	return a.Header != ""
}

// Value renders the header value for key.
func (a Auth) Value(key string) string {
	if a.Scheme == "" {
		return key
	}
	return a.Scheme + " " + key
}

// BearerAuth is the default placement for remote providers.
var BearerAuth = Auth{Header: "Authorization", Scheme: "Bearer"}

// ProviderConfig describes one model provider.
type ProviderConfig struct {
	ID      string `json:"id" toml:"id" validate:"required"`
	Dialect string `json:"dialect" toml:"dialect" validate:"oneof=local compatible"`
	BaseURL string `json:"base_url" toml:"base_url" validate:"required,url"`
	Auth    Auth   `json:"auth" toml:"auth"`
	// APIKeyEnv names the environment variable holding the key.
	APIKeyEnv string `json:"api_key_env,omitempty" toml:"api_key_env"`
	// Models restricts the accepted model ids. Empty accepts any model.
	Models []string `json:"models,omitempty" toml:"models"`
}

// Validate checks the record's required fields.
func (c ProviderConfig) Validate() error {
	return structError("validate provider "+c.ID, validate.Struct(c))
}

// Remote reports whether the provider is reached over the network with a credential.
func (c ProviderConfig) Remote() bool {
	return c.ID != LocalID && c.Auth.Required()
}

// Lists reports whether modelID is accepted by the provider.
func (c ProviderConfig) Lists(modelID string) bool {
	return len(c.Models) == 0 || slices.Contains(c.Models, modelID)
}

// Endpoint joins the base URL with the dialect path.
func (c ProviderConfig) Endpoint(d Dialect) string {
	return strings.TrimRight(c.BaseURL, "/") + d.ChatPath()
}

// Catalog is a concurrent registry of providers keyed by id.
type Catalog struct {
	values *haxmap.Map[string, ProviderConfig]
}

// NewCatalog creates a catalog holding configs.
func NewCatalog(configs ...ProviderConfig) *Catalog {
	c := &Catalog{values: haxmap.New[string, ProviderConfig]()}
	for _, cfg := range configs {
		c.Add(cfg)
	}
	return c
}

// DefaultCatalog returns the built-in providers.
func DefaultCatalog() *Catalog {
	return NewCatalog(
		ProviderConfig{ID: LocalID, Dialect: DialectLocal, BaseURL: "http://localhost:11434"},
		ProviderConfig{ID: "openai", Dialect: DialectCompatible, BaseURL: "https://api.openai.com/v1", Auth: BearerAuth, APIKeyEnv: "OPENAI_API_KEY"},
		ProviderConfig{ID: "anthropic", Dialect: DialectCompatible, BaseURL: "https://api.anthropic.com/v1", Auth: Auth{Header: "x-api-key"}, APIKeyEnv: "ANTHROPIC_API_KEY"},
		ProviderConfig{ID: "azure-openai", Dialect: DialectCompatible, BaseURL: "https://example.openai.azure.com/openai/v1", Auth: Auth{Header: "api-key"}, APIKeyEnv: "AZURE_OPENAI_API_KEY"},
		ProviderConfig{ID: "gemini", Dialect: DialectCompatible, BaseURL: "https://generativelanguage.googleapis.com/v1beta/openai", Auth: Auth{Header: "x-goog-api-key"}, APIKeyEnv: "GEMINI_API_KEY"},
		ProviderConfig{ID: "groq", Dialect: DialectCompatible, BaseURL: "https://api.groq.com/openai/v1", Auth: BearerAuth, APIKeyEnv: "GROQ_API_KEY"},
		ProviderConfig{ID: "mistral", Dialect: DialectCompatible, BaseURL: "https://api.mistral.ai/v1", Auth: BearerAuth, APIKeyEnv: "MISTRAL_API_KEY"},
		ProviderConfig{ID: "openrouter", Dialect: DialectCompatible, BaseURL: "https://openrouter.ai/api/v1", Auth: BearerAuth, APIKeyEnv: "OPENROUTER_API_KEY"},
	)
}

// Get returns the provider registered under id.
func (c *Catalog) Get(id string) (ProviderConfig, bool) {
	return c.values.Get(id)
}

// Add registers cfg, replacing any provider with the same id.
func (c *Catalog) Add(cfg ProviderConfig) {
	cfg.Models = slices.Clone(cfg.Models)
	c.values.Set(cfg.ID, cfg)
}

// Merge overlays cfg onto the provider with the same id. Empty fields keep
// their current value, so a config file can override just a base URL.
func (c *Catalog) Merge(cfg ProviderConfig) ProviderConfig {
	current, ok := c.values.Get(cfg.ID)
	if !ok {
		c.Add(cfg)
		return cfg
	}
	if cfg.Dialect != "" {
		current.Dialect = cfg.Dialect
	}
	if cfg.BaseURL != "" {
		current.BaseURL = cfg.BaseURL
	}
	if cfg.Auth.Header != "" {
		current.Auth = cfg.Auth
	}
	if cfg.APIKeyEnv != "" {
		current.APIKeyEnv = cfg.APIKeyEnv
	}
	if len(cfg.Models) > 0 {
		current.Models = cfg.Models
	}
	c.Add(current)
	return current
}

// Del removes the provider registered under id.
func (c *Catalog) Del(id string) {
	c.values.Del(id)
}

// All returns every provider ordered by id.
func (c *Catalog) All() []ProviderConfig {
	out := make([]ProviderConfig, 0, c.values.Len())
	c.values.ForEach(func(_ string, cfg ProviderConfig) bool {
		out = append(out, cfg)
		return true
	})
	slices.SortFunc(out, func(a, b ProviderConfig) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

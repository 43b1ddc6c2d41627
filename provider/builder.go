package provider

import (
	"net/http"

	"github.com/casualjim/chatwire/messages"
	"github.com/casualjim/chatwire/pkg/chaterr"
	"github.com/casualjim/chatwire/stream"
	"github.com/fogfish/opts"
)

// Request is a fully encoded chat request, ready for a transport.
type Request struct {
	ProviderID string
	ModelID    string
	Method     string
	URL        string
	Header     http.Header
	Body       []byte
	// Stream is false when the whole reply arrives in one response.
	Stream bool
	Format stream.Format
}

// Target returns the provider and model the request is addressed to.
func (r *Request) Target() Target {
	return Target{ProviderID: r.ProviderID, ModelID: r.ModelID}
}

// Resolved is a target checked against the catalog.
type Resolved struct {
	Config  ProviderConfig
	Dialect Dialect
	APIKey  string
}

// Builder encodes requests for the providers in a catalog.
type Builder struct {
	catalog     *Catalog
	credentials Credentials
}

// WithCredentials sets where API keys come from. Defaults to EnvCredentials.
var WithCredentials = opts.ForName[Builder, Credentials]("credentials")

// NewBuilder creates a builder for catalog.
func NewBuilder(catalog *Catalog, options ...opts.Option[Builder]) *Builder {
	b := &Builder{
		catalog:     catalog,
		credentials: EnvCredentials{},
	}
	if err := opts.Apply(b, options); err != nil {
		panic(err)
	}
	return b
}

// Catalog returns the catalog the builder resolves against.
func (b *Builder) Catalog() *Catalog {
	return b.catalog
}

// Resolve checks that target names a known provider, a model that provider
// accepts and, for remote providers, that a credential is present.
func (b *Builder) Resolve(target Target) (Resolved, error) {
	if target.ProviderID == "" {
		return Resolved{}, chaterr.Configuration("resolve", "no provider selected")
	}
	if target.ModelID == "" {
		return Resolved{}, chaterr.Configuration("resolve", "no model selected for provider %q", target.ProviderID)
	}

	cfg, ok := b.catalog.Get(target.ProviderID)
	if !ok {
		return Resolved{}, chaterr.Configuration("resolve", "unknown provider %q", target.ProviderID)
	}
	if !cfg.Lists(target.ModelID) {
		return Resolved{}, chaterr.Configuration("resolve", "model %q is not offered by provider %q", target.ModelID, target.ProviderID)
	}
	dialect, err := DialectFor(cfg.Dialect)
	if err != nil {
		return Resolved{}, err
	}

	res := Resolved{Config: cfg, Dialect: dialect}
	if cfg.Auth.Required() {
		key, ok := b.credentials.APIKey(cfg)
		if !ok {
			return Resolved{}, chaterr.Configuration("resolve", "no API key for provider %q (set %s)", cfg.ID, cfg.APIKeyEnv)
		}
		res.APIKey = key
	}
	return res, nil
}

// Build validates params, resolves target and encodes history into a request.
func (b *Builder) Build(history []messages.Message, target Target, params Params) (*Request, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	res, err := b.Resolve(target)
	if err != nil {
		return nil, err
	}

	streaming := !params.DisableStreaming
	body, err := res.Dialect.Encode(target.ModelID, history, params, streaming)
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if streaming {
		header.Set("Accept", acceptFor(res.Dialect.StreamFormat()))
	} else {
		header.Set("Accept", "application/json")
	}
	if res.APIKey != "" {
		header.Set(res.Config.Auth.Header, res.Config.Auth.Value(res.APIKey))
	}

	return &Request{
		ProviderID: target.ProviderID,
		ModelID:    target.ModelID,
		Method:     http.MethodPost,
		URL:        res.Config.Endpoint(res.Dialect),
		Header:     header,
		Body:       body,
		Stream:     streaming,
		Format:     res.Dialect.StreamFormat(),
	}, nil
}

func acceptFor(f stream.Format) string {
	if f == stream.SSE {
		return "text/event-stream"
	}
	return "application/x-ndjson"
}

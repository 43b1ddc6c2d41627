package provider

import (
	"context"
	"log/slog"
	"slices"
	"strings"

	"github.com/casualjim/chatwire/pkg/slogx"
	"github.com/fogfish/opts"
)

// Availability decides whether a provider/model pair can be used. A false
// answer is terminal for the send that asked.
type Availability interface {
	IsAvailable(ctx context.Context, providerID, modelID string) bool
}

// AvailabilityFunc adapts a function to Availability.
type AvailabilityFunc func(ctx context.Context, providerID, modelID string) bool

func (f AvailabilityFunc) IsAvailable(ctx context.Context, providerID, modelID string) bool {
	return f(ctx, providerID, modelID)
}

// Always reports every target as available.
var Always = AvailabilityFunc(func(context.Context, string, string) bool { return true })

// ModelLister lists the models installed on a local runtime.
type ModelLister interface {
	ListModels(ctx context.Context, baseURL string) ([]string, error)
}

// CatalogResolver answers availability from the catalog: remote providers
// need a credential and a listed model, the local runtime is asked for its
// installed models.
type CatalogResolver struct {
	catalog     *Catalog
	credentials Credentials
	lister      ModelLister
}

var (
	// WithResolverCredentials sets where API keys come from. Defaults to EnvCredentials.
	WithResolverCredentials = opts.ForName[CatalogResolver, Credentials]("credentials")
	// WithModelLister sets how installed local models are discovered.
	WithModelLister = opts.ForName[CatalogResolver, ModelLister]("lister")
)

// NewCatalogResolver creates a resolver over catalog.
func NewCatalogResolver(catalog *Catalog, options ...opts.Option[CatalogResolver]) *CatalogResolver {
	r := &CatalogResolver{
		catalog:     catalog,
		credentials: EnvCredentials{},
	}
	if err := opts.Apply(r, options); err != nil {
		panic(err)
	}
	return r
}

func (r *CatalogResolver) IsAvailable(ctx context.Context, providerID, modelID string) bool {
	cfg, ok := r.catalog.Get(providerID)
	if !ok || modelID == "" || !cfg.Lists(modelID) {
		return false
	}
	if cfg.Auth.Required() {
		if _, ok := r.credentials.APIKey(cfg); !ok {
			return false
		}
	}
	if cfg.Dialect != DialectLocal || r.lister == nil {
		return true
	}

	installed, err := r.lister.ListModels(ctx, cfg.BaseURL)
	if err != nil {
		slog.WarnContext(ctx, "failed to list local models", slogx.Target(providerID, modelID), slogx.Error(err))
		return false
	}
	return slices.ContainsFunc(installed, func(name string) bool {
		return sameModel(name, modelID)
	})
}

// sameModel treats an untagged name as the :latest tag.
func sameModel(installed, wanted string) bool {
	if installed == wanted {
		return true
	}
	return strings.TrimSuffix(installed, ":latest") == strings.TrimSuffix(wanted, ":latest")
}

// Package provider turns a conversation history and a target model into a
// ready-to-send HTTP request, and answers whether a target can be used at all.
//
// Design decisions:
//   - Closed dialects: the two wire protocols (Local and Compatible) are the only
//     implementations of Dialect, so request encoding never switches on provider ids
//   - Data, not code: providers are ProviderConfig records in a Catalog. Adding a
//     provider, or moving its API key to another header, is a config change
//   - Fail before dispatch: unknown providers, unlisted models, missing credentials
//     and out of range parameters are reported by Resolve and Params.Validate so
//     callers can reject a send before touching any state
//
// Key concepts:
//   - Dialect: request body encoding, endpoint path and stream framing of a protocol
//   - ProviderConfig: endpoint, dialect, auth header placement and model list
//   - Builder: resolves a Target against the Catalog and encodes a Request
//   - Availability: decides whether a provider/model pair may be used right now
//
// Example usage:
//
//	builder := provider.NewBuilder(provider.DefaultCatalog())
//	req, err := builder.Build(history, provider.Target{ProviderID: "local", ModelID: "llama3.2"}, provider.DefaultParams())
//	if err != nil {
//	    return err
//	}
//	body, err := transport.NewHTTP().Do(ctx, req)
package provider

package natsx

import (
	"cmp"
	"os"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is the topic chat events are published on.
const DefaultSubject = "chatwire.events"

// NewClient connects to the NATS server at url, falling back to the NATS_URL
// environment variable and then to nats.DefaultURL. Without options the
// connection is named "chatwire" and uses compression.
func NewClient(url string, opts ...nats.Option) (*nats.Conn, error) {
	if len(opts) == 0 {
		opts = append(opts, nats.Name("chatwire"), nats.Compression(true))
	}
	return nats.Connect(ResolveURL(url), opts...)
}

// ResolveURL picks the server URL the same way NewClient does.
func ResolveURL(url string) string {
	return cmp.Or(url, os.Getenv("NATS_URL"), nats.DefaultURL)
}

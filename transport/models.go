package transport

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/casualjim/chatwire/pkg/chaterr"
	"github.com/tidwall/gjson"
)

// OllamaModels lists installed models through the local runtime's /api/tags
// endpoint. It satisfies provider.ModelLister.
type OllamaModels struct {
	Client *http.Client
}

// NewOllamaModels creates a lister with a short request timeout.
func NewOllamaModels() *OllamaModels {
	return &OllamaModels{Client: &http.Client{Timeout: 5 * time.Second}}
}

func (o *OllamaModels) ListModels(ctx context.Context, baseURL string) ([]string, error) {
	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/api/tags", nil)
	if err != nil {
		return nil, chaterr.Transport("list models", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, chaterr.Transport("list models", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, chaterr.Transport("list models", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, chaterr.Transport("list models", &StatusError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Message:    errorMessage(body),
		})
	}
	if !gjson.ValidBytes(body) {
		return nil, chaterr.Decode("list models", errors.New("response is not valid JSON"))
	}

	var names []string
	gjson.GetBytes(body, "models.#.name").ForEach(func(_, name gjson.Result) bool {
		if n := name.String(); n != "" {
			names = append(names, n)
		}
		return true
	})
	return names, nil
}

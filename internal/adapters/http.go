package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/value"
	"github.com/riskguard/decisionengine/internal/vm"
)

// httpAdapter services CallApi: a single JSON request/response round trip against an
// ApiDef's base_url joined with the step's endpoint. Retry/timeout/fallback is the
// VM's concern (invokeWithPolicy); this adapter makes one attempt per invocation.
type httpAdapter struct {
	client *http.Client
	def    *artifact.ApiDef
}

func newHTTPAdapter(client *http.Client, def *artifact.ApiDef) *httpAdapter {
	return &httpAdapter{client: client, def: def}
}

func (a *httpAdapter) Invoke(ctx context.Context, req vm.AdapterRequest) (value.Value, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	body, err := json.Marshal(req.Event.ToGo())
	if err != nil {
		return value.Null(), fmt.Errorf("api %q: marshal request: %w", a.def.ID, err)
	}

	url := a.def.BaseURL + req.Endpoint
	httpReq, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return value.Null(), fmt.Errorf("api %q: build request: %w", a.def.ID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	applyAuth(httpReq, a.def.Auth)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return value.Null(), fmt.Errorf("api %q: %w", a.def.ID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return value.Null(), fmt.Errorf("api %q: read response: %w", a.def.ID, err)
	}
	if resp.StatusCode >= 300 {
		return value.Null(), fmt.Errorf("api %q: status %d: %s", a.def.ID, resp.StatusCode, string(data))
	}

	var decoded any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			return value.String(string(data)), nil
		}
	}
	return value.FromGo(decoded), nil
}

func applyAuth(req *http.Request, auth map[string]any) {
	if auth == nil {
		return
	}
	if token, ok := auth["bearer_token"].(string); ok && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if key, ok := auth["api_key"].(string); ok && key != "" {
		header := "X-API-Key"
		if h, ok := auth["header"].(string); ok && h != "" {
			header = h
		}
		req.Header.Set(header, key)
	}
}

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

// serviceAdapter services CallService. ServiceDef.Target is an internal microservice
// address; unlike CallApi there is no per-step endpoint, only a method name, so the
// request is POSTed to target/<method>. A production deployment might instead dial a
// gRPC target and invoke Method via reflection; this engine's ServiceDef doesn't carry
// a proto descriptor, so the HTTP-by-convention shape is what the artifact model
// actually supports today.
type serviceAdapter struct {
	client *http.Client
	def    *artifact.ServiceDef
}

func newServiceAdapter(client *http.Client, def *artifact.ServiceDef) *serviceAdapter {
	return &serviceAdapter{client: client, def: def}
}

func (a *serviceAdapter) Invoke(ctx context.Context, req vm.AdapterRequest) (value.Value, error) {
	body, err := json.Marshal(req.Event.ToGo())
	if err != nil {
		return value.Null(), fmt.Errorf("service %q: marshal request: %w", a.def.ID, err)
	}

	url := a.def.Target + "/" + req.Method
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return value.Null(), fmt.Errorf("service %q: build request: %w", a.def.ID, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return value.Null(), fmt.Errorf("service %q: %w", a.def.ID, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return value.Null(), fmt.Errorf("service %q: read response: %w", a.def.ID, err)
	}
	if resp.StatusCode >= 300 {
		return value.Null(), fmt.Errorf("service %q: status %d: %s", a.def.ID, resp.StatusCode, string(data))
	}

	var decoded any
	if len(data) > 0 {
		if err := json.Unmarshal(data, &decoded); err != nil {
			return value.String(string(data)), nil
		}
	}
	return value.FromGo(decoded), nil
}

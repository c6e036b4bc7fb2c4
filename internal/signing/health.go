package signing

import (
	"context"
	"net/http"

	"github.com/crawlkit/signbridge/internal/gateway"
	"github.com/crawlkit/signbridge/internal/platform"
)

// HealthStatus is the reachability of one platform.
type HealthStatus struct {
	Platform platform.Platform `json:"platform"`
	URL      string            `json:"url"`
	Status   int               `json:"status,omitempty"`
	Healthy  bool              `json:"healthy"`
	Error    string            `json:"error,omitempty"`
}

// Health checks every registered platform's home page through the gateway,
// concurrently. Without a gateway every platform is reported unhealthy.
func (o *Orchestrator) Health(ctx context.Context) []HealthStatus {
	platforms := o.registry.Platforms()
	statuses := make([]HealthStatus, len(platforms))
	requests := make([]gateway.Request, len(platforms))

	for i, p := range platforms {
		adapter, _ := o.registry.Lookup(p)
		statuses[i] = HealthStatus{Platform: p, URL: adapter.Home()}
		requests[i] = gateway.Request{Method: http.MethodGet, URL: adapter.Home()}
	}

	if o.http == nil {
		for i := range statuses {
			statuses[i].Error = "no gateway configured"
		}
		return statuses
	}

	for i, res := range o.http.Fanout(ctx, requests) {
		if res.Response != nil {
			statuses[i].Status = res.Response.StatusCode
		}
		if res.Err != nil {
			statuses[i].Error = res.Err.Error()
			continue
		}
		statuses[i].Healthy = true
	}

	return statuses
}

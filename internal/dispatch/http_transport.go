package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"convertd/internal/httpx"
	"convertd/internal/services"
)

// HTTPTransport posts triggers to a remote worker's WorkerHandler.
type HTTPTransport struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPTransport targets endpoint (scheme://host[:port]). timeout bounds
// each send.
func NewHTTPTransport(endpoint, token string, timeout time.Duration) (*HTTPTransport, error) {
	endpoint = strings.TrimRight(strings.TrimSpace(endpoint), "/")
	parsed, err := url.Parse(endpoint)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("worker endpoint %q must be an absolute URL", endpoint)
	}
	return &HTTPTransport{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Send implements Transport.
func (t *HTTPTransport) Send(ctx context.Context, req TriggerRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}
	target := t.endpoint + "/internal/executions/" + url.PathEscape(req.ExecutionID) + "/run"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build trigger request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpx.SetBearer(httpReq, t.token)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return services.Wrap(services.ErrTimeout, "dispatch", "send trigger", "worker did not answer in time", err)
		}
		return services.Wrap(services.ErrTransientDispatch, "dispatch", "send trigger", "worker unreachable", err)
	}
	defer resp.Body.Close()
	detail := readDetail(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return services.Wrap(services.ErrNotFound, "dispatch", "send trigger", "worker does not know the execution", errors.New(detail))
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return services.Wrap(services.ErrConfiguration, "dispatch", "send trigger", "worker rejected the token", errors.New(detail))
	case resp.StatusCode == http.StatusTooManyRequests:
		return services.Wrap(services.ErrTransientDispatch, "dispatch", "send trigger", "worker returned 429", fmt.Errorf("%w: %s", ErrBusy, detail))
	case resp.StatusCode >= 500:
		return services.Wrap(services.ErrTransientDispatch, "dispatch", "send trigger", fmt.Sprintf("worker returned %d", resp.StatusCode), errors.New(detail))
	default:
		return services.Wrap(services.ErrValidation, "dispatch", "send trigger", fmt.Sprintf("worker returned %d", resp.StatusCode), errors.New(detail))
	}
}

// Ping checks the worker health endpoint.
func (t *HTTPTransport) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint+"/internal/health", nil)
	if err != nil {
		return err
	}
	httpx.SetBearer(req, t.token)
	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("worker health returned %d", resp.StatusCode)
	}
	return nil
}

func readDetail(r io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(r, 4096))
	var body httpx.ErrorBody
	if json.Unmarshal(data, &body) == nil && body.Message != "" {
		return body.Message
	}
	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return "no response body"
}

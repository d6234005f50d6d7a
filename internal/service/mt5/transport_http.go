package mt5

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	pkghttp "FxPull/pkg/http"
)

// HTTPTransport posts each call to {baseURL}/{method}.
type HTTPTransport struct {
	baseURL string
	client  *pkghttp.Client
}

func NewHTTPTransport(baseURL string, timeout time.Duration) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  pkghttp.NewClient(pkghttp.WithTimeout(timeout)),
	}
}

func (t *HTTPTransport) Call(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	req := newRequest(method, params)
	var resp Response
	err := t.client.PostJSON(ctx, t.baseURL+"/"+method, req, &resp)
	if err != nil {
		// the bridge reports terminal errors with a non-2xx status and a
		// regular response body
		var se *pkghttp.StatusError
		if errors.As(err, &se) && json.Unmarshal(se.Body, &resp) == nil && resp.Error != nil {
			return nil, resp.Error
		}
		return nil, fmt.Errorf("mt5 http %s: %w", method, err)
	}
	return resp.unwrap()
}

func (t *HTTPTransport) Close() error { return nil }

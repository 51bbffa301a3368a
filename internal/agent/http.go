package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type HTTPDispatcher struct {
	BaseURL string
	Kind    Kind
	Client  *http.Client
}

func NewHTTPDispatcher(baseURL string, kind Kind, timeout time.Duration) *HTTPDispatcher {
	if baseURL == "" {
		baseURL = "http://localhost:3000"
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &HTTPDispatcher{
		BaseURL: baseURL,
		Kind:    kind,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (d *HTTPDispatcher) URL() string {
	return fmt.Sprintf("%s/api/chat/%s", strings.TrimRight(d.BaseURL, "/"), d.Kind)
}

func (d *HTTPDispatcher) Dispatch(ctx context.Context, r Request) (*Reply, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.URL(), bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Session-ID", r.SessionID)

	resp, err := d.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(body))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, msg)
	}

	var decoded Reply
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("%w: decode reply: %v", ErrTransport, err)
	}
	return &decoded, nil
}

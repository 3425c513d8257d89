package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPRepo is a Repo backed by a remote namespace server (see Server).
// The server's conditional PUT (If-None-Match: *) carries the same
// atomicity guarantee as the filesystem backend, so instances on different
// hosts can share one namespace.
type HTTPRepo struct {
	baseURL   string
	namespace string
	authToken string
	client    *http.Client
}

// NewHTTPRepo creates a client for the namespace at baseURL. An empty
// authToken sends no Authorization header.
func NewHTTPRepo(baseURL, namespace, authToken string) (*HTTPRepo, error) {
	if err := validateName(namespace); err != nil {
		return nil, fmt.Errorf("invalid namespace: %w", err)
	}
	return &HTTPRepo{
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		namespace: namespace,
		authToken: authToken,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Namespace returns the namespace this repo is scoped to.
func (r *HTTPRepo) Namespace() string {
	return r.namespace
}

func (r *HTTPRepo) namespaceURL() string {
	return r.baseURL + "/v1/namespaces/" + url.PathEscape(r.namespace)
}

func (r *HTTPRepo) recordURL(name string) string {
	return r.namespaceURL() + "/records/" + url.PathEscape(name)
}

// EnsureNamespace creates the namespace on the server if absent.
func (r *HTTPRepo) EnsureNamespace(ctx context.Context) error {
	resp, err := r.doRequest(ctx, http.MethodPut, r.namespaceURL(), nil, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return r.parseError(resp)
	}
	return nil
}

// ListRecordNames returns all record names in the namespace.
func (r *HTTPRepo) ListRecordNames(ctx context.Context) ([]string, error) {
	resp, err := r.doRequest(ctx, http.MethodGet, r.namespaceURL()+"/records", nil, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, r.parseError(resp)
	}

	var result ListRecordsResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return result.Names, nil
}

// CreateRecord writes a record. Without overwrite the request carries
// If-None-Match: * and a 412 from the server is the race signal.
func (r *HTTPRepo) CreateRecord(ctx context.Context, name string, content []byte, overwrite bool) (bool, error) {
	if err := validateName(name); err != nil {
		return false, err
	}

	headers := map[string]string{"Content-Type": "text/plain; charset=utf-8"}
	if !overwrite {
		headers["If-None-Match"] = "*"
	}

	resp, err := r.doRequest(ctx, http.MethodPut, r.recordURL(name), content, headers)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		return true, nil
	case http.StatusPreconditionFailed:
		if overwrite {
			// An unconditional write must not report a conflict.
			return false, r.parseError(resp)
		}
		return false, nil
	default:
		return false, r.parseError(resp)
	}
}

// ReadRecord fetches the content of a record from the server.
func (r *HTTPRepo) ReadRecord(ctx context.Context, name string) ([]byte, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}

	resp, err := r.doRequest(ctx, http.MethodGet, r.recordURL(name), nil, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return io.ReadAll(resp.Body)
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, name)
	default:
		return nil, r.parseError(resp)
	}
}

// DeleteRecord removes a record; includeDerived also removes its archived
// history on the server.
func (r *HTTPRepo) DeleteRecord(ctx context.Context, name string, includeDerived bool) error {
	if err := validateName(name); err != nil {
		return err
	}

	u := r.recordURL(name)
	if includeDerived {
		u += "?derived=1"
	}
	resp, err := r.doRequest(ctx, http.MethodDelete, u, nil, nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNoContent {
		return r.parseError(resp)
	}
	return nil
}

func (r *HTTPRepo) doRequest(ctx context.Context, method, u string, body []byte, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if r.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+r.authToken)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("store request: %w", err)
	}
	return resp, nil
}

func (r *HTTPRepo) parseError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Message != "" {
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: %s", ErrUnauthorized, errResp.Message)
		}
		return fmt.Errorf("%s: %s", errResp.Error, errResp.Message)
	}
	return fmt.Errorf("store request failed with status %d: %s", resp.StatusCode, string(body))
}

// Package testutil provides testing utilities for the hardware API client.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock API endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock of the hardware metadata API.
// Handlers are keyed by request URI (path plus raw query), so "/boards/?embed"
// and "/boards/?embed&page=2" are distinct endpoints.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	requests []string
	headers  http.Header
}

// NewMockAPI creates and starts a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uri := r.URL.RequestURI()

		mock.mu.Lock()
		mock.requests = append(mock.requests, uri)
		mock.headers = r.Header.Clone()
		handler, exists := mock.handlers[uri]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprintf(w, `{"message": "no mock for %s"}`, uri)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// SetHandler sets a custom handler for a request URI.
func (m *MockAPI) SetHandler(uri string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[uri] = handler
}

// SetResponse configures a fixed response for a request URI.
func (m *MockAPI) SetResponse(uri string, resp MockResponse) {
	m.SetHandler(uri, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			time.Sleep(resp.Delay)
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// SetJSON serves v encoded as JSON with status 200.
func (m *MockAPI) SetJSON(uri string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal mock body for %s: %v", uri, err))
	}
	m.SetResponse(uri, NewHALResponse(string(body)))
}

// SetPages serves pages as a linked collection: pages[0] at uris[0] links
// to uris[1] and so on; the last page has no next link.
func (m *MockAPI) SetPages(uris []string, pages [][]any) {
	if len(uris) != len(pages) {
		panic("testutil: SetPages needs one uri per page")
	}

	for i := range pages {
		next := ""
		if i+1 < len(uris) {
			next = uris[i+1]
		}
		m.SetJSON(uris[i], Page(pages[i], next))
	}
}

// Requests returns the request URIs received, in arrival order.
func (m *MockAPI) Requests() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.requests))
	copy(out, m.requests)
	return out
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockAPI) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockAPI) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.headers
}

// Page builds a HAL collection page. An empty next omits the next link.
func Page(items []any, next string) map[string]any {
	linksSection := map[string]any{}
	if next != "" {
		linksSection["next"] = map[string]string{"href": next}
	}

	page := map[string]any{"_links": linksSection}
	if items != nil {
		page["_embedded"] = map[string]any{"item": items}
	}
	return page
}

// Board builds a board item. detectCode nil omits the key; devices are
// rendered as a device link array.
func Board(title string, detectCode any, self string, devices ...string) map[string]any {
	deviceLinks := make([]map[string]string, 0, len(devices))
	for _, d := range devices {
		deviceLinks = append(deviceLinks, map[string]string{"href": d})
	}

	board := map[string]any{
		"title": title,
		"_links": map[string]any{
			"self":   map[string]string{"href": self},
			"device": deviceLinks,
		},
	}
	if detectCode != nil {
		board["detect_code"] = detectCode
	}
	return board
}

// Device builds a device resource.
func Device(title, sourcePackID, self string) map[string]any {
	return map[string]any{
		"title":          title,
		"source_pack_id": sourcePackID,
		"_links": map[string]any{
			"self": map[string]string{"href": self},
		},
	}
}

// NewHALResponse creates a standard 200 OK response.
func NewHALResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
		Headers: map[string]string{
			"Content-Type": "application/hal+json",
		},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"message": "Not Found"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"message": "Internal server error"}`,
		Headers: map[string]string{
			"Content-Type": "application/json",
		},
	}
}

// NewRedirectResponse creates a 302 response; the client must not treat it as success.
func NewRedirectResponse(location string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusFound,
		Headers: map[string]string{
			"Location": location,
		},
	}
}

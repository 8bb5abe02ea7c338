// Package testutil provides testing utilities for the KRA client.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// Canned identifiers the default handlers recognise as valid.
const (
	ValidPIN        = "P051234567A"
	ValidTCC        = "TCC123456"
	ValidEslip      = "ESLIP123456789"
	TestAPIKey      = "test-api-key"
	TestTaxpayer    = "Test Company Ltd"
	TestObligation  = "OBL123456"
	TestPeriod      = "202401"
	SubmissionRef   = "NIL-2024-000123"
	AcknowledgeCode = "ACK-000123"
)

// MockResponse defines the behavior for a mock KRA endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// RecordedRequest is a request seen by the mock server.
type RecordedRequest struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// MockKRA is a configurable mock KRA GavaConnect server for testing.
type MockKRA struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc
	requests []RecordedRequest
	apiKey   string
}

// NewMockKRA starts a mock server that authenticates with TestAPIKey.
func NewMockKRA() *MockKRA {
	mock := &MockKRA{
		handlers: make(map[string]http.HandlerFunc),
		apiKey:   TestAPIKey,
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()

		mock.mu.Lock()
		mock.requests = append(mock.requests, RecordedRequest{
			Method: r.Method,
			Path:   r.URL.Path,
			Header: r.Header.Clone(),
			Body:   body,
		})
		handler, exists := mock.handlers[r.URL.Path]
		apiKey := mock.apiKey
		mock.mu.Unlock()

		r.Body = io.NopCloser(bytes.NewReader(body))

		if exists {
			handler(w, r)
			return
		}

		if r.Header.Get("Authorization") != "Bearer "+apiKey {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "invalid API key"})
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockKRA) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockKRA) Close() {
	m.server.Close()
}

// Reset clears recorded requests and custom handlers.
func (m *MockKRA) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = nil
	m.handlers = make(map[string]http.HandlerFunc)
}

// SetAPIKey changes the key the default handlers accept.
func (m *MockKRA) SetAPIKey(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.apiKey = key
}

// SetHandler sets a custom handler for a specific path.
func (m *MockKRA) SetHandler(path string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a fixed response for a path.
func (m *MockKRA) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, resp.handler())
}

// SetSequence answers successive requests to path with resps in order,
// repeating the last one once exhausted.
func (m *MockKRA) SetSequence(path string, resps ...MockResponse) {
	var (
		mu   sync.Mutex
		next int
	)
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := resps[min(next, len(resps)-1)]
		next++
		mu.Unlock()

		resp.handler()(w, r)
	})
}

// RequestCount returns the number of requests made to the server.
func (m *MockKRA) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.requests)
}

// PathCount returns the number of requests made to path.
func (m *MockKRA) PathCount(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := 0
	for _, r := range m.requests {
		if r.Path == path {
			n++
		}
	}
	return n
}

// LastRequest returns the most recent request, if any.
func (m *MockKRA) LastRequest() (RecordedRequest, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.requests) == 0 {
		return RecordedRequest{}, false
	}
	return m.requests[len(m.requests)-1], true
}

func (resp MockResponse) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json; charset=utf-8")
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			_, _ = w.Write([]byte(resp.Body))
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// defaultHandler provides KRA-like responses for the known endpoints.
func (m *MockKRA) defaultHandler(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if r.Method == http.MethodPost {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"message": "malformed JSON body"})
			return
		}
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/verify-pin":
		writeJSON(w, http.StatusOK, PINVerificationBody(req["pin"]))

	case r.Method == http.MethodPost && r.URL.Path == "/verify-tcc":
		valid := req["tcc"] == ValidTCC
		body := map[string]any{"valid": valid}
		if valid {
			body["pin_number"] = ValidPIN
			body["taxpayer_name"] = TestTaxpayer
			body["issue_date"] = "2024-01-01"
			body["expiry_date"] = "2024-12-31"
			body["certificate_type"] = "General"
			body["status"] = "active"
		}
		writeJSON(w, http.StatusOK, body)

	case r.Method == http.MethodPost && r.URL.Path == "/validate-eslip":
		valid := req["slip_number"] == ValidEslip
		body := map[string]any{"valid": valid}
		if valid {
			body["pin_number"] = ValidPIN
			body["amount"] = 15000.50
			body["payment_date"] = "2024-01-20"
			body["payment_reference"] = "REF-778899"
			body["obligation_type"] = "VAT"
			body["tax_period"] = TestPeriod
			body["status"] = "paid"
		}
		writeJSON(w, http.StatusOK, body)

	case r.Method == http.MethodPost && r.URL.Path == "/file-nil-return":
		writeJSON(w, http.StatusOK, map[string]any{
			"success":                 true,
			"submission_reference":    SubmissionRef,
			"submission_date":         "2024-02-01T09:30:00Z",
			"acknowledgement_receipt": AcknowledgeCode,
		})

	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/taxpayer-details/"):
		pin := strings.TrimPrefix(r.URL.Path, "/taxpayer-details/")
		if pin != ValidPIN {
			writeJSON(w, http.StatusNotFound, map[string]any{"message": "taxpayer not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"pin_number":        pin,
			"taxpayer_name":     TestTaxpayer,
			"business_name":     "Test Company",
			"registration_date": "2015-03-10",
			"status":            "active",
			"business_type":     "Limited Company",
			"email":             "info@testcompany.co.ke",
			"phone_number":      "+254712345678",
			"compliance_status": "compliant",
			"tcc_status":        "valid",
			"tax_obligations": []map[string]any{
				{
					"obligation_id":   TestObligation,
					"obligation_type": "VAT",
					"description":     "Value Added Tax",
					"frequency":       "monthly",
					"status":          "compliant",
					"due_date":        "2024-02-20",
				},
			},
		})

	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"message": "endpoint not found"})
	}
}

// PINVerificationBody returns the payload the mock sends for a PIN lookup.
func PINVerificationBody(pin string) map[string]any {
	if pin != ValidPIN {
		return map[string]any{"valid": false}
	}
	return map[string]any{
		"valid":             true,
		"taxpayer_name":     TestTaxpayer,
		"status":            "active",
		"registration_date": "2015-03-10",
		"business_type":     "Limited Company",
		"postal_address":    "P.O. Box 12345-00100, Nairobi",
		"physical_address":  "Upper Hill, Nairobi",
		"email":             "info@testcompany.co.ke",
		"phone_number":      "+254712345678",
	}
}

// NewHealthyResponse creates a 200 OK JSON response.
func NewHealthyResponse(data string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       data,
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfter string) MockResponse {
	resp := MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"message": "Rate limit exceeded"}`,
	}
	if retryAfter != "" {
		resp.Headers = map[string]string{"Retry-After": retryAfter}
	}
	return resp
}

// NewServerErrorResponse creates a 503 Service Unavailable response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusServiceUnavailable,
		Body:       `{"message": "Service temporarily unavailable"}`,
	}
}

// NewUnauthorizedResponse creates a 401 Unauthorized response.
func NewUnauthorizedResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusUnauthorized,
		Body:       `{"message": "Invalid API key"}`,
	}
}

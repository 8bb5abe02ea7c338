package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/BerjisTech/kra-connect-go/pkg/apierror"
	"github.com/BerjisTech/kra-connect-go/pkg/client"
	"github.com/BerjisTech/kra-connect-go/pkg/metrics"
	"github.com/BerjisTech/kra-connect-go/pkg/ratelimit"
	"github.com/felixge/httpsnoop"
	"github.com/justinas/alice"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// kraService is the part of the KRA client the proxy exposes.
type kraService interface {
	VerifyPIN(ctx context.Context, pin string) (*client.PINVerification, error)
	VerifyTCC(ctx context.Context, tcc string) (*client.TCCVerification, error)
	GetTaxpayerDetails(ctx context.Context, pin string) (*client.TaxpayerDetails, error)
	ValidateEslip(ctx context.Context, slip string) (*client.EslipValidation, error)
	FileNilReturn(ctx context.Context, pin, period, obligationID string) (*client.NilReturn, error)
	VerifyPINsBatch(ctx context.Context, pins []string) ([]*client.PINVerification, error)
	Limiter() ratelimit.Limiter
}

var _ kraService = (*client.Client)(nil)

const requestLimitBytes = int64(20 << 10) // 20 KB

func configureRoutes(kra kraService) http.Handler {
	mux := http.NewServeMux()

	apiRoutes := alice.New(accessLog, maxRequestSize(requestLimitBytes), traced)
	standardRoutes := alice.New(maxRequestSize(requestLimitBytes))

	mux.Handle("GET /v1/pin/{pin}", apiRoutes.Then(handleLookup(func(r *http.Request) (any, error) {
		return kra.VerifyPIN(r.Context(), r.PathValue("pin"))
	})))
	mux.Handle("GET /v1/tcc/{tcc}", apiRoutes.Then(handleLookup(func(r *http.Request) (any, error) {
		return kra.VerifyTCC(r.Context(), r.PathValue("tcc"))
	})))
	mux.Handle("GET /v1/taxpayer/{pin}", apiRoutes.Then(handleLookup(func(r *http.Request) (any, error) {
		return kra.GetTaxpayerDetails(r.Context(), r.PathValue("pin"))
	})))
	mux.Handle("POST /v1/eslip", apiRoutes.Then(handlePostEslip(kra)))
	mux.Handle("POST /v1/nil-return", apiRoutes.Then(handlePostNilReturn(kra)))
	mux.Handle("POST /v1/pins", apiRoutes.Then(handlePostPINs(kra)))

	// health and metrics are not included in access logs or tracing
	mux.Handle("GET /health", standardRoutes.Then(handleHealthCheck(kra.Limiter())))
	mux.Handle("GET /metrics", metrics.Handler())

	return mux
}

func handleLookup(lookup func(r *http.Request) (any, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result, err := lookup(r)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}

type eslipRequest struct {
	SlipNumber string `json:"slip_number"`
}

func handlePostEslip(kra kraService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req eslipRequest
		if !readJSON(w, r, &req) {
			return
		}

		result, err := kra.ValidateEslip(r.Context(), req.SlipNumber)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}

type nilReturnRequest struct {
	PIN          string `json:"pin"`
	Period       string `json:"period"`
	ObligationID string `json:"obligation_id"`
}

func handlePostNilReturn(kra kraService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req nilReturnRequest
		if !readJSON(w, r, &req) {
			return
		}

		result, err := kra.FileNilReturn(r.Context(), req.PIN, req.Period, req.ObligationID)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	})
}

type pinsRequest struct {
	PINs []string `json:"pins"`
}

func handlePostPINs(kra kraService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		var req pinsRequest
		if !readJSON(w, r, &req) {
			return
		}
		if len(req.PINs) == 0 {
			writeJSONError(w, http.StatusBadRequest, "pins must not be empty")
			return
		}

		results, err := kra.VerifyPINsBatch(r.Context(), req.PINs)
		if err != nil {
			writeAPIError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, results)
	})
}

type healthResponse struct {
	Status    string          `json:"status"`
	RateLimit ratelimit.State `json:"rate_limit"`
}

func handleHealthCheck(limiter ratelimit.Limiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		state := limiter.State()
		status := "ok"
		switch {
		case state.NeedsCriticalBlock():
			status = "exhausted"
		case state.NeedsThrottling():
			status = "throttled"
		}
		writeJSON(w, http.StatusOK, healthResponse{Status: status, RateLimit: state})
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

func traced(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "kra-proxy",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.Pattern
		}),
	)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)

		log.Info().
			Str("component", "proxy").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status_code", m.Code).
			Int64("bytes", m.Written).
			Dur("duration", m.Duration).
			Msg("request handled")
	})
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Class string `json:"class,omitempty"`
	Field string `json:"field,omitempty"`
}

// errorStatus maps a client error onto the proxy's HTTP status.
func errorStatus(err error) int {
	switch apierror.ClassOf(err) {
	case apierror.ClassValidation:
		return http.StatusBadRequest
	case apierror.ClassRateLimit:
		return http.StatusTooManyRequests
	case apierror.ClassTimeout:
		return http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusBadGateway
}

func writeAPIError(w http.ResponseWriter, err error) {
	status := errorStatus(err)
	resp := ErrorResponse{Error: err.Error(), Class: string(apierror.ClassOf(err))}

	var verr *apierror.ValidationError
	if errors.As(err, &verr) {
		resp.Field = verr.Field
	}
	if after, ok := apierror.RetryAfter(err); ok {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(after.Seconds()))))
	}

	log.Info().Err(err).Int("status_code", status).Msg("KRA request failed")
	writeJSON(w, status, resp)
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		// At this point the status code has been written, so we can only log
		log.Info().Msgf("failed to write JSON response: %v", err)
	}
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "malformed JSON body: "+err.Error())
		return false
	}
	return true
}

func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		_, _ = io.Copy(io.Discard, r.Body)
	}
}

package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"sta-timeseries/internal/domain"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	// bodies carry URLs with & in their query
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindProtocolSyntax, domain.KindValidation, domain.KindMalformedIdentifier:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindNotImplemented:
		return http.StatusNotImplemented
	case domain.KindBackendUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("kind", domain.KindOf(err).String()),
			zap.Error(err),
		)
	}
	writeJSON(w, status, Fail(status, err.Error()))
}

// readBody reads at most maxBodyBytes of the request body.
func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return nil, domain.Validation("failed to read request body: %v", err)
	}
	return body, nil
}

// decodeJSON decodes body keeping numbers as json.Number.
func decodeJSON(body []byte, out any) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	return dec.Decode(out)
}

// parseEntityID parses the key inside Entity(<key>). Quoted keys are not
// used by this server.
func parseEntityID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id < 0 {
		return 0, domain.MalformedIdentifier("invalid entity id %q", s)
	}
	return id, nil
}

// entitySetOf returns the entity set addressed by an upstream path such as
// /Things(1)/Datastreams or /Observations(5)/Datastream.
func entitySetOf(path string) string {
	path = strings.Trim(path, "/")
	segments := strings.Split(path, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		seg := segments[i]
		if seg == "" || strings.HasPrefix(seg, "$") {
			continue
		}
		if open := strings.IndexByte(seg, '('); open >= 0 {
			seg = seg[:open]
		}
		return seg
	}
	return ""
}

// jsonString renders a decoded JSON scalar for parsing.
func jsonString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}

package httpapi

import (
	"context"
	"net/http"
	"strings"

	"sta-timeseries/internal/domain"
	"sta-timeseries/internal/obsid"
	"sta-timeseries/internal/query"
	"sta-timeseries/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// ObservationAPI is the hypertable side of the proxy.
type ObservationAPI interface {
	Route(ctx context.Context, datastreamID int64) (domain.Route, error)
	List(ctx context.Context, datastreamID int64, kind domain.DataKind, opts *query.Options, currentURL string) (*service.Page, error)
	Get(ctx context.Context, id int64, opts *query.Options) (map[string]interface{}, error)
	Create(ctx context.Context, datastreamID int64, kind domain.DataKind, payload map[string]interface{}) (*service.CreateResult, error)
}

// Upstream forwards requests to the SensorThings server.
type Upstream interface {
	Do(ctx context.Context, method, pathAndQuery string, header http.Header, body []byte) (*service.UpstreamResponse, error)
}

// Expander rewrites expanded Observations in upstream responses.
type Expander interface {
	Resolve(ctx context.Context, entitySet string, body interface{}, expand string) error
}

// STAHandler serves the SensorThings surface under the service root.
type STAHandler struct {
	observations ObservationAPI
	upstream     Upstream
	expander     Expander
	root         string
	serviceURL   string
	logger       *zap.Logger
}

// NewSTAHandler creates the handler. root is the path prefix the routes are
// mounted under, serviceURL the public URL of that prefix.
func NewSTAHandler(observations ObservationAPI, upstream Upstream, expander Expander, root, serviceURL string, logger *zap.Logger) *STAHandler {
	return &STAHandler{
		observations: observations,
		upstream:     upstream,
		expander:     expander,
		root:         strings.TrimRight(root, "/"),
		serviceURL:   strings.TrimRight(serviceURL, "/"),
		logger:       logger,
	}
}

// relativePath is the request path below the service root, still escaped.
func (h *STAHandler) relativePath(r *http.Request) string {
	return strings.TrimPrefix(r.URL.EscapedPath(), h.root)
}

func (h *STAHandler) upstreamPath(r *http.Request) string {
	p := h.relativePath(r)
	if r.URL.RawQuery != "" {
		p += "?" + r.URL.RawQuery
	}
	return p
}

// publicURL is the request URL as the client sees it.
func (h *STAHandler) publicURL(r *http.Request) string {
	return h.serviceURL + h.upstreamPath(r)
}

// ListDatastreamObservations serves GET Datastreams(<id>)/Observations and
// its Sensors(<sid>)/ prefixed form.
func (h *STAHandler) ListDatastreamObservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id, err := parseEntityID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := query.CheckAllowed(r.URL.Query()); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	route, err := h.observations.Route(ctx, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if route.Backend != domain.BackendHypertable {
		h.forward(w, r, nil)
		return
	}

	opts, err := query.ParseValues(r.URL.Query())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.writePage(w, r, id, route.Kind, opts)
}

// ListObservations serves GET Observations?$filter=Datastream/id eq <id>.
func (h *STAHandler) ListObservations(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	opts, err := query.ParseValues(r.URL.Query())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	id, rest, err := query.SplitDatastream(opts.Filter)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	route, err := h.observations.Route(ctx, id)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if route.Backend != domain.BackendHypertable {
		h.forward(w, r, nil)
		return
	}

	raw := ""
	if rest != nil {
		raw = rest.Protocol()
	}
	h.writePage(w, r, id, route.Kind, opts.WithFilter(rest, raw))
}

func (h *STAHandler) writePage(w http.ResponseWriter, r *http.Request, datastreamID int64, kind domain.DataKind, opts *query.Options) {
	page, err := h.observations.List(r.Context(), datastreamID, kind, opts, h.publicURL(r))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, page.Body())
}

// GetObservation serves GET Observations(<id>). Native ids go upstream.
func (h *STAHandler) GetObservation(w http.ResponseWriter, r *http.Request) {
	id, err := parseEntityID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if !obsid.IsSynthetic(id) {
		h.Proxy(w, r)
		return
	}

	opts, err := query.ParseValues(r.URL.Query())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	obs, err := h.observations.Get(r.Context(), id, opts)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, obs)
}

// CreateDatastreamObservation serves POST Datastreams(<id>)/Observations.
func (h *STAHandler) CreateDatastreamObservation(w http.ResponseWriter, r *http.Request) {
	id, err := parseEntityID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.create(w, r, id, body)
}

// CreateObservation serves POST Observations. The datastream is taken from
// Datastream.@iot.id in the body; without it the request goes upstream.
func (h *STAHandler) CreateObservation(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	var payload map[string]interface{}
	if err := decodeJSON(body, &payload); err != nil {
		writeError(w, r, h.logger, domain.Validation("request body is not a JSON object: %v", err))
		return
	}

	ref, _ := payload["Datastream"].(map[string]interface{})
	raw, ok := ref["@iot.id"]
	if !ok {
		h.forward(w, r, body)
		return
	}
	id, err := parseEntityID(jsonString(raw))
	if err != nil {
		writeError(w, r, h.logger, domain.Validation("invalid Datastream/@iot.id %v", raw))
		return
	}
	h.create(w, r, id, body)
}

func (h *STAHandler) create(w http.ResponseWriter, r *http.Request, datastreamID int64, body []byte) {
	ctx := r.Context()
	route, err := h.observations.Route(ctx, datastreamID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if route.Backend != domain.BackendHypertable {
		h.forward(w, r, body)
		return
	}

	var payload map[string]interface{}
	if err := decodeJSON(body, &payload); err != nil {
		writeError(w, r, h.logger, domain.Validation("request body is not a JSON object: %v", err))
		return
	}
	res, err := h.observations.Create(ctx, datastreamID, route.Kind, payload)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	status := http.StatusCreated
	if !res.Created {
		status = http.StatusOK
	}
	w.Header().Set("Location", res.Location)
	writeJSON(w, status, map[string]interface{}{
		"@iot.id":       res.ID,
		"@iot.selfLink": res.Location,
	})
}

// Proxy forwards any other request upstream, resolving $expand of
// Observations on GET.
func (h *STAHandler) Proxy(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet {
		if err := query.CheckAllowed(r.URL.Query()); err != nil {
			writeError(w, r, h.logger, err)
			return
		}
	}
	var body []byte
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		b, err := readBody(r)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		body = b
	}
	h.forward(w, r, body)
}

func (h *STAHandler) forward(w http.ResponseWriter, r *http.Request, body []byte) {
	ctx := r.Context()
	resp, err := h.upstream.Do(ctx, r.Method, h.upstreamPath(r), r.Header, body)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	expand := r.URL.Query().Get("$expand")
	if r.Method == http.MethodGet && expand != "" && resp.StatusCode/100 == 2 && resp.JSON() {
		var doc interface{}
		if err := decodeJSON(resp.Body, &doc); err != nil {
			h.logger.Warn("Upstream returned malformed JSON", zap.String("path", r.URL.Path), zap.Error(err))
		} else {
			if err := h.expander.Resolve(ctx, entitySetOf(r.URL.Path), doc, expand); err != nil {
				writeError(w, r, h.logger, err)
				return
			}
			writeJSON(w, resp.StatusCode, doc)
			return
		}
	}

	service.CopyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// VersionRoot answers the service path without an API version.
func (h *STAHandler) VersionRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": false,
		"message": "No API version found, try " + h.serviceURL,
	})
}

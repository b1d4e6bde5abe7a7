package service

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"sta-timeseries/internal/domain"
	"sta-timeseries/internal/query"

	"go.uber.org/zap"
)

// ExpandCatalog resolves the entities an expansion starts from.
type ExpandCatalog interface {
	GetByName(ctx context.Context, name string) (*domain.Datastream, error)
	DatastreamsForFeature(ctx context.Context, foiID int64) ([]int64, error)
}

// expandTask is one pending $expand level: the decoded JSON it applies to,
// the entity set of that JSON and the unparsed $expand value.
type expandTask struct {
	target    interface{}
	entitySet string
	expand    string
}

// ExpansionResolver replaces expanded Observations of hypertable-backed
// datastreams in upstream responses. Levels are processed breadth first
// from a queue, every element serially.
type ExpansionResolver struct {
	catalog      ExpandCatalog
	observations *ObservationService
	router       *StorageRouter
	assembler    *Assembler
	logger       *zap.Logger
}

// NewExpansionResolver creates the resolver.
func NewExpansionResolver(catalog ExpandCatalog, observations *ObservationService, router *StorageRouter, assembler *Assembler, logger *zap.Logger) *ExpansionResolver {
	return &ExpansionResolver{
		catalog:      catalog,
		observations: observations,
		router:       router,
		assembler:    assembler,
		logger:       logger,
	}
}

// Resolve applies expand to body in place. entitySet names what body holds
// (one entity or a {"value": [...]} collection). On error body must be
// discarded: it may be partially modified.
func (r *ExpansionResolver) Resolve(ctx context.Context, entitySet string, body interface{}, expand string) error {
	if expand == "" {
		return nil
	}
	queue := []expandTask{{target: body, entitySet: NormalizeEntitySet(entitySet), expand: expand}}

	for len(queue) > 0 {
		task := queue[0]
		queue = queue[1:]

		specs, err := query.ParseExpand(task.expand)
		if err != nil {
			return err
		}

		for _, el := range elements(task.target) {
			for _, spec := range specs {
				if spec.Key == "Observations" && expandsObservations(task.entitySet) {
					handled, err := r.injectObservations(ctx, el, task.entitySet, spec.Options)
					if err != nil {
						return err
					}
					if handled {
						// rows built here carry no nested entities
						continue
					}
				}
				if spec.Options.Expand == "" {
					continue
				}
				if child, ok := el[spec.Key]; ok {
					queue = append(queue, expandTask{
						target:    child,
						entitySet: NormalizeEntitySet(spec.Key),
						expand:    spec.Options.Expand,
					})
				}
			}
		}
	}
	return nil
}

func expandsObservations(entitySet string) bool {
	return entitySet == "Datastreams" || entitySet == "FeaturesOfInterest"
}

// injectObservations sets Observations, its next link and its navigation
// link on el. It reports false when el is not served from a hypertable.
func (r *ExpansionResolver) injectObservations(ctx context.Context, el map[string]interface{}, entitySet string, opts *query.Options) (bool, error) {
	var (
		datastreamID int64
		ownerID      int64
		ok           bool
		err          error
	)
	switch entitySet {
	case "Datastreams":
		datastreamID, ok, err = r.datastreamID(ctx, el)
		ownerID = datastreamID
	case "FeaturesOfInterest":
		if ownerID, ok = idOf(el["@iot.id"]); ok {
			datastreamID, ok, err = r.featureDatastream(ctx, ownerID)
		}
	}
	if err != nil || !ok {
		return false, err
	}

	values, nextLink, handled, err := r.observations.ExpandObservations(ctx, datastreamID, opts)
	if err != nil || !handled {
		return false, err
	}

	el["Observations"] = values
	if nextLink != "" {
		el["Observations@iot.nextLink"] = nextLink
	} else {
		delete(el, "Observations@iot.nextLink")
	}
	el["Observations@iot.navigationLink"] = r.assembler.NavigationLink(entitySet, ownerID)
	return true, nil
}

// datastreamID identifies an expanded datastream by @iot.id, falling back
// to its name.
func (r *ExpansionResolver) datastreamID(ctx context.Context, el map[string]interface{}) (int64, bool, error) {
	if id, ok := idOf(el["@iot.id"]); ok {
		return id, true, nil
	}
	name, _ := el["name"].(string)
	if name == "" {
		return 0, false, nil
	}
	ds, err := r.catalog.GetByName(ctx, name)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.logger.Debug("Expanded datastream not in catalog", zap.String("name", name))
			return 0, false, nil
		}
		return 0, false, err
	}
	return ds.ID, true, nil
}

// featureDatastream picks the hypertable datastream observing foiID.
func (r *ExpansionResolver) featureDatastream(ctx context.Context, foiID int64) (int64, bool, error) {
	ids, err := r.catalog.DatastreamsForFeature(ctx, foiID)
	if err != nil {
		return 0, false, err
	}
	var hyper []int64
	for _, id := range ids {
		route, err := r.router.Route(ctx, id)
		if err != nil {
			return 0, false, err
		}
		if route.Backend == domain.BackendHypertable {
			hyper = append(hyper, id)
		}
	}
	switch len(hyper) {
	case 0:
		return 0, false, nil
	case 1:
		return hyper[0], true, nil
	default:
		return 0, false, domain.NotImplemented("expanding Observations of feature of interest %d spanning %d hypertable datastreams", foiID, len(hyper))
	}
}

// elements lists the entity objects held by v: a collection body, an
// expanded array or a single expanded entity.
func elements(v interface{}) []map[string]interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		if list, ok := t["value"].([]interface{}); ok {
			return elements(list)
		}
		return []map[string]interface{}{t}
	case []interface{}:
		out := make([]map[string]interface{}, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]interface{}); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func idOf(v interface{}) (int64, bool) {
	switch t := v.(type) {
	case json.Number:
		id, err := t.Int64()
		return id, err == nil
	case float64:
		return int64(t), t == float64(int64(t))
	case int64:
		return t, true
	case int:
		return int64(t), true
	case string:
		id, err := strconv.ParseInt(t, 10, 64)
		return id, err == nil
	}
	return 0, false
}

var entitySets = map[string]string{
	"Datastream":         "Datastreams",
	"MultiDatastream":    "MultiDatastreams",
	"Thing":              "Things",
	"Sensor":             "Sensors",
	"ObservedProperty":   "ObservedProperties",
	"Observation":        "Observations",
	"FeatureOfInterest":  "FeaturesOfInterest",
	"Location":           "Locations",
	"HistoricalLocation": "HistoricalLocations",
}

// NormalizeEntitySet maps a singular navigation property to its entity set.
func NormalizeEntitySet(name string) string {
	if set, ok := entitySets[name]; ok {
		return set
	}
	return name
}

// Package cityjson reads building geometry from CityJSON documents.
package cityjson

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/signalsfoundry/shadowcast/internal/logging"
	"github.com/signalsfoundry/shadowcast/model"
)

// DefaultIDAttribute is the attribute holding the federal building
// identifier (EGID).
const DefaultIDAttribute = "EGID"

var (
	ErrNotCityJSON   = errors.New("cityjson: document type is not CityJSON")
	ErrBadVertexRef  = errors.New("cityjson: boundary references a missing vertex")
	ErrBadBoundaries = errors.New("cityjson: malformed boundaries")
)

// Drop reasons reported in Result.Dropped.
const (
	ReasonNoGeometry = "no geometry"
	ReasonNoID       = "no identifier"
)

type document struct {
	Type        string                `json:"type"`
	Version     string                `json:"version"`
	Transform   *transform            `json:"transform"`
	CityObjects map[string]cityObject `json:"CityObjects"`
	Vertices    [][]float64           `json:"vertices"`
}

type transform struct {
	Scale     [3]float64 `json:"scale"`
	Translate [3]float64 `json:"translate"`
}

type cityObject struct {
	Type       string         `json:"type"`
	Attributes map[string]any `json:"attributes"`
	Geometry   []geometry     `json:"geometry"`
}

type geometry struct {
	Type       string          `json:"type"`
	LOD        json.RawMessage `json:"lod"`
	Boundaries json.RawMessage `json:"boundaries"`
}

// Dropped names a city object that was not turned into a building.
type Dropped struct {
	ObjectID string
	Reason   string
}

// Result holds the buildings decoded from one document, ordered by ID.
type Result struct {
	Version   string
	Buildings []model.Building
	Dropped   []Dropped
}

// Loader decodes CityJSON documents.
type Loader struct {
	idAttribute string
	log         logging.Logger
}

// LoaderOption customises a Loader.
type LoaderOption func(*Loader)

// WithIDAttribute overrides the attribute used as building identifier.
func WithIDAttribute(name string) LoaderOption {
	return func(l *Loader) {
		if name != "" {
			l.idAttribute = name
		}
	}
}

// WithLogger attaches a structured logger.
func WithLogger(log logging.Logger) LoaderOption {
	return func(l *Loader) {
		if log != nil {
			l.log = log
		}
	}
}

func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{idAttribute: DefaultIDAttribute, log: logging.Noop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFile decodes the document at path.
func (l *Loader) LoadFile(ctx context.Context, path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cityjson: open %s: %w", path, err)
	}
	defer f.Close()
	return l.Decode(ctx, f)
}

// Decode reads a document, applies its vertex transform, drops objects
// without geometry or identifier and merges objects that share an
// identifier into one building. Vertices stay in the source CRS.
func (l *Loader) Decode(ctx context.Context, r io.Reader) (*Result, error) {
	var doc document
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.DecodeContext(ctx, &doc); err != nil {
		return nil, fmt.Errorf("cityjson: decode: %w", err)
	}
	if doc.Type != "CityJSON" {
		return nil, fmt.Errorf("%w: %q", ErrNotCityJSON, doc.Type)
	}

	vertices, err := realVertices(doc.Vertices, doc.Transform)
	if err != nil {
		return nil, err
	}

	objectIDs := make([]string, 0, len(doc.CityObjects))
	for id := range doc.CityObjects {
		objectIDs = append(objectIDs, id)
	}
	sort.Strings(objectIDs)

	res := &Result{Version: doc.Version}
	byID := make(map[string]*model.Building)
	seen := make(map[string]map[int]struct{})
	for _, objectID := range objectIDs {
		obj := doc.CityObjects[objectID]
		if len(obj.Geometry) == 0 {
			l.drop(ctx, res, objectID, ReasonNoGeometry)
			continue
		}
		id, ok := identifier(obj.Attributes[l.idAttribute])
		if !ok {
			l.drop(ctx, res, objectID, ReasonNoID)
			continue
		}

		b, exists := byID[id]
		if !exists {
			b = &model.Building{ID: id, Name: objectID}
			byID[id] = b
			seen[id] = make(map[int]struct{})
		}
		for _, g := range obj.Geometry {
			indices, err := boundaryIndices(g.Boundaries)
			if err != nil {
				return nil, fmt.Errorf("%w (object %s)", err, objectID)
			}
			for _, idx := range indices {
				if idx < 0 || idx >= len(vertices) {
					return nil, fmt.Errorf("%w: index %d in object %s", ErrBadVertexRef, idx, objectID)
				}
				if _, dup := seen[id][idx]; dup {
					continue
				}
				seen[id][idx] = struct{}{}
				b.Vertices = append(b.Vertices, vertices[idx])
			}
		}
	}

	res.Buildings = make([]model.Building, 0, len(byID))
	for _, b := range byID {
		res.Buildings = append(res.Buildings, *b)
	}
	sort.Slice(res.Buildings, func(i, j int) bool { return res.Buildings[i].ID < res.Buildings[j].ID })

	l.log.Info(ctx, "cityjson decoded",
		logging.String("version", doc.Version),
		logging.Int("objects", len(doc.CityObjects)),
		logging.Int("buildings", len(res.Buildings)),
		logging.Int("dropped", len(res.Dropped)),
	)
	return res, nil
}

func (l *Loader) drop(ctx context.Context, res *Result, objectID, reason string) {
	l.log.Debug(ctx, "dropping city object", logging.String("object_id", objectID), logging.String("reason", reason))
	res.Dropped = append(res.Dropped, Dropped{ObjectID: objectID, Reason: reason})
}

func realVertices(raw [][]float64, tr *transform) ([]model.Vertex3, error) {
	out := make([]model.Vertex3, len(raw))
	for i, v := range raw {
		if len(v) != 3 {
			return nil, fmt.Errorf("cityjson: vertex %d has %d coordinates", i, len(v))
		}
		if tr != nil {
			out[i] = model.Vertex3{
				X: v[0]*tr.Scale[0] + tr.Translate[0],
				Y: v[1]*tr.Scale[1] + tr.Translate[1],
				Z: v[2]*tr.Scale[2] + tr.Translate[2],
			}
			continue
		}
		out[i] = model.Vertex3{X: v[0], Y: v[1], Z: v[2]}
	}
	return out, nil
}

// identifier renders an attribute value as a building ID. Numbers keep
// their exact digits when integral, so large EGIDs survive, and integral
// values written with a fraction ("1001.0") print without it.
func identifier(v any) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case json.Number:
		if n, err := id.Int64(); err == nil {
			return strconv.FormatInt(n, 10), true
		}
		f, err := id.Float64()
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return "", false
		}
		if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
			return strconv.FormatInt(int64(f), 10), true
		}
		return id.String(), true
	default:
		return "", false
	}
}

// boundaryIndices flattens boundaries of any nesting depth (MultiPoint up
// to CompositeSolid) into vertex indices, in document order.
func boundaryIndices(raw json.RawMessage) ([]int, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadBoundaries, err)
	}
	var out []int
	var walk func(node any) error
	walk = func(node any) error {
		switch n := node.(type) {
		case []any:
			for _, child := range n {
				if err := walk(child); err != nil {
					return err
				}
			}
		case float64:
			if n != math.Trunc(n) {
				return fmt.Errorf("%w: non-integer index %v", ErrBadBoundaries, n)
			}
			out = append(out, int(n))
		case nil:
		default:
			return fmt.Errorf("%w: unexpected %T", ErrBadBoundaries, node)
		}
		return nil
	}
	if err := walk(tree); err != nil {
		return nil, err
	}
	return out, nil
}

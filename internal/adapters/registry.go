// Package adapters implements the external-call adapters and the (kind, id)-keyed
// registry the VM dispatches Call* instructions through (spec.md §4.5 "Feature / list /
// api / service adapter interface"). The VM never constructs a concrete adapter; it
// only ever sees the vm.Adapter/vm.Registry interfaces.
package adapters

import (
	"fmt"
	"net/http"

	"github.com/riskguard/decisionengine/internal/artifact"
	"github.com/riskguard/decisionengine/internal/vm"
)

// Registry implements vm.Registry over statically-loaded artifact definitions plus the
// runtime objects (DB, cache, HTTP client) their adapters need.
type Registry struct {
	features map[string]registeredFeature
	lists    map[string]vm.Adapter
	apis     map[string]registeredAPI
	services map[string]registeredService
	llms     map[string]vm.Adapter
}

type registeredFeature struct {
	adapter vm.Adapter
	def     *artifact.Feature
}

type registeredAPI struct {
	adapter vm.Adapter
	def     *artifact.ApiDef
}

type registeredService struct {
	adapter vm.Adapter
	def     *artifact.ServiceDef
}

// Deps bundles the runtime collaborators adapters are built from. Counter and KV may
// be nil only when no registered feature needs them: NewRegistry returns an error for
// an aggregation feature without a Counter or a lookup feature without a KV. A nil
// HTTPClient falls back to http.DefaultClient.
type Deps struct {
	Counter    WindowCounter
	KV         KeyValue
	HTTPClient *http.Client
}

// NewRegistry builds a Registry from a resolved artifact set. features, lists, apis and
// services supply the Feature/List/ApiDef/ServiceDef definitions; deps supplies the backing stores the built-in
// feature kinds (aggregation, derived, lookup) need.
func NewRegistry(features map[string]*artifact.Feature, lists map[string]*artifact.List, apis map[string]*artifact.ApiDef, services map[string]*artifact.ServiceDef, deps Deps) (*Registry, error) {
	r := &Registry{
		features: make(map[string]registeredFeature, len(features)),
		lists:    make(map[string]vm.Adapter, len(lists)),
		apis:     make(map[string]registeredAPI, len(apis)),
		services: make(map[string]registeredService, len(services)),
		llms:     map[string]vm.Adapter{},
	}

	for id, f := range features {
		adapter, err := buildFeatureAdapter(f, deps)
		if err != nil {
			return nil, fmt.Errorf("adapters: feature %q: %w", id, err)
		}
		r.features[id] = registeredFeature{adapter: adapter, def: f}
	}

	for id, l := range lists {
		r.lists[id] = newStaticListAdapter(l)
	}

	client := deps.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	for id, def := range apis {
		r.apis[id] = registeredAPI{adapter: newHTTPAdapter(client, def), def: def}
	}
	for id, def := range services {
		r.services[id] = registeredService{adapter: newServiceAdapter(client, def), def: def}
	}

	return r, nil
}

func (r *Registry) Feature(id string) (vm.Adapter, *artifact.Feature, bool) {
	f, ok := r.features[id]
	if !ok {
		return nil, nil, false
	}
	return f.adapter, f.def, true
}

func (r *Registry) List(id string) (vm.Adapter, bool) {
	a, ok := r.lists[id]
	return a, ok
}

func (r *Registry) Api(id string) (vm.Adapter, *artifact.ApiDef, bool) {
	a, ok := r.apis[id]
	if !ok {
		return nil, nil, false
	}
	return a.adapter, a.def, true
}

func (r *Registry) Service(id string) (vm.Adapter, *artifact.ServiceDef, bool) {
	s, ok := r.services[id]
	if !ok {
		return nil, nil, false
	}
	return s.adapter, s.def, true
}

// LLM is unimplemented: no LLM kind is named in SPEC_FULL.md's adapter inventory beyond
// the instruction set's reservation of CallLLM for future use.
func (r *Registry) LLM(id string) (vm.Adapter, bool) {
	a, ok := r.llms[id]
	return a, ok
}

func buildFeatureAdapter(f *artifact.Feature, deps Deps) (vm.Adapter, error) {
	switch f.Kind {
	case artifact.FeatureKindAggregation:
		if deps.Counter == nil {
			return nil, fmt.Errorf("aggregation feature requires a WindowCounter")
		}
		return newAggregationAdapter(f, deps.Counter), nil
	case artifact.FeatureKindDerived:
		return newDerivedAdapter(f)
	case artifact.FeatureKindLookup:
		if deps.KV == nil {
			return nil, fmt.Errorf("lookup feature requires a KeyValue store")
		}
		return newLookupAdapter(f, deps.KV), nil
	default:
		return nil, fmt.Errorf("unknown feature kind %q", f.Kind)
	}
}

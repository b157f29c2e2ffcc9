package schema

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hubmapconsortium/entity-api/internal/platform/logger"
)

// Registry loads the provenance schema document from a local path or an HTTP
// URL and caches it for a TTL. Reads go through Document so a stale copy is
// transparently refreshed; Invalidate forces a reload on the next read.
type Registry struct {
	source     string
	ttl        time.Duration
	httpClient *http.Client
	log        *logger.Logger

	mu       sync.RWMutex
	doc      *Document
	loadedAt time.Time
}

const defaultRegistryTTL = 10 * time.Minute

func NewRegistry(source string, ttl time.Duration, log *logger.Logger) (*Registry, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return nil, fmt.Errorf("schema: source path or URL required")
	}
	if ttl <= 0 {
		ttl = defaultRegistryTTL
	}
	if log == nil {
		return nil, fmt.Errorf("schema: logger required")
	}
	return &Registry{
		source:     source,
		ttl:        ttl,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		log:        log.With("component", "SchemaRegistry"),
	}, nil
}

// Document returns the cached schema, reloading it when past the TTL. A
// failed refresh keeps serving the previous copy.
func (r *Registry) Document(ctx context.Context) (*Document, error) {
	r.mu.RLock()
	doc, loadedAt := r.doc, r.loadedAt
	r.mu.RUnlock()

	if doc != nil && time.Since(loadedAt) < r.ttl {
		return doc, nil
	}

	fresh, err := r.load(ctx)
	if err != nil {
		if doc != nil {
			r.log.Warn("schema refresh failed, serving cached copy", "error", err.Error())
			return doc, nil
		}
		return nil, err
	}

	r.mu.Lock()
	r.doc = fresh
	r.loadedAt = time.Now()
	r.mu.Unlock()
	return fresh, nil
}

// Invalidate drops the cached document so the next read reloads it.
func (r *Registry) Invalidate() {
	r.mu.Lock()
	r.doc = nil
	r.loadedAt = time.Time{}
	r.mu.Unlock()
}

func (r *Registry) load(ctx context.Context) (*Document, error) {
	var raw []byte
	var err error
	if strings.HasPrefix(r.source, "http://") || strings.HasPrefix(r.source, "https://") {
		raw, err = r.fetch(ctx)
	} else {
		raw, err = os.ReadFile(r.source)
	}
	if err != nil {
		return nil, fmt.Errorf("schema: load %s: %w", r.source, err)
	}

	var doc Document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("schema: parse %s: %w", r.source, err)
	}
	if len(doc.Entities) == 0 {
		return nil, fmt.Errorf("schema: %s defines no entity types", r.source)
	}
	return &doc, nil
}

func (r *Registry) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.source, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// EntityDef resolves the definition for a (case-insensitive) entity type.
func (r *Registry) EntityDef(ctx context.Context, entityType string) (EntityDef, error) {
	doc, err := r.Document(ctx)
	if err != nil {
		return EntityDef{}, err
	}
	normalized := NormalizeEntityType(entityType)
	def, ok := doc.Entities[normalized]
	if !ok {
		return EntityDef{}, &UnknownTypeError{EntityType: entityType}
	}
	return def, nil
}

// ActivityDef returns the Activity node definition.
func (r *Registry) ActivityDef(ctx context.Context) (EntityDef, error) {
	doc, err := r.Document(ctx)
	if err != nil {
		return EntityDef{}, err
	}
	def, ok := doc.Activities[TypeActivity]
	if !ok {
		return EntityDef{}, fmt.Errorf("schema: no Activity definition")
	}
	return def, nil
}

// EntityTypes lists every defined entity type, sorted.
func (r *Registry) EntityTypes(ctx context.Context) ([]string, error) {
	doc, err := r.Document(ctx)
	if err != nil {
		return nil, err
	}
	types := make([]string, 0, len(doc.Entities))
	for name := range doc.Entities {
		types = append(types, name)
	}
	sort.Strings(types)
	return types, nil
}

// InstanceOf reports whether entityType is target or a subclass of target,
// following superclass links (Publication is-a Dataset, Epicollection is-a
// Collection).
func (r *Registry) InstanceOf(ctx context.Context, entityType, target string) (bool, error) {
	doc, err := r.Document(ctx)
	if err != nil {
		return false, err
	}
	current := NormalizeEntityType(entityType)
	want := NormalizeEntityType(target)
	seen := map[string]bool{}
	for current != "" && !seen[current] {
		if current == want {
			return true, nil
		}
		seen[current] = true
		def, ok := doc.Entities[current]
		if !ok {
			return false, &UnknownTypeError{EntityType: entityType}
		}
		current = NormalizeEntityType(def.Superclass)
	}
	return false, nil
}

// Labels returns the graph labels a node of the given type carries: the type
// itself plus every superclass up the chain.
func (r *Registry) Labels(ctx context.Context, entityType string) ([]string, error) {
	doc, err := r.Document(ctx)
	if err != nil {
		return nil, err
	}
	labels := []string{}
	current := NormalizeEntityType(entityType)
	seen := map[string]bool{}
	for current != "" && !seen[current] {
		def, ok := doc.Entities[current]
		if !ok {
			return nil, &UnknownTypeError{EntityType: entityType}
		}
		labels = append(labels, current)
		seen[current] = true
		current = NormalizeEntityType(def.Superclass)
	}
	return labels, nil
}

// ReferencedTriggerNames collects every trigger function name the document
// binds, across all types and events.
func (r *Registry) ReferencedTriggerNames(ctx context.Context) ([]string, error) {
	doc, err := r.Document(ctx)
	if err != nil {
		return nil, err
	}
	set := map[string]bool{}
	collect := func(defs map[string]EntityDef) {
		for _, def := range defs {
			for _, prop := range def.Properties {
				for _, event := range []string{EventBeforeCreate, EventAfterCreate, EventBeforeUpdate, EventAfterUpdate, EventOnRead} {
					if name := prop.TriggerFor(event); name != "" {
						set[name] = true
					}
				}
			}
		}
	}
	collect(doc.Entities)
	collect(doc.Activities)
	return sortedKeys(set), nil
}

// ReferencedValidatorNames collects every entity- and property-level
// validator function name the document binds.
func (r *Registry) ReferencedValidatorNames(ctx context.Context) ([]string, error) {
	doc, err := r.Document(ctx)
	if err != nil {
		return nil, err
	}
	set := map[string]bool{}
	for _, def := range doc.Entities {
		if def.BeforeEntityCreateValidator != "" {
			set[def.BeforeEntityCreateValidator] = true
		}
		for _, prop := range def.Properties {
			for _, name := range prop.BeforePropertyCreateValidators {
				set[name] = true
			}
			for _, name := range prop.BeforePropertyUpdateValidators {
				set[name] = true
			}
		}
	}
	return sortedKeys(set), nil
}

func sortedKeys(set map[string]bool) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// NormalizeEntityType maps arbitrary-cased input to the schema's casing
// ("dataset" -> "Dataset").
func NormalizeEntityType(entityType string) string {
	trimmed := strings.TrimSpace(entityType)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

// NormalizeStatus maps arbitrary-cased status input to the stored casing.
// "QA" is the one status that is not simply capitalized.
func NormalizeStatus(status string) string {
	trimmed := strings.TrimSpace(status)
	if trimmed == "" {
		return ""
	}
	if strings.EqualFold(trimmed, StatusQA) {
		return StatusQA
	}
	lower := strings.ToLower(trimmed)
	return strings.ToUpper(lower[:1]) + lower[1:]
}

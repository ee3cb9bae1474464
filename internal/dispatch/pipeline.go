package dispatch

import (
	"reflect"
	"sort"
	"sync"

	loggingpkg "github.com/drblury/mediator/internal/dispatch/logging"
)

// PipelineInstance is the frozen middleware chain plus terminal handler for
// one (message type, handler) pair. Instances are computed once and cached
// for the process lifetime; recomputing from an unchanged descriptor set
// yields an identical ordering.
type PipelineInstance struct {
	Handler     *HandlerDescriptor
	Middleware  []*MiddlewareDescriptor
	Diagnostics []CycleDiagnostic
}

// PipelineAssembler computes pipelines on first use and caches them.
type PipelineAssembler struct {
	registry *Registry
	logger   loggingpkg.ServiceLogger

	mu    sync.RWMutex
	cache map[pipelineKey]*PipelineInstance
}

type pipelineKey struct {
	msgType reflect.Type
	handler string
}

// NewPipelineAssembler creates an assembler over the registry.
func NewPipelineAssembler(registry *Registry, logger loggingpkg.ServiceLogger) *PipelineAssembler {
	return &PipelineAssembler{
		registry: registry,
		logger:   logger,
		cache:    make(map[pipelineKey]*PipelineInstance),
	}
}

// Pipeline returns the cached pipeline for the pair, assembling it on first
// use.
func (a *PipelineAssembler) Pipeline(msgType reflect.Type, handler *HandlerDescriptor) *PipelineInstance {
	key := pipelineKey{msgType: msgType, handler: handler.Name}

	a.mu.RLock()
	cached, ok := a.cache[key]
	a.mu.RUnlock()
	if ok {
		return cached
	}

	assembled := a.assemble(msgType, handler)

	a.mu.Lock()
	defer a.mu.Unlock()
	if cached, ok := a.cache[key]; ok {
		return cached
	}
	a.cache[key] = assembled
	return assembled
}

// specificityRank orders middleware candidates at equal numeric order:
// exact-type match before interface match, before base match, before the any
// sentinel.
func specificityRank(t Target) int {
	switch t.Kind {
	case TargetExact:
		return 0
	case TargetInterface:
		return 1
	case TargetBase:
		return 2
	default:
		return 3
	}
}

func (a *PipelineAssembler) assemble(msgType reflect.Type, handler *HandlerDescriptor) *PipelineInstance {
	// Auto-matched candidates first, then the handler's explicit references.
	// An explicit reference to an auto-matched middleware replaces it so a
	// per-pipeline order override applies without mutating the shared
	// descriptor.
	candidates := make([]*MiddlewareDescriptor, 0, len(handler.Use)+4)
	index := make(map[string]int)
	for _, mw := range a.registry.MatchingMiddleware(msgType) {
		index[mw.Name] = len(candidates)
		candidates = append(candidates, mw)
	}
	for _, ref := range handler.Use {
		mw, ok := a.registry.Middleware(ref.Name)
		if !ok {
			continue
		}
		if ref.Order != nil {
			override := *mw
			override.Order = *ref.Order
			mw = &override
		}
		if pos, exists := index[ref.Name]; exists {
			candidates[pos] = mw
			continue
		}
		index[mw.Name] = len(candidates)
		candidates = append(candidates, mw)
	}

	// The secondary tiebreak is encoded as input order: the fast-path stable
	// sort keeps equal numeric orders in specificity order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return specificityRank(candidates[i].Target) < specificityRank(candidates[j].Target)
	})

	ordered, diags := SortOrdered(candidates, middlewareAccessors())
	for _, diag := range diags {
		if a.logger != nil {
			a.logger.Info("Ordering cycle auto-recovered", loggingpkg.LogFields{
				"message_type": typeName(msgType),
				"handler":      handler.Name,
				"cycle":        diag.String(),
			})
		}
	}

	return &PipelineInstance{
		Handler:     handler,
		Middleware:  ordered,
		Diagnostics: diags,
	}
}

// Package progress routes asynchronous backend progress events to the caller
// waiting on the job that emitted them.
package progress

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"hyperlapse/metrics"
	"hyperlapse/models"
)

// MisuseError is returned when a key is registered while a previous
// registration for it is still live. It indicates an orchestration bug and
// fails the request, never the process.
type MisuseError struct {
	Key models.JobKey
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("progress key %s is already registered", e.Key)
}

// Router maps job keys to progress sinks.
//
// All methods are safe for concurrent use. Sinks are invoked outside the
// router lock, so a slow sink never blocks registration of other keys.
// Events routed for one key from one goroutine reach the sink in order.
type Router struct {
	mu       sync.RWMutex
	sinks    map[models.JobKey]models.ProgressSink
	reserved map[string]struct{}
	logger   *zap.Logger
	metrics *metrics.Metrics
}

// NewRouter creates an empty router
func NewRouter(logger *zap.Logger, m *metrics.Metrics) *Router {
	return &Router{
		sinks:    make(map[models.JobKey]models.ProgressSink),
		reserved: make(map[string]struct{}),
		logger:   logger,
		metrics:  m,
	}
}

// Reserve claims job id for a new top-level job. It returns false when the
// id is already reserved or has live registrations, in which case the caller
// must pick another id. Purge releases the reservation.
func (r *Router) Reserve(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.reserved[id]; taken {
		return false
	}
	for key := range r.sinks {
		if key.ID == id {
			return false
		}
	}
	r.reserved[id] = struct{}{}
	return true
}

// Register binds sink to key until Unregister is called.
func (r *Router) Register(key models.JobKey, sink models.ProgressSink) error {
	if err := key.Validate(); err != nil {
		return fmt.Errorf("register progress key: %w", err)
	}
	if sink == nil {
		return fmt.Errorf("register progress key %s: sink cannot be nil", key)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sinks[key]; exists {
		return &MisuseError{Key: key}
	}
	r.sinks[key] = sink
	return nil
}

// Route delivers ev to the sink registered for key, tagged with the key's
// chunk index. Events for unknown keys are logged and dropped.
func (r *Router) Route(key models.JobKey, ev models.ProgressEvent) {
	r.mu.RLock()
	sink, ok := r.sinks[key]
	r.mu.RUnlock()

	if !ok {
		r.metrics.ProgressDropped.Inc()
		r.logger.Debug("dropping progress for unknown key",
			zap.Stringer("key", key),
			zap.String("type", string(ev.Type)))
		return
	}

	r.metrics.ProgressRouted.Inc()
	sink(ev.Tagged(key))
}

// Unregister removes key. Unknown keys are ignored.
func (r *Router) Unregister(key models.JobKey) {
	r.mu.Lock()
	delete(r.sinks, key)
	r.mu.Unlock()
}

// Purge removes every registration for job id, split or not, and returns how
// many were removed. A reservation of id is released too.
func (r *Router) Purge(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.reserved, id)

	removed := 0
	for key := range r.sinks {
		if key.ID == id {
			delete(r.sinks, key)
			removed++
		}
	}
	return removed
}

// Registered reports whether key currently has a sink
func (r *Router) Registered(key models.JobKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sinks[key]
	return ok
}

// Len returns the number of live registrations
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sinks)
}

// Count returns the number of live registrations for job id
func (r *Router) Count(id string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for key := range r.sinks {
		if key.ID == id {
			n++
		}
	}
	return n
}

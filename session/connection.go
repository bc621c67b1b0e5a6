// Package session tracks what each client connection owns, so everything can
// be torn down when the client goes away.
package session

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"hyperlapse/backend"
	"hyperlapse/metrics"
	"hyperlapse/models"
	"hyperlapse/progress"
)

// Connection is the owned resource table of one client connection.
//
// It owns the job keys of the connection's in-flight requests and the local
// backend processes spawned for them. Requests release what they acquired
// when they finish; Close releases whatever is left. Once closed, processes
// handed to Acquire are killed straight away and progress is dropped.
//
// Remote jobs cannot be stopped. Closing only purges their keys, so late
// progress for them is dropped by the router.
type Connection struct {
	id     string
	router *progress.Router
	notify models.ProgressSink

	newKey func() models.JobKey

	mu         sync.Mutex
	closed     bool
	keys       map[string]struct{}
	processes  map[uint64]backend.Process
	nextHandle uint64

	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewConnection creates an open connection sending progress through notify
func NewConnection(router *progress.Router, notify models.ProgressSink, logger *zap.Logger, m *metrics.Metrics) *Connection {
	id := uuid.NewString()
	m.ActiveConnections.Inc()

	return &Connection{
		id:        id,
		router:    router,
		notify:    notify,
		newKey:    models.NewJobKey,
		keys:      make(map[string]struct{}),
		processes: make(map[uint64]backend.Process),
		logger:    logger.With(zap.String("connection", id)),
		metrics:   m,
	}
}

// ID identifies the connection in logs
func (c *Connection) ID() string {
	return c.id
}

// NewJobKey creates a top-level key owned by the connection. The id is
// reserved in the router, so it is unique across all connections while the
// job runs. The release func drops the key from the owned set and purges it
// from the router; calling it more than once is harmless.
func (c *Connection) NewJobKey() (models.JobKey, func()) {
	key := c.newKey()
	for !c.router.Reserve(key.ID) {
		c.logger.Debug("job key collision", zap.String("key", key.ID))
		key = c.newKey()
	}

	c.mu.Lock()
	c.keys[key.ID] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return key, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.keys, key.ID)
			c.mu.Unlock()
			c.router.Purge(key.ID)
		})
	}
}

// Acquire takes ownership of a running process until the returned release
// func is called. A process acquired after Close is killed immediately.
func (c *Connection) Acquire(p backend.Process) func() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.kill(p)
		return func() {}
	}
	handle := c.nextHandle
	c.nextHandle++
	c.processes[handle] = p
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.processes, handle)
			c.mu.Unlock()
		})
	}
}

// Progress forwards ev to the client unless the connection is closed
func (c *Connection) Progress(ev models.ProgressEvent) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return
	}
	c.notify(ev)
}

// Close kills every owned process and purges every owned key from the
// router. It returns the number of processes killed. Only the first call
// does anything.
func (c *Connection) Close() int {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0
	}
	c.closed = true

	processes := make([]backend.Process, 0, len(c.processes))
	for _, p := range c.processes {
		processes = append(processes, p)
	}
	keys := make([]string, 0, len(c.keys))
	for id := range c.keys {
		keys = append(keys, id)
	}
	clear(c.processes)
	clear(c.keys)
	c.mu.Unlock()

	c.metrics.ActiveConnections.Dec()

	for _, p := range processes {
		c.kill(p)
	}
	purged := 0
	for _, id := range keys {
		purged += c.router.Purge(id)
	}

	c.logger.Info("connection closed",
		zap.Int("killed", len(processes)),
		zap.Int("keys", len(keys)),
		zap.Int("purged", purged))
	return len(processes)
}

// Owned returns the number of owned keys and processes
func (c *Connection) Owned() (keys, processes int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.keys), len(c.processes)
}

func (c *Connection) kill(p backend.Process) {
	c.metrics.ProcessesKilled.Inc()
	if err := p.Kill(); err != nil {
		c.logger.Warn("failed to kill process", zap.Error(err))
	}
}

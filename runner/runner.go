// Package runner keeps the live map sessions of a server process. Sessions
// are created from posted points or saved datasets, evicted when idle for
// too long, and the least recently used one is dropped when the runner is
// full.
package runner

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"web/estatemap/cluster"
	"web/estatemap/listing"
	"web/estatemap/logging"
	"web/estatemap/metrics"
	"web/estatemap/session"
)

const (
	DefaultMaxSessions = 64
	DefaultIdleTTL     = 30 * time.Minute
)

type SessionNotFoundError struct {
	ID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("runner: no session %q", e.ID)
}

type Config struct {
	MaxSessions int
	IdleTTL     time.Duration
	// Session is the template every new session starts from.
	Session session.Options
	// Store is optional; without it CreateFromDataset fails.
	Store   *listing.Store
	Logger  logging.Logger
	Metrics *metrics.Metrics
}

// Info describes a live session.
type Info struct {
	ID         string    `json:"id"`
	Points     int       `json:"points"`
	Dataset    string    `json:"dataset,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	LastAccess time.Time `json:"lastAccess"`
}

type slot struct {
	session *session.Session
	info    Info
}

// snapshot reads the point count from the live index, since the session
// may have been rebuilt since creation.
func (s *slot) snapshot() Info {
	info := s.info
	info.Points = s.session.Index().Len()
	return info
}

type SessionRunner struct {
	cfg    Config
	logger logging.Logger

	mu       sync.RWMutex
	sessions map[string]*slot

	now  func() time.Time
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// New starts the runner and its eviction loop. Call Close to stop it.
func New(cfg Config) *SessionRunner {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	if cfg.Session.Logger == nil {
		cfg.Session.Logger = cfg.Logger
	}
	if cfg.Session.Metrics == nil {
		cfg.Session.Metrics = cfg.Metrics
	}

	r := &SessionRunner{
		cfg:      cfg,
		logger:   cfg.Logger.Named("runner"),
		sessions: make(map[string]*slot),
		now:      time.Now,
		done:     make(chan struct{}),
	}
	r.wg.Add(1)
	go r.cleanupInactiveSessions()
	return r
}

func (r *SessionRunner) cleanupInactiveSessions() {
	defer r.wg.Done()
	interval := r.cfg.IdleTTL / 6
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.done:
			return
		case <-ticker.C:
			r.evictIdle()
		}
	}
}

// evictIdle closes sessions not touched within IdleTTL and returns how
// many it removed.
func (r *SessionRunner) evictIdle() int {
	now := r.now()
	var expired []*slot

	r.mu.Lock()
	for id, s := range r.sessions {
		if now.Sub(s.info.LastAccess) > r.cfg.IdleTTL {
			expired = append(expired, s)
			delete(r.sessions, id)
		}
	}
	r.updateGauge()
	r.mu.Unlock()

	for _, s := range expired {
		r.logger.Info("evicting idle session",
			logging.String("session", s.info.ID),
			logging.Duration("idle", now.Sub(s.info.LastAccess)))
		s.session.Close()
	}
	return len(expired)
}

// Create builds a new session over points.
func (r *SessionRunner) Create(points []cluster.Point) (Info, error) {
	return r.create(points, "")
}

// CreateFromDataset loads a saved dataset and builds a session over it.
func (r *SessionRunner) CreateFromDataset(datasetID string) (Info, error) {
	if r.cfg.Store == nil {
		return Info{}, &listing.DatasetNotFoundError{ID: datasetID}
	}
	points, ds, err := r.cfg.Store.Load(datasetID)
	if err != nil {
		return Info{}, err
	}
	return r.create(points, ds.ID)
}

func (r *SessionRunner) create(points []cluster.Point, dataset string) (Info, error) {
	s, err := session.New(points, r.cfg.Session)
	if err != nil {
		return Info{}, err
	}
	now := r.now()
	sl := &slot{
		session: s,
		info: Info{
			ID:         uuid.New().String(),
			Points:     len(points),
			Dataset:    dataset,
			CreatedAt:  now,
			LastAccess: now,
		},
	}

	r.mu.Lock()
	evicted := r.evictLRU()
	r.sessions[sl.info.ID] = sl
	r.updateGauge()
	r.mu.Unlock()

	if evicted != nil {
		r.logger.Info("evicting least recently used session", logging.String("session", evicted.info.ID))
		evicted.session.Close()
	}
	r.logger.Info("session created",
		logging.String("session", sl.info.ID),
		logging.Int("points", len(points)),
		logging.String("dataset", dataset))
	return sl.info, nil
}

// evictLRU makes room for one more session. Callers hold r.mu.
func (r *SessionRunner) evictLRU() *slot {
	if len(r.sessions) < r.cfg.MaxSessions {
		return nil
	}
	var oldest *slot
	for _, s := range r.sessions {
		if oldest == nil || s.info.LastAccess.Before(oldest.info.LastAccess) {
			oldest = s
		}
	}
	if oldest != nil {
		delete(r.sessions, oldest.info.ID)
	}
	return oldest
}

// Get returns the session and marks it as used.
func (r *SessionRunner) Get(id string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, &SessionNotFoundError{ID: id}
	}
	s.info.LastAccess = r.now()
	return s.session, nil
}

func (r *SessionRunner) Info(id string) (Info, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return Info{}, &SessionNotFoundError{ID: id}
	}
	return s.snapshot(), nil
}

func (r *SessionRunner) Delete(id string) error {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		r.updateGauge()
	}
	r.mu.Unlock()

	if !ok {
		return &SessionNotFoundError{ID: id}
	}
	s.session.Close()
	r.logger.Info("session deleted", logging.String("session", id))
	return nil
}

// List returns every live session, oldest first.
func (r *SessionRunner) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.snapshot())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

func (r *SessionRunner) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Store exposes the dataset store, which may be nil.
func (r *SessionRunner) Store() *listing.Store { return r.cfg.Store }

// Close stops the eviction loop and closes every session.
func (r *SessionRunner) Close() {
	r.once.Do(func() {
		close(r.done)
		r.wg.Wait()

		r.mu.Lock()
		all := r.sessions
		r.sessions = make(map[string]*slot)
		r.updateGauge()
		r.mu.Unlock()

		for _, s := range all {
			s.session.Close()
		}
	})
}

func (r *SessionRunner) updateGauge() {
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.ActiveSessions.Set(float64(len(r.sessions)))
	}
}

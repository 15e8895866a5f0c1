package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deployflow/engine/internal/catalog"
	"github.com/deployflow/engine/internal/flow"
	"github.com/deployflow/engine/internal/metrics"
	"github.com/deployflow/engine/internal/progress"
	appErr "github.com/deployflow/engine/pkg/errors"
	"github.com/deployflow/engine/pkg/logger"
)

// Gateway loads and stores flow documents.
type Gateway interface {
	SaveFlow(ctx context.Context, userID uuid.UUID, doc *flow.Document) (*flow.Document, error)
	LoadFlow(ctx context.Context, flowID, userID uuid.UUID) (*flow.Document, error)
}

// Options tunes session behaviour.
type Options struct {
	// InsertDebounce is the window in which an identical insert is dropped.
	InsertDebounce time.Duration
	// IdleTimeout evicts sessions nobody touched or watched for this long.
	IdleTimeout time.Duration
}

// Manager owns the open sessions, keyed by flow id.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	gateway Gateway
	catalog *catalog.Catalog
	metrics *metrics.Metrics
	opts    Options
	now     func() time.Time
}

func NewManager(gw Gateway, c *catalog.Catalog, m *metrics.Metrics, opts Options) *Manager {
	return &Manager{
		sessions: map[string]*Session{},
		gateway:  gw,
		catalog:  c,
		metrics:  m,
		opts:     opts,
		now:      time.Now,
	}
}

// Create persists a new empty flow and opens a session on it.
func (m *Manager) Create(ctx context.Context, userID uuid.UUID, name, description string) (*Session, error) {
	doc := flow.NewDocument(name, description)
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return m.saveAndOpen(ctx, userID, doc)
}

// Import stores doc as a new flow of userID and opens a session on it.
func (m *Manager) Import(ctx context.Context, userID uuid.UUID, doc *flow.Document) (*Session, error) {
	doc.ID = ""
	doc.Version = 0
	doc.Status = flow.FlowDraft
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return m.saveAndOpen(ctx, userID, doc)
}

func (m *Manager) saveAndOpen(ctx context.Context, userID uuid.UUID, doc *flow.Document) (*Session, error) {
	saved, err := m.gateway.SaveFlow(ctx, userID, doc)
	if err != nil {
		return nil, err
	}
	return m.register(saved, userID)
}

// Open returns the session of flowID, loading it when it is not open yet.
func (m *Manager) Open(ctx context.Context, flowID, userID uuid.UUID) (*Session, error) {
	if s, ok := m.Get(flowID.String()); ok {
		if s.Owner() != userID {
			return nil, appErr.New(appErr.CodeUnauthorized, "user does not own flow")
		}
		return s, nil
	}

	doc, err := m.gateway.LoadFlow(ctx, flowID, userID)
	if err != nil {
		return nil, err
	}
	return m.register(doc, userID)
}

// register adds a session for doc unless one was opened concurrently, in
// which case that one wins.
func (m *Manager) register(doc *flow.Document, owner uuid.UUID) (*Session, error) {
	s, err := newSession(doc, owner, m)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.sessions[doc.ID]; ok {
		m.mu.Unlock()
		s.close()
		return existing, nil
	}
	m.sessions[doc.ID] = s
	m.mu.Unlock()

	m.metrics.SessionOpened()
	logger.L().Info("session opened", zap.String("flow_id", doc.ID), zap.Int("nodes", len(doc.Nodes)))
	return s, nil
}

// Get returns an open session without loading.
func (m *Manager) Get(flowID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[flowID]
	return s, ok
}

// Len returns the number of open sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close drops the session of flowID without saving it.
func (m *Manager) Close(flowID string) {
	m.mu.Lock()
	s, ok := m.sessions[flowID]
	delete(m.sessions, flowID)
	m.mu.Unlock()

	if ok {
		s.close()
		m.metrics.SessionClosed()
		logger.L().Info("session closed", zap.String("flow_id", flowID))
	}
}

// Evict closes sessions idle for longer than IdleTimeout with no subscriber.
// Unsaved changes are saved first; a session whose save fails stays open.
func (m *Manager) Evict(ctx context.Context) int {
	if m.opts.IdleTimeout <= 0 {
		return 0
	}
	now := m.now()

	m.mu.Lock()
	var idle []*Session
	for _, s := range m.sessions {
		if s.hub.Len() == 0 && s.idleSince(now) >= m.opts.IdleTimeout {
			idle = append(idle, s)
		}
	}
	m.mu.Unlock()

	evicted := 0
	for _, s := range idle {
		if s.Dirty() {
			if _, err := s.Save(ctx); err != nil {
				logger.L().Error("save before eviction failed", zap.String("flow_id", s.ID()), zap.Error(err))
				continue
			}
		}
		m.Close(s.ID())
		evicted++
	}
	return evicted
}

// Run evicts idle sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	if m.opts.IdleTimeout <= 0 {
		return
	}
	interval := max(m.opts.IdleTimeout/2, time.Second)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Evict(ctx); n > 0 {
				logger.L().Info("idle sessions evicted", zap.Int("count", n))
			}
		}
	}
}

// ApplyProgress routes a deployment update to the open session of its flow.
// Updates for flows nobody has open are ignored; the deployment row holds
// the statuses.
func (m *Manager) ApplyProgress(u progress.Update) {
	s, ok := m.Get(u.FlowID)
	if !ok {
		return
	}
	s.applyProgress(u)
}

// CloseAll closes every session, saving unsaved changes.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		if s.Dirty() {
			if _, err := s.Save(ctx); err != nil {
				logger.L().Error("save on shutdown failed", zap.String("flow_id", s.ID()), zap.Error(err))
			}
		}
		m.Close(s.ID())
	}
}

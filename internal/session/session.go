// Package session holds the per-operator AppState: the mirrored store slices
// plus the cart and the active payment method.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/r3xsaler/Mi-tienda-pos/internal/cart"
	"github.com/r3xsaler/Mi-tienda-pos/internal/domain"
	"github.com/r3xsaler/Mi-tienda-pos/internal/events"
	"github.com/r3xsaler/Mi-tienda-pos/internal/store"
)

type Loader interface {
	ListProducts(ctx context.Context, operatorID string) ([]domain.Product, error)
	GetDailyRate(ctx context.Context, operatorID string) (float64, error)
	ListOpenSales(ctx context.Context, operatorID string, limit int) ([]domain.Sale, error)
	ListClosings(ctx context.Context, operatorID string, limit int) ([]domain.DailyClosing, error)
}

type AppState struct {
	Catalog       []domain.Product
	DailyRate     float64
	Ledger        []domain.Sale
	Closings      []domain.DailyClosing
	Cart          *cart.Cart
	PaymentMethod domain.PaymentMethod
}

type Session struct {
	operatorID string
	loader     Loader

	mu    sync.Mutex
	state AppState

	refreshMu sync.Mutex
}

func newSession(operatorID string, loader Loader) *Session {
	return &Session{
		operatorID: operatorID,
		loader:     loader,
		state:      AppState{Cart: cart.New()},
	}
}

func (s *Session) OperatorID() string {
	return s.operatorID
}

// Do runs fn with exclusive access to the state.
func (s *Session) Do(fn func(st *AppState) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&s.state)
}

func (s *Session) swap(fn func(st *AppState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
}

// Refresh reloads the given slices from the store and swaps each one in
// whole. Loads for one session never overlap.
func (s *Session) Refresh(ctx context.Context, slices ...events.Slice) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	for _, slice := range slices {
		if err := s.refreshOne(ctx, slice); err != nil {
			return fmt.Errorf("refresh %s: %w", slice, err)
		}
	}
	return nil
}

func (s *Session) refreshOne(ctx context.Context, slice events.Slice) error {
	switch slice {
	case events.SliceCatalog:
		products, err := s.loader.ListProducts(ctx, s.operatorID)
		if err != nil {
			return err
		}
		s.swap(func(st *AppState) { st.Catalog = products })
	case events.SliceRate:
		rate, err := s.loader.GetDailyRate(ctx, s.operatorID)
		if err != nil {
			return err
		}
		s.swap(func(st *AppState) { st.DailyRate = rate })
	case events.SliceLedger:
		sales, err := s.loader.ListOpenSales(ctx, s.operatorID, store.OpenLedgerLimit)
		if err != nil {
			return err
		}
		s.swap(func(st *AppState) { st.Ledger = sales })
	case events.SliceClosings:
		closings, err := s.loader.ListClosings(ctx, s.operatorID, store.ClosingsLimit)
		if err != nil {
			return err
		}
		s.swap(func(st *AppState) { st.Closings = closings })
	default:
		return fmt.Errorf("unknown slice %q", slice)
	}
	return nil
}

// Manager owns one Session per operator and keeps it in sync with the bus.
type Manager struct {
	loader Loader
	bus    events.Bus
	log    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*managed
}

type managed struct {
	session *Session
	cancel  context.CancelFunc
}

func NewManager(loader Loader, bus events.Bus, logger zerolog.Logger) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		loader:   loader,
		bus:      bus,
		log:      logger.With().Str("component", "session").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*managed),
	}
}

// Get returns the operator's session, loading it on first use.
func (m *Manager) Get(ctx context.Context, operatorID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[operatorID]; ok {
		return existing.session, nil
	}

	sess := newSession(operatorID, m.loader)
	subCtx, cancel := context.WithCancel(m.ctx)

	// Subscribe before the first load so no change falls in between.
	var changes <-chan events.Change
	if m.bus != nil {
		var err error
		changes, err = m.bus.Subscribe(subCtx, operatorID)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("subscribe: %w", err)
		}
	}
	if err := sess.Refresh(ctx, events.AllSlices...); err != nil {
		cancel()
		return nil, err
	}
	if changes != nil {
		go m.follow(subCtx, sess, changes)
	}

	m.sessions[operatorID] = &managed{session: sess, cancel: cancel}
	return sess, nil
}

func (m *Manager) follow(ctx context.Context, sess *Session, changes <-chan events.Change) {
	for change := range changes {
		if err := sess.Refresh(ctx, change.Slice); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.log.Warn().Err(err).Str("operator_id", sess.operatorID).Str("slice", string(change.Slice)).Msg("failed to apply change")
		}
	}
}

// Drop forgets the operator's session, discarding its cart.
func (m *Manager) Drop(operatorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.sessions[operatorID]; ok {
		existing.cancel()
		delete(m.sessions, operatorID)
	}
}

func (m *Manager) Close() error {
	m.cancel()
	m.mu.Lock()
	m.sessions = make(map[string]*managed)
	m.mu.Unlock()
	return nil
}

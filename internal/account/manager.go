package account

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/matheusmosca/offers-marketplace/internal/apperrors"
	"github.com/matheusmosca/offers-marketplace/internal/blockchain"
	"github.com/matheusmosca/offers-marketplace/internal/kvstore"
	"github.com/matheusmosca/offers-marketplace/internal/observable"
)

// DefaultCreationTimeout bounds the wait for the chain account creation event.
const DefaultCreationTimeout = 15 * time.Second

// AuthService is the backend session the provisioning flow depends on.
type AuthService interface {
	// AuthToken returns a valid bearer token, signing in when needed. A successful
	// sign in makes the backend create the wallet on chain.
	AuthToken(ctx context.Context) (string, error)
	IsRestorable(ctx context.Context, address string) (bool, error)
	UpdateWalletAddress(ctx context.Context, address string) error
}

// Gateway is the part of blockchain.Gateway the state machine drives.
type Gateway interface {
	RefreshBalance(ctx context.Context) (decimal.Decimal, error)
	EnsureTrustline(ctx context.Context) error
	WatchAccountCreation(fn func()) blockchain.Registration
	AccountIndex() int
	AddressAt(index int) (string, error)
	SetActiveAccount(ctx context.Context, client blockchain.Client, index int) error
	DeleteAccount(index int) error
}

// Migrator runs the external procedure that yields a chain client able to operate
// the account at index.
type Migrator interface {
	Migrate(ctx context.Context, index int) (blockchain.Client, error)
}

// StaticMigrator returns the same client for every index, for keystores that need
// no migration.
type StaticMigrator struct {
	Client blockchain.Client
}

func (m StaticMigrator) Migrate(_ context.Context, _ int) (blockchain.Client, error) {
	return m.Client, nil
}

// Manager drives a wallet from non-existent to ready:
// require_creation -> pending_creation -> require_trustline -> creation_completed.
//
// Every transition bumps a generation counter. Asynchronous steps (auth call,
// creation listener, creation timer, trustline) carry the generation they were
// started for and are ignored once it moved on, so a restart never races with
// callbacks of a previous attempt.
type Manager struct {
	settings        *kvstore.Settings
	gateway         Gateway
	auth            AuthService
	migrator        Migrator
	creationTimeout time.Duration

	mu             sync.Mutex
	started        bool
	state          State
	lastValid      State
	err            error
	generation     uint64
	pendingTimer   *time.Timer
	pendingReg     blockchain.Registration
	pendingClaimed bool

	states *observable.Value[State]
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Manager)

func WithCreationTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.creationTimeout = d
	}
}

func WithObservableOptions(opts ...observable.Option) Option {
	return func(m *Manager) {
		m.states = observable.NewValue[State](opts...)
	}
}

// NewManager creates a Manager. Start must be called to begin provisioning.
func NewManager(settings *kvstore.Settings, gateway Gateway, auth AuthService, migrator Migrator, opts ...Option) *Manager {
	m := &Manager{
		settings:        settings,
		gateway:         gateway,
		auth:            auth,
		migrator:        migrator,
		creationTimeout: DefaultCreationTimeout,
		states:          observable.NewValue[State](),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start restores the persisted state and resumes provisioning from it. Calling it
// again is a no-op.
func (m *Manager) Start(ctx context.Context) error {
	persisted, ok, err := m.settings.AccountState(ctx)
	if err != nil {
		log.Printf("⚠️  [ACCOUNT] Could not read persisted state: %v", err)
	}
	initial := StateRequireCreation
	if ok && State(persisted).valid() && State(persisted) != StateError {
		initial = State(persisted)
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	m.ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.state = initial
	m.lastValid = initial
	m.generation++
	gen := m.generation
	m.mu.Unlock()

	log.Printf("➡️ [ACCOUNT] Starting provisioning | State=%s", initial)
	m.states.Set(initial)
	m.dispatch(initial, gen)
	return nil
}

// Close stops pending timers and makes outstanding callbacks no-ops.
func (m *Manager) Close() {
	m.mu.Lock()
	m.generation++
	m.cancelPendingLocked()
	cancel := m.cancel
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the cause of the error state, nil otherwise.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Manager) AddStateObserver(fn func(State)) observable.ObserverID {
	return m.states.AddObserver(fn)
}

func (m *Manager) RemoveStateObserver(id observable.ObserverID) {
	m.states.RemoveObserver(id)
}

// Retry resumes from the last state before the error. Outside the error state it
// does nothing.
func (m *Manager) Retry() {
	m.mu.Lock()
	if m.state != StateError {
		m.mu.Unlock()
		return
	}
	target := m.lastValid
	gen := m.generation
	m.mu.Unlock()

	log.Printf("↩️ [ACCOUNT] Retrying | State=%s", target)
	m.advance(gen, target, nil)
}

// advance applies next if gen is still current.
func (m *Manager) advance(gen uint64, next State, cause error) bool {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		log.Printf("ℹ️ [ACCOUNT] Ignoring stale transition | Next=%s", next)
		return false
	}
	current := m.state
	if !isValidTransition(current, next) {
		m.mu.Unlock()
		log.Printf("❌ [ACCOUNT] Invalid transition | From=%s | To=%s", current, next)
		return false
	}
	if next == StateError {
		if current != StateError {
			m.lastValid = current
		}
		m.err = cause
	} else {
		m.lastValid = next
		m.err = nil
	}
	m.state = next
	m.generation++
	m.cancelPendingLocked()
	newGen := m.generation
	m.mu.Unlock()

	if next == StateError {
		log.Printf("❌ [ACCOUNT] %s -> %s | Error=%v", current, next, cause)
	} else {
		log.Printf("✅ [ACCOUNT] %s -> %s", current, next)
		if err := m.settings.SetAccountState(m.ctx, int(next)); err != nil {
			log.Printf("⚠️  [ACCOUNT] Could not persist state: %v", err)
		}
	}
	m.states.Set(next)
	m.dispatch(next, newGen)
	return true
}

func (m *Manager) dispatch(state State, gen uint64) {
	switch state {
	case StateRequireCreation:
		m.run(func(ctx context.Context) {
			if _, err := m.auth.AuthToken(ctx); err != nil {
				m.advance(gen, StateError, err)
				return
			}
			m.advance(gen, StatePendingCreation, nil)
		})
	case StatePendingCreation:
		m.waitForCreation(gen)
	case StateRequireTrustline:
		m.run(func(ctx context.Context) {
			if err := m.gateway.EnsureTrustline(ctx); err != nil {
				m.advance(gen, StateError, err)
				return
			}
			m.advance(gen, StateCreationCompleted, nil)
		})
	case StateCreationCompleted, StateError:
	}
}

func (m *Manager) run(fn func(ctx context.Context)) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
}

// waitForCreation races the chain creation event against the creation timer.
// Whichever claims the attempt first cancels the other.
func (m *Manager) waitForCreation(gen uint64) {
	timer := time.AfterFunc(m.creationTimeout, func() {
		if !m.claimPending(gen) {
			return
		}
		log.Printf("⏳ [ACCOUNT] Creation event not received after %s, checking balance", m.creationTimeout)
		m.run(func(ctx context.Context) {
			m.creationFallback(ctx, gen)
		})
	})

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		timer.Stop()
		return
	}
	m.pendingTimer = timer
	m.mu.Unlock()

	reg := m.gateway.WatchAccountCreation(func() {
		if !m.claimPending(gen) {
			return
		}
		m.advance(gen, StateRequireTrustline, nil)
	})

	m.mu.Lock()
	if gen != m.generation || m.pendingClaimed {
		m.mu.Unlock()
		reg.Remove()
		return
	}
	m.pendingReg = reg
	m.mu.Unlock()
}

// creationFallback decides from a direct balance query whether the account exists.
func (m *Manager) creationFallback(ctx context.Context, gen uint64) {
	_, err := m.gateway.RefreshBalance(ctx)
	switch {
	case err == nil, errors.Is(err, apperrors.ErrAccountNotActivated):
		m.advance(gen, StateRequireTrustline, nil)
	default:
		m.advance(gen, StateError, apperrors.Blockchain(apperrors.CodeAccountCreationTimeout, "account creation timed out", err))
	}
}

func (m *Manager) claimPending(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation || m.pendingClaimed {
		return false
	}
	m.pendingClaimed = true
	if m.pendingTimer != nil {
		m.pendingTimer.Stop()
		m.pendingTimer = nil
	}
	if m.pendingReg != nil {
		m.pendingReg.Remove()
		m.pendingReg = nil
	}
	return true
}

func (m *Manager) cancelPendingLocked() {
	if m.pendingTimer != nil {
		m.pendingTimer.Stop()
		m.pendingTimer = nil
	}
	if m.pendingReg != nil {
		m.pendingReg.Remove()
		m.pendingReg = nil
	}
	m.pendingClaimed = false
}

package rental

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Logger defines the logging interface used by the Manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Listener receives lease lifecycle events. Implementations must not
// block; they are invoked synchronously on the issuing/finalizing path.
type Listener interface {
	SessionIssued(s *Session)
	SessionReturned(s *Session, overdue bool, location string)
	SessionExpired(s *Session)
}

// finalizeTimeout bounds the storage work done by a firing expiry timer,
// which has no request context of its own.
const finalizeTimeout = 10 * time.Second

// defaultSweepInterval is how often the periodic sweep looks for sessions
// whose deadline passed without their timer firing.
const defaultSweepInterval = time.Minute

// Deps holds the dependencies required by the Manager.
type Deps struct {
	Slots    SlotRepository
	Sessions SessionRepository
	Nonces   NonceLedger
	Logger   Logger

	// TTL overrides SessionTTL. Only tests should set this.
	TTL time.Duration

	// SweepInterval overrides the periodic expiry sweep cadence.
	SweepInterval time.Duration
}

// Manager owns the rental-session lease protocol: nonce-gated acquisition,
// session-key issuance, expiry scheduling, authorization, and return.
//
// Expiry uses two cooperating mechanisms. Each session gets an in-process
// timer armed for its deadline, and a periodic sweep re-checks persisted
// deadlines so that sessions outlive the process that issued them: on
// startup every active session's deadline is recomputed from its persisted
// start timestamp and re-armed (or expired immediately if already past).
//
// Mutual exclusion between timer-fire and explicit return is not a lock:
// both paths funnel through a conditional write guarded by returned=0 in
// the session store, and only the single winner releases the slot.
type Manager struct {
	slots    SlotRepository
	sessions SessionRepository
	nonces   NonceLedger

	ttl           time.Duration
	sweepInterval time.Duration
	logger        Logger

	timers  map[string]*time.Timer
	timerMu sync.Mutex

	listeners  []Listener
	listenerMu sync.RWMutex
}

// NewManager creates a new lease manager. The manager does not expire
// anything until Start() is called.
func NewManager(deps Deps) (*Manager, error) {
	if deps.Slots == nil {
		return nil, fmt.Errorf("slot repository is required")
	}
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session repository is required")
	}
	if deps.Nonces == nil {
		return nil, fmt.Errorf("nonce ledger is required")
	}

	m := &Manager{
		slots:         deps.Slots,
		sessions:      deps.Sessions,
		nonces:        deps.Nonces,
		ttl:           deps.TTL,
		sweepInterval: deps.SweepInterval,
		logger:        deps.Logger,
		timers:        make(map[string]*time.Timer),
	}
	if m.ttl <= 0 {
		m.ttl = SessionTTL
	}
	if m.sweepInterval <= 0 {
		m.sweepInterval = defaultSweepInterval
	}
	if m.logger == nil {
		m.logger = noopLogger{}
	}
	return m, nil
}

// AddListener registers a lease lifecycle listener.
func (m *Manager) AddListener(l Listener) {
	m.listenerMu.Lock()
	defer m.listenerMu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Start re-arms expiry deadlines for all persisted active sessions and
// launches the periodic sweep. Sessions whose deadline passed while the
// process was down are expired immediately.
func (m *Manager) Start(ctx context.Context) error {
	sessions, err := m.sessions.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("loading active sessions: %w", err)
	}

	now := time.Now()
	rearmed, expired := 0, 0
	for i := range sessions {
		s := sessions[i]
		remaining := s.StartTS.Add(m.ttl).Sub(now)
		if remaining <= 0 {
			m.expire(s.Key)
			expired++
			continue
		}
		m.armTimer(s.Key, remaining)
		rearmed++
	}

	m.logger.Info("expiry deadlines re-armed",
		"active", rearmed,
		"expired_on_startup", expired,
	)

	go m.sweepLoop(ctx)
	return nil
}

// Stop cancels all pending expiry timers. Deadlines are recomputed from
// persisted state on the next Start().
func (m *Manager) Stop() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	for key, t := range m.timers {
		t.Stop()
		delete(m.timers, key)
	}
}

// Acquire runs the session acquisition protocol:
//
//  1. Consume the QR nonce (ErrNonceUsed on replay).
//  2. Reserve the slot (ErrSlotNotFound / ErrSlotUnavailable).
//  3. Issue a session key, persist the session, arm the expiry timer.
//
// Once the nonce is consumed the attempt is final: a failure after step 1
// does not refund the nonce, it releases the slot (if reserved) and fails
// the whole request. The rider must scan a fresh QR label.
func (m *Manager) Acquire(ctx context.Context, userID, slotID, nonce string) (*Session, error) {
	if err := m.nonces.Consume(ctx, nonce); err != nil {
		return nil, err
	}

	deviceID, err := m.slots.Reserve(ctx, slotID)
	if err != nil {
		return nil, err
	}

	key, err := NewSessionKey()
	if err != nil {
		m.compensateReserve(ctx, slotID)
		return nil, err
	}

	sess := &Session{
		Key:      key,
		UserID:   userID,
		SlotID:   slotID,
		DeviceID: deviceID,
		StartTS:  time.Now(),
	}
	if err := m.sessions.Create(ctx, sess); err != nil {
		m.compensateReserve(ctx, slotID)
		return nil, err
	}

	m.armTimer(key, m.ttl)

	m.logger.Info("session issued",
		"slot_id", slotID,
		"device_id", deviceID,
		"user_id", userID,
		"key_prefix", keyPrefix(key),
	)
	m.notify(func(l Listener) { l.SessionIssued(sess) })

	return sess, nil
}

// Authorize reports whether the session key currently entitles its holder
// to command the lock. Pure read, no side effects: granted iff a session
// record exists for the key and it has not been finalized.
func (m *Manager) Authorize(ctx context.Context, key string) (bool, error) {
	sess, err := m.sessions.GetByKey(ctx, key)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	return !sess.Returned, nil
}

// Return finalizes the session identified by key: cancels its expiry
// timer, computes overdue status, marks it returned, and releases the
// slot. The location observation is opaque; it is logged and nothing more.
//
// Returns ErrSessionNotFound if the key is unknown or the session already
// expired via timer, and ErrAlreadyReturned on a double return.
func (m *Manager) Return(ctx context.Context, key, location string) (*ReturnResult, error) {
	return m.finalize(ctx, key, location, time.Now())
}

// finalize is Return with an explicit clock, so the overdue boundary is
// testable without a 48-hour wait.
func (m *Manager) finalize(ctx context.Context, key, location string, now time.Time) (*ReturnResult, error) {
	sess, err := m.sessions.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	if sess.Returned {
		return nil, ErrAlreadyReturned
	}

	overdue := now.Sub(sess.StartTS) > m.ttl

	won, err := m.sessions.FinalizeReturn(ctx, key, now, overdue)
	if err != nil {
		return nil, err
	}
	if !won {
		// Lost the finalization race. Distinguish a concurrent return
		// (record persists, returned=1) from a timer expiry (record gone).
		if _, err := m.sessions.GetByKey(ctx, key); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyReturned
	}

	m.cancelTimer(key)

	// The lease is durably finalized at this point. A slot-release failure
	// leaves the slot stuck active until an operator intervenes, but must
	// not un-return the session, so it is logged rather than propagated.
	if err := m.slots.Release(ctx, sess.SlotID); err != nil {
		m.logger.Error("releasing slot after return", "slot_id", sess.SlotID, "error", err)
	}

	m.logger.Info("session returned",
		"slot_id", sess.SlotID,
		"user_id", sess.UserID,
		"overdue", overdue,
		"location", location,
		"key_prefix", keyPrefix(key),
	)
	m.notify(func(l Listener) { l.SessionReturned(sess, overdue, location) })

	return &ReturnResult{Returned: true, Overdue: overdue}, nil
}

// expire is the timer/sweep path. It deletes the session record (if still
// active) and releases the slot. Storage failures here are logged as
// errors and not retried; the periodic sweep funnels through this same
// conditional delete, so a later pass finishes the job without ever
// double-finalizing.
func (m *Manager) expire(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()

	m.cancelTimer(key)

	sess, err := m.sessions.GetByKey(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			m.logger.Error("expiry: loading session", "key_prefix", keyPrefix(key), "error", err)
		}
		return
	}
	if sess.Returned {
		return
	}

	won, err := m.sessions.DeleteIfActive(ctx, key)
	if err != nil {
		m.logger.Error("expiry: deleting session", "key_prefix", keyPrefix(key), "error", err)
		return
	}
	if !won {
		return // a concurrent return finalized first
	}

	if err := m.slots.Release(ctx, sess.SlotID); err != nil {
		m.logger.Error("expiry: releasing slot", "slot_id", sess.SlotID, "error", err)
		return
	}

	m.logger.Info("session expired",
		"slot_id", sess.SlotID,
		"user_id", sess.UserID,
		"key_prefix", keyPrefix(key),
	)
	m.notify(func(l Listener) { l.SessionExpired(sess) })
}

// sweepLoop periodically expires sessions whose deadline passed without a
// timer firing (lost timers, clock adjustments, missed startup re-arm).
func (m *Manager) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.expireDue(ctx)
		}
	}
}

// expireDue expires every active session whose deadline has passed.
func (m *Manager) expireDue(ctx context.Context) {
	sessions, err := m.sessions.ListActive(ctx)
	if err != nil {
		m.logger.Error("expiry sweep: listing sessions", "error", err)
		return
	}

	now := time.Now()
	for i := range sessions {
		s := sessions[i]
		if !now.Before(s.StartTS.Add(m.ttl)) {
			m.expire(s.Key)
		}
	}
}

// compensateReserve releases a slot reserved by an acquisition attempt
// that failed before its session was persisted, so the slot is not
// stranded active with no owning session.
func (m *Manager) compensateReserve(ctx context.Context, slotID string) {
	if err := m.slots.Release(ctx, slotID); err != nil {
		m.logger.Error("rolling back slot reservation", "slot_id", slotID, "error", err)
	}
}

// armTimer schedules expiry for a session, replacing any existing timer.
func (m *Manager) armTimer(key string, d time.Duration) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if t, ok := m.timers[key]; ok {
		t.Stop()
	}
	m.timers[key] = time.AfterFunc(d, func() { m.expire(key) })
}

// cancelTimer stops and forgets a session's expiry timer, if armed.
func (m *Manager) cancelTimer(key string) {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if t, ok := m.timers[key]; ok {
		t.Stop()
		delete(m.timers, key)
	}
}

// notify invokes fn for each registered listener.
func (m *Manager) notify(fn func(Listener)) {
	m.listenerMu.RLock()
	defer m.listenerMu.RUnlock()
	for _, l := range m.listeners {
		fn(l)
	}
}

// keyPrefix returns a loggable prefix of a session key. Full keys are
// bearer credentials and must never reach the logs.
func keyPrefix(key string) string {
	const n = 6
	if len(key) <= n {
		return key
	}
	return key[:n] + "..."
}

package rental

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// newTestManager builds a Manager over a fresh test database. Repos in
// deps are filled in; TTL and SweepInterval pass through.
func newTestManager(t *testing.T, deps Deps) (*Manager, *sql.DB) {
	t.Helper()

	db := setupTestDB(t)
	deps.Slots = NewSlotRepository(db)
	deps.Sessions = NewSessionRepository(db)
	deps.Nonces = NewNonceLedger(db)

	m, err := NewManager(deps)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	t.Cleanup(m.Stop)

	return m, db
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// eventRecorder captures lease lifecycle events for assertions.
type eventRecorder struct {
	mu       sync.Mutex
	issued   []string
	returned []string
	expired  []string
}

func (r *eventRecorder) SessionIssued(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued = append(r.issued, s.Key)
}

func (r *eventRecorder) SessionReturned(s *Session, overdue bool, location string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.returned = append(r.returned, s.Key)
}

func (r *eventRecorder) SessionExpired(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.expired = append(r.expired, s.Key)
}

func (r *eventRecorder) counts() (issued, returned, expired int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.issued), len(r.returned), len(r.expired)
}

func TestManager_Acquire(t *testing.T) {
	m, db := newTestManager(t, Deps{})
	seedSlot(t, db, "A3", "lock-a3", SlotAvailable)

	sess, err := m.Acquire(testCtx(), "user-1", "A3", "nonce-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	if len(sess.Key) != 24 {
		t.Errorf("expected 24-character session key, got %q", sess.Key)
	}
	if sess.DeviceID != "lock-a3" {
		t.Errorf("expected device lock-a3, got %s", sess.DeviceID)
	}
	if sess.UserID != "user-1" || sess.SlotID != "A3" {
		t.Errorf("unexpected session: %+v", sess)
	}
	if got := slotStatus(t, db, "A3"); got != SlotActive {
		t.Errorf("expected slot active after acquire, got %s", got)
	}

	// The session is durably persisted.
	stored, err := m.sessions.GetByKey(testCtx(), sess.Key)
	if err != nil {
		t.Fatalf("stored session missing: %v", err)
	}
	if stored.Returned {
		t.Error("fresh session must not be returned")
	}
}

func TestManager_Acquire_NonceReplay(t *testing.T) {
	m, db := newTestManager(t, Deps{})
	seedSlot(t, db, "A3", "lock-a3", SlotAvailable)
	seedSlot(t, db, "B1", "lock-b1", SlotAvailable)

	if _, err := m.Acquire(testCtx(), "user-1", "A3", "nonce-1"); err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	// Same nonce against a different, free slot: still rejected.
	if _, err := m.Acquire(testCtx(), "user-2", "B1", "nonce-1"); !errors.Is(err, ErrNonceUsed) {
		t.Errorf("expected ErrNonceUsed, got %v", err)
	}
	if got := slotStatus(t, db, "B1"); got != SlotAvailable {
		t.Errorf("failed acquire must not hold slot, got %s", got)
	}
}

func TestManager_Acquire_SlotConflicts(t *testing.T) {
	m, db := newTestManager(t, Deps{})
	seedSlot(t, db, "A3", "lock-a3", SlotActive)

	// Occupied slot.
	if _, err := m.Acquire(testCtx(), "user-1", "A3", "nonce-1"); !errors.Is(err, ErrSlotUnavailable) {
		t.Errorf("expected ErrSlotUnavailable, got %v", err)
	}

	// Unknown slot.
	if _, err := m.Acquire(testCtx(), "user-1", "ghost", "nonce-2"); !errors.Is(err, ErrSlotNotFound) {
		t.Errorf("expected ErrSlotNotFound, got %v", err)
	}

	// Both failures happened after nonce consumption: the nonces are
	// spent, retrying them fails even though no session was issued.
	seedSlot(t, db, "B1", "lock-b1", SlotAvailable)
	if _, err := m.Acquire(testCtx(), "user-1", "B1", "nonce-1"); !errors.Is(err, ErrNonceUsed) {
		t.Errorf("expected spent nonce after failed acquire, got %v", err)
	}
	if _, err := m.Acquire(testCtx(), "user-1", "B1", "nonce-2"); !errors.Is(err, ErrNonceUsed) {
		t.Errorf("expected spent nonce after failed acquire, got %v", err)
	}
}

func TestManager_Authorize(t *testing.T) {
	m, db := newTestManager(t, Deps{})
	seedSlot(t, db, "A3", "lock-a3", SlotAvailable)

	// Unknown key: denied, not an error.
	ok, err := m.Authorize(testCtx(), "no-such-key")
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if ok {
		t.Error("unknown key must be denied")
	}

	sess, err := m.Acquire(testCtx(), "user-1", "A3", "nonce-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	ok, err = m.Authorize(testCtx(), sess.Key)
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if !ok {
		t.Error("live session must be granted")
	}

	// Authorize is a pure read: the session and slot are untouched.
	ok, err = m.Authorize(testCtx(), sess.Key)
	if err != nil || !ok {
		t.Errorf("repeat authorize: got %v, %v", ok, err)
	}
	if got := slotStatus(t, db, "A3"); got != SlotActive {
		t.Errorf("authorize must not change slot state, got %s", got)
	}

	if _, err := m.Return(testCtx(), sess.Key, ""); err != nil {
		t.Fatalf("return failed: %v", err)
	}

	ok, err = m.Authorize(testCtx(), sess.Key)
	if err != nil {
		t.Fatalf("authorize failed: %v", err)
	}
	if ok {
		t.Error("returned session must be denied")
	}
}

func TestManager_Return(t *testing.T) {
	m, db := newTestManager(t, Deps{})
	seedSlot(t, db, "A3", "lock-a3", SlotAvailable)

	sess, err := m.Acquire(testCtx(), "user-1", "A3", "nonce-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	res, err := m.Return(testCtx(), sess.Key, "51.5074,-0.1278")
	if err != nil {
		t.Fatalf("return failed: %v", err)
	}
	if !res.Returned || res.Overdue {
		t.Errorf("expected on-time return, got %+v", res)
	}
	if got := slotStatus(t, db, "A3"); got != SlotAvailable {
		t.Errorf("expected slot released, got %s", got)
	}

	// Double return.
	if _, err := m.Return(testCtx(), sess.Key, ""); !errors.Is(err, ErrAlreadyReturned) {
		t.Errorf("expected ErrAlreadyReturned, got %v", err)
	}

	// Unknown key.
	if _, err := m.Return(testCtx(), "no-such-key", ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}

	// The slot is immediately rentable again.
	if _, err := m.Acquire(testCtx(), "user-2", "A3", "nonce-2"); err != nil {
		t.Errorf("re-acquire after return failed: %v", err)
	}
}

func TestManager_Return_OverdueBoundary(t *testing.T) {
	m, db := newTestManager(t, Deps{})
	seedSlot(t, db, "A3", "lock-a3", SlotAvailable)
	seedSlot(t, db, "B1", "lock-b1", SlotAvailable)

	tests := []struct {
		name    string
		slot    string
		nonce   string
		late    time.Duration
		overdue bool
	}{
		{"exactly at deadline", "A3", "n1", 0, false},
		{"one millisecond past", "B1", "n2", time.Millisecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := m.Acquire(testCtx(), "user-1", tt.slot, tt.nonce)
			if err != nil {
				t.Fatalf("acquire failed: %v", err)
			}

			// Use the persisted start: it is the authoritative clock for
			// the deadline, truncated to milliseconds by storage.
			stored, err := m.sessions.GetByKey(testCtx(), sess.Key)
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}

			now := stored.StartTS.Add(m.ttl).Add(tt.late)
			res, err := m.finalize(testCtx(), sess.Key, "", now)
			if err != nil {
				t.Fatalf("finalize failed: %v", err)
			}
			if res.Overdue != tt.overdue {
				t.Errorf("expected overdue=%v at deadline%+v, got %v",
					tt.overdue, tt.late, res.Overdue)
			}
		})
	}
}

func TestManager_TimerExpiry(t *testing.T) {
	rec := &eventRecorder{}
	m, db := newTestManager(t, Deps{TTL: 50 * time.Millisecond})
	m.AddListener(rec)
	seedSlot(t, db, "A3", "lock-a3", SlotAvailable)

	sess, err := m.Acquire(testCtx(), "user-1", "A3", "nonce-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	waitFor(t, time.Second, func() bool {
		_, err := m.sessions.GetByKey(testCtx(), sess.Key)
		return errors.Is(err, ErrSessionNotFound)
	}, "session to expire")

	// Expiry erases the record and frees the slot.
	if got := slotStatus(t, db, "A3"); got != SlotAvailable {
		t.Errorf("expected slot released after expiry, got %s", got)
	}

	ok, err := m.Authorize(testCtx(), sess.Key)
	if err != nil || ok {
		t.Errorf("expired key must be denied: got %v, %v", ok, err)
	}
	if _, err := m.Return(testCtx(), sess.Key, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound on post-expiry return, got %v", err)
	}

	_, _, expired := rec.counts()
	if expired != 1 {
		t.Errorf("expected 1 expired event, got %d", expired)
	}
}

func TestManager_ReturnExpiryRace(t *testing.T) {
	const ttl = 40 * time.Millisecond
	const slots = 10

	m, db := newTestManager(t, Deps{TTL: ttl})
	for i := 0; i < slots; i++ {
		seedSlot(t, db, fmt.Sprintf("S%02d", i), fmt.Sprintf("lock-%02d", i), SlotAvailable)
	}

	keys := make([]string, slots)
	for i := 0; i < slots; i++ {
		sess, err := m.Acquire(testCtx(), "user-1",
			fmt.Sprintf("S%02d", i), fmt.Sprintf("nonce-%02d", i))
		if err != nil {
			t.Fatalf("acquire %d failed: %v", i, err)
		}
		keys[i] = sess.Key
	}

	// Fire returns spread across the expiry deadline so some land before
	// the timer and some collide with or trail it.
	returnOK := make([]bool, slots)
	var wg sync.WaitGroup
	for i := 0; i < slots; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			time.Sleep(time.Duration(i) * 8 * time.Millisecond)
			_, err := m.Return(testCtx(), keys[i], "")
			switch {
			case err == nil:
				returnOK[i] = true
			case errors.Is(err, ErrSessionNotFound), errors.Is(err, ErrAlreadyReturned):
			default:
				t.Errorf("session %d: unexpected return error: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	// Let any in-flight timers finish.
	time.Sleep(150 * time.Millisecond)

	for i := 0; i < slots; i++ {
		stored, err := m.sessions.GetByKey(testCtx(), keys[i])
		switch {
		case errors.Is(err, ErrSessionNotFound):
			// Expiry won. The explicit return must not also have claimed it.
			if returnOK[i] {
				t.Errorf("session %d: both return and expiry finalized", i)
			}
		case err != nil:
			t.Errorf("session %d: get failed: %v", i, err)
		default:
			// Return won. The record persists, finalized exactly once.
			if !stored.Returned {
				t.Errorf("session %d: still active after race window", i)
			}
			if !returnOK[i] {
				t.Errorf("session %d: returned record but Return call lost", i)
			}
		}

		// Either way the slot ends up free.
		if got := slotStatus(t, db, fmt.Sprintf("S%02d", i)); got != SlotAvailable {
			t.Errorf("slot S%02d: expected available after race, got %s", i, got)
		}
	}
}

func TestManager_Start_RearmsPersistedDeadlines(t *testing.T) {
	const ttl = 60 * time.Millisecond

	rec := &eventRecorder{}
	m, db := newTestManager(t, Deps{TTL: ttl})
	m.AddListener(rec)

	seedSlot(t, db, "STALE", "lock-1", SlotActive)
	seedSlot(t, db, "LIVE", "lock-2", SlotActive)

	// Persisted sessions from a previous process: one past its deadline,
	// one with half its lease remaining.
	now := time.Now()
	stale := &Session{Key: "stale-key", UserID: "u", SlotID: "STALE",
		DeviceID: "lock-1", StartTS: now.Add(-2 * ttl)}
	live := &Session{Key: "live-key", UserID: "u", SlotID: "LIVE",
		DeviceID: "lock-2", StartTS: now.Add(-ttl / 2)}
	for _, s := range []*Session{stale, live} {
		if err := m.sessions.Create(testCtx(), s); err != nil {
			t.Fatalf("seed session failed: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(testCtx())
	t.Cleanup(cancel)
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	// The stale session expires during startup.
	if _, err := m.sessions.GetByKey(testCtx(), "stale-key"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected stale session expired on startup, got %v", err)
	}
	if got := slotStatus(t, db, "STALE"); got != SlotAvailable {
		t.Errorf("expected stale slot released, got %s", got)
	}

	// The live session survives startup with its original deadline.
	if _, err := m.sessions.GetByKey(testCtx(), "live-key"); err != nil {
		t.Errorf("live session must survive startup: %v", err)
	}

	// And its re-armed timer fires at the persisted deadline, not a
	// fresh full lease from boot.
	waitFor(t, time.Second, func() bool {
		_, err := m.sessions.GetByKey(testCtx(), "live-key")
		return errors.Is(err, ErrSessionNotFound)
	}, "re-armed session to expire")
	if got := slotStatus(t, db, "LIVE"); got != SlotAvailable {
		t.Errorf("expected live slot released after re-armed expiry, got %s", got)
	}

	_, _, expired := rec.counts()
	if expired != 2 {
		t.Errorf("expected 2 expired events, got %d", expired)
	}
}

func TestManager_Sweep_RecoversLostTimers(t *testing.T) {
	m, db := newTestManager(t, Deps{
		TTL:           30 * time.Millisecond,
		SweepInterval: 20 * time.Millisecond,
	})
	seedSlot(t, db, "A3", "lock-a3", SlotAvailable)

	ctx, cancel := context.WithCancel(testCtx())
	t.Cleanup(cancel)
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	sess, err := m.Acquire(testCtx(), "user-1", "A3", "nonce-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	// Drop the in-process timer. The sweep alone must still expire the
	// session from its persisted deadline.
	m.Stop()

	waitFor(t, time.Second, func() bool {
		_, err := m.sessions.GetByKey(testCtx(), sess.Key)
		return errors.Is(err, ErrSessionNotFound)
	}, "sweep to expire session")

	if got := slotStatus(t, db, "A3"); got != SlotAvailable {
		t.Errorf("expected slot released by sweep, got %s", got)
	}
}

func TestManager_Stop_CancelsTimers(t *testing.T) {
	m, db := newTestManager(t, Deps{TTL: 40 * time.Millisecond})
	seedSlot(t, db, "A3", "lock-a3", SlotAvailable)

	sess, err := m.Acquire(testCtx(), "user-1", "A3", "nonce-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	m.Stop()
	time.Sleep(120 * time.Millisecond)

	// No sweep is running and the timer was cancelled: the session
	// persists until the next Start recomputes its deadline.
	if _, err := m.sessions.GetByKey(testCtx(), sess.Key); err != nil {
		t.Errorf("session must persist after Stop: %v", err)
	}
	if got := slotStatus(t, db, "A3"); got != SlotActive {
		t.Errorf("slot must stay active after Stop, got %s", got)
	}
}

func TestManager_Listeners(t *testing.T) {
	rec := &eventRecorder{}
	m, db := newTestManager(t, Deps{})
	m.AddListener(rec)
	seedSlot(t, db, "A3", "lock-a3", SlotAvailable)

	sess, err := m.Acquire(testCtx(), "user-1", "A3", "nonce-1")
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}
	if _, err := m.Return(testCtx(), sess.Key, ""); err != nil {
		t.Fatalf("return failed: %v", err)
	}

	issued, returned, expired := rec.counts()
	if issued != 1 || returned != 1 || expired != 0 {
		t.Errorf("expected 1 issued, 1 returned, 0 expired; got %d, %d, %d",
			issued, returned, expired)
	}
}

func TestNewManager_RequiresDeps(t *testing.T) {
	db := setupTestDB(t)
	slots := NewSlotRepository(db)
	sessions := NewSessionRepository(db)
	nonces := NewNonceLedger(db)

	tests := []struct {
		name string
		deps Deps
	}{
		{"missing slots", Deps{Sessions: sessions, Nonces: nonces}},
		{"missing sessions", Deps{Slots: slots, Nonces: nonces}},
		{"missing nonces", Deps{Slots: slots, Sessions: sessions}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewManager(tt.deps); err == nil {
				t.Error("expected error for incomplete deps")
			}
		})
	}
}

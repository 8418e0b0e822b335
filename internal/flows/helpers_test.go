package flows

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goPasscode/internal"
	"github.com/MrEthical07/goPasscode/internal/stores"
	"github.com/MrEthical07/goPasscode/jwt"
)

var (
	errNotReady    = errors.New("not ready")
	errInvalidCode = errors.New("invalid or expired code")
	errNotFound    = errors.New("identity not found")
	errConflict    = errors.New("identity conflict")
	errUnavailable = errors.New("identity unavailable")
	errIssue       = errors.New("token issue failed")
	errOTPDown     = errors.New("otp unavailable")
	errReviewerGap = errors.New("reviewer identity missing")
)

var testHMACKey = []byte("0123456789abcdef")

func hashCode(code string) [32]byte {
	return internal.HashCode(testHMACKey, code)
}

func newTestStore(t *testing.T) (*miniredis.Miniredis, *stores.OTPStore) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, stores.NewOTPStore(rdb, "pco")
}

type fakeIdentities struct {
	mu        sync.Mutex
	byKey     map[string]Identity
	hashes    map[string]string
	createErr error
	getErr    error
	creates   int
}

func newFakeIdentities() *fakeIdentities {
	return &fakeIdentities{byKey: map[string]Identity{}, hashes: map[string]string{}}
}

func (f *fakeIdentities) add(key, role string) Identity {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := Identity{ID: "id-" + key, Key: key, Role: role, TokenVersion: 1, CreatedAt: time.Unix(1_700_000_000, 0)}
	f.byKey[key] = id
	return id
}

func (f *fakeIdentities) get(_ context.Context, key string) (Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return Identity{}, f.getErr
	}
	id, ok := f.byKey[key]
	if !ok {
		return Identity{}, errNotFound
	}
	return id, nil
}

func (f *fakeIdentities) create(_ context.Context, key, role, passwordHash string) (Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return Identity{}, f.createErr
	}
	if _, ok := f.byKey[key]; ok {
		return Identity{}, errConflict
	}
	f.creates++
	id := Identity{ID: fmt.Sprintf("id-%d", f.creates), Key: key, Role: role, TokenVersion: 1}
	f.byKey[key] = id
	if passwordHash != "" {
		f.hashes[key] = passwordHash
	}
	return id, nil
}

func (f *fakeIdentities) setHash(_ context.Context, key, hash string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byKey[key]
	if !ok {
		return 0, errNotFound
	}
	f.hashes[key] = hash
	id.TokenVersion++
	f.byKey[key] = id
	return id.TokenVersion, nil
}

func (f *fakeIdentities) updateHash(_ context.Context, key, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.hashes[key]; !ok {
		return errCredential
	}
	f.hashes[key] = hash
	return nil
}

func (f *fakeIdentities) bump(_ context.Context, key string) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byKey[key]
	if !ok {
		return 0, errNotFound
	}
	id.TokenVersion++
	f.byKey[key] = id
	return id.TokenVersion, nil
}

func (f *fakeIdentities) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.byKey)
}

func newTestJWT(t *testing.T, now func() time.Time) *jwt.Manager {
	t.Helper()
	m, err := jwt.NewManager(jwt.Config{
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "passcode",
		Now:           now,
	})
	if err != nil {
		t.Fatalf("new jwt manager: %v", err)
	}
	return m
}

func issueWith(m *jwt.Manager) IssueTokensFunc {
	return func(identity Identity) (jwt.Pair, error) {
		return m.Issue(identity.Key, identity.Role, identity.TokenVersion)
	}
}

type auditRecord struct {
	event   string
	success bool
	key     string
	purpose string
	err     error
	meta    map[string]string
}

type auditLog struct {
	mu      sync.Mutex
	entries []auditRecord
}

func (a *auditLog) emit(_ context.Context, event string, success bool, key, purpose string, err error, metadata func() map[string]string) {
	rec := auditRecord{event: event, success: success, key: key, purpose: purpose, err: err}
	if metadata != nil {
		rec.meta = metadata()
	}
	a.mu.Lock()
	a.entries = append(a.entries, rec)
	a.mu.Unlock()
}

func (a *auditLog) last(t *testing.T) auditRecord {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.entries) == 0 {
		t.Fatal("expected an audit event")
	}
	return a.entries[len(a.entries)-1]
}

func (a *auditLog) find(event string) (auditRecord, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, e := range a.entries {
		if e.event == event {
			return e, true
		}
	}
	return auditRecord{}, false
}

type metricCounts struct {
	mu     sync.Mutex
	counts map[int]int
}

func (m *metricCounts) inc(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = map[int]int{}
	}
	m.counts[id]++
}

func (m *metricCounts) get(id int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[id]
}

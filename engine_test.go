package goPasscode

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/goleak"

	"github.com/MrEthical07/goPasscode/jwt"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.PrivateKey = []byte("0123456789abcdef0123456789abcdef")
	cfg.OTP.HMACKey = []byte("fedcba9876543210")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	cfg.Reviewer = ReviewerConfig{
		Enabled:      true,
		Email:        "review@apple.com",
		ScopePattern: "*@apple.com",
		TTL:          30 * 24 * time.Hour,
		AdminRoles:   []string{RoleAdmin},
	}
	return cfg
}

type testEngine struct {
	*Engine
	mr    *miniredis.Miniredis
	rdb   *redis.Client
	clock *testClock
	sink  *ChannelSink
}

func newTestEngine(t *testing.T, mutate func(*Config)) *testEngine {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	clock := &testClock{now: time.Now().Truncate(time.Second)}
	sink := NewChannelSink(256)
	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithClock(clock.Now).
		WithAuditSink(sink).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}

	t.Cleanup(func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	})
	return &testEngine{Engine: engine, mr: mr, rdb: rdb, clock: clock, sink: sink}
}

func (te *testEngine) addIdentity(t *testing.T, key, role string) {
	t.Helper()
	store := NewRedisIdentityStore(te.rdb, "pci")
	err := store.CreateIdentity(context.Background(), Identity{
		ID:           "id-" + key,
		Key:          key,
		Role:         role,
		TokenVersion: 1,
		CreatedAt:    te.clock.Now(),
	}, nil)
	if err != nil {
		t.Fatalf("create identity %s: %v", key, err)
	}
}

func TestScenarioStandardCodeRegistersThenFails(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	challenge, err := te.RequestOTP(ctx, "new@x.com")
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}
	pair, created, err := te.AuthenticateOrRegisterWithOTP(ctx, "new@x.com", challenge.Code)
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if !created {
		t.Fatal("expected created=true for a fresh email")
	}
	identity, err := te.GetIdentity(ctx, "new@x.com")
	if err != nil {
		t.Fatalf("get identity: %v", err)
	}
	if identity.Role != RoleStandard || identity.TokenVersion != 1 || identity.ID == "" {
		t.Fatalf("unexpected identity %+v", identity)
	}
	result, err := te.ValidateAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("validate access: %v", err)
	}
	if result.IdentityKey != "new@x.com" {
		t.Fatalf("unexpected subject %q", result.IdentityKey)
	}

	if _, _, err := te.AuthenticateOrRegisterWithOTP(ctx, "new@x.com", challenge.Code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected ErrInvalidOrExpiredCode on reuse, got %v", err)
	}

	next, err := te.RequestOTP(ctx, "new@x.com")
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}
	if _, created, err := te.AuthenticateOrRegisterWithOTP(ctx, "new@x.com", next.Code); err != nil || created {
		t.Fatalf("expected login with created=false, got created=%v err=%v", created, err)
	}
}

func TestScenarioReviewerGrantRedeemRevoke(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.addIdentity(t, "boss@x.com", RoleAdmin)

	grant, err := te.GrantReviewerOTP(ctx, "boss@x.com")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	if grant.IdentityKey != "review@apple.com" || grant.Scope != "*@apple.com" {
		t.Fatalf("unexpected grant %+v", grant)
	}

	pair, created, err := te.AuthenticateOrRegisterWithOTP(ctx, "tester@apple.com", grant.Code)
	if err != nil {
		t.Fatalf("reviewer redeem: %v", err)
	}
	if created {
		t.Fatal("reviewer redemption must not create identities")
	}
	result, err := te.ValidateAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.IdentityKey != "review@apple.com" || result.Role != RoleReviewer {
		t.Fatalf("expected reviewer identity, got %+v", result)
	}
	if _, err := te.GetIdentity(ctx, "tester@apple.com"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("redeeming email must not get an identity, got %v", err)
	}

	reservedPair, created, err := te.AuthenticateOrRegisterWithOTP(ctx, "Review@Apple.com", grant.Code)
	if err != nil || created {
		t.Fatalf("reserved address redeem: created=%v err=%v", created, err)
	}
	if result, err := te.ValidateAccess(reservedPair.AccessToken); err != nil || result.IdentityKey != "review@apple.com" {
		t.Fatalf("expected reviewer session for the reserved address, got %+v err=%v", result, err)
	}

	if _, _, err := te.AuthenticateOrRegisterWithOTP(ctx, "tester@google.com", grant.Code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected out-of-scope email to fail, got %v", err)
	}

	removed, err := te.RevokeReviewerOTP(ctx, "boss@x.com")
	if err != nil || !removed {
		t.Fatalf("revoke: removed=%v err=%v", removed, err)
	}
	if _, _, err := te.AuthenticateOrRegisterWithOTP(ctx, "tester@apple.com", grant.Code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected revoked code to fail, got %v", err)
	}
}

func TestReviewerCodeExpires(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Reviewer.TTL = time.Hour })
	ctx := context.Background()
	te.addIdentity(t, "boss@x.com", RoleAdmin)

	grant, err := te.GrantReviewerOTP(ctx, "boss@x.com")
	if err != nil {
		t.Fatalf("grant: %v", err)
	}
	te.clock.Advance(time.Hour + time.Minute)
	if _, _, err := te.AuthenticateOrRegisterWithOTP(ctx, "tester@apple.com", grant.Code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected expired reviewer code to fail, got %v", err)
	}
}

func TestReviewerGrantRequiresAdmin(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()
	te.addIdentity(t, "user@x.com", RoleStandard)

	if _, err := te.GrantReviewerOTP(ctx, "user@x.com"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := te.RevokeReviewerOTP(ctx, "nobody@x.com"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if got := te.MetricsSnapshot().Counters[MetricReviewerOTPForbidden]; got != 2 {
		t.Fatalf("expected 2 forbidden counts, got %d", got)
	}
}

func TestReviewerDisabled(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Reviewer.Enabled = false })
	if _, err := te.GrantReviewerOTP(context.Background(), "boss@x.com"); !errors.Is(err, ErrReviewerDisabled) {
		t.Fatalf("expected ErrReviewerDisabled, got %v", err)
	}
}

func TestConcurrentRedeemSingleWinner(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	challenge, err := te.RequestOTP(ctx, "race@x.com")
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}

	const n = 16
	var (
		wg      sync.WaitGroup
		success atomic.Int32
		created atomic.Int32
	)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			_, c, err := te.AuthenticateOrRegisterWithOTP(ctx, "race@x.com", challenge.Code)
			if err == nil {
				success.Add(1)
				if c {
					created.Add(1)
				}
				return
			}
			if !errors.Is(err, ErrInvalidOrExpiredCode) {
				t.Errorf("unexpected redeem error: %v", err)
			}
		}()
	}
	wg.Wait()

	if success.Load() != 1 || created.Load() != 1 {
		t.Fatalf("expected one winner that created the identity, got success=%d created=%d", success.Load(), created.Load())
	}
}

func TestSecondRequestInvalidatesFirst(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	first, err := te.RequestOTP(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("first request: %v", err)
	}
	second, err := te.RequestOTP(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("second request: %v", err)
	}
	if first.Code != second.Code {
		if _, _, err := te.AuthenticateOrRegisterWithOTP(ctx, "a@x.com", first.Code); !errors.Is(err, ErrInvalidOrExpiredCode) {
			t.Fatalf("expected first code to be invalid, got %v", err)
		}
	}
	if _, _, err := te.AuthenticateOrRegisterWithOTP(ctx, "a@x.com", second.Code); err != nil {
		t.Fatalf("expected second code to work: %v", err)
	}
}

func TestStandardCodeExpiry(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	challenge, err := te.RequestOTP(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}
	te.clock.Advance(te.Config().OTP.TTL + te.Config().OTP.ClockSkewGrace + time.Second)
	if _, _, err := te.AuthenticateOrRegisterWithOTP(ctx, "a@x.com", challenge.Code); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected expired code to fail, got %v", err)
	}
}

func TestPersistentCodeNeverCreatesIdentity(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.PersistentOTP.Enabled = true
		c.PersistentOTP.Code = "000000"
	})
	ctx := context.Background()

	if _, _, err := te.AuthenticateOrRegisterWithOTP(ctx, "nobody@x.com", "000000"); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected ErrInvalidOrExpiredCode, got %v", err)
	}
	if _, err := te.GetIdentity(ctx, "nobody@x.com"); !errors.Is(err, ErrIdentityNotFound) {
		t.Fatalf("persistent code must not create identities, got %v", err)
	}

	te.addIdentity(t, "dev@x.com", RoleStandard)
	for i := 0; i < 2; i++ {
		if _, created, err := te.AuthenticateOrRegisterWithOTP(ctx, "dev@x.com", "000000"); err != nil || created {
			t.Fatalf("persistent login %d: created=%v err=%v", i, created, err)
		}
	}
}

const persistentRecordRedisKey = "pco:persistent:*"

func buildEngineOn(t *testing.T, rdb *redis.Client, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func withPersistentCode(code string) func(*Config) {
	return func(c *Config) {
		c.PersistentOTP.Enabled = code != ""
		c.PersistentOTP.Code = code
	}
}

func TestPersistentCodeRotationTakesEffectOnBuild(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()

	err := NewRedisIdentityStore(rdb, "pci").CreateIdentity(ctx, Identity{
		ID:           "id-dev",
		Key:          "dev@x.com",
		Role:         RoleStandard,
		TokenVersion: 1,
		CreatedAt:    time.Now(),
	}, nil)
	if err != nil {
		t.Fatalf("create identity: %v", err)
	}

	first := buildEngineOn(t, rdb, withPersistentCode("111111"))
	if _, _, err := first.AuthenticateOrRegisterWithOTP(ctx, "dev@x.com", "111111"); err != nil {
		t.Fatalf("first code: %v", err)
	}

	second := buildEngineOn(t, rdb, withPersistentCode("222222"))
	if _, _, err := second.AuthenticateOrRegisterWithOTP(ctx, "dev@x.com", "222222"); err != nil {
		t.Fatalf("rotated code must redeem: %v", err)
	}
	if _, _, err := second.AuthenticateOrRegisterWithOTP(ctx, "dev@x.com", "111111"); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("retired code must be rejected, got %v", err)
	}

	third := buildEngineOn(t, rdb, withPersistentCode(""))
	if mr.Exists(persistentRecordRedisKey) {
		t.Fatal("expected the disabled development code record to be removed")
	}
	if _, _, err := third.AuthenticateOrRegisterWithOTP(ctx, "dev@x.com", "222222"); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("disabled code must be rejected, got %v", err)
	}
}

func TestSeedPersistentOTPWritesRecordEagerly(t *testing.T) {
	te := newTestEngine(t, withPersistentCode("000000"))
	ctx := context.Background()
	te.addIdentity(t, "dev@x.com", RoleStandard)

	if !te.mr.Exists(persistentRecordRedisKey) {
		t.Fatal("expected Build to seed the development code record")
	}
	te.mr.Del(persistentRecordRedisKey)

	if err := te.SeedPersistentOTP(ctx); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !te.mr.Exists(persistentRecordRedisKey) {
		t.Fatal("expected SeedPersistentOTP to write the record")
	}
	if _, created, err := te.AuthenticateOrRegisterWithOTP(ctx, "dev@x.com", "000000"); err != nil || created {
		t.Fatalf("seeded code: created=%v err=%v", created, err)
	}

	disabled := newTestEngine(t, nil)
	if err := disabled.SeedPersistentOTP(ctx); err != nil {
		t.Fatalf("seed with the code disabled: %v", err)
	}
	if disabled.mr.Exists(persistentRecordRedisKey) {
		t.Fatal("expected no record while the development code is disabled")
	}
}

func TestProductionModeRemovesStoredPersistentCode(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	buildEngineOn(t, rdb, withPersistentCode("000000"))
	if !mr.Exists(persistentRecordRedisKey) {
		t.Fatal("expected the development code record after Build")
	}
	buildEngineOn(t, rdb, func(c *Config) {
		withPersistentCode("000000")(c)
		c.Security.ProductionMode = true
	})
	if mr.Exists(persistentRecordRedisKey) {
		t.Fatal("expected production mode to remove the stored development code")
	}
}

func TestPasswordLoginUpgradesOutdatedHash(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	ctx := context.Background()
	credentials := NewRedisIdentityStore(rdb, "pci")

	old := buildEngineOn(t, rdb, nil)
	if _, err := old.RegisterWithPassword(ctx, "p@x.com", "correct horse battery"); err != nil {
		t.Fatalf("register: %v", err)
	}
	before, err := credentials.GetCredential(ctx, "p@x.com")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}

	upgraded := buildEngineOn(t, rdb, func(c *Config) { c.Password.Time = 2 })
	pair, err := upgraded.LoginWithPassword(ctx, "p@x.com", "correct horse battery")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	after, err := credentials.GetCredential(ctx, "p@x.com")
	if err != nil {
		t.Fatalf("get credential: %v", err)
	}
	if after.PasswordHash == before.PasswordHash || !strings.Contains(after.PasswordHash, ",t=2,") {
		t.Fatalf("expected hash rewritten with t=2, got %q", after.PasswordHash)
	}
	if got := upgraded.MetricsSnapshot().Counters[MetricPasswordRehashed]; got != 1 {
		t.Fatalf("expected one rehash, got %d", got)
	}

	identity, err := upgraded.GetIdentity(ctx, "p@x.com")
	if err != nil || identity.TokenVersion != 1 {
		t.Fatalf("rehash must keep the token version, got %+v err=%v", identity, err)
	}
	if _, err := upgraded.RefreshSession(ctx, pair.RefreshToken); err != nil {
		t.Fatalf("refresh after rehash: %v", err)
	}
	if _, err := upgraded.LoginWithPassword(ctx, "p@x.com", "correct horse battery"); err != nil {
		t.Fatalf("login with upgraded hash: %v", err)
	}
	if got := upgraded.MetricsSnapshot().Counters[MetricPasswordRehashed]; got != 1 {
		t.Fatalf("current hash must not be rehashed again, got %d", got)
	}
}

func TestProductionModeDisablesPersistentCode(t *testing.T) {
	te := newTestEngine(t, func(c *Config) {
		c.PersistentOTP.Enabled = true
		c.PersistentOTP.Code = "000000"
		c.Security.ProductionMode = true
	})
	if te.Config().PersistentOTP.Enabled {
		t.Fatal("expected production mode to force the development code off")
	}

	te.addIdentity(t, "dev@x.com", RoleStandard)
	if _, _, err := te.AuthenticateOrRegisterWithOTP(context.Background(), "dev@x.com", "000000"); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected development code to be rejected, got %v", err)
	}
}

func TestRequestOTPForReservedEmailIsSuppressed(t *testing.T) {
	te := newTestEngine(t, nil)

	challenge, err := te.RequestOTP(context.Background(), "Review@Apple.com")
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}
	if !challenge.Suppressed || challenge.Code != "" {
		t.Fatalf("expected a suppressed challenge, got %+v", challenge)
	}
}

func TestPasswordRegisterLoginAndRevocation(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	pair, err := te.RegisterWithPassword(ctx, "p@x.com", "correct horse battery")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := te.RegisterWithPassword(ctx, "P@x.com", "another long password"); !errors.Is(err, ErrIdentityConflict) {
		t.Fatalf("expected ErrIdentityConflict, got %v", err)
	}
	if _, err := te.RegisterWithPassword(ctx, "review@apple.com", "another long password"); !errors.Is(err, ErrIdentityConflict) {
		t.Fatalf("expected reserved email to conflict, got %v", err)
	}
	if _, err := te.RegisterWithPassword(ctx, "short@x.com", "short"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("expected ErrPasswordPolicy, got %v", err)
	}

	if _, err := te.LoginWithPassword(ctx, "p@x.com", "correct horse battery"); err != nil {
		t.Fatalf("password login: %v", err)
	}
	if _, err := te.LoginWithPassword(ctx, "p@x.com", "wrong password!!"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := te.LoginWithPassword(ctx, "ghost@x.com", "correct horse battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials for unknown identity, got %v", err)
	}

	refreshed, err := te.RefreshSession(ctx, pair.RefreshToken)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}

	if err := te.SetPassword(ctx, "p@x.com", "a brand new password"); err != nil {
		t.Fatalf("set password: %v", err)
	}
	if _, err := te.RefreshSession(ctx, refreshed.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked after password change, got %v", err)
	}
	if _, err := te.LoginWithPassword(ctx, "p@x.com", "correct horse battery"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected old password to fail, got %v", err)
	}

	fresh, err := te.LoginWithPassword(ctx, "p@x.com", "a brand new password")
	if err != nil {
		t.Fatalf("login with new password: %v", err)
	}
	if err := te.RevokeAllSessions(ctx, "p@x.com"); err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if _, err := te.RefreshSession(ctx, fresh.RefreshToken); !errors.Is(err, ErrTokenRevoked) {
		t.Fatalf("expected ErrTokenRevoked after revoke all, got %v", err)
	}
}

func TestLoginFallsBackToCode(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	challenge, err := te.RequestOTP(ctx, "c@x.com")
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}
	if _, err := te.Login(ctx, "c@x.com", challenge.Code); err != nil {
		t.Fatalf("login with code: %v", err)
	}
	if _, err := te.Login(ctx, "c@x.com", challenge.Code); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestRefreshRejectsAccessTokenAndExpiry(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	pair, err := te.RegisterWithPassword(ctx, "r@x.com", "correct horse battery")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := te.RefreshSession(ctx, pair.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}

	te.clock.Advance(te.Config().JWT.RefreshTTL + time.Hour)
	if _, err := te.RefreshSession(ctx, pair.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
	if _, err := te.ValidateAccess(pair.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected expired access token, got %v", err)
	}
}

func TestValidateAccessClaims(t *testing.T) {
	te := newTestEngine(t, nil)
	pair, err := te.RegisterWithPassword(context.Background(), "v@x.com", "correct horse battery")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	result, err := te.ValidateAccess(pair.AccessToken)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Role != RoleStandard || result.TokenVersion != 1 || result.TokenID == "" {
		t.Fatalf("unexpected result %+v", result)
	}
	if !result.ExpiresAt.Equal(pair.AccessExpiresAt) {
		t.Fatalf("expected expiry %v, got %v", pair.AccessExpiresAt, result.ExpiresAt)
	}
	if _, err := te.ValidateAccess(pair.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected refresh token to be rejected, got %v", err)
	}

	hist := te.MetricsSnapshot().Histograms[MetricValidateLatency]
	var total uint64
	for _, n := range hist {
		total += n
	}
	if total != 2 {
		t.Fatalf("expected 2 latency observations, got %d", total)
	}
}

func TestTokensCarryConfiguredIssuer(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.JWT.Issuer = "issuer-x" })
	pair, err := te.RegisterWithPassword(context.Background(), "i@x.com", "correct horse battery")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	m, err := jwt.NewManager(jwt.Config{
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
		SigningMethod: jwt.MethodHS256,
		PrivateKey:    []byte("0123456789abcdef0123456789abcdef"),
		Issuer:        "issuer-x",
		Now:           te.clock.Now,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}
	if _, err := m.Verify(pair.AccessToken, jwt.TokenAccess); err != nil {
		t.Fatalf("expected token to verify with the configured issuer: %v", err)
	}
}

func TestAuditEventsCarryClientIP(t *testing.T) {
	te := newTestEngine(t, func(c *Config) { c.Audit.Enabled = true })
	ctx := WithClientIP(context.Background(), "203.0.113.9")

	if _, err := te.LoginWithPassword(ctx, "ghost@x.com", "whatever password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}

	select {
	case event := <-te.sink.Events():
		if event.EventType != auditEventPasswordLoginFailure || event.IP != "203.0.113.9" || event.Success {
			t.Fatalf("unexpected audit event %+v", event)
		}
		if event.Error != string(auditErrInvalidCredentials) {
			t.Fatalf("unexpected audit error %q", event.Error)
		}
		if event.Metadata["reason"] != "identity_not_found" {
			t.Fatalf("unexpected audit reason %q", event.Metadata["reason"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for audit event")
	}
}

func TestSweepRemovesConsumedAndExpiredCodes(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	used, err := te.RequestOTP(ctx, "used@x.com")
	if err != nil {
		t.Fatalf("request otp: %v", err)
	}
	if _, _, err := te.AuthenticateOrRegisterWithOTP(ctx, "used@x.com", used.Code); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if _, err := te.RequestOTP(ctx, "live@x.com"); err != nil {
		t.Fatalf("request otp: %v", err)
	}

	removed, err := te.SweepExpiredOTPs(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected only the consumed code to be swept, got %d", removed)
	}

	te.clock.Advance(time.Hour)
	removed, err = te.SweepExpiredOTPs(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected the expired code to be swept, got %d", removed)
	}
	if got := te.MetricsSnapshot().Counters[MetricOTPSwept]; got != 2 {
		t.Fatalf("expected swept counter 2, got %d", got)
	}
}

func TestSweeperStopsOnClose(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := testConfig()
	cfg.Sweep.Enabled = true
	cfg.Sweep.Interval = time.Second
	engine, err := New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if err := engine.StartSweeper(context.Background()); !errors.Is(err, ErrSweeperRunning) {
		t.Fatalf("expected ErrSweeperRunning, got %v", err)
	}
	engine.Close()
	engine.Close()
}

func TestNilEngineIsNotReady(t *testing.T) {
	var e *Engine
	if _, err := e.LoginWithPassword(context.Background(), "a@x.com", "pw"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := e.ValidateAccess("token"); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if e.AuditDropped() != 0 {
		t.Fatal("expected zero drops on nil engine")
	}
	e.Close()
}

func TestBuilderRequiresRedisAndSingleUse(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected missing redis to fail")
	}

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	b := New().WithConfig(testConfig()).WithRedis(rdb)
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer engine.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}

	bad := testConfig()
	bad.OTP.HMACKey = nil
	if _, err := New().WithConfig(bad).WithRedis(rdb).Build(); err == nil {
		t.Fatal("expected invalid config to fail")
	}
}

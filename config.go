package goPasscode

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/goPasscode/internal/scope"
)

// Config is the complete engine configuration. Start from [DefaultConfig] and override.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	JWT           JWTConfig
	Password      PasswordConfig
	OTP           OTPConfig
	PersistentOTP PersistentOTPConfig
	Reviewer      ReviewerConfig
	Identity      IdentityConfig
	Sweep         SweepConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
	Security      SecurityConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SigningMethod string // "ed25519" (default) or "hs256"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id cost parameters.
type PasswordConfig struct {
	Memory           uint32
	Time             uint32
	Parallelism      uint8
	SaltLength       uint32
	KeyLength        uint32
	MaxPasswordBytes int
}

/*
====================================
OTP CONFIG
====================================
*/

// OTPConfig controls standard one-time codes.
type OTPConfig struct {
	TTL    time.Duration
	Digits int
	// HMACKey keys the stored code hashes. Required.
	HMACKey []byte
	// ClockSkewGrace is accepted past ExpiresAt, for every purpose.
	ClockSkewGrace time.Duration
	RedisPrefix    string
}

// PersistentOTPConfig holds the development code. It is ignored in production mode.
type PersistentOTPConfig struct {
	Enabled bool
	Code    string
	TTL     time.Duration
}

// ReviewerConfig controls the admin-granted reviewer code.
type ReviewerConfig struct {
	Enabled bool
	// Email is the reserved identity every reviewer redemption authenticates as.
	Email string
	// ScopePattern is a glob over redeeming emails, for example "*@apple.com".
	ScopePattern string
	TTL          time.Duration
	// AdminRoles are the roles allowed to grant and revoke. Ignored when a custom
	// AdminPredicate is installed on the builder.
	AdminRoles []string
}

/*
====================================
IDENTITY / SWEEP CONFIG
====================================
*/

// IdentityConfig applies to the built-in Redis identity store.
type IdentityConfig struct {
	RedisPrefix string
}

// SweepConfig controls the background removal of consumed and expired code records.
type SweepConfig struct {
	Enabled  bool
	Interval time.Duration
}

/*
====================================
AUDIT / METRICS / SECURITY CONFIG
====================================
*/

// AuditConfig controls the asynchronous audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles in-process counters and the validate latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// SecurityConfig groups deployment-wide switches.
type SecurityConfig struct {
	// ProductionMode forces the persistent development code off.
	ProductionMode bool
}

// DefaultConfig returns a configuration with safe defaults. Signing keys, the OTP HMAC
// key and the reviewer email have no defaults.
func DefaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    30 * 24 * time.Hour,
			SigningMethod: "ed25519",
			Issuer:        "passcode",
			Leeway:        30 * time.Second,
		},
		Password: PasswordConfig{
			Memory:           65536,
			Time:             3,
			Parallelism:      2,
			SaltLength:       16,
			KeyLength:        32,
			MaxPasswordBytes: 1024,
		},
		OTP: OTPConfig{
			TTL:            10 * time.Minute,
			Digits:         6,
			ClockSkewGrace: 30 * time.Second,
			RedisPrefix:    "pco",
		},
		PersistentOTP: PersistentOTPConfig{
			Enabled: false,
			TTL:     365 * 24 * time.Hour,
		},
		Reviewer: ReviewerConfig{
			Enabled:    false,
			TTL:        30 * 24 * time.Hour,
			AdminRoles: []string{RoleAdmin},
		},
		Identity: IdentityConfig{
			RedisPrefix: "pci",
		},
		Sweep: SweepConfig{
			Enabled:  false,
			Interval: 10 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	out.OTP.HMACKey = cloneBytes(cfg.OTP.HMACKey)
	out.Reviewer.AdminRoles = append([]string(nil), cfg.Reviewer.AdminRoles...)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch c.JWT.SigningMethod {
	case "ed25519":
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 && len(c.JWT.VerifyKeys) == 0 {
			return errors.New("ed25519 requires PublicKey or VerifyKeys")
		}
	case "hs256":
		if len(c.JWT.PrivateKey) < 32 {
			return errors.New("hs256 requires a PrivateKey of at least 32 bytes")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}

	// Password
	if c.Password.Memory < 8*1024 {
		return errors.New("Password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("Password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("Password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("Password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("Password KeyLength must be >= 16")
	}
	if c.Password.MaxPasswordBytes != 0 && c.Password.MaxPasswordBytes < 10 {
		return errors.New("Password MaxPasswordBytes must be >= 10")
	}

	// OTP
	if c.OTP.TTL <= 0 {
		return errors.New("OTP TTL must be > 0")
	}
	if c.OTP.TTL > time.Hour {
		return errors.New("OTP TTL must be <= 1h")
	}
	if c.OTP.Digits < 6 || c.OTP.Digits > 10 {
		return errors.New("OTP Digits must be between 6 and 10")
	}
	if len(c.OTP.HMACKey) < 16 {
		return errors.New("OTP HMACKey must be at least 16 bytes")
	}
	if c.OTP.ClockSkewGrace < 0 || c.OTP.ClockSkewGrace > 5*time.Minute {
		return errors.New("OTP ClockSkewGrace must be between 0 and 5m")
	}

	// Persistent OTP
	if c.PersistentOTP.Enabled {
		if !isNumericCode(c.PersistentOTP.Code) {
			return errors.New("PersistentOTP Code must be 4 to 10 digits")
		}
		if c.PersistentOTP.TTL <= 0 {
			return errors.New("PersistentOTP TTL must be > 0")
		}
	}

	// Reviewer
	if c.Reviewer.Enabled {
		if !strings.Contains(c.Reviewer.Email, "@") {
			return errors.New("Reviewer Email must be an email address")
		}
		if _, err := scope.Compile(c.Reviewer.ScopePattern); err != nil {
			return errors.New("Reviewer ScopePattern is invalid")
		}
		if c.Reviewer.TTL <= 0 {
			return errors.New("Reviewer TTL must be > 0")
		}
		if len(c.Reviewer.AdminRoles) == 0 {
			return errors.New("Reviewer AdminRoles must not be empty")
		}
	}

	// Redis keyspace
	if redisPrefixesOverlap(orDefault(c.OTP.RedisPrefix, "pco"), orDefault(c.Identity.RedisPrefix, "pci")) {
		return errors.New("OTP RedisPrefix and Identity RedisPrefix must not overlap")
	}

	// Sweep
	if c.Sweep.Enabled && c.Sweep.Interval < time.Second {
		return errors.New("Sweep Interval must be >= 1s")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}

	return nil
}

func isNumericCode(code string) bool {
	if len(code) < 4 || len(code) > 10 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

// redisPrefixesOverlap reports whether a SCAN over one prefix can return keys written
// under the other. Keys are laid out as prefix + ":" + rest.
func redisPrefixesOverlap(a, b string) bool {
	a, b = a+":", b+":"
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

package goPasscode

import (
	"encoding/base64"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// envConfig mirrors the operator-facing subset of Config.
type envConfig struct {
	AccessTTL        time.Duration `env:"PASSCODE_ACCESS_TTL"         envDefault:"15m"`
	RefreshTTL       time.Duration `env:"PASSCODE_REFRESH_TTL"        envDefault:"720h"`
	SigningMethod    string        `env:"PASSCODE_JWT_SIGNING_METHOD" envDefault:"hs256"`
	JWTSecret        string        `env:"PASSCODE_JWT_SECRET"`
	JWTPrivateKeyB64 string        `env:"PASSCODE_JWT_PRIVATE_KEY"`
	JWTPublicKeyB64  string        `env:"PASSCODE_JWT_PUBLIC_KEY"`
	JWTIssuer        string        `env:"PASSCODE_JWT_ISSUER"         envDefault:"passcode"`
	JWTAudience      string        `env:"PASSCODE_JWT_AUDIENCE"`

	OTPTTL         time.Duration `env:"PASSCODE_OTP_TTL"              envDefault:"10m"`
	OTPDigits      int           `env:"PASSCODE_OTP_DIGITS"           envDefault:"6"`
	OTPHMACKey     string        `env:"PASSCODE_OTP_HMAC_KEY"`
	ClockSkewGrace time.Duration `env:"PASSCODE_OTP_CLOCK_SKEW_GRACE" envDefault:"30s"`

	PersistentEnabled bool          `env:"PASSCODE_PERSISTENT_OTP_ENABLED" envDefault:"false"`
	PersistentCode    string        `env:"PASSCODE_PERSISTENT_OTP_CODE"`
	PersistentTTL     time.Duration `env:"PASSCODE_PERSISTENT_OTP_TTL"     envDefault:"8760h"`

	ReviewerEnabled    bool          `env:"PASSCODE_REVIEWER_ENABLED"     envDefault:"false"`
	ReviewerEmail      string        `env:"PASSCODE_REVIEWER_EMAIL"`
	ReviewerScope      string        `env:"PASSCODE_REVIEWER_SCOPE"`
	ReviewerTTL        time.Duration `env:"PASSCODE_REVIEWER_TTL"         envDefault:"720h"`
	ReviewerAdminRoles []string      `env:"PASSCODE_REVIEWER_ADMIN_ROLES" envDefault:"admin" envSeparator:","`

	SweepEnabled  bool          `env:"PASSCODE_SWEEP_ENABLED"  envDefault:"false"`
	SweepInterval time.Duration `env:"PASSCODE_SWEEP_INTERVAL" envDefault:"10m"`

	AuditEnabled   bool `env:"PASSCODE_AUDIT_ENABLED"   envDefault:"false"`
	MetricsEnabled bool `env:"PASSCODE_METRICS_ENABLED" envDefault:"false"`

	ProductionMode bool `env:"PASSCODE_PRODUCTION" envDefault:"false"`
}

// LoadConfigFromEnv builds a Config from PASSCODE_* environment variables on top of
// [DefaultConfig]. The result is not validated; Build does that.
func LoadConfigFromEnv() (Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := DefaultConfig()
	cfg.JWT.AccessTTL = raw.AccessTTL
	cfg.JWT.RefreshTTL = raw.RefreshTTL
	cfg.JWT.SigningMethod = raw.SigningMethod
	cfg.JWT.Issuer = raw.JWTIssuer
	cfg.JWT.Audience = raw.JWTAudience

	switch raw.SigningMethod {
	case "hs256":
		cfg.JWT.PrivateKey = []byte(raw.JWTSecret)
	case "ed25519":
		priv, err := decodeKey("PASSCODE_JWT_PRIVATE_KEY", raw.JWTPrivateKeyB64)
		if err != nil {
			return Config{}, err
		}
		pub, err := decodeKey("PASSCODE_JWT_PUBLIC_KEY", raw.JWTPublicKeyB64)
		if err != nil {
			return Config{}, err
		}
		cfg.JWT.PrivateKey = priv
		cfg.JWT.PublicKey = pub
	}

	cfg.OTP.TTL = raw.OTPTTL
	cfg.OTP.Digits = raw.OTPDigits
	cfg.OTP.HMACKey = []byte(raw.OTPHMACKey)
	cfg.OTP.ClockSkewGrace = raw.ClockSkewGrace

	cfg.PersistentOTP.Enabled = raw.PersistentEnabled
	cfg.PersistentOTP.Code = raw.PersistentCode
	cfg.PersistentOTP.TTL = raw.PersistentTTL

	cfg.Reviewer.Enabled = raw.ReviewerEnabled
	cfg.Reviewer.Email = raw.ReviewerEmail
	cfg.Reviewer.ScopePattern = raw.ReviewerScope
	cfg.Reviewer.TTL = raw.ReviewerTTL
	cfg.Reviewer.AdminRoles = raw.ReviewerAdminRoles

	cfg.Sweep.Enabled = raw.SweepEnabled
	cfg.Sweep.Interval = raw.SweepInterval
	cfg.Audit.Enabled = raw.AuditEnabled
	cfg.Metrics.Enabled = raw.MetricsEnabled
	cfg.Security.ProductionMode = raw.ProductionMode

	return cfg, nil
}

func decodeKey(name, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid base64: %w", name, err)
	}
	return b, nil
}

package stores

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	otpRecordVersionV1 = 1
	otpHashOffset      = 19
	otpSweepBatch      = 200
)

// Purpose partitions OTP records. At most one record exists per (purpose, identity key).
type Purpose uint8

const (
	PurposeStandard   Purpose = 1
	PurposePersistent Purpose = 2
	PurposeReviewer   Purpose = 3
)

func (p Purpose) String() string {
	switch p {
	case PurposeStandard:
		return "standard"
	case PurposePersistent:
		return "persistent"
	case PurposeReviewer:
		return "reviewer"
	default:
		return "unknown"
	}
}

// SingleUse reports whether a successful redeem consumes the record.
func (p Purpose) SingleUse() bool {
	switch p {
	case PurposeStandard:
		return true
	case PurposePersistent, PurposeReviewer:
		return false
	default:
		return true
	}
}

var (
	ErrOTPNotFound         = errors.New("otp record not found")
	ErrOTPExpired          = errors.New("otp record expired")
	ErrOTPMismatch         = errors.New("otp code mismatch")
	ErrOTPRedisUnavailable = errors.New("otp redis unavailable")
)

// redeemOTPLua atomically performs GET→validate→mark-consumed on an OTP record.
// KEYS[1] = record key
// ARGV[1] = provided hash (32 bytes)
// ARGV[2] = expected purpose (byte)
// ARGV[3] = current unix milliseconds
// ARGV[4] = clock skew grace in milliseconds
// ARGV[5] = "1" when the purpose is single use
//
// Returns:
//
//	record bytes (pre-consumption) on success
//	error string: "not_found", "expired", "mismatch"
var redeemOTPLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return {err='not_found'}
end

local providedHash = ARGV[1]
local expectedPurpose = tonumber(ARGV[2])
local nowMs = tonumber(ARGV[3])
local graceMs = tonumber(ARGV[4])

-- version(1) purpose(1) consumed(1) issuedAt(8) expiresAt(8 big-endian ms) hash(32) ...
local version = string.byte(data, 1)
if version ~= 1 then
  redis.call('DEL', KEYS[1])
  return {err='not_found'}
end

local purpose = string.byte(data, 2)
if purpose ~= expectedPurpose then
  return {err='not_found'}
end

if string.byte(data, 3) ~= 0 then
  return {err='not_found'}
end

local e0,e1,e2,e3,e4,e5,e6,e7 = string.byte(data, 12, 19)
local expiresAt = e0
for _, b in ipairs({e1,e2,e3,e4,e5,e6,e7}) do
  expiresAt = expiresAt * 256 + b
end

if nowMs > expiresAt + graceMs then
  return {err='expired'}
end

local storedHash = string.sub(data, 20, 51)
if storedHash ~= providedHash then
  return {err='mismatch'}
end

if ARGV[5] == '1' then
  local ttlMs = redis.call('PTTL', KEYS[1])
  if ttlMs <= 0 then
    return {err='expired'}
  end
  local consumed = string.sub(data, 1, 2) .. string.char(1) .. string.sub(data, 4)
  redis.call('SET', KEYS[1], consumed, 'PX', ttlMs)
end

return data
`)

// restoreOTPLua clears the consumed flag of the exact issuance identified by issuedAt.
// KEYS[1] = record key
// ARGV[1] = issuedAt (8 bytes)
//
// Returns 1 when restored, 0 otherwise.
var restoreOTPLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return 0
end
if string.byte(data, 1) ~= 1 then
  return 0
end
if string.sub(data, 4, 11) ~= ARGV[1] then
  return 0
end
if string.byte(data, 3) == 0 then
  return 0
end
local ttlMs = redis.call('PTTL', KEYS[1])
if ttlMs <= 0 then
  return 0
end
local restored = string.sub(data, 1, 2) .. string.char(0) .. string.sub(data, 4)
redis.call('SET', KEYS[1], restored, 'PX', ttlMs)
return 1
`)

// sweepOTPLua deletes the record if it is consumed or past expiry plus grace.
// KEYS[1] = record key
// ARGV[1] = current unix milliseconds
// ARGV[2] = clock skew grace in milliseconds
var sweepOTPLua = redis.NewScript(`
local data = redis.call('GET', KEYS[1])
if not data then
  return 0
end
if string.byte(data, 1) ~= 1 then
  redis.call('DEL', KEYS[1])
  return 1
end
local e0,e1,e2,e3,e4,e5,e6,e7 = string.byte(data, 12, 19)
local expiresAt = e0
for _, b in ipairs({e1,e2,e3,e4,e5,e6,e7}) do
  expiresAt = expiresAt * 256 + b
end
if string.byte(data, 3) ~= 0 or tonumber(ARGV[1]) > expiresAt + tonumber(ARGV[2]) then
  redis.call('DEL', KEYS[1])
  return 1
end
return 0
`)

type OTPRecord struct {
	IdentityKey string
	Purpose     Purpose
	CodeHash    [32]byte
	IssuedAt    time.Time
	ExpiresAt   time.Time
	Consumed    bool
	Scope       string
}

type OTPStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewOTPStore(redisClient redis.UniversalClient, prefix string) *OTPStore {
	if prefix == "" {
		prefix = "pco"
	}
	return &OTPStore{
		redis:  redisClient,
		prefix: prefix,
	}
}

func (s *OTPStore) key(purpose Purpose, identityKey string) string {
	return s.prefix + ":" + purpose.String() + ":" + identityKey
}

// Put stores record, replacing any record for the same purpose and identity key. The
// Redis key outlives ExpiresAt by retention so that late redeems still report expiry.
func (s *OTPStore) Put(ctx context.Context, record *OTPRecord, retention time.Duration) error {
	encoded, err := encodeOTPRecord(record)
	if err != nil {
		return err
	}

	ttl := record.ExpiresAt.Sub(record.IssuedAt) + retention
	if ttl <= 0 {
		ttl = time.Second
	}
	if err := s.redis.Set(ctx, s.key(record.Purpose, record.IdentityKey), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}

	return nil
}

// Redeem validates providedHash against the stored record and, for single-use purposes,
// marks it consumed in the same atomic step. Concurrent redeems of one standard record
// succeed at most once.
func (s *OTPStore) Redeem(
	ctx context.Context,
	purpose Purpose,
	identityKey string,
	providedHash [32]byte,
	now time.Time,
	grace time.Duration,
) (*OTPRecord, error) {
	result, err := redeemOTPLua.Run(ctx, s.redis,
		[]string{s.key(purpose, identityKey)},
		string(providedHash[:]),
		int(purpose),
		now.UnixMilli(),
		grace.Milliseconds(),
		singleUseArg(purpose),
	).Result()

	if err != nil {
		switch err.Error() {
		case "not_found":
			return nil, ErrOTPNotFound
		case "expired":
			return nil, ErrOTPExpired
		case "mismatch":
			return nil, ErrOTPMismatch
		default:
			return nil, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
		}
	}

	data, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected lua result type", ErrOTPRedisUnavailable)
	}

	record, decErr := decodeOTPRecord([]byte(data))
	if decErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, decErr)
	}

	// Lua string comparison is not constant time.
	if subtle.ConstantTimeCompare(record.CodeHash[:], providedHash[:]) != 1 {
		return nil, ErrOTPMismatch
	}

	return record, nil
}

func singleUseArg(p Purpose) string {
	if p.SingleUse() {
		return "1"
	}
	return "0"
}

// Restore reverts a consumption performed by Redeem. It is a no-op when the record was
// replaced, deleted or never consumed.
func (s *OTPStore) Restore(ctx context.Context, record *OTPRecord) (bool, error) {
	var issued [8]byte
	binary.BigEndian.PutUint64(issued[:], uint64(record.IssuedAt.UnixNano()))

	n, err := restoreOTPLua.Run(ctx, s.redis,
		[]string{s.key(record.Purpose, record.IdentityKey)},
		string(issued[:]),
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return n == 1, nil
}

// Get returns the stored record regardless of its consumed or expiry state.
func (s *OTPStore) Get(ctx context.Context, purpose Purpose, identityKey string) (*OTPRecord, error) {
	data, err := s.redis.Get(ctx, s.key(purpose, identityKey)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrOTPNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}

	return decodeOTPRecord(data)
}

// Delete removes the record and reports whether one existed.
func (s *OTPStore) Delete(ctx context.Context, purpose Purpose, identityKey string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(purpose, identityKey)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
	}
	return n > 0, nil
}

// Sweep removes consumed and expired records under the store prefix and returns how many
// were deleted. Each key is re-checked atomically before deletion.
func (s *OTPStore) Sweep(ctx context.Context, now time.Time, grace time.Duration) (int, error) {
	var (
		cursor  uint64
		removed int
	)
	nowMs := now.UnixMilli()

	for {
		keys, next, err := s.redis.Scan(ctx, cursor, s.prefix+":*", otpSweepBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
		}
		for _, key := range keys {
			n, err := sweepOTPLua.Run(ctx, s.redis, []string{key}, nowMs, grace.Milliseconds()).Int()
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrOTPRedisUnavailable, err)
			}
			removed += n
		}
		if next == 0 {
			return removed, nil
		}
		cursor = next
	}
}

func encodeOTPRecord(record *OTPRecord) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte(otpRecordVersionV1)
	buf.WriteByte(byte(record.Purpose))
	if record.Consumed {
		buf.WriteByte(1)
	} else {
		buf.WriteByte(0)
	}

	if err := binary.Write(&buf, binary.BigEndian, record.IssuedAt.UnixNano()); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt.UnixMilli()); err != nil {
		return nil, err
	}
	buf.Write(record.CodeHash[:])

	if len(record.IdentityKey) > 65535 {
		return nil, errors.New("otp record identity key too long")
	}
	if len(record.Scope) > 65535 {
		return nil, errors.New("otp record scope too long")
	}
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.IdentityKey))); err != nil {
		return nil, err
	}
	buf.WriteString(record.IdentityKey)
	if err := binary.Write(&buf, binary.BigEndian, uint16(len(record.Scope))); err != nil {
		return nil, err
	}
	buf.WriteString(record.Scope)

	return buf.Bytes(), nil
}

func decodeOTPRecord(data []byte) (*OTPRecord, error) {
	if len(data) < otpHashOffset+32 {
		return nil, errors.New("otp record too short")
	}
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != otpRecordVersionV1 {
		return nil, errors.New("invalid otp record version")
	}

	purpose, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	consumed, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}

	record := &OTPRecord{
		Purpose:  Purpose(purpose),
		Consumed: consumed != 0,
	}

	var issuedAt, expiresAt int64
	if err := binary.Read(reader, binary.BigEndian, &issuedAt); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &expiresAt); err != nil {
		return nil, err
	}
	record.IssuedAt = time.Unix(0, issuedAt)
	record.ExpiresAt = time.UnixMilli(expiresAt)

	if _, err := io.ReadFull(reader, record.CodeHash[:]); err != nil {
		return nil, err
	}

	key, err := readString16(reader)
	if err != nil {
		return nil, err
	}
	record.IdentityKey = key

	scope, err := readString16(reader)
	if err != nil {
		return nil, err
	}
	record.Scope = scope

	return record, nil
}

func readString16(reader *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(reader, raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

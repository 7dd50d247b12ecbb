// Package vitality implements C3, the Token Service: short-lived HMAC-SHA256
// tokens that certify a module as healthy. Grounded on
// internal/security/token_broker.go (TokenBroker), narrowed from its
// JSON-claims-plus-detached-signature wire shape to the colon-delimited
// quadruple spec §4.3 names, and from per-agent trust-gated issuance down to
// the AEC's simpler "any component may ask for a token" contract.
package vitality

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ocx/aec/internal/aecerr"
	"github.com/ocx/aec/internal/clock"
)

// Status is the health status a VitalityToken attests to.
type Status string

const (
	StatusHealthy    Status = "HEALTHY"
	StatusRecovering Status = "RECOVERING"
	StatusCritical   Status = "CRITICAL"
)

// MaxAge bounds how old an issued_at may be before verify rejects it as
// EXPIRED (spec §4.3 step 3, default 5 minutes).
const MaxAge = 5 * time.Minute

// MaxClockSkew bounds how far into the future issued_at may claim to be
// before verify rejects it as CLOCK_SKEW (spec §4.3 step 4).
const MaxClockSkew = 60 * time.Second

// VerifyResult is the outcome of Verify.
type VerifyResult struct {
	OK        bool
	IssuedAt  int64
	Status    Status
	Rejection aecerr.TokenRejection
}

// Service issues and verifies vitality tokens. The shared secret is set at
// construction and changes only through RotateKey, which swaps it under mu
// and keeps the previous secret valid for a grace window.
type Service struct {
	mu         sync.RWMutex
	secret     []byte
	prevSecret []byte
	graceUntil time.Time
	clock      clock.Clock
	generated  bool
}

// Config configures a Token Service instance.
type Config struct {
	Secret string
	Clock  clock.Clock
}

// New constructs a Service. If cfg.Secret is empty, a cryptographically
// strong random secret is generated and a warning is logged that tokens
// will not survive a restart, per spec §4.3's contract.
func New(cfg Config) *Service {
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}

	secret := []byte(cfg.Secret)
	generated := false
	if len(secret) == 0 {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("vitality: failed to generate fallback secret: %v", err))
		}
		secret = buf
		generated = true
		slog.Warn("vitality: no token secret configured, generated an ephemeral one",
			"consequence", "tokens will not verify across a restart")
	}

	return &Service{secret: secret, clock: c, generated: generated}
}

// GeneratedSecret reports whether the Service fell back to an ephemeral
// random secret rather than a configured one.
func (s *Service) GeneratedSecret() bool {
	return s.generated
}

// RotateKey atomically replaces the signing secret. The previous secret
// remains acceptable for verification until grace elapses, so tokens issued
// just before rotation don't immediately start failing Verify.
func (s *Service) RotateKey(newSecret string, grace time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prevSecret = s.secret
	s.graceUntil = s.clock.Now().Add(grace)
	s.secret = []byte(newSecret)
}

// Issue produces a token certifying moduleID as status, bound to the current
// timestamp.
func (s *Service) Issue(moduleID string, status Status) string {
	ts := s.clock.NowMillis()
	mac := s.computeMAC(s.currentSecret(), moduleID, ts, status)

	raw := fmt.Sprintf("%s:%d:%s:%s", moduleID, ts, status, hexEncode(mac))
	return base64.URLEncoding.EncodeToString([]byte(raw))
}

func (s *Service) currentSecret() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.secret
}

// Verify validates tokenStr against expectedModuleID, enforcing the five
// checks of spec §4.3 in order: parseability, module id match, freshness,
// clock skew, and MAC equality in constant time.
func (s *Service) Verify(tokenStr, expectedModuleID string) VerifyResult {
	raw, err := base64.URLEncoding.DecodeString(tokenStr)
	if err != nil {
		return VerifyResult{Rejection: aecerr.TokenRejectionMalformed}
	}

	fields := strings.SplitN(string(raw), ":", 4)
	if len(fields) != 4 {
		return VerifyResult{Rejection: aecerr.TokenRejectionMalformed}
	}

	moduleID, tsStr, statusStr, macHex := fields[0], fields[1], fields[2], fields[3]

	if moduleID != expectedModuleID {
		return VerifyResult{Rejection: aecerr.TokenRejectionModuleMismatch}
	}

	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return VerifyResult{Rejection: aecerr.TokenRejectionMalformed}
	}

	now := s.clock.NowMillis()
	if now-ts > MaxAge.Milliseconds() {
		return VerifyResult{Rejection: aecerr.TokenRejectionExpired}
	}
	if ts > now+MaxClockSkew.Milliseconds() {
		return VerifyResult{Rejection: aecerr.TokenRejectionClockSkew}
	}

	status := Status(statusStr)
	wantMAC := s.computeMAC(s.currentSecret(), moduleID, ts, status)
	gotMAC, err := hexDecode(macHex)
	if err != nil {
		return VerifyResult{Rejection: aecerr.TokenRejectionMalformed}
	}

	if !hmac.Equal(gotMAC, wantMAC) && !s.matchesPreviousKey(gotMAC, moduleID, ts, status) {
		return VerifyResult{Rejection: aecerr.TokenRejectionForged}
	}

	return VerifyResult{OK: true, IssuedAt: ts, Status: status}
}

func (s *Service) matchesPreviousKey(mac []byte, moduleID string, ts int64, status Status) bool {
	s.mu.RLock()
	prev := s.prevSecret
	inGrace := len(prev) > 0 && s.clock.Now().Before(s.graceUntil)
	s.mu.RUnlock()
	if !inGrace {
		return false
	}
	return hmac.Equal(mac, s.computeMAC(prev, moduleID, ts, status))
}

func (s *Service) computeMAC(secret []byte, moduleID string, ts int64, status Status) []byte {
	msg := fmt.Sprintf("%s:%d:%s", moduleID, ts, status)
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hexdigits[v>>4]
		out[i*2+1] = hexdigits[v&0x0f]
	}
	return string(out)
}

func hexDecode(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("vitality: odd-length hex string")
	}
	out := make([]byte, len(s)/2)
	for i := range out {
		hi, err := hexVal(s[i*2])
		if err != nil {
			return nil, err
		}
		lo, err := hexVal(s[i*2+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexVal(c byte) (byte, error) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', nil
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, nil
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("vitality: invalid hex digit %q", c)
	}
}

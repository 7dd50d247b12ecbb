package vitality

import (
	"testing"
	"time"

	"github.com/ocx/aec/internal/aecerr"
	"github.com/ocx/aec/internal/clock"
)

func TestIssueVerify_RoundTrips(t *testing.T) {
	fc := clock.NewFixed(time.Unix(1_700_000_000, 0))
	svc := New(Config{Secret: "test-secret", Clock: fc})

	tok := svc.Issue("module-a", StatusHealthy)
	res := svc.Verify(tok, "module-a")

	if !res.OK {
		t.Fatalf("expected valid token, got rejection=%s", res.Rejection)
	}
	if res.Status != StatusHealthy {
		t.Errorf("Status = %s, want HEALTHY", res.Status)
	}
}

func TestVerify_RejectsModuleMismatch(t *testing.T) {
	fc := clock.NewFixed(time.Unix(1_700_000_000, 0))
	svc := New(Config{Secret: "s", Clock: fc})

	tok := svc.Issue("module-a", StatusHealthy)
	res := svc.Verify(tok, "module-b")

	if res.OK || res.Rejection != aecerr.TokenRejectionModuleMismatch {
		t.Errorf("expected MODULE_ID_MISMATCH, got ok=%v rejection=%s", res.OK, res.Rejection)
	}
}

func TestVerify_RejectsMalformedToken(t *testing.T) {
	svc := New(Config{Secret: "s"})

	res := svc.Verify("not-valid-base64!!", "module-a")
	if res.OK || res.Rejection != aecerr.TokenRejectionMalformed {
		t.Errorf("expected MALFORMED, got ok=%v rejection=%s", res.OK, res.Rejection)
	}
}

func TestVerify_RejectsExpiredToken(t *testing.T) {
	fc := clock.NewFixed(time.Unix(1_700_000_000, 0))
	svc := New(Config{Secret: "s", Clock: fc})

	tok := svc.Issue("module-a", StatusHealthy)
	fc.Advance(MaxAge + time.Second)

	res := svc.Verify(tok, "module-a")
	if res.OK || res.Rejection != aecerr.TokenRejectionExpired {
		t.Errorf("expected EXPIRED, got ok=%v rejection=%s", res.OK, res.Rejection)
	}
}

func TestVerify_RejectsClockSkew(t *testing.T) {
	issueClock := clock.NewFixed(time.Unix(1_700_000_100, 0))
	svc := New(Config{Secret: "s", Clock: issueClock})
	tok := svc.Issue("module-a", StatusHealthy)

	issueClock.Set(time.Unix(1_700_000_000, 0))

	res := svc.Verify(tok, "module-a")
	if res.OK || res.Rejection != aecerr.TokenRejectionClockSkew {
		t.Errorf("expected CLOCK_SKEW, got ok=%v rejection=%s", res.OK, res.Rejection)
	}
}

func TestVerify_RejectsForgedMAC(t *testing.T) {
	fc := clock.NewFixed(time.Unix(1_700_000_000, 0))
	svcA := New(Config{Secret: "secret-a", Clock: fc})
	svcB := New(Config{Secret: "secret-b", Clock: fc})

	tok := svcA.Issue("module-a", StatusHealthy)
	res := svcB.Verify(tok, "module-a")

	if res.OK || res.Rejection != aecerr.TokenRejectionForged {
		t.Errorf("expected FORGED, got ok=%v rejection=%s", res.OK, res.Rejection)
	}
}

func TestRotateKey_GraceWindowAcceptsOldTokens(t *testing.T) {
	fc := clock.NewFixed(time.Unix(1_700_000_000, 0))
	svc := New(Config{Secret: "old-secret", Clock: fc})

	tok := svc.Issue("module-a", StatusHealthy)
	svc.RotateKey("new-secret", time.Hour)

	res := svc.Verify(tok, "module-a")
	if !res.OK {
		t.Fatalf("token signed with old secret should verify during grace window, rejection=%s", res.Rejection)
	}
}

func TestRotateKey_RejectsOldTokensAfterGraceExpires(t *testing.T) {
	fc := clock.NewFixed(time.Unix(1_700_000_000, 0))
	svc := New(Config{Secret: "old-secret", Clock: fc})

	tok := svc.Issue("module-a", StatusHealthy)
	svc.RotateKey("new-secret", time.Minute)
	fc.Advance(2 * time.Minute)

	res := svc.Verify(tok, "module-a")
	if res.OK || res.Rejection != aecerr.TokenRejectionForged {
		t.Errorf("expected FORGED after grace window elapses, got ok=%v rejection=%s", res.OK, res.Rejection)
	}
}

func TestNew_GeneratesEphemeralSecretWhenAbsent(t *testing.T) {
	svc := New(Config{})
	if !svc.GeneratedSecret() {
		t.Error("expected GeneratedSecret() to report true when no secret configured")
	}
}

package handlers

import (
	"testing"
	"time"
)

func TestCheckoutLimiterEnforcesWindow(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	limiter := newCheckoutLimiter(2, time.Minute, func() time.Time { return now })

	if !limiter.Allow("42") || !limiter.Allow("42") {
		t.Fatal("expected first two requests allowed")
	}
	if limiter.Allow("42") {
		t.Fatal("expected third request within the window denied")
	}
	if !limiter.Allow("43") {
		t.Fatal("expected other buyers unaffected")
	}

	now = now.Add(61 * time.Second)
	if !limiter.Allow("42") {
		t.Fatal("expected allowance after the window resets")
	}
}

func TestCheckoutLimiterTreatsBlankKeyAsAnonymous(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	limiter := newCheckoutLimiter(1, time.Minute, func() time.Time { return now })

	if !limiter.Allow("") {
		t.Fatal("expected first anonymous request allowed")
	}
	if limiter.Allow("   ") {
		t.Fatal("expected blank keys to share the anonymous bucket")
	}
}

func TestNewCheckoutLimiterRejectsBadConfig(t *testing.T) {
	if limiter := newCheckoutLimiter(0, time.Minute, nil); limiter != nil {
		t.Fatal("expected nil limiter for zero limit")
	}
	if limiter := newCheckoutLimiter(5, 0, nil); limiter != nil {
		t.Fatal("expected nil limiter for zero window")
	}
}

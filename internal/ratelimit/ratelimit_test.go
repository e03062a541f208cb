package ratelimit

import "testing"

// TestAllowExhaustsCapacity verifies a client is rejected once its bucket
// is drained, and that distinct clients have independent buckets.
func TestAllowExhaustsCapacity(t *testing.T) {
	l := New(2, 1)

	if !l.Allow("1.2.3.4") {
		t.Fatal("expected first request to be allowed")
	}
	if !l.Allow("1.2.3.4") {
		t.Fatal("expected second request to be allowed")
	}
	if l.Allow("1.2.3.4") {
		t.Fatal("expected third request to be rejected")
	}

	if !l.Allow("5.6.7.8") {
		t.Fatal("expected a different client IP to have its own bucket")
	}
}

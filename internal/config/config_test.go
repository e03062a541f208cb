package config

import "testing"

// TestFromArgsUsage verifies the missing-argument usage message.
func TestFromArgsUsage(t *testing.T) {
	_, err := FromArgs([]string{"8080"})
	if err == nil || err.Error() != UsageMessage {
		t.Fatalf("expected usage message, got %v", err)
	}
}

// TestFromArgsPortRange verifies port bound validation.
func TestFromArgsPortRange(t *testing.T) {
	_, err := FromArgs([]string{"80", "10"})
	if err == nil || err.Error() != PortRangeMessage {
		t.Fatalf("expected port range message, got %v", err)
	}
}

// TestFromArgsCacheSize verifies cache size bound validation.
func TestFromArgsCacheSize(t *testing.T) {
	_, err := FromArgs([]string{"8080", "0"})
	if err == nil || err.Error() != CacheSizeMessage {
		t.Fatalf("expected cache size message, got %v", err)
	}

	_, err = FromArgs([]string{"8080", "101"})
	if err == nil || err.Error() != CacheSizeMessage {
		t.Fatalf("expected cache size message, got %v", err)
	}
}

// TestFromArgsValid verifies a valid config is constructed with the cache
// size converted from megabytes to bytes.
func TestFromArgsValid(t *testing.T) {
	cfg, err := FromArgs([]string{"8080", "5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Cache.CapacityBytes != 5_000_000 {
		t.Errorf("expected capacity 5,000,000 bytes, got %d", cfg.Cache.CapacityBytes)
	}
}

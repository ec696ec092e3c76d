package bucketing

import (
	"testing"

	"suvidha-auth-service/internal/config"
)

func newTestManager() *Manager {
	return NewManager(&config.Config{
		Bucketing: config.BucketingConfig{
			UserBuckets:  1024,
			EventBuckets: 256,
		},
	})
}

func TestUserBucketIsStable(t *testing.T) {
	m := newTestManager()

	first := m.UserBucket("user_abc")
	for i := 0; i < 100; i++ {
		if got := m.UserBucket("user_abc"); got != first {
			t.Fatalf("bucket changed between calls: %d vs %d", got, first)
		}
	}
}

func TestBucketsStayInRange(t *testing.T) {
	m := newTestManager()

	ids := []string{"", "a", "user_1", "user_2", "9876543210", "some-long-identifier-value"}
	for _, id := range ids {
		if b := m.UserBucket(id); b < 0 || b >= 1024 {
			t.Fatalf("user bucket %d out of range for %q", b, id)
		}
		if b := m.EventBucket(id); b < 0 || b >= 256 {
			t.Fatalf("event bucket %d out of range for %q", b, id)
		}
	}
}

func TestDistinctKeysSpread(t *testing.T) {
	m := newTestManager()

	seen := map[int]bool{}
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5", "u6", "u7", "u8"} {
		seen[m.UserBucket(id)] = true
	}
	if len(seen) < 2 {
		t.Fatalf("8 distinct keys landed in %d bucket(s)", len(seen))
	}
}

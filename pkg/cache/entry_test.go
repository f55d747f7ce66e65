package cache

import (
	"testing"
	"time"
)

func TestEntry_IsFresh(t *testing.T) {
	now := time.Now()
	ttl := 300 * time.Second

	tests := []struct {
		name     string
		syncedAt time.Time
		want     bool
	}{
		{"just synced", now, true},
		{"within ttl", now.Add(-200 * time.Second), true},
		{"exactly at ttl", now.Add(-300 * time.Second), true},
		{"beyond ttl", now.Add(-400 * time.Second), false},
		{"never synced", time.Time{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := Entry{LastSyncedAt: tt.syncedAt}
			if got := entry.IsFresh(ttl, now); got != tt.want {
				t.Errorf("IsFresh() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_Age(t *testing.T) {
	now := time.Now()
	entry := Entry{LastSyncedAt: now.Add(-42 * time.Second)}

	if got := entry.Age(now); got != 42*time.Second {
		t.Errorf("Age() = %v, want 42s", got)
	}
}

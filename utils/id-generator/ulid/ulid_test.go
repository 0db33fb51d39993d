package ulid

import (
	"testing"
	"time"
)

func TestGenerateString(t *testing.T) {
	str := GenerateString()
	if len(str) != 26 {
		t.Fatalf("ULID 字符串长度应为 26，实际: %d", len(str))
	}
	if _, err := Parse(str); err != nil {
		t.Fatalf("生成的 ULID 字符串无法解析: %v", err)
	}
}

func TestGenerateWithTime(t *testing.T) {
	at := time.Date(2025, 1, 31, 8, 30, 0, 0, time.UTC)
	got := Time(GenerateWithTime(at))
	if got.Sub(at).Abs() > time.Millisecond {
		t.Fatalf("时间戳不匹配，期望: %v, 实际: %v", at, got)
	}
}

func TestMonotonicWithinMillisecond(t *testing.T) {
	at := time.Now()
	prev := GenerateWithTime(at)
	for i := 0; i < 100; i++ {
		next := GenerateWithTime(at)
		if prev.Compare(next) >= 0 {
			t.Fatalf("同一毫秒内应单调递增: %s >= %s", prev, next)
		}
		prev = next
	}
}

func TestConcurrentUnique(t *testing.T) {
	const goroutines, perGoroutine = 8, 200
	results := make(chan string, goroutines*perGoroutine)
	for i := 0; i < goroutines; i++ {
		go func() {
			for j := 0; j < perGoroutine; j++ {
				results <- GenerateString()
			}
		}()
	}

	seen := make(map[string]struct{}, goroutines*perGoroutine)
	for i := 0; i < goroutines*perGoroutine; i++ {
		id := <-results
		if _, dup := seen[id]; dup {
			t.Fatalf("并发场景下发现重复的 ULID: %s", id)
		}
		seen[id] = struct{}{}
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	for _, s := range []string{"", "not-a-ulid", "01ARZ3NDEKTSV4RRFFQ69G5FA"} {
		if _, err := Parse(s); err == nil {
			t.Fatalf("expected parse error for %q", s)
		}
	}
}

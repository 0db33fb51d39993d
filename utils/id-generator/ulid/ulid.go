package ulid

import (
	"crypto/rand"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

/* ========================================================================
 * ULID - 追踪 ID
 * ========================================================================
 * 职责: 为每条 Telegram 更新、每个 HTTP 请求生成 trace_id
 * 特点: 26 字符、按时间字典序递增，日志中可直接按 ID 排序
 * ======================================================================== */

var (
	entropy     io.Reader
	entropyOnce sync.Once
	mu          sync.Mutex
)

// Monotonic 熵源不是并发安全的，调用方持有 mu
func initEntropy() {
	entropy = ulid.Monotonic(rand.Reader, 0)
}

// Generate 生成 ULID，同一毫秒内单调递增
func Generate() ulid.ULID {
	return GenerateWithTime(time.Now())
}

// GenerateString 生成 ULID 字符串
func GenerateString() string {
	return Generate().String()
}

// GenerateWithTime 使用指定时间生成 ULID
func GenerateWithTime(t time.Time) ulid.ULID {
	entropyOnce.Do(initEntropy)

	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy)
}

// Parse 解析 ULID 字符串
func Parse(s string) (ulid.ULID, error) {
	return ulid.ParseStrict(s)
}

// Time 提取 ULID 中的时间戳
func Time(id ulid.ULID) time.Time {
	return ulid.Time(id.Time())
}

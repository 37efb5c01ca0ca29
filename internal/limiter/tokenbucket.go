// Package limiter 限制單一 WebSocket 連線的上行訊息速率。
//
// 每條連線一個令牌桶，只在該連線的讀取 goroutine 中使用；
// 仍以 mutex 保護，方便監控端讀取 Tokens()。
package limiter

import (
	"sync"
	"time"
)

// TokenBucket 令牌桶
//
// 以固定速率補充令牌，桶滿時最多允許 capacity 個訊息的突發。
// 令牌以浮點數累計，低速率下不會因取整而遺失補充量。
type TokenBucket struct {
	capacity   float64   // 桶容量（最大突發量）
	tokens     float64   // 當前令牌數
	refillRate float64   // 每秒補充量
	lastRefill time.Time // 上次補充時間
	now        func() time.Time
	mu         sync.Mutex
}

// NewTokenBucket 建立令牌桶，初始為滿
func NewTokenBucket(capacity, refillRate int64) *TokenBucket {
	return newTokenBucket(capacity, refillRate, time.Now)
}

// NewTokenBucketWithClock 使用自訂時鐘（測試用）
func NewTokenBucketWithClock(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	return newTokenBucket(capacity, refillRate, now)
}

func newTokenBucket(capacity, refillRate int64, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   float64(capacity),
		tokens:     float64(capacity),
		refillRate: float64(refillRate),
		lastRefill: now(),
		now:        now,
	}
}

// Allow 嘗試取出一個令牌
func (tb *TokenBucket) Allow() bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()

	if tb.tokens >= 1 {
		tb.tokens--
		return true
	}
	return false
}

// Tokens 返回當前可用的整數令牌數
func (tb *TokenBucket) Tokens() int64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refill()
	return int64(tb.tokens)
}

func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens = min(tb.capacity, tb.tokens+elapsed*tb.refillRate)
	tb.lastRefill = now
}

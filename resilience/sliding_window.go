package resilience

import (
	"sync"
	"sync/atomic"
	"time"
)

type windowBucket struct {
	timestamp time.Time
	success   uint64
	failure   uint64
}

// slidingWindow tracks success/failure counts over a rolling time
// window divided into fixed-size buckets, so old samples age out
// without needing to store one timestamp per call.
type slidingWindow struct {
	mu         sync.Mutex
	buckets    []windowBucket
	windowSize time.Duration
	bucketSize time.Duration
	currentIdx int
}

func newSlidingWindow(windowSize time.Duration, bucketCount int) *slidingWindow {
	if bucketCount <= 0 {
		bucketCount = 10
	}
	now := time.Now()
	buckets := make([]windowBucket, bucketCount)
	for i := range buckets {
		buckets[i].timestamp = now
	}
	return &slidingWindow{
		buckets:    buckets,
		windowSize: windowSize,
		bucketSize: windowSize / time.Duration(bucketCount),
	}
}

// rotate must be called with sw.mu held.
func (sw *slidingWindow) rotate() {
	now := time.Now()
	elapsed := now.Sub(sw.buckets[sw.currentIdx].timestamp)
	if elapsed < sw.bucketSize {
		return
	}

	steps := int(elapsed / sw.bucketSize)
	if steps > len(sw.buckets) {
		steps = len(sw.buckets)
	}
	for i := 0; i < steps; i++ {
		sw.currentIdx = (sw.currentIdx + 1) % len(sw.buckets)
		sw.buckets[sw.currentIdx] = windowBucket{timestamp: now}
	}
}

func (sw *slidingWindow) recordSuccess() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.rotate()
	atomic.AddUint64(&sw.buckets[sw.currentIdx].success, 1)
}

func (sw *slidingWindow) recordFailure() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.rotate()
	atomic.AddUint64(&sw.buckets[sw.currentIdx].failure, 1)
}

func (sw *slidingWindow) counts() (success, failure uint64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	cutoff := time.Now().Add(-sw.windowSize)
	for i := range sw.buckets {
		b := &sw.buckets[i]
		if b.timestamp.After(cutoff) {
			success += atomic.LoadUint64(&b.success)
			failure += atomic.LoadUint64(&b.failure)
		}
	}
	return success, failure
}

func (sw *slidingWindow) reset() {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	now := time.Now()
	for i := range sw.buckets {
		sw.buckets[i] = windowBucket{timestamp: now}
	}
	sw.currentIdx = 0
}

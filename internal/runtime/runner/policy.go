package runner

import (
	"runtime/metrics"
	"time"
)

// Policy decides, after each processed message, whether consumption should
// stop. Policies are stateful and belong to a single Run.
type Policy interface {
	Name() string
	ShouldCancel() bool
}

// MemorySampler reports the process memory usage in bytes.
type MemorySampler func() uint64

// Clock returns the current time.
type Clock func() time.Time

type messagesPolicy struct {
	max       int
	processed int
}

// MaxMessages cancels once limit messages have been processed.
func MaxMessages(limit int) Policy {
	return &messagesPolicy{max: limit}
}

func (p *messagesPolicy) Name() string { return "max_messages" }

func (p *messagesPolicy) ShouldCancel() bool {
	p.processed++
	return p.processed >= p.max
}

type memoryPolicy struct {
	max    uint64
	sample MemorySampler
}

// MaxMemory cancels once the sampled usage exceeds limit bytes.
func MaxMemory(limit uint64, sample MemorySampler) Policy {
	if sample == nil {
		sample = HeapObjectsBytes
	}
	return &memoryPolicy{max: limit, sample: sample}
}

func (p *memoryPolicy) Name() string { return "max_memory" }

func (p *memoryPolicy) ShouldCancel() bool {
	return p.sample() > p.max
}

type durationPolicy struct {
	max     time.Duration
	started time.Time
	now     Clock
}

// MaxDuration cancels once limit has elapsed since the policy was created.
func MaxDuration(limit time.Duration, now Clock) Policy {
	if now == nil {
		now = time.Now
	}
	return &durationPolicy{max: limit, started: now(), now: now}
}

func (p *durationPolicy) Name() string { return "max_duration" }

func (p *durationPolicy) ShouldCancel() bool {
	return p.now().Sub(p.started) >= p.max
}

const heapObjectsMetric = "/memory/classes/heap/objects:bytes"

// HeapObjectsBytes samples the bytes held by heap objects. Reading it does
// not stop the world, unlike runtime.ReadMemStats.
func HeapObjectsBytes() uint64 {
	sample := []metrics.Sample{{Name: heapObjectsMetric}}
	metrics.Read(sample)
	if sample[0].Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return sample[0].Value.Uint64()
}

package batch

import (
	"context"
	"sync"
	"time"
)

// Batcher batches operations and flushes them once a trigger condition is
// met: a fixed operation count, or (if sizeThreshold is set) accumulated
// byte size across every SizedOperation added, whichever comes first.
type Batcher struct {
	batchSize     int
	sizeThreshold int
	batchInterval time.Duration
	mu            sync.Mutex
	pending       []Operation
	pendingBytes  int
	flushChan     chan struct{}
	stopChan      chan struct{}
	processor     Processor
}

// Operation represents a single operation to be batched
type Operation interface {
	Execute(ctx context.Context) error
}

// SizedOperation is an Operation that can report its own byte size, letting
// a byte-size batcher trigger a flush once accumulated size crosses a
// threshold instead of waiting on a fixed operation count.
type SizedOperation interface {
	Operation
	Size() int
}

// Processor processes a batch of operations
type Processor interface {
	ProcessBatch(ctx context.Context, operations []Operation) error
}

// NewBatcher creates a new count-triggered batcher: a flush fires once
// batchSize operations are pending, or every batchInterval, whichever comes
// first.
func NewBatcher(batchSize int, batchInterval time.Duration, processor Processor) *Batcher {
	return newBatcher(batchSize, 0, batchInterval, processor)
}

// NewByteSizeBatcher creates a byte-size-triggered batcher: a flush fires
// once the accumulated Size() of every SizedOperation added crosses
// sizeThreshold, or every batchInterval, whichever comes first. Operations
// that don't implement SizedOperation count toward item-count bookkeeping
// only, never toward the byte total.
func NewByteSizeBatcher(sizeThreshold int, batchInterval time.Duration, processor Processor) *Batcher {
	return newBatcher(1<<31-1, sizeThreshold, batchInterval, processor)
}

func newBatcher(batchSize, sizeThreshold int, batchInterval time.Duration, processor Processor) *Batcher {
	b := &Batcher{
		batchSize:     batchSize,
		sizeThreshold: sizeThreshold,
		batchInterval: batchInterval,
		pending:       make([]Operation, 0, 16),
		flushChan:     make(chan struct{}, 1),
		stopChan:      make(chan struct{}),
		processor:     processor,
	}

	go b.run()

	return b
}

// Add adds an operation to the batch
func (b *Batcher) Add(op Operation) error {
	b.mu.Lock()
	b.pending = append(b.pending, op)
	shouldFlush := len(b.pending) >= b.batchSize
	if b.sizeThreshold > 0 {
		if sized, ok := op.(SizedOperation); ok {
			b.pendingBytes += sized.Size()
		}
		shouldFlush = shouldFlush || b.pendingBytes >= b.sizeThreshold
	}
	b.mu.Unlock()

	if shouldFlush {
		select {
		case b.flushChan <- struct{}{}:
		default:
		}
	}

	return nil
}

// Flush immediately processes all pending operations
func (b *Batcher) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}

	ops := make([]Operation, len(b.pending))
	copy(ops, b.pending)
	b.pending = b.pending[:0]
	b.pendingBytes = 0
	b.mu.Unlock()

	return b.processor.ProcessBatch(ctx, ops)
}

// run processes batches periodically
func (b *Batcher) run() {
	ticker := time.NewTicker(b.batchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx := context.Background()
			_ = b.Flush(ctx)
		case <-b.flushChan:
			ctx := context.Background()
			_ = b.Flush(ctx)
		case <-b.stopChan:
			// Final flush on stop
			ctx := context.Background()
			_ = b.Flush(ctx)
			return
		}
	}
}

// Stop stops the batcher and flushes remaining operations
func (b *Batcher) Stop() {
	close(b.stopChan)
}

// PendingCount returns the number of pending operations
func (b *Batcher) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

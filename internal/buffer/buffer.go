// Package buffer turns a raw notification stream into timestamped samples and
// hands fixed-size batches of them to a consumer.
package buffer

import (
	"fmt"
	"math/big"
	"sync"
	"time"
	"unicode/utf8"
)

// DefaultCapacity is the number of samples collected before a flush.
const DefaultCapacity = 256

// TimeLayout formats the flush record timestamp (wall clock, microseconds).
const TimeLayout = "15:04:05.000000"

// Sample is one decoded notification. Samples are never modified after Append.
type Sample struct {
	Payload []byte
	// Value is the payload read as a big-endian unsigned integer.
	Value *big.Int
	Time  time.Time
	// Delay is the time since the previous sample, truncated to microseconds.
	Delay time.Duration
}

// Record is handed to the consumer when a batch fills up.
type Record struct {
	Time    time.Time
	Text    string
	Samples []Sample
}

// String renders the record as "<HH:MM:SS.ffffff> <text>".
func (r *Record) String() string {
	return r.Time.Format(TimeLayout) + " " + r.Text
}

// DecodeError reports a flushed payload that is not valid UTF-8 text.
type DecodeError struct {
	Payload []byte
	Offset  int
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("payload %x is not valid UTF-8 at byte %d", e.Payload, e.Offset)
}

// Consumer receives every flushed batch. err is a *DecodeError when the
// newest payload could not be decoded; rec is still populated in that case.
type Consumer func(rec *Record, err error)

// Buffer accumulates samples and flushes them in batches of Capacity.
// Append is safe for concurrent use.
type Buffer struct {
	capacity int
	consumer Consumer

	mu       sync.Mutex
	batch    []Sample
	lastTime time.Time
	flushes  int
}

// New creates a buffer. A capacity below 1 selects DefaultCapacity.
// start seeds the inter-arrival delay of the first sample.
func New(capacity int, start time.Time, consumer Consumer) *Buffer {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	if consumer == nil {
		consumer = func(*Record, error) {}
	}
	return &Buffer{
		capacity: capacity,
		consumer: consumer,
		batch:    make([]Sample, 0, capacity),
		lastTime: start,
	}
}

// Append records payload as arriving at now. When the batch reaches capacity
// it is swapped for an empty one and the consumer is called before Append returns.
func (b *Buffer) Append(payload []byte, now time.Time) {
	data := append([]byte(nil), payload...)

	b.mu.Lock()
	sample := Sample{
		Payload: data,
		Value:   new(big.Int).SetBytes(data),
		Time:    now,
		Delay:   now.Sub(b.lastTime).Truncate(time.Microsecond),
	}
	b.lastTime = now
	b.batch = append(b.batch, sample)

	if len(b.batch) < b.capacity {
		b.mu.Unlock()
		return
	}

	full := b.batch
	b.batch = make([]Sample, 0, b.capacity)
	b.flushes++
	b.mu.Unlock()

	rec, err := newRecord(full)
	b.consumer(rec, err)
}

func newRecord(samples []Sample) (*Record, error) {
	newest := samples[len(samples)-1]
	rec := &Record{Time: newest.Time, Samples: samples}

	if !utf8.Valid(newest.Payload) {
		offset := 0
		for offset < len(newest.Payload) {
			r, size := utf8.DecodeRune(newest.Payload[offset:])
			if r == utf8.RuneError && size <= 1 {
				break
			}
			offset += size
		}
		return rec, &DecodeError{Payload: newest.Payload, Offset: offset}
	}

	rec.Text = string(newest.Payload)
	return rec, nil
}

// Len returns the number of samples waiting for the next flush.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batch)
}

// Capacity returns the flush threshold.
func (b *Buffer) Capacity() int {
	return b.capacity
}

// Flushes returns how many batches were handed to the consumer.
func (b *Buffer) Flushes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushes
}

// Pending returns a copy of the samples waiting for the next flush.
func (b *Buffer) Pending() []Sample {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Sample(nil), b.batch...)
}

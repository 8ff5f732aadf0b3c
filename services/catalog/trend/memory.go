// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package trend

import (
	"context"
	"sync"
)

// DefaultCapacity is the number of points kept per metric.
const DefaultCapacity = 500

// ringBuffer is a fixed-size circular buffer.
//
// When full, the oldest item is overwritten. NOT safe for concurrent use;
// MemoryRecorder synchronizes access.
type ringBuffer[T any] struct {
	data  []T
	head  int // next write position
	count int
}

func newRingBuffer[T any](capacity int) *ringBuffer[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &ringBuffer[T]{data: make([]T, capacity)}
}

func (r *ringBuffer[T]) push(item T) {
	r.data[r.head] = item
	r.head = (r.head + 1) % len(r.data)
	if r.count < len(r.data) {
		r.count++
	}
}

// last returns up to n newest items, oldest first. n <= 0 returns all.
func (r *ringBuffer[T]) last(n int) []T {
	if n <= 0 || n > r.count {
		n = r.count
	}
	out := make([]T, n)
	start := r.head - n
	if start < 0 {
		start += len(r.data)
	}
	for i := 0; i < n; i++ {
		out[i] = r.data[(start+i)%len(r.data)]
	}
	return out
}

// MemoryRecorder keeps trend points in per-metric ring buffers.
//
// # Thread Safety
//
// Safe for concurrent use.
type MemoryRecorder struct {
	mu       sync.RWMutex
	capacity int
	series   map[string]*ringBuffer[Point]
}

// NewMemoryRecorder creates a recorder retaining capacity points per metric.
func NewMemoryRecorder(capacity int) *MemoryRecorder {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryRecorder{
		capacity: capacity,
		series:   make(map[string]*ringBuffer[Point]),
	}
}

var _ Recorder = (*MemoryRecorder)(nil)

func (m *MemoryRecorder) Record(ctx context.Context, p Point) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, ok := m.series[p.MetricID]
	if !ok {
		buf = newRingBuffer[Point](m.capacity)
		m.series[p.MetricID] = buf
	}
	buf.push(p)
	return nil
}

func (m *MemoryRecorder) Series(ctx context.Context, metricID string, limit int) ([]Point, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	buf, ok := m.series[metricID]
	if !ok {
		return []Point{}, nil
	}
	return buf.last(limit), nil
}

// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package sipua

import (
	"context"
	"log/slog"
	"sync"
)

// dispatcher queues events and delivers them to single observer on own goroutine.
// Producers only append to queue, so they never wait on observer.
type dispatcher struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Event
	observer Observer
	started  bool
	closed   bool
	done     chan struct{}

	log     *slog.Logger
	metrics *metrics
}

func newDispatcher(log *slog.Logger, m *metrics) *dispatcher {
	d := &dispatcher{
		done:    make(chan struct{}),
		log:     log,
		metrics: m,
	}
	d.cond = sync.NewCond(&d.mu)
	return d
}

func (d *dispatcher) setObserver(o Observer) {
	d.mu.Lock()
	d.observer = o
	d.mu.Unlock()
}

func (d *dispatcher) start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return
	}
	d.started = true
	go d.run()
}

// publish appends event. Returns false if dispatcher is closed.
func (d *dispatcher) publish(ev Event) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Debug("Event dropped after close", "event", ev.Kind().String())
		return false
	}
	d.queue = append(d.queue, ev)
	depth := len(d.queue)
	d.mu.Unlock()
	d.cond.Signal()

	d.metrics.queueDepth(depth)
	return true
}

func (d *dispatcher) run() {
	defer close(d.done)
	for {
		d.mu.Lock()
		for len(d.queue) == 0 && !d.closed {
			d.cond.Wait()
		}
		if len(d.queue) == 0 {
			d.mu.Unlock()
			return
		}
		ev := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		depth := len(d.queue)
		obs := d.observer
		d.mu.Unlock()

		d.metrics.queueDepth(depth)
		d.deliver(obs, ev)
	}
}

func (d *dispatcher) deliver(obs Observer, ev Event) {
	d.metrics.eventDelivered(ev.Kind())
	if obs == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			d.log.Error("Observer panicked", "event", ev.Kind().String(), "panic", r)
		}
	}()
	obs.OnEvent(ev)
}

// close stops accepting events and waits until queued events are delivered or ctx is done.
func (d *dispatcher) close(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	started := d.started
	d.mu.Unlock()
	d.cond.Broadcast()

	if !started {
		return nil
	}

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

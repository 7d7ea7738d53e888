// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package scheduler implements the cooperative tick scheduler spec.md
// §4.7 requires: registered (init, task, period_ms) triples are run at
// their periods by one external monotonic tick source, plus a one-shot
// deferred-task facility an embedder can use to toggle an RS-485
// direction pin some microseconds after DirCtrl(TX) returns (spec.md
// §4.3, §9 "Direction control timing").
//
// Scheduling is single-threaded cooperative (spec.md §5): Tick must never
// be called concurrently with itself. This mirrors the teacher's
// pattern of a single background goroutine driving a timer
// (transport/rtu/serial.go's startCloseTimer/closeIdle), generalized from
// one fixed timer to an arbitrary set of periodic tasks plus deferrals.
package scheduler

import (
	"context"
	"sort"
	"time"
)

// Task is one (init, task, period_ms) triple. Init, if non-nil, runs once
// from Start. TaskFunc, if non-nil, runs every PeriodMS.
type Task struct {
	Name     string
	Init     func()
	TaskFunc func()
	PeriodMS uint32
}

type registeredTask struct {
	Task
	elapsedMS uint32
}

type deferred struct {
	fireAtMS uint64
	fn       func()
}

// Scheduler drives registered tasks from an external tick source. Every
// call to Tick represents one period_ms quantum elapsing.
type Scheduler struct {
	tasks     []*registeredTask
	deferredQ []*deferred
	nowMS     uint64
	started   bool
}

// New creates an empty Scheduler.
func New() *Scheduler {
	return &Scheduler{}
}

// Register adds a task. Must be called before Start.
func (s *Scheduler) Register(t Task) {
	s.tasks = append(s.tasks, &registeredTask{Task: t})
}

// Start runs every registered task's Init once, in registration order.
func (s *Scheduler) Start() {
	if s.started {
		return
	}
	s.started = true
	for _, rt := range s.tasks {
		if rt.Init != nil {
			rt.Init()
		}
	}
}

// Tick advances the scheduler by elapsedMS and invokes any task whose
// period has elapsed, then fires any deferred one-shots whose delay has
// expired. Tasks run in registration order; within a tick, a task whose
// period elapsed more than once (a stalled caller) still runs exactly
// once — the engine is built to tolerate jitter via its own
// elapsed_ms/timeout_ms accounting (spec.md §5), not via catch-up ticks.
func (s *Scheduler) Tick(elapsedMS uint32) {
	s.nowMS += uint64(elapsedMS)
	for _, rt := range s.tasks {
		rt.elapsedMS += elapsedMS
		if rt.PeriodMS == 0 {
			continue
		}
		if rt.elapsedMS >= rt.PeriodMS {
			rt.elapsedMS = 0
			if rt.TaskFunc != nil {
				rt.TaskFunc()
			}
		}
	}
	s.fireDue()
}

// After schedules fn to run after delay has elapsed, measured in the
// scheduler's own tick time, not wall-clock time. This is the mechanism
// an embedder uses to defer the RS-485 RTS-low transition until after the
// last bit has shifted out (spec.md §4.3, §9).
func (s *Scheduler) After(delay time.Duration, fn func()) {
	fireAt := s.nowMS + uint64(delay/time.Millisecond)
	d := &deferred{fireAtMS: fireAt, fn: fn}
	i := sort.Search(len(s.deferredQ), func(i int) bool {
		return s.deferredQ[i].fireAtMS > fireAt
	})
	s.deferredQ = append(s.deferredQ, nil)
	copy(s.deferredQ[i+1:], s.deferredQ[i:])
	s.deferredQ[i] = d
}

func (s *Scheduler) fireDue() {
	i := 0
	for ; i < len(s.deferredQ); i++ {
		if s.deferredQ[i].fireAtMS > s.nowMS {
			break
		}
		s.deferredQ[i].fn()
	}
	s.deferredQ = s.deferredQ[i:]
}

// Run drives the scheduler from a real time.Ticker at periodMS until ctx
// is cancelled, for callers (cmd/mbcoresim) that want wall-clock pacing
// instead of hand-driven Tick calls. It is the
// production analogue of a bare-metal main loop's "wait for the next
// tick interrupt".
func (s *Scheduler) Run(ctx context.Context, periodMS uint32) {
	s.Start()
	ticker := time.NewTicker(time.Duration(periodMS) * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(periodMS)
		}
	}
}

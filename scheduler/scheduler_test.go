// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package scheduler

import (
	"testing"
	"time"
)

func TestRegisterInitRunsOnceOnStart(t *testing.T) {
	s := New()
	inits := 0
	s.Register(Task{Init: func() { inits++ }, PeriodMS: 10})
	s.Start()
	s.Start() // idempotent
	if inits != 1 {
		t.Fatalf("inits = %d, want 1", inits)
	}
}

func TestTaskFiresAtPeriod(t *testing.T) {
	s := New()
	runs := 0
	s.Register(Task{TaskFunc: func() { runs++ }, PeriodMS: 100})
	s.Start()

	for i := 0; i < 9; i++ {
		s.Tick(10)
	}
	if runs != 0 {
		t.Fatalf("runs = %d before period elapsed, want 0", runs)
	}
	s.Tick(10)
	if runs != 1 {
		t.Fatalf("runs = %d at period boundary, want 1", runs)
	}
	for i := 0; i < 10; i++ {
		s.Tick(10)
	}
	if runs != 2 {
		t.Fatalf("runs = %d after second period, want 2", runs)
	}
}

func TestMultipleTasksIndependentPeriods(t *testing.T) {
	s := New()
	var fast, slow int
	s.Register(Task{TaskFunc: func() { fast++ }, PeriodMS: 10})
	s.Register(Task{TaskFunc: func() { slow++ }, PeriodMS: 50})
	s.Start()

	for i := 0; i < 5; i++ {
		s.Tick(10)
	}
	if fast != 5 {
		t.Fatalf("fast = %d, want 5", fast)
	}
	if slow != 1 {
		t.Fatalf("slow = %d, want 1", slow)
	}
}

func TestAfterFiresOnceDelayElapsed(t *testing.T) {
	s := New()
	fired := 0
	s.After(25*time.Millisecond, func() { fired++ })

	s.Tick(10)
	if fired != 0 {
		t.Fatalf("fired = %d before delay, want 0", fired)
	}
	s.Tick(10)
	if fired != 0 {
		t.Fatalf("fired = %d before delay, want 0", fired)
	}
	s.Tick(10)
	if fired != 1 {
		t.Fatalf("fired = %d after delay, want 1", fired)
	}
	s.Tick(10)
	if fired != 1 {
		t.Fatalf("fired = %d, want exactly 1 (one-shot)", fired)
	}
}

func TestAfterOrdersMultipleDeferrals(t *testing.T) {
	s := New()
	var order []int
	s.After(30*time.Millisecond, func() { order = append(order, 2) })
	s.After(10*time.Millisecond, func() { order = append(order, 1) })

	for i := 0; i < 4; i++ {
		s.Tick(10)
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("order = %v, want [1 2]", order)
	}
}

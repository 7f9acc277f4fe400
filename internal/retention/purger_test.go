// Cartscope - Storefront Cart Analytics and Live Funnel Dashboard
// Copyright 2026 Cartscope Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cartscope/cartscope

package retention

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cartscope/cartscope/internal/config"
	"github.com/cartscope/cartscope/internal/logging"
)

func init() {
	logging.Init(logging.Config{Level: "error", Format: "json", Output: io.Discard})
}

type fakeStore struct {
	calls atomic.Int64
	err   error
}

func (s *fakeStore) PurgeExpiredSessions(_ context.Context) (int64, error) {
	s.calls.Add(1)
	if s.err != nil {
		return 0, s.err
	}
	return 3, nil
}

func TestPurgerRunsImmediatelyAndOnTicks(t *testing.T) {
	store := &fakeStore{}
	purger := NewPurger(store, config.RetentionConfig{CheckInterval: 20 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- purger.Serve(ctx) }()

	deadline := time.After(2 * time.Second)
	for store.calls.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("purger ran %d times, want at least 2", store.calls.Load())
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Serve returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("purger did not stop after cancel")
	}
}

func TestPurgerSurvivesStoreErrors(t *testing.T) {
	store := &fakeStore{err: errors.New("disk full")}
	purger := NewPurger(store, config.RetentionConfig{CheckInterval: 10 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := purger.Serve(ctx); err != context.DeadlineExceeded {
		t.Errorf("Serve returned %v, want context.DeadlineExceeded", err)
	}
	if store.calls.Load() < 2 {
		t.Errorf("purger stopped retrying after an error: %d calls", store.calls.Load())
	}
}

package app

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

type stubService struct {
	name     string
	startErr error
	started  atomic.Bool
	stopped  atomic.Bool
}

func (s *stubService) Name() string { return s.name }

func (s *stubService) Start(ctx context.Context) error {
	s.started.Store(true)
	if s.startErr != nil {
		return s.startErr
	}
	<-ctx.Done()
	return ctx.Err()
}

func (s *stubService) Stop(ctx context.Context) error {
	s.stopped.Store(true)
	return nil
}

func TestRunnerStopsAllServicesOnCancel(t *testing.T) {
	api := &stubService{name: "api"}
	worker := &stubService{name: "worker"}
	runner := NewRunner(api, worker)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- runner.Run(ctx, time.Second, zap.NewNop().Sugar())
	}()

	deadline := time.After(2 * time.Second)
	for !api.started.Load() || !worker.started.Load() {
		select {
		case <-deadline:
			t.Fatalf("services not started in time")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("expected clean shutdown on cancel, got %v", err)
	}
	if !api.stopped.Load() || !worker.stopped.Load() {
		t.Fatalf("expected all services stopped, api=%v worker=%v",
			api.stopped.Load(), worker.stopped.Load())
	}
}

func TestRunnerPropagatesServiceFailure(t *testing.T) {
	startErr := errors.New("listen failed")
	broken := &stubService{name: "api", startErr: startErr}
	worker := &stubService{name: "worker"}
	runner := NewRunner(broken, worker)

	err := runner.Run(context.Background(), time.Second, zap.NewNop().Sugar())
	if !errors.Is(err, startErr) {
		t.Fatalf("expected start error to propagate, got %v", err)
	}
	if !worker.stopped.Load() {
		t.Fatalf("expected sibling service to be stopped after failure")
	}
}

func TestRunWithOptionsRejectsEmptyRunner(t *testing.T) {
	if err := RunWithOptions(nil, Options{}); err == nil {
		t.Fatalf("expected error for nil runner")
	}
	if err := RunWithOptions(NewRunner(), Options{}); err == nil {
		t.Fatalf("expected error for runner without services")
	}
}

func TestHTTPServiceStartStop(t *testing.T) {
	svc := NewHTTPService("127.0.0.1:0", http.NewServeMux())
	if svc.Name() != "payment-api" {
		t.Fatalf("unexpected service name %q", svc.Name())
	}

	done := make(chan error, 1)
	go func() {
		done <- svc.Start(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := svc.Stop(ctx); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected nil after shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("server did not exit after shutdown")
	}
}

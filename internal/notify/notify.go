// Package notify delivers best-effort alerts when a session ends. Delivery
// failures are logged and never reach the caller's control flow.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agusx1211/baton/internal/debug"
	"github.com/agusx1211/baton/internal/session"
)

// DefaultTimeout bounds one fire-and-forget delivery.
const DefaultTimeout = 15 * time.Second

// ErrUnavailable means the backend cannot deliver on this host.
var ErrUnavailable = errors.New("notifier unavailable")

// Notifier sends one alert.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Nop discards every alert.
type Nop struct{}

func (Nop) Notify(context.Context, string, string) error { return nil }

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, title, message string) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, title, message); err != nil && !errors.Is(err, ErrUnavailable) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Queue is a Notifier whose Fire deliveries can be waited for. Short-lived
// commands wrap their notifier in one so alerts are not lost at exit.
type Queue struct {
	n  Notifier
	wg sync.WaitGroup
}

// NewQueue wraps n. A nil n delivers nothing.
func NewQueue(n Notifier) *Queue {
	if n == nil {
		n = Nop{}
	}
	return &Queue{n: n}
}

func (q *Queue) Notify(ctx context.Context, title, message string) error {
	return q.n.Notify(ctx, title, message)
}

// Wait blocks until every delivery started through Fire has finished or
// timeout elapses. It reports whether all of them finished.
func (q *Queue) Wait(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		debug.LogKV("notify", "gave up waiting for deliveries", "timeout", timeout)
		return false
	}
}

// Fire delivers on its own goroutine with DefaultTimeout and logs failures.
// It returns immediately.
func Fire(n Notifier, title, message string) {
	if n == nil {
		return
	}
	q, tracked := n.(*Queue)
	if tracked {
		q.wg.Add(1)
	}
	go func() {
		if tracked {
			defer q.wg.Done()
		}
		ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
		defer cancel()
		if err := n.Notify(ctx, title, message); err != nil {
			debug.LogKV("notify", "delivery failed", "title", title, "error", err)
		}
	}()
}

// ForSession renders the alert for a session's terminal status.
func ForSession(s session.Session) (title, message string) {
	title = "baton: " + s.Backend
	switch {
	case s.Status.Succeeded():
		message = fmt.Sprintf("Finished #%d: %s", s.TaskID, s.TaskTitle)
	case s.Status.Kind == session.KindCompleted:
		message = fmt.Sprintf("Failed #%d: exit code %d", s.TaskID, s.Status.ExitCode)
	default:
		message = fmt.Sprintf("Failed #%d: %s", s.TaskID, s.Status.Error)
	}
	return title, message
}

// Session fires the terminal alert for s.
func Session(n Notifier, s session.Session) {
	title, message := ForSession(s)
	Fire(n, title, message)
}

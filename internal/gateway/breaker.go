package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerTransport wraps a Transport with circuit breaker
// functionality. Repeated send failures open the breaker and
// short-circuit further writes to ErrNotConnected without touching the
// session.
type CircuitBreakerTransport struct {
	transport Transport
	breaker   *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerTransport implements Transport at compile time.
var _ Transport = (*CircuitBreakerTransport)(nil)

// CircuitBreakerSettings configures circuit breaker behavior.
type CircuitBreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// NewCircuitBreakerTransport wraps transport with sensible defaults.
func NewCircuitBreakerTransport(transport Transport) *CircuitBreakerTransport {
	return NewCircuitBreakerTransportWithSettings(transport, CircuitBreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerTransportWithSettings wraps transport with custom
// settings.
func NewCircuitBreakerTransportWithSettings(transport Transport, settings CircuitBreakerSettings) *CircuitBreakerTransport {
	gbSettings := gobreaker.Settings{
		Name:        "GatewayCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
	}

	return &CircuitBreakerTransport{
		transport: transport,
		breaker:   gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// execBreaker is a generic helper for circuit breaker wrapper methods.
func execBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// mapBreakerErr converts breaker short-circuits into the session error
// callers already handle.
func mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: circuit open", ErrNotConnected)
	}
	return err
}

// Send wraps the underlying transport write with the circuit breaker.
func (t *CircuitBreakerTransport) Send(ctx context.Context, req Request) error {
	_, err := execBreaker(t.breaker, func() (struct{}, error) {
		return struct{}{}, t.transport.Send(ctx, req)
	})
	return mapBreakerErr(err)
}

// CancelMarketData wraps the underlying cancel with the circuit breaker.
func (t *CircuitBreakerTransport) CancelMarketData(id int64) error {
	_, err := execBreaker(t.breaker, func() (struct{}, error) {
		return struct{}{}, t.transport.CancelMarketData(id)
	})
	return mapBreakerErr(err)
}

// Connected reports the underlying session state; the breaker does not
// gate reads.
func (t *CircuitBreakerTransport) Connected() bool {
	return t.transport.Connected()
}

// Events returns the underlying event stream unchanged.
func (t *CircuitBreakerTransport) Events() <-chan Event {
	return t.transport.Events()
}

// Unwrap returns the wrapped transport.
func (t *CircuitBreakerTransport) Unwrap() Transport {
	return t.transport
}

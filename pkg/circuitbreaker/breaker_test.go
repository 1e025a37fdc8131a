package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
)

var errRejected = errors.New("rejected locally")

func testConfig() Config {
	return Config{Enabled: true, MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, FailureRatio: 0.5, MinRequests: 2}
}

func TestBreaker_TripsOnFailures(t *testing.T) {
	b := New("queue:support", testConfig(), nil)
	fail := func() (interface{}, error) { return nil, fmt.Errorf("down") }

	_, _ = b.Execute(context.Background(), fail)
	assert.False(t, b.IsOpen())
	_, _ = b.Execute(context.Background(), fail)
	assert.True(t, b.IsOpen())

	_, err := b.Execute(context.Background(), func() (interface{}, error) { return "ok", nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestBreaker_IgnoredErrorsDoNotTrip(t *testing.T) {
	b := New("queue:billing", testConfig(), func(err error) bool { return errors.Is(err, errRejected) })

	for i := 0; i < 5; i++ {
		_, err := b.Execute(context.Background(), func() (interface{}, error) { return nil, errRejected })
		assert.ErrorIs(t, err, errRejected)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreaker_CancelledContext(t *testing.T) {
	b := New("queue:x", testConfig(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	_, err := b.Execute(ctx, func() (interface{}, error) { called = true; return nil, nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
	assert.Equal(t, "queue:x", b.Name())
}

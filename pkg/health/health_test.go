package health

import (
	"context"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type detailChecker struct {
	details map[string]interface{}
	err     error
}

func (d *detailChecker) Name() string                { return "queues" }
func (d *detailChecker) Check(context.Context) error { return d.err }
func (d *detailChecker) CheckDetails(context.Context) (map[string]interface{}, error) {
	return d.details, d.err
}

func TestWorst(t *testing.T) {
	assert.Equal(t, StatusHealthy, Worst())
	assert.Equal(t, StatusDegraded, Worst(StatusHealthy, StatusDegraded))
	assert.Equal(t, StatusUnhealthy, Worst(StatusDegraded, StatusUnhealthy, StatusHealthy))
}

func TestCheckerRegistry(t *testing.T) {
	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{name: "no checkers", want: StatusHealthy},
		{
			name:     "all healthy",
			checkers: []Checker{NewCheckFunc("a", func(context.Context) error { return nil })},
			want:     StatusHealthy,
		},
		{
			name: "degraded",
			checkers: []Checker{
				NewCheckFunc("a", func(context.Context) error { return nil }),
				NewCheckFunc("b", func(context.Context) error { return Degraded("1 of 2 down") }),
			},
			want: StatusDegraded,
		},
		{
			name: "unhealthy wins",
			checkers: []Checker{
				NewCheckFunc("a", func(context.Context) error { return Degraded("slow") }),
				NewCheckFunc("b", func(context.Context) error { return fmt.Errorf("down") }),
			},
			want: StatusUnhealthy,
		},
		{
			name:     "panicking checker",
			checkers: []Checker{NewCheckFunc("p", func(context.Context) error { panic("boom") })},
			want:     StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := NewCheckerRegistry()
			for _, c := range tt.checkers {
				reg.Register(c)
			}
			h := reg.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, len(tt.checkers))
		})
	}
}

func TestCheckerRegistry_Details(t *testing.T) {
	reg := NewCheckerRegistry()
	reg.Register(&detailChecker{details: map[string]interface{}{"support": "ok"}})

	h := reg.Check(context.Background())
	require.Contains(t, h.Checks, "queues")
	assert.Equal(t, "ok", h.Checks["queues"].Details["support"])
}

func TestRedisChecker(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	checker := NewRedisChecker(client)
	assert.Equal(t, "redis", checker.Name())
	assert.NoError(t, checker.Check(context.Background()))

	mr.Close()
	assert.Error(t, checker.Check(context.Background()))
}

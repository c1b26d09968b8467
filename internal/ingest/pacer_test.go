package ingest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

func TestPacer_Adapts(t *testing.T) {
	p := newPacer(10, 2)
	assert.Equal(t, rate.Limit(10), p.Limit())

	p.OnThrottle("naver")
	assert.Equal(t, rate.Limit(5), p.Limit())
	p.OnThrottle("naver")
	p.OnThrottle("naver")
	assert.Equal(t, rate.Limit(2.5), p.Limit(), "floor is a quarter of the configured rate")

	for range 20 {
		p.OnSuccess()
	}
	assert.Equal(t, rate.Limit(20), p.Limit(), "ceiling is twice the configured rate")
}

func TestPacer_NilIsUnpaced(t *testing.T) {
	p := newPacer(0, 0)
	assert.Nil(t, p)
	assert.NoError(t, p.Wait(context.Background()))
	assert.Equal(t, rate.Inf, p.Limit())
	p.OnSuccess()
	p.OnThrottle("x")
}

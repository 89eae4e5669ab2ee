package cmd

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleHandler(context.Context, *Invocation) error { return nil }

func TestApplyOrder(t *testing.T) {
	var trace []string
	mw := func(tag string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, inv *Invocation) error {
				trace = append(trace, tag)
				return next(ctx, inv)
			}
		}
	}

	h := Apply(func(context.Context, *Invocation) error {
		trace = append(trace, "handler")
		return nil
	}, mw("outer"), mw("inner"))

	require.NoError(t, h(context.Background(), &Invocation{}))
	assert.Equal(t, []string{"outer", "inner", "handler"}, trace)
}

func TestRecover(t *testing.T) {
	h := Apply(func(context.Context, *Invocation) error {
		panic("kaboom")
	}, Recover("here.go:1"))

	err := h(context.Background(), &Invocation{Name: "x"})
	var perr *PanicError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "kaboom", perr.Value)
	assert.Contains(t, err.Error(), "here.go:1")
}

func TestLocation(t *testing.T) {
	loc := Location(sampleHandler)
	assert.True(t, strings.Contains(loc, "cmd_test.go"), loc)
	assert.Contains(t, loc, "sampleHandler")
	assert.Equal(t, "unknown", Location(42))
}

package ovsdb

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesOnKindOnly(t *testing.T) {
	err := newError(ErrTimeout, "get_schema", nil)
	assert.True(t, errors.Is(err, &Error{Kind: ErrTimeout}))
	assert.False(t, errors.Is(err, &Error{Kind: ErrParsing}))
}

func TestError_UnwrapChain(t *testing.T) {
	inner := errors.New("boom")
	err := newError(ErrParsing, "schema", inner)
	assert.ErrorIs(t, err, inner)
}

func TestKindOf(t *testing.T) {
	_, ok := KindOf(errors.New("plain"))
	assert.False(t, ok)

	kind, ok := KindOf(newError(ErrUnimplemented, "lock", nil))
	assert.True(t, ok)
	assert.Equal(t, ErrUnimplemented, kind)
}

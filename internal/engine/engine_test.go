package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapErr_Nil(t *testing.T) {
	assert.NoError(t, mapErr(nil))
}

func TestMapErr_DeadlineExceeded(t *testing.T) {
	err := mapErr(context.DeadlineExceeded)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestMapErr_Other(t *testing.T) {
	err := mapErr(errors.New("some docker failure"))
	assert.ErrorIs(t, err, ErrOther)
}

func TestInt64Ptr(t *testing.T) {
	p := int64Ptr(42)
	assert.NotNil(t, p)
	assert.Equal(t, int64(42), *p)
}

package utils

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecoverAsError(t *testing.T) {
	panics := func(v any) (err error) {
		defer RecoverAsError(&err)
		panic(v)
	}

	err := panics("index out of range")
	var pe *PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "index out of range", pe.Value)
	assert.NotEmpty(t, pe.StackTrace)
	assert.Equal(t, "panic: index out of range", err.Error())

	assert.ErrorIs(t, panics(io.ErrUnexpectedEOF), io.ErrUnexpectedEOF, "error values unwrap")

	sentinel := errors.New("storage failed")
	returns := func() (err error) {
		defer RecoverAsError(&err)
		return sentinel
	}
	assert.Same(t, sentinel, returns())
}

func TestRecoverWithCallback(t *testing.T) {
	var got error
	func() {
		defer RecoverWithCallback(func(err error) { got = err })
		panic("worker crashed")
	}()
	var pe *PanicError
	require.ErrorAs(t, got, &pe)
	assert.Equal(t, "worker crashed", pe.Value)

	assert.NotPanics(t, func() {
		defer RecoverWithCallback(nil)
		panic("ignored")
	})
}

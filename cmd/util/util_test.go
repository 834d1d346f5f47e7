package util

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sidkik/foldersync/pkg/errors"
)

func mockExit(t *testing.T) (*bytes.Buffer, *int) {
	var out bytes.Buffer
	code := -1
	stderr = &out
	exit = func(c int) { code = c }
	return &out, &code
}

func TestHandleFatalError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		expOut string
	}{
		{
			name:   "Friendly",
			err:    errors.WithContext(errors.MissingFieldError{Field: "source"}, "resolve"),
			expOut: "source path is not set\n",
		},
		{
			name:   "Plain",
			err:    errors.WithContext(errors.New("permission denied"), "copy \"a.txt\""),
			expOut: "copy \"a.txt\": permission denied\n",
		},
	}

	for _, test := range tests {
		test := test
		t.Run(test.name, func(t *testing.T) {
			out, code := mockExit(t)
			HandleFatalError(test.err)
			assert.Equal(t, test.expOut, out.String())
			assert.Equal(t, 1, *code)
		})
	}
}

func TestHandlePanic(t *testing.T) {
	out, code := mockExit(t)

	func() {
		defer HandlePanic()
		panic("boom")
	}()

	assert.Contains(t, out.String(), "foldersync crashed: boom")
	assert.Equal(t, 1, *code)
}

func TestHandlePanicNoPanic(t *testing.T) {
	out, code := mockExit(t)

	func() {
		defer HandlePanic()
	}()

	assert.Empty(t, out.String())
	assert.Equal(t, -1, *code)
}

package testutils

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingT struct {
	errors []string
}

func (r *recordingT) Helper() {}

func (r *recordingT) Errorf(format string, args ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(format, args...))
}

func TestTextAsserter(t *testing.T) {
	t.Run("ignores colours and trailing whitespace", func(t *testing.T) {
		rt := &recordingT{}

		ok := NewTextAsserter(rt).Assert("\x1b[36m12:30:45.148456\x1b[0m B  \r\n", "12:30:45.148456 B\n")

		assert.True(t, ok)
		assert.Empty(t, rt.errors)
	})

	t.Run("reports unified diff", func(t *testing.T) {
		rt := &recordingT{}

		ok := NewTextAsserter(rt).Assert("0: A\n1: C\n", "0: A\n1: B\n")

		assert.False(t, ok)
		if assert.Len(t, rt.errors, 1) {
			assert.Contains(t, rt.errors[0], "--- expected")
			assert.Contains(t, rt.errors[0], "-1: B")
			assert.Contains(t, rt.errors[0], "+1: C")
		}
	})

	t.Run("exact whitespace", func(t *testing.T) {
		rt := &recordingT{}
		assert.False(t, NewTextAsserter(rt, WithExactWhitespace()).Assert("a \n", "a\n"))
	})

	t.Run("empty lines", func(t *testing.T) {
		rt := &recordingT{}
		assert.True(t, NewTextAsserter(rt, WithIgnoreEmptyLines()).Assert("a\n\n\nb", "a\nb"))
	})
}

func TestJSONAsserter(t *testing.T) {
	t.Run("extra keys ignored by default", func(t *testing.T) {
		rt := &recordingT{}

		ok := NewJSONAsserter(rt).Assert(
			`[{"name":"A","address":"1","rssi":-40}]`,
			`[{"name":"A","address":"1"}]`,
		)

		assert.True(t, ok)
		assert.Empty(t, rt.errors)
	})

	t.Run("strict keys", func(t *testing.T) {
		rt := &recordingT{}

		ok := NewJSONAsserter(rt, WithStrictKeys()).Assert(`{"a":1,"b":2}`, `{"a":1}`)

		assert.False(t, ok)
	})

	t.Run("value mismatch", func(t *testing.T) {
		rt := &recordingT{}

		ok := NewJSONAsserter(rt).Assert(`{"name":"B"}`, `{"name":"A"}`)

		assert.False(t, ok)
		if assert.Len(t, rt.errors, 1) {
			assert.Contains(t, rt.errors[0], "JSON assertion failed")
		}
	})

	t.Run("invalid actual", func(t *testing.T) {
		rt := &recordingT{}
		assert.False(t, NewJSONAsserter(rt).Assert(`{`, `{}`))
		assert.Contains(t, rt.errors[0], "invalid actual JSON")
	})
}

package klog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWritesNewlineDelimitedJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	l.Info().Log("hello")

	require.NotEmpty(t, buf.String())
	assert.True(t, strings.Contains(buf.String(), "hello"))
}

func TestSetGlobalAndGlobalRoundTrip(t *testing.T) {
	original := Global()
	defer SetGlobal(original)

	var buf bytes.Buffer
	replacement := New(&buf)
	SetGlobal(replacement)

	assert.Equal(t, replacement, Global())
}

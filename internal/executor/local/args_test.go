package local

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Options
	}{
		{
			name: "empty",
			args: nil,
			want: Options{Env: map[string]string{}, Extra: []string{}},
		},
		{
			name: "env",
			args: []string{"--env", "TEST_VAR=TEST_VALUE"},
			want: Options{Env: map[string]string{"TEST_VAR": "TEST_VALUE"}, Extra: []string{}},
		},
		{
			name: "env equals form and repeat",
			args: []string{"--env=A=1", "--env", "B=2", "--env", "A=3"},
			want: Options{Env: map[string]string{"A": "3", "B": "2"}, Extra: []string{}},
		},
		{
			name: "timeout",
			args: []string{"--timeout", "1"},
			want: Options{Env: map[string]string{}, Timeout: time.Second, Extra: []string{}},
		},
		{
			name: "binary args after second separator",
			args: []string{"--timeout", "5", "--", "-v", "--env", "X=Y"},
			want: Options{
				Env:     map[string]string{},
				Timeout: 5 * time.Second,
				Extra:   []string{"-v", "--env", "X=Y"},
			},
		},
		{
			name: "positional args",
			args: []string{"case_a", "--env", "K=V", "case b"},
			want: Options{Env: map[string]string{"K": "V"}, Extra: []string{"case_a", "case b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseArgs(tt.args)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseArgsErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad env", []string{"--env", "NOVALUE"}},
		{"zero timeout", []string{"--timeout", "0"}},
		{"negative timeout", []string{"--timeout", "-3"}},
		{"non-numeric timeout", []string{"--timeout", "soon"}},
		{"unknown flag", []string{"--verbose"}},
		{"missing value", []string{"--timeout"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseArgs(tt.args)
			assert.Error(t, err)
		})
	}
}

func TestLineCaptureSplitsLines(t *testing.T) {
	var lines []string
	c := newLineCapture(func(l string) { lines = append(lines, l) })

	_, _ = c.Write([]byte("one\ntw"))
	_, _ = c.Write([]byte("o\nthree"))
	c.Flush()

	assert.Equal(t, []string{"one", "two", "three"}, lines)
	assert.Equal(t, "one\ntwo\nthree", string(c.Bytes()))
}

func TestLineCaptureTruncates(t *testing.T) {
	c := newLineCapture(nil)
	big := make([]byte, maxCaptureBytes+10)
	n, err := c.Write(big)
	require.NoError(t, err)
	assert.Equal(t, len(big), n)

	out := c.Bytes()
	assert.Len(t, out, maxCaptureBytes+len(truncatedMarker))
	assert.Equal(t, truncatedMarker, string(out[maxCaptureBytes:]))
}

func TestLineCaptureBoundsUnterminatedLines(t *testing.T) {
	var lines []string
	c := newLineCapture(func(l string) { lines = append(lines, l) })

	chunk := bytes.Repeat([]byte("x"), maxLineBytes/4)
	total := 0
	for range 13 {
		_, err := c.Write(chunk)
		require.NoError(t, err)
		total += len(chunk)
		assert.Less(t, len(c.partial), maxLineBytes)
	}
	c.Flush()

	require.Len(t, lines, 4)
	sum := 0
	for _, l := range lines {
		assert.LessOrEqual(t, len(l), maxLineBytes)
		sum += len(l)
	}
	assert.Equal(t, total, sum)
	assert.Len(t, lines[3], maxLineBytes/4)
}

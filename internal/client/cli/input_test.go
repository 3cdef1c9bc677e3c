package cli

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSimpleText(t *testing.T) {
	var out bytes.Buffer
	sc := bufio.NewScanner(strings.NewReader("  Berlin  \nnext\n"))

	got, err := GetSimpleText(sc, "City", &out)
	require.NoError(t, err)
	assert.Equal(t, "Berlin", got)
	assert.Equal(t, "City\n> ", out.String())

	got, err = GetSimpleText(sc, "Again", &out)
	require.NoError(t, err)
	assert.Equal(t, "next", got)

	_, err = GetSimpleText(sc, "Done", &out)
	assert.ErrorIs(t, err, io.EOF)
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"maybe\n", false},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			got, err := Confirm(bufio.NewScanner(strings.NewReader(tt.input)), "Sure?", &out)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.Contains(t, out.String(), "Sure? [y/N]")
		})
	}

	t.Run("eof", func(t *testing.T) {
		_, err := Confirm(bufio.NewScanner(strings.NewReader("")), "Sure?", io.Discard)
		assert.ErrorIs(t, err, io.EOF)
	})
}

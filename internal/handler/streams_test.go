package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamSpec(t *testing.T) {
	cursors, bare, err := parseStreamSpec("E1:5,E2,E3:0")
	require.NoError(t, err)

	assert.Equal(t, map[string]uint64{"E1": 5, "E3": 0}, cursors)
	assert.Equal(t, []string{"E2"}, bare)
}

func TestParseStreamSpecEmpty(t *testing.T) {
	cursors, bare, err := parseStreamSpec("")
	require.NoError(t, err)
	assert.Empty(t, cursors)
	assert.Empty(t, bare)
}

func TestParseStreamSpecRejectsBadCursor(t *testing.T) {
	_, _, err := parseStreamSpec("E1:abc")
	assert.Error(t, err)
}

func TestParseStreamSpecRejectsBadID(t *testing.T) {
	_, _, err := parseStreamSpec("bad/id:1")
	assert.Error(t, err)
}

func TestParseStreamSpecSkipsEmptyParts(t *testing.T) {
	cursors, bare, err := parseStreamSpec("E1:1,,E2")
	require.NoError(t, err)
	assert.Len(t, cursors, 1)
	assert.Equal(t, []string{"E2"}, bare)
}

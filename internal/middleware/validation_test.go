package middleware

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateStreamID(t *testing.T) {
	assert.NoError(t, ValidateStreamID("0198a2c4-b1ff-7000-8000-0123456789ab"))
	assert.NoError(t, ValidateStreamID("exchange_1"))

	assert.Error(t, ValidateStreamID(""))
	assert.Error(t, ValidateStreamID("has space"))
	assert.Error(t, ValidateStreamID("dotted.id"))
	assert.Error(t, ValidateStreamID("a/b"))
	assert.Error(t, ValidateStreamID(strings.Repeat("x", 65)))
}

func TestValidateSessionID(t *testing.T) {
	assert.NoError(t, ValidateSessionID("session-1"))
	assert.Error(t, ValidateSessionID(""))
	assert.Error(t, ValidateSessionID("bad*id"))
}

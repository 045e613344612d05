package config

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ncpgateway/internal/gwerrors"
)

func TestValidateSubprocessCommand(t *testing.T) {
	assert.NoError(t, ValidateSubprocessCommand("uvx", []string{"mcp-server-fs", "--root", "/tmp"}))

	err := ValidateSubprocessCommand("node; rm -rf /", nil)
	assert.Error(t, err)
	assert.True(t, gwerrors.Is(err, gwerrors.ConfigValidation))

	assert.Error(t, ValidateSubprocessCommand("", nil))
	assert.Error(t, ValidateSubprocessCommand("node", []string{"../../etc/passwd"}))
	assert.Error(t, ValidateSubprocessCommand("node", []string{"$(whoami)"}))
	assert.Error(t, ValidateSubprocessCommand("node", []string{"`whoami`"}))
}

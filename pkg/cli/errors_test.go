// Copyright 2025 AetherEngine
//
// Unit tests for the CLI exit-code contract

package cli

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCodeContract(t *testing.T) {
	assert.Equal(t, 2, KindUsage.Code())
	assert.Equal(t, 10, KindConfig.Code())
	assert.Equal(t, 20, KindRuntime.Code())
	assert.Equal(t, 30, KindIO.Code())
	assert.Equal(t, 40, KindNetwork.Code())
}

func TestExitCodeFromError(t *testing.T) {
	assert.Equal(t, 0, ExitCode(nil))
	assert.Equal(t, 40, ExitCode(NewError(KindNetwork, "down")))
	assert.Equal(t, 20, ExitCode(errors.New("plain error")))
}

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("root cause")
	err := WrapError(KindIO, "write failed", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "io error")
	assert.Contains(t, err.Error(), "write failed")
}

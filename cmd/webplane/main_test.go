package main

import (
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/openfroyo/webplane/pkg/errdefs"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, exitOK},
		{"plain error", errors.New("boom"), exitFailure},
		{"model", errdefs.Model(errdefs.CodeResourceNotFound, "no such resource"), exitModel},
		{"transformation", errdefs.New(errdefs.ClassTransformation, errdefs.CodeVersionIncompatibility, "rejected"), exitModel},
		{"security", errdefs.New(errdefs.ClassSecurity, errdefs.CodeAccessDenied, "denied"), exitSecurity},
		{"runtime wrapped", fmt.Errorf("exec: %w", errdefs.Runtime(errdefs.CodeServiceStartFailure, "start failed")), exitRuntime},
		{"rollback", errdefs.Rollback(errdefs.Runtime(errdefs.CodeTimeout, "slow"), nil), exitRollback},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())

	setupLogging("warn")
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	setupLogging("")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())

	setupLogging("loud")
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package hardware

import (
	"testing"

	"github.com/ManuGH/subpipe/internal/model"
	"github.com/stretchr/testify/assert"
)

func TestDerivePolicyCPUOnly(t *testing.T) {
	pol := DerivePolicy(Profile{CPUCores: 8})
	assert.Equal(t, "cpu", pol.PrimaryDevice)
	assert.False(t, pol.EnableSeparation)
	assert.Equal(t, model.SeparatorNone, pol.SeparatorTier)
	assert.Equal(t, 1, pol.Concurrency)
}

func TestDerivePolicyTiers(t *testing.T) {
	tests := []struct {
		name   string
		memMB  int
		enable bool
		tier   model.SeparatorTier
	}{
		{"heavy at 8GiB", 8192, true, model.SeparatorHeavy},
		{"heavy above", 24576, true, model.SeparatorHeavy},
		{"light at 4GiB", 4096, true, model.SeparatorLight},
		{"light below heavy", 6144, true, model.SeparatorLight},
		{"disabled below 4GiB", 2048, false, model.SeparatorNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pol := DerivePolicy(Profile{
				HasAccelerator:      true,
				AcceleratorMemoryMB: tt.memMB,
			})
			assert.Equal(t, "cuda", pol.PrimaryDevice)
			assert.Equal(t, tt.enable, pol.EnableSeparation)
			assert.Equal(t, tt.tier, pol.SeparatorTier)
		})
	}
}

func TestDetectMemoized(t *testing.T) {
	first := Detect()
	second := Detect()
	assert.Equal(t, first, second)
	assert.Positive(t, first.CPUCores)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package hardware detects the accelerator once at startup and derives
// the policy that drives separation tiers and model placement.
//
// The probe is fail-open towards CPU: any detection failure yields a
// CPU-only profile, never an error. Results are memoized; the secondary
// probe (nvidia-smi) runs with a short timeout so startup never hangs on
// a wedged driver.
package hardware

import (
	"context"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/subpipe/internal/log"
	"github.com/ManuGH/subpipe/internal/metrics"
	"github.com/ManuGH/subpipe/internal/model"
)

// Profile describes the detected capability of the host.
type Profile struct {
	HasAccelerator      bool   `json:"has_accelerator"`
	AcceleratorName     string `json:"accelerator_name,omitempty"`
	AcceleratorMemoryMB int    `json:"accelerator_memory_mb"`
	CPUCores            int    `json:"cpu_cores"`
}

// Policy is the recommendation derived from a Profile.
type Policy struct {
	PrimaryDevice    string              `json:"primary_device"`
	EnableSeparation bool                `json:"enable_separation"`
	SeparatorTier    model.SeparatorTier `json:"separator_tier"`
	Concurrency      int                 `json:"concurrency"`
}

const (
	heavyTierMemoryMB = 8 << 10
	lightTierMemoryMB = 4 << 10
)

var (
	detectOnce sync.Once
	detected   Profile
)

// Detect probes the host hardware. The first call does the work; all
// subsequent calls return the memoized profile.
func Detect() Profile {
	detectOnce.Do(func() {
		detected = probe()
		metrics.SetAcceleratorMemoryMB(float64(detected.AcceleratorMemoryMB))
		logger := log.WithComponent("hardware")
		logger.Info().
			Bool("accelerator", detected.HasAccelerator).
			Str("name", detected.AcceleratorName).
			Int("memory_mb", detected.AcceleratorMemoryMB).
			Int("cpu_cores", detected.CPUCores).
			Msg("hardware profile detected")
	})
	return detected
}

// DerivePolicy maps a profile onto the runtime policy.
func DerivePolicy(p Profile) Policy {
	pol := Policy{
		PrimaryDevice: "cpu",
		Concurrency:   1,
	}
	if !p.HasAccelerator {
		return pol
	}
	pol.PrimaryDevice = "cuda"
	switch {
	case p.AcceleratorMemoryMB >= heavyTierMemoryMB:
		pol.EnableSeparation = true
		pol.SeparatorTier = model.SeparatorHeavy
	case p.AcceleratorMemoryMB >= lightTierMemoryMB:
		pol.EnableSeparation = true
		pol.SeparatorTier = model.SeparatorLight
	}
	return pol
}

func probe() Profile {
	p := Profile{CPUCores: runtime.NumCPU()}

	name, memMB, ok := probeNvidia()
	if ok {
		p.HasAccelerator = true
		p.AcceleratorName = name
		p.AcceleratorMemoryMB = memMB
		return p
	}

	// Apple silicon shares unified memory; treat presence of the Metal
	// device as a light-tier accelerator without a memory figure.
	if runtime.GOOS == "darwin" && runtime.GOARCH == "arm64" {
		p.HasAccelerator = true
		p.AcceleratorName = "apple-metal"
		p.AcceleratorMemoryMB = lightTierMemoryMB
	}
	return p
}

// probeNvidia shells out to nvidia-smi. Absence of the binary or any
// parse failure means "no NVIDIA accelerator".
func probeNvidia() (name string, memMB int, ok bool) {
	if _, err := exec.LookPath("nvidia-smi"); err != nil {
		return "", 0, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=name,memory.total",
		"--format=csv,noheader,nounits").Output()
	if err != nil {
		logger := log.WithComponent("hardware")
		logger.Debug().Err(err).Msg("nvidia-smi probe failed")
		return "", 0, false
	}

	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	parts := strings.Split(line, ",")
	if len(parts) != 2 {
		return "", 0, false
	}
	mem, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil || mem <= 0 {
		return "", 0, false
	}
	return strings.TrimSpace(parts[0]), mem, true
}

// ForceCPU is a test hook: when SUBPIPE_FORCE_CPU is set the probe is
// skipped entirely.
func init() {
	if os.Getenv("SUBPIPE_FORCE_CPU") != "" {
		detectOnce.Do(func() {
			detected = Profile{CPUCores: runtime.NumCPU()}
		})
	}
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package config

import (
	"errors"
	"fmt"
)

// Validate checks invariants that would otherwise surface as runtime
// faults deep inside the pipeline. All violations are reported at once.
func (c Config) Validate() error {
	var errs []error

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Server.UploadMaxBytes <= 0 {
		errs = append(errs, errors.New("server.upload_max_bytes must be positive"))
	}
	if c.Paths.JobsDir == "" {
		errs = append(errs, errors.New("paths.jobs_dir must not be empty"))
	}
	if c.Paths.InputDir == "" {
		errs = append(errs, errors.New("paths.input_dir must not be empty"))
	}
	if c.Pipeline.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency must be >= 1, got %d", c.Pipeline.Concurrency))
	}
	if c.Pipeline.FuseConfidence < 0 || c.Pipeline.FuseConfidence > 1 {
		errs = append(errs, fmt.Errorf("pipeline.fuse_confidence out of [0,1]: %v", c.Pipeline.FuseConfidence))
	}
	if c.Pipeline.FuseRetryCap < 0 {
		errs = append(errs, errors.New("pipeline.fuse_retry_cap must not be negative"))
	}
	if c.Pipeline.PauseThreshold <= 0 {
		errs = append(errs, errors.New("pipeline.pause_threshold must be positive"))
	}
	if c.Pipeline.MaxSentenceChars <= c.Pipeline.MinSentenceChars {
		errs = append(errs, errors.New("pipeline.max_sentence_chars must exceed min_sentence_chars"))
	}
	if c.Pipeline.TargetChunkSeconds <= 0 || c.Pipeline.MaxChunkSeconds < c.Pipeline.TargetChunkSeconds {
		errs = append(errs, errors.New("pipeline chunk duration targets are inconsistent"))
	}
	if c.Events.RingSize < 1 {
		errs = append(errs, errors.New("events.ring_size must be >= 1"))
	}
	if c.Events.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("events.heartbeat_interval must be positive"))
	}

	return errors.Join(errs...)
}

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldJobID     = "job_id"
	FieldChunk     = "chunk"
	FieldPhase     = "phase"
	FieldPreset    = "preset"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldEngine    = "engine"
	FieldSlot      = "slot"
	FieldTier      = "tier"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"

	// Path fields
	FieldPath      = "path"
	FieldInputPath = "input_path"
)

// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Common attribute keys for consistent tracing across the pipeline.
const (
	// Job attributes
	JobIDKey     = "job.id"
	JobPresetKey = "job.preset"

	// Stage attributes
	StageKey      = "pipeline.stage"
	StageItemsKey = "pipeline.items"

	// Chunk attributes
	ChunkIndexKey = "chunk.index"
	ChunkStartKey = "chunk.start_sec"
	ChunkEndKey   = "chunk.end_sec"

	// Engine attributes
	EngineSlotKey = "engine.slot"
	EngineTierKey = "engine.tier"
)

// JobAttributes creates job-level span attributes.
func JobAttributes(jobID, preset string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(JobIDKey, jobID)}
	if preset != "" {
		attrs = append(attrs, attribute.String(JobPresetKey, preset))
	}
	return attrs
}

// StageAttributes creates per-stage span attributes.
func StageAttributes(jobID, stage string, items int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(JobIDKey, jobID),
		attribute.String(StageKey, stage),
		attribute.Int(StageItemsKey, items),
	}
}

// ChunkAttributes creates chunk-level span attributes.
func ChunkAttributes(index int, startSec, endSec float64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(ChunkIndexKey, index),
		attribute.Float64(ChunkStartKey, startSec),
		attribute.Float64(ChunkEndKey, endSec),
	}
}

// EngineAttributes creates engine-related span attributes.
func EngineAttributes(slot, tier string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{attribute.String(EngineSlotKey, slot)}
	if tier != "" {
		attrs = append(attrs, attribute.String(EngineTierKey, tier))
	}
	return attrs
}

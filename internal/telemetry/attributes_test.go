// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestJobAttributes(t *testing.T) {
	attrs := JobAttributes("job-1", "preset2")
	assert.Equal(t, []attribute.KeyValue{
		attribute.String(JobIDKey, "job-1"),
		attribute.String(JobPresetKey, "preset2"),
	}, attrs)

	assert.Len(t, JobAttributes("job-1", ""), 1, "empty preset is omitted")
}

func TestStageAttributes(t *testing.T) {
	attrs := StageAttributes("job-1", "transcribe", 12)
	assert.Contains(t, attrs, attribute.String(JobIDKey, "job-1"))
	assert.Contains(t, attrs, attribute.String(StageKey, "transcribe"))
	assert.Contains(t, attrs, attribute.Int(StageItemsKey, 12))
}

func TestChunkAttributes(t *testing.T) {
	attrs := ChunkAttributes(3, 1.5, 9.25)
	assert.Equal(t, []attribute.KeyValue{
		attribute.Int(ChunkIndexKey, 3),
		attribute.Float64(ChunkStartKey, 1.5),
		attribute.Float64(ChunkEndKey, 9.25),
	}, attrs)
}

func TestEngineAttributes(t *testing.T) {
	attrs := EngineAttributes("separator", "heavy")
	assert.Contains(t, attrs, attribute.String(EngineSlotKey, "separator"))
	assert.Contains(t, attrs, attribute.String(EngineTierKey, "heavy"))

	assert.Len(t, EngineAttributes("vad", ""), 1, "empty tier is omitted")
}

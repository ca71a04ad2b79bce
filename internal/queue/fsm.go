// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package queue

import (
	"fmt"

	"github.com/ManuGH/subpipe/internal/model"
)

// LifecycleEvent is an edge label in the job lifecycle machine.
type LifecycleEvent string

const (
	EventStart    LifecycleEvent = "start"
	EventSchedule LifecycleEvent = "schedule"
	EventPause    LifecycleEvent = "pause"
	EventResume   LifecycleEvent = "resume"
	EventComplete LifecycleEvent = "complete"
	EventFail     LifecycleEvent = "fail"
	EventCancel   LifecycleEvent = "cancel"
)

// transitions is the strict edge table. Unknown (state, event) pairs
// are rejected; terminal states have no outgoing edges.
var transitions = map[model.Status]map[LifecycleEvent]model.Status{
	model.StatusCreated: {
		EventStart:  model.StatusQueued,
		EventCancel: model.StatusCanceled,
	},
	model.StatusQueued: {
		EventSchedule: model.StatusProcessing,
		EventCancel:   model.StatusCanceled,
	},
	model.StatusProcessing: {
		EventPause:    model.StatusPaused,
		EventComplete: model.StatusFinished,
		EventFail:     model.StatusFailed,
		EventCancel:   model.StatusCanceled,
	},
	model.StatusPaused: {
		EventResume: model.StatusQueued,
		EventCancel: model.StatusCanceled,
	},
}

// Next resolves one lifecycle transition or rejects it.
func Next(from model.Status, event LifecycleEvent) (model.Status, error) {
	if to, ok := transitions[from][event]; ok {
		return to, nil
	}
	return from, fmt.Errorf("queue: invalid transition: state=%s event=%s", from, event)
}

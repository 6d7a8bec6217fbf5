// Package publish defines the outbound event contract of the timing engine.
// The engine emits events best-effort: a broker outage must never fail or
// roll back the reading write that triggered the event.
package publish

import (
	"context"
	"fmt"
	"time"

	id "crono/pkg/domain"
)

// Kind enumerates the event classes fanned out to subscribers.
type Kind string

const (
	KindNewPass               Kind = "new-pass"
	KindClassificationUpdated Kind = "classification-updated"
	KindBestLap               Kind = "best-lap"
	KindRacePhaseChanged      Kind = "race-phase-changed"
)

// Event is one notification to the fan-out collaborator. Audience scoping
// lets subscribers pick a whole stage, one category or a single bike.
type Event struct {
	Kind       Kind           `json:"kind"`
	StageID    id.StageID     `json:"stage_id"`
	CategoryID *id.CategoryID `json:"category_id,omitempty"`
	Bike       int            `json:"bike,omitempty"`
	At         time.Time      `json:"at"`
	Payload    any            `json:"payload,omitempty"`
}

// Audience returns the subscription key this event is scoped to, narrowest
// scope first: stage+bike, then stage+category, then whole stage.
func (e Event) Audience() string {
	if e.Bike > 0 {
		return fmt.Sprintf("stage:%s:bike:%d", e.StageID, e.Bike)
	}
	if e.CategoryID != nil && !e.CategoryID.IsNil() {
		return fmt.Sprintf("stage:%s:category:%s", e.StageID, e.CategoryID)
	}
	return fmt.Sprintf("stage:%s", e.StageID)
}

// Publisher fans events out to subscribers. Implementations must be safe for
// concurrent use; callers treat failures as log-and-continue.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

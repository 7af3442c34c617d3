// Package events provides the emitter recording lifecycle transitions on the
// audit trail and fanning them out to external collaborators.
//
// Emitted kinds mirror the request lifecycle: sos_created,
// ambulance_assigned, driver_accepted, driver_reassigned, status_changed,
// trip_completed, request_cancelled, waiting_for_resource.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rescuegrid/rescuegrid/core/logger"
	"github.com/rescuegrid/rescuegrid/core/model"
	"github.com/rescuegrid/rescuegrid/core/repository"
	"github.com/rescuegrid/rescuegrid/internal/eventbus"
)

// Notifier receives each emitted event for downstream fan-out. Delivery is
// fire-and-forget: the emitter does not care how many subscribers exist or
// whether delivery succeeds.
type Notifier interface {
	Notify(ev model.Event) error
}

// NopNotifier discards all events.
type NopNotifier struct{}

func (NopNotifier) Notify(model.Event) error { return nil }

// Emitter appends events to the audit trail and forwards them to the bus and
// notifier. Audit persistence is the only failure that propagates; bus and
// notifier delivery are best-effort.
type Emitter struct {
	repo     repository.Repository
	bus      *eventbus.Bus[model.Event]
	notifier Notifier
	log      logger.Logger
}

// NewEmitter creates an Emitter. Bus and notifier may be nil.
func NewEmitter(repo repository.Repository, bus *eventbus.Bus[model.Event], notifier Notifier, log logger.Logger) *Emitter {
	return &Emitter{repo: repo, bus: bus, notifier: notifier, log: log}
}

// New builds an event with a fresh identifier and the current time.
func New(kind model.EventKind, requestID, ambulanceID, detail string) model.Event {
	return model.Event{
		ID:          uuid.NewString(),
		Kind:        kind,
		RequestID:   requestID,
		AmbulanceID: ambulanceID,
		Detail:      detail,
		Timestamp:   time.Now(),
	}
}

// Emit records the event. The audit append happens first; if it fails the
// event is not published anywhere and the error is returned.
func (e *Emitter) Emit(ctx context.Context, ev model.Event) error {
	if err := e.repo.AppendEvent(ctx, ev); err != nil {
		return err
	}
	if e.bus != nil {
		e.bus.Publish(ev)
	}
	if e.notifier != nil {
		if err := e.notifier.Notify(ev); err != nil {
			e.log.Warnf("notify %s for request %s: %v", ev.Kind, ev.RequestID, err)
		}
	}
	return nil
}

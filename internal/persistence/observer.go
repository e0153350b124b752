package persistence

import (
	"context"
	"log/slog"
	"time"

	"github.com/petrijr/arbor/internal/ctxlog"
	"github.com/petrijr/arbor/pkg/api"
)

// EventObserver appends run and node lifecycle events to an EventStore.
// Trees performed outside Engine.Run carry no run id and are not recorded.
type EventObserver struct {
	store EventStore
}

var _ api.Observer = (*EventObserver)(nil)

func NewEventObserver(store EventStore) *EventObserver {
	return &EventObserver{store: store}
}

func (o *EventObserver) OnRunStart(ctx context.Context, run *api.Run) {
	o.append(ctx, api.Event{RunID: run.ID, At: run.StartedAt, Type: api.EventRunStarted, Description: run.Root.Description()})
}

func (o *EventObserver) OnRunCompleted(ctx context.Context, run *api.Run) {
	o.append(ctx, api.Event{RunID: run.ID, At: run.FinishedAt, Type: api.EventRunCompleted, Duration: run.Duration()})
}

func (o *EventObserver) OnRunFailed(ctx context.Context, run *api.Run, err error) {
	o.append(ctx, api.Event{RunID: run.ID, At: run.FinishedAt, Type: api.EventRunFailed, Duration: run.Duration(), Detail: err.Error()})
}

func (o *EventObserver) OnNodeStart(ctx context.Context, run *api.Run, a *api.Action) {
	if run == nil {
		return
	}
	o.append(ctx, nodeEvent(run, a, api.EventNodeStarted))
}

func (o *EventObserver) OnNodeCompleted(ctx context.Context, run *api.Run, a *api.Action, err error, d time.Duration) {
	if run == nil {
		return
	}
	ev := nodeEvent(run, a, api.EventNodeCompleted)
	ev.Duration = d
	if err != nil {
		ev.Type = api.EventNodeFailed
		ev.Detail = err.Error()
	}
	o.append(ctx, ev)
}

func nodeEvent(run *api.Run, a *api.Action, typ api.EventType) api.Event {
	return api.Event{
		RunID:       run.ID,
		At:          time.Now(),
		Type:        typ,
		ActionID:    a.ID(),
		Kind:        a.Kind().String(),
		Description: a.Description(),
	}
}

// append never fails the run: history is best-effort, so store errors are
// logged instead.
func (o *EventObserver) append(ctx context.Context, ev api.Event) {
	if err := o.store.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		ctxlog.FromContext(ctx).WarnContext(ctx, "append run event",
			slog.String("run_id", ev.RunID),
			slog.String("type", string(ev.Type)),
			slog.Any("err", err),
		)
	}
}

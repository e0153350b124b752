package persistence

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/petrijr/arbor/pkg/api"
)

// stamp fills in the event time when the emitter left it zero.
func stamp(ev api.Event) api.Event {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	return ev
}

// EncodeEvent serializes an event for stores that keep opaque payloads.
func EncodeEvent(ev api.Event) ([]byte, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	return data, nil
}

// DecodeEvent is the inverse of EncodeEvent.
func DecodeEvent(data []byte) (api.Event, error) {
	var ev api.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return api.Event{}, fmt.Errorf("decode event: %w", err)
	}
	return ev, nil
}

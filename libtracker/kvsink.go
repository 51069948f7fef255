package libtracker

import (
	"context"
	"encoding/json"
	"log"
	"time"

	libkv "github.com/contenox/agentplan/libkvstore"
	"github.com/google/uuid"
)

// KVActivitySink records activity spans into the key-value store so recent
// operations can be inspected without trawling logs. The log is capped; old
// entries fall off the tail.
type KVActivitySink struct {
	kvManager libkv.KVManager
}

func NewKVActivityTracker(kvManager libkv.KVManager) *KVActivitySink {
	return &KVActivitySink{kvManager: kvManager}
}

type TrackedEvent struct {
	ID        string            `json:"id"`
	Operation string            `json:"operation"`
	Subject   string            `json:"subject"`
	Start     time.Time         `json:"start"`
	End       *time.Time        `json:"end,omitempty"`
	Error     *string           `json:"error,omitempty"`
	EntityID  *string           `json:"entityID,omitempty"`
	EntityData any              `json:"entityData,omitempty"`
	Duration  float64           `json:"duration"` // milliseconds
	Metadata  map[string]string `json:"metadata,omitempty"`
	RequestID string            `json:"requestID,omitempty"`
}

const (
	activityLogKey    = "activity:log"
	activityLogLength = 999
)

func (t *KVActivitySink) Start(
	ctx context.Context,
	operation string,
	subject string,
	kvArgs ...any,
) (func(error), func(string, any), func()) {
	startTime := time.Now().UTC()

	event := &TrackedEvent{
		ID:        uuid.New().String(),
		Operation: operation,
		Subject:   subject,
		Start:     startTime,
		Metadata:  extractMetadata(kvArgs...),
	}
	if reqID, ok := ctx.Value(ContextKeyRequestID).(string); ok {
		event.RequestID = reqID
	}

	reportErr := func(err error) {
		if err != nil {
			errStr := err.Error()
			event.Error = &errStr
		}
	}
	reportChange := func(id string, data any) {
		event.EntityID = &id
		event.EntityData = data
	}

	end := func() {
		now := time.Now().UTC()
		event.End = &now
		if d := time.Since(startTime); d > 0 {
			event.Duration = float64(d) / float64(time.Millisecond)
		}
		data, err := json.Marshal(event)
		if err != nil {
			log.Printf("SERVERBUG: failed to marshal activity event: %v", err)
			return
		}

		kv, err := t.kvManager.Executor(ctx)
		if err != nil {
			log.Printf("SERVERBUG: failed to get KV executor: %v", err)
			return
		}
		if err := kv.ListPush(ctx, activityLogKey, data); err != nil {
			log.Printf("SERVERBUG: failed to push activity event: %v", err)
		}
		if err := kv.ListTrim(ctx, activityLogKey, 0, activityLogLength); err != nil {
			log.Printf("SERVERBUG: failed to trim activity log: %v", err)
		}
		if event.RequestID != "" {
			reqKey := "activity:request:" + event.RequestID
			if err := kv.ListPush(ctx, reqKey, data); err != nil {
				log.Printf("SERVERBUG: failed to push request activity event: %v", err)
			}
		}
	}

	return reportErr, reportChange, end
}

func extractMetadata(args ...any) map[string]string {
	meta := make(map[string]string)
	for i := 0; i+1 < len(args); i += 2 {
		key, okKey := args[i].(string)
		val, okVal := args[i+1].(string)
		if okKey && okVal {
			meta[key] = val
		}
	}
	return meta
}

// GetRecentEvents returns the newest recorded events, most recent first.
func (t *KVActivitySink) GetRecentEvents(ctx context.Context, limit int) ([]TrackedEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	kv, err := t.kvManager.Executor(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := kv.ListRange(ctx, activityLogKey, 0, int64(limit)-1)
	if err != nil {
		return nil, err
	}
	events := make([]TrackedEvent, 0, len(raw))
	for _, item := range raw {
		var ev TrackedEvent
		if err := json.Unmarshal(item, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// GetEventsForRequest returns the events recorded under one request ID.
func (t *KVActivitySink) GetEventsForRequest(ctx context.Context, requestID string) ([]TrackedEvent, error) {
	kv, err := t.kvManager.Executor(ctx)
	if err != nil {
		return nil, err
	}
	raw, err := kv.ListRange(ctx, "activity:request:"+requestID, 0, -1)
	if err != nil {
		return nil, err
	}
	events := make([]TrackedEvent, 0, len(raw))
	for _, item := range raw {
		var ev TrackedEvent
		if err := json.Unmarshal(item, &ev); err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

var _ ActivityTracker = (*KVActivitySink)(nil)

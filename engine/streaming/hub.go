package streaming

import (
	"context"
	"sync"
	"time"

	"github.com/daz23456/workflow-sub005/engine/core"
	"github.com/daz23456/workflow-sub005/pkg/logger"
)

// GroupVisualization receives every event from every execution.
const GroupVisualization = "visualization"

const defaultSubscriberBuffer = 64

// GroupForExecution names the per-execution group.
func GroupForExecution(id core.ID) string {
	return "execution-" + string(id)
}

// Forwarder pushes events beyond process boundaries, typically to Redis.
// Forward failures must not stall local delivery.
type Forwarder interface {
	Forward(ctx context.Context, event Event) error
}

// Subscription is one consumer's buffered event feed. Events are dropped,
// not queued unboundedly, when the consumer falls behind.
type Subscription struct {
	C chan Event

	hub    *Hub
	group  string
	closed bool
}

// Close detaches the subscription from its group and closes the channel.
func (s *Subscription) Close() {
	s.hub.unsubscribe(s)
}

// Hub fans execution events out to subscriber groups. Each event reaches
// its per-execution group and the visualization group as two independent
// sends: a consumer subscribed to both groups sees the event twice.
type Hub struct {
	mu        sync.RWMutex
	groups    map[string]map[*Subscription]struct{}
	buffer    int
	forwarder Forwarder
	dropped   uint64
	now       func() time.Time
}

// NewHub builds a hub. forwarder may be nil for purely in-process delivery.
func NewHub(forwarder Forwarder) *Hub {
	return &Hub{
		groups:    make(map[string]map[*Subscription]struct{}),
		buffer:    defaultSubscriberBuffer,
		forwarder: forwarder,
		now:       time.Now,
	}
}

// Subscribe attaches a consumer to a group.
func (h *Hub) Subscribe(group string) *Subscription {
	sub := &Subscription{
		C:     make(chan Event, h.buffer),
		hub:   h,
		group: group,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.groups[group]
	if !ok {
		members = make(map[*Subscription]struct{})
		h.groups[group] = members
	}
	members[sub] = struct{}{}
	return sub
}

func (h *Hub) unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub.closed {
		return
	}
	sub.closed = true
	if members, ok := h.groups[sub.group]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(h.groups, sub.group)
		}
	}
	close(sub.C)
}

// SubscriberCount reports the current membership of a group.
func (h *Hub) SubscriberCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[group])
}

// Dropped reports how many events were discarded because a subscriber's
// buffer was full.
func (h *Hub) Dropped() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Publish delivers the event to its execution group and the visualization
// group, then forwards it out of process. Publish never blocks on slow
// subscribers.
func (h *Hub) Publish(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now().UTC()
	}
	h.deliver(GroupForExecution(event.ExecutionID), event)
	h.deliver(GroupVisualization, event)
	if h.forwarder != nil {
		if err := h.forwarder.Forward(ctx, event); err != nil {
			logger.FromContext(ctx).Warn(
				"failed to forward event",
				"type", event.Type,
				"execution_id", event.ExecutionID,
				"error", err,
			)
		}
	}
}

func (h *Hub) deliver(group string, event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.groups[group] {
		select {
		case sub.C <- event:
		default:
			h.dropped++
		}
	}
}

// The hub doubles as the execution notifier.

func (h *Hub) WorkflowStarted(ctx context.Context, execID core.ID, workflowName string) {
	h.Publish(ctx, Event{
		Type:         EventWorkflowStarted,
		ExecutionID:  execID,
		WorkflowName: workflowName,
	})
}

func (h *Hub) TaskStarted(ctx context.Context, execID core.ID, taskID, taskName string) {
	h.Publish(ctx, Event{
		Type:        EventTaskStarted,
		ExecutionID: execID,
		TaskID:      taskID,
		TaskName:    taskName,
	})
}

func (h *Hub) TaskCompleted(
	ctx context.Context,
	execID core.ID,
	taskID, taskName string,
	status core.TaskStatus,
	output core.Output,
	duration time.Duration,
) {
	h.Publish(ctx, Event{
		Type:        EventTaskCompleted,
		ExecutionID: execID,
		TaskID:      taskID,
		TaskName:    taskName,
		Status:      string(status),
		Output:      output,
		DurationMS:  duration.Milliseconds(),
	})
}

func (h *Hub) WorkflowCompleted(
	ctx context.Context,
	execID core.ID,
	workflowName string,
	status core.ExecutionStatus,
	output core.Output,
	duration time.Duration,
) {
	h.Publish(ctx, Event{
		Type:         EventWorkflowCompleted,
		ExecutionID:  execID,
		WorkflowName: workflowName,
		Status:       string(status),
		Output:       output,
		DurationMS:   duration.Milliseconds(),
	})
}

func (h *Hub) SignalFlow(ctx context.Context, execID core.ID, fromTaskID, toTaskID string) {
	h.Publish(ctx, Event{
		Type:        EventSignalFlow,
		ExecutionID: execID,
		FromTaskID:  fromTaskID,
		ToTaskID:    toTaskID,
	})
}

// AnomalyDetected pushes a detector finding to the visualization group only;
// there is no live execution to address it to.
func (h *Hub) AnomalyDetected(ctx context.Context, workflowName, taskID, severity string, data map[string]any) {
	event := Event{
		Type:         EventAnomalyDetected,
		WorkflowName: workflowName,
		TaskID:       taskID,
		Status:       severity,
		Timestamp:    h.now().UTC(),
		Data:         data,
	}
	h.deliver(GroupVisualization, event)
	if h.forwarder != nil {
		if err := h.forwarder.Forward(ctx, event); err != nil {
			logger.FromContext(ctx).Warn("failed to forward anomaly event", "workflow", workflowName, "error", err)
		}
	}
}

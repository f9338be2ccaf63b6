package store

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/taskdeck/taskgraph/pkg/errors"
	"github.com/taskdeck/taskgraph/pkg/graph"
)

// channelPrefix namespaces pub/sub channels per scope.
const channelPrefix = "taskgraph:scope:"

// RedisNotifier broadcasts change events over Redis pub/sub so every
// session watching a scope sees other sessions' mutations live. Push
// delivery is an optimization: Redis pub/sub is fire-and-forget, so
// clients still poll as the correctness fallback.
type RedisNotifier struct {
	client *redis.Client
}

// NewRedisNotifier creates a notifier on the given Redis client.
// The caller owns the client's lifecycle.
func NewRedisNotifier(client *redis.Client) *RedisNotifier {
	return &RedisNotifier{client: client}
}

// Publish broadcasts one event to the scope's channel.
func (n *RedisNotifier) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "encode event")
	}
	if err := n.client.Publish(ctx, channelPrefix+ev.ScopeID, payload).Err(); err != nil {
		return errors.Wrap(errors.ErrCodePersistence, err, "publish event for scope %s", ev.ScopeID)
	}
	return nil
}

// Watch subscribes to the scope's channel and delivers decoded events
// until ctx is cancelled. Undecodable messages are dropped.
func (n *RedisNotifier) Watch(ctx context.Context, scopeID string) (<-chan Event, error) {
	sub := n.client.Subscribe(ctx, channelPrefix+scopeID)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, errors.Wrap(errors.ErrCodePersistence, err, "subscribe to scope %s", scopeID)
	}

	out := make(chan Event, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

var _ Watcher = (*RedisNotifier)(nil)

// NotifyingStore decorates a Store, publishing an event after each
// successful mutation. Pair it with a RedisNotifier to make any backend
// push-capable.
type NotifyingStore struct {
	Store
	notifier interface {
		Publish(ctx context.Context, ev Event) error
	}
	origin string
}

// WithNotifier wraps s so successful mutations publish events tagged with
// the mutating session's ID when the request context carries one (see
// WithOrigin), falling back to the given origin.
// Publish failures are ignored: the mutation is already durable, and poll
// refresh will deliver it.
func WithNotifier(s Store, n *RedisNotifier, origin string) *NotifyingStore {
	return &NotifyingStore{Store: s, notifier: n, origin: origin}
}

func (s *NotifyingStore) CreateDependency(ctx context.Context, scopeID, fromTaskID, toTaskID string) (string, error) {
	edgeID, err := s.Store.CreateDependency(ctx, scopeID, fromTaskID, toTaskID)
	if err != nil {
		return "", err
	}
	_ = s.notifier.Publish(ctx, Event{
		Kind: EventDependencyCreated, ScopeID: scopeID,
		EdgeID: edgeID, From: fromTaskID, To: toTaskID, Origin: OriginFrom(ctx, s.origin),
	})
	return edgeID, nil
}

func (s *NotifyingStore) DeleteDependency(ctx context.Context, scopeID, edgeID string) error {
	if err := s.Store.DeleteDependency(ctx, scopeID, edgeID); err != nil {
		return err
	}
	_ = s.notifier.Publish(ctx, Event{
		Kind: EventDependencyDeleted, ScopeID: scopeID, EdgeID: edgeID, Origin: OriginFrom(ctx, s.origin),
	})
	return nil
}

func (s *NotifyingStore) UpdateTaskPosition(ctx context.Context, scopeID, taskID string, pos *graph.Point) error {
	if err := s.Store.UpdateTaskPosition(ctx, scopeID, taskID, pos); err != nil {
		return err
	}
	kind := EventPositionUpdated
	if pos == nil {
		kind = EventPositionCleared
	}
	_ = s.notifier.Publish(ctx, Event{
		Kind: kind, ScopeID: scopeID, TaskID: taskID, Pos: pos, Origin: OriginFrom(ctx, s.origin),
	})
	return nil
}

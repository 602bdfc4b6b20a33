package client

import (
	"context"
	"encoding/json"
	"fmt"
)

// Service is a view over a single server-side service: its cached state,
// a scoped subscription, and bound action dispatch.
type Service struct {
	name string
	c    *Client
}

// Service returns a view for the named service. The view is cheap; no
// network traffic happens until Subscribe or Action is called.
func (c *Client) Service(name string) *Service {
	return &Service{name: name, c: c}
}

// Name returns the service name.
func (s *Service) Name() string {
	return s.name
}

// State returns the last known state snapshot for the service, or nil when
// none has arrived yet. The snapshot is retained across disconnects, so a
// caller may see stale-but-present data before the next live update.
func (s *Service) State() json.RawMessage {
	return s.c.cachedState(s.name)
}

// Subscribe registers fn for state updates of this service. Any cached
// state is delivered synchronously before the first live update. Listener
// panics are routed through the normalized error channel.
func (s *Service) Subscribe(fn func(state json.RawMessage)) (func(), error) {
	dispose, err := s.c.Subscribe(servicePrefix+s.name, func(args ...json.RawMessage) {
		var state json.RawMessage
		if len(args) > 0 {
			state = args[0]
		}
		fn(state)
	})
	if err != nil {
		return nil, err
	}

	if cached := s.c.cachedState(s.name); cached != nil {
		s.c.deliverCached(s.name, fn, cached)
	}

	return dispose, nil
}

// Action invokes an action on this service.
func (s *Service) Action(ctx context.Context, action string, data any) (json.RawMessage, error) {
	return s.c.Action(ctx, s.name, action, data)
}

// deliverCached hands the cached snapshot to a fresh listener. The bus
// recovery does not cover this direct call, so it guards on its own.
func (c *Client) deliverCached(service string, fn func(json.RawMessage), state json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.emitError(ErrorGeneral, fmt.Errorf("listener panic on %q: %v", servicePrefix+service, r))
		}
	}()
	fn(state)
}

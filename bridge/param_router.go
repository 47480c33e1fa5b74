package bridge

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/osu-uwrt/riptide-fw-bridge/bus"
	"github.com/osu-uwrt/riptide-fw-bridge/errors"
	"github.com/osu-uwrt/riptide-fw-bridge/schema"
)

// ParameterRouter serves the parameter operations against the bus
// parameter store: reads, writes, listings, and push updates. Parameter
// responses always carry the request token themselves, so the generic
// ack path never fires for them.
//
// A parameter becomes "requested" the first time any client asks for it;
// from then on every store change to it is broadcast as a token-less
// update, so clients converge on writes made behind their backs.
type ParameterRouter struct {
	set     *schema.ParamSet
	store   bus.ParamStore
	send    sendFunc
	logger  *slog.Logger
	metrics *Metrics

	// update and list are the envelope members parameter responses go
	// out on.
	update *schema.Member
	list   *schema.Member

	mu        sync.Mutex
	requested map[string]bool
	watch     bus.Subscription
}

func newParameterRouter(s *schema.Schema, store bus.ParamStore, send sendFunc, logger *slog.Logger, metrics *Metrics) *ParameterRouter {
	r := &ParameterRouter{
		set:       s.Params(),
		store:     store,
		send:      send,
		logger:    logger,
		metrics:   metrics,
		requested: make(map[string]bool),
	}
	for _, member := range s.Members() {
		switch member.Kind {
		case schema.MemberParamUpdate:
			r.update = member
		case schema.MemberParamList:
			r.list = member
		}
	}
	return r
}

// Handle routes one decoded envelope whose member is a parameter
// operation. It reports false with no error when the member is not a
// parameter operation, leaving the envelope for the caller's unroutable
// diagnostics. A non-nil error means the operation failed and was
// dropped; no response went out.
func (r *ParameterRouter) Handle(ctx context.Context, clientID uint32, env *schema.Envelope) (bool, error) {
	var err error
	switch env.Member.Kind {
	case schema.MemberParamRequest:
		err = r.handleGet(ctx, clientID, env)
	case schema.MemberParamUpdate:
		err = r.handleSet(ctx, clientID, env)
	case schema.MemberParamListRequest:
		err = r.handleList(ctx, clientID, env)
	default:
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// handleGet reads one parameter and responds with its value, the request
// token copied onto the response. The parameter is marked requested even
// if the read fails, so a client polling a not-yet-written parameter
// still gets the push update once something writes it.
func (r *ParameterRouter) handleGet(ctx context.Context, clientID uint32, env *schema.Envelope) error {
	param, ok := r.set.ByEnum(env.Request)
	if !ok {
		return fmt.Errorf("parameter request names unknown value %d: %w", env.Request, errors.ErrInvalidData)
	}
	r.markRequested(param.Name)

	value, err := r.store.Get(ctx, param.Name)
	if err != nil {
		return fmt.Errorf("read parameter %q: %w", param.Name, err)
	}
	payload, err := r.set.EncodeValue(param.Name, value)
	if err != nil {
		return fmt.Errorf("stored parameter %q does not match its declaration: %w", param.Name, err)
	}

	r.send(clientID, &schema.Envelope{Member: r.update, Token: env.Token, Payload: payload})
	return nil
}

// handleSet writes the carried value to the store and echoes it back to
// the requester, token copied. The wire value's kind is checked against
// the declaration before anything is written.
func (r *ParameterRouter) handleSet(ctx context.Context, clientID uint32, env *schema.Envelope) error {
	if env.Payload == nil {
		return fmt.Errorf("parameter update carries no payload: %w", errors.ErrInvalidData)
	}
	param, value, err := r.set.DecodeValue(env.Payload.ProtoReflect())
	if err != nil {
		return err
	}
	if err := r.store.Set(ctx, param.Name, value); err != nil {
		return fmt.Errorf("write parameter %q: %w", param.Name, err)
	}
	r.logger.Debug("parameter written", "parameter", param.Name, "client_id", clientID)

	// echo the accepted value on the same member the client used
	r.send(clientID, &schema.Envelope{Member: env.Member, Token: env.Token, Payload: env.Payload})
	return nil
}

// handleList responds with the declared parameters that currently exist
// in the store, in declaration order regardless of how the store happens
// to iterate.
func (r *ParameterRouter) handleList(ctx context.Context, clientID uint32, env *schema.Envelope) error {
	names, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list parameters: %w", err)
	}

	present := make([]*schema.Param, 0, len(names))
	for _, name := range names {
		if param, ok := r.set.ByName(name); ok {
			present = append(present, param)
		}
	}
	slices.SortFunc(present, func(a, b *schema.Param) int {
		return cmp.Compare(a.Enum, b.Enum)
	})

	r.send(clientID, &schema.Envelope{Member: r.list, Token: env.Token, Payload: r.set.ListPayload(present)})
	return nil
}

// Start begins watching the store so writes from elsewhere on the bus
// reach clients that asked about the parameter.
func (r *ParameterRouter) Start(ctx context.Context) error {
	sub, err := r.store.Watch(ctx, r.onChange)
	if err != nil {
		return errors.Wrap(err, "ParameterRouter", "Start", "watch parameter store")
	}
	r.mu.Lock()
	r.watch = sub
	r.mu.Unlock()
	return nil
}

// onChange broadcasts a token-less update for a changed parameter, but
// only once some client has shown interest in it.
func (r *ParameterRouter) onChange(name string, value bus.ParamValue) {
	if !r.isRequested(name) {
		return
	}
	payload, err := r.set.EncodeValue(name, value)
	if err != nil {
		r.metrics.recordSendError("param_encode")
		r.logger.Error("parameter push dropped", "parameter", name, "error", err)
		return
	}
	r.send(Broadcast, &schema.Envelope{Member: r.update, Payload: payload})
}

// Stop cancels the store watch.
func (r *ParameterRouter) Stop() error {
	r.mu.Lock()
	watch := r.watch
	r.watch = nil
	r.mu.Unlock()

	if watch == nil {
		return nil
	}
	return watch.Unsubscribe()
}

func (r *ParameterRouter) markRequested(name string) {
	r.mu.Lock()
	r.requested[name] = true
	r.mu.Unlock()
}

func (r *ParameterRouter) isRequested(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requested[name]
}

package admin

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"unicode"

	"github.com/nerrad567/mbn-address/internal/engine"
	"github.com/nerrad567/mbn-address/internal/node"
)

// Engine is the set of administrative operations the dispatcher invokes.
// *engine.Engine satisfies it.
type Engine interface {
	Query(ctx context.Context, q node.Query) ([]node.Node, error)
	Rename(ctx context.Context, addr node.Address, name string) error
	SetEngineAddress(ctx context.Context, addr, engineAddr node.Address) error
	Refresh(ctx context.Context, filter node.Filter) error
	Remove(ctx context.Context, addr node.Address) error
	Reassign(ctx context.Context, oldAddr, newAddr node.Address) error
	Ping(ctx context.Context) error
}

// Logger is the logging interface the admin package needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Dispatcher turns command lines into engine calls and replies.
type Dispatcher struct {
	engine Engine
	logger Logger
}

// NewDispatcher creates a dispatcher. A nil logger discards output.
func NewDispatcher(e Engine, logger Logger) *Dispatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{engine: e, logger: logger}
}

// handlerFunc runs one verb against its raw JSON argument.
type handlerFunc func(d *Dispatcher, ctx context.Context, arg []byte, subs *Subscriptions) (Reply, error)

var verbs = map[string]handlerFunc{
	"GET":       (*Dispatcher).get,
	"SETNAME":   (*Dispatcher).setName,
	"SETENGINE": (*Dispatcher).setEngine,
	"PING":      (*Dispatcher).ping,
	"REFRESH":   (*Dispatcher).refresh,
	"REMOVE":    (*Dispatcher).remove,
	"REASSIGN":  (*Dispatcher).reassign,
	"NOTIFY":    (*Dispatcher).notify,
}

// Dispatch handles one line. subs is the issuing session's subscription
// set; only NOTIFY changes it. ok is false for an empty line, which gets
// no reply.
func (d *Dispatcher) Dispatch(ctx context.Context, line string, subs *Subscriptions) (reply Reply, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Reply{}, false
	}

	verb, arg := line, ""
	if i := strings.IndexFunc(line, unicode.IsSpace); i >= 0 {
		verb, arg = line[:i], strings.TrimSpace(line[i:])
	}
	if !isVerb(verb) {
		return errorReply(string(msgBadCommand)), true
	}
	handler, known := verbs[verb]
	if !known {
		return errorReply(string(msgUnknownCommand)), true
	}
	if arg == "" {
		arg = "{}"
	}

	reply, err := handler(d, ctx, []byte(arg), subs)
	if err != nil {
		return d.failure(verb, err), true
	}
	return reply, true
}

// failure maps an error onto its reply message.
func (d *Dispatcher) failure(verb string, err error) Reply {
	var verr validationError
	switch {
	case errors.As(err, &verr):
		d.logger.Debug("command rejected", "verb", verb, "reason", string(verr))
		return errorReply(string(verr))
	case errors.Is(err, node.ErrNodeNotFound):
		return errorReply(msgNodeNotFound)
	case errors.Is(err, node.ErrNameTooLong):
		return errorReply(msgNameTooLong)
	case errors.Is(err, engine.ErrNoNodesFound):
		return errorReply(msgNoNodesFound)
	case errors.Is(err, engine.ErrNodeOnline):
		return errorReply(msgNodeOnline)
	case errors.Is(err, node.ErrInvalidOrder):
		return errorReply(string(msgBadOrder))
	case errors.Is(err, node.ErrInvalidAddress):
		return errorReply(string(msgBadNewAddr))
	default:
		d.logger.Error("command failed", "verb", verb, "error", err)
		return errorReply(msgDatabaseError)
	}
}

func isVerb(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// decode parses a JSON object argument into v.
func decode(arg []byte, v any) error {
	if err := json.Unmarshal(arg, v); err != nil {
		return msgBadArgument
	}
	return nil
}

func (d *Dispatcher) get(ctx context.Context, arg []byte, _ *Subscriptions) (Reply, error) {
	var args getArgs
	if err := decode(arg, &args); err != nil {
		return Reply{}, err
	}
	q, err := args.query()
	if err != nil {
		return Reply{}, err
	}

	nodes, err := d.engine.Query(ctx, q)
	if err != nil {
		return Reply{}, err
	}
	return nodesReply(nodes), nil
}

func (d *Dispatcher) setName(ctx context.Context, arg []byte, _ *Subscriptions) (Reply, error) {
	var args setNameArgs
	if err := decode(arg, &args); err != nil {
		return Reply{}, err
	}
	addr, err := requiredAddress(args.MambaNetAddr, msgNoAddr, msgBadAddr)
	if err != nil {
		return Reply{}, err
	}
	if args.Name == nil {
		return Reply{}, msgNoName
	}

	if err := d.engine.Rename(ctx, addr, *args.Name); err != nil {
		return Reply{}, err
	}
	return okReply(), nil
}

func (d *Dispatcher) setEngine(ctx context.Context, arg []byte, _ *Subscriptions) (Reply, error) {
	var args setEngineArgs
	if err := decode(arg, &args); err != nil {
		return Reply{}, err
	}
	addr, err := requiredAddress(args.MambaNetAddr, msgNoAddr, msgBadAddr)
	if err != nil {
		return Reply{}, err
	}
	engineAddr, err := requiredAddress(args.EngineAddr, msgNoEngineAddr, msgBadEngineAddr)
	if err != nil {
		return Reply{}, err
	}

	if err := d.engine.SetEngineAddress(ctx, addr, engineAddr); err != nil {
		return Reply{}, err
	}
	return okReply(), nil
}

func (d *Dispatcher) ping(ctx context.Context, arg []byte, _ *Subscriptions) (Reply, error) {
	var args struct{}
	if err := decode(arg, &args); err != nil {
		return Reply{}, err
	}
	if err := d.engine.Ping(ctx); err != nil {
		return Reply{}, err
	}
	return okReply(), nil
}

func (d *Dispatcher) refresh(ctx context.Context, arg []byte, _ *Subscriptions) (Reply, error) {
	var args filterArgs
	if err := decode(arg, &args); err != nil {
		return Reply{}, err
	}
	f, err := args.filter()
	if err != nil {
		return Reply{}, err
	}

	if err := d.engine.Refresh(ctx, f); err != nil {
		return Reply{}, err
	}
	return okReply(), nil
}

func (d *Dispatcher) remove(ctx context.Context, arg []byte, _ *Subscriptions) (Reply, error) {
	var args removeArgs
	if err := decode(arg, &args); err != nil {
		return Reply{}, err
	}
	addr, err := requiredAddress(args.MambaNetAddr, msgNoAddr, msgBadAddr)
	if err != nil {
		return Reply{}, err
	}

	if err := d.engine.Remove(ctx, addr); err != nil {
		return Reply{}, err
	}
	return okReply(), nil
}

func (d *Dispatcher) reassign(ctx context.Context, arg []byte, _ *Subscriptions) (Reply, error) {
	var args reassignArgs
	if err := decode(arg, &args); err != nil {
		return Reply{}, err
	}
	oldAddr, err := requiredAddress(args.Old, msgNoOldAddr, msgBadOldAddr)
	if err != nil {
		return Reply{}, err
	}
	newAddr, err := requiredAddress(args.New, msgNoNewAddr, msgBadNewAddr)
	if err != nil {
		return Reply{}, err
	}
	if newAddr == 0 {
		return Reply{}, msgBadNewAddr
	}

	if err := d.engine.Reassign(ctx, oldAddr, newAddr); err != nil {
		return Reply{}, err
	}
	return okReply(), nil
}

func (d *Dispatcher) notify(_ context.Context, arg []byte, subs *Subscriptions) (Reply, error) {
	var args notifyArgs
	if err := decode(arg, &args); err != nil {
		return Reply{}, err
	}
	next, err := args.apply(*subs)
	if err != nil {
		return Reply{}, err
	}
	*subs = next
	return okReply(), nil
}

package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/mbn-address/internal/bus"
	"github.com/nerrad567/mbn-address/internal/node"
)

// HandleEvent applies one bus event to the registry.
//
// Malformed or irrelevant events are logged and ignored. The returned
// error is a registry failure; the event has then had no effect.
func (e *Engine) HandleEvent(ctx context.Context, ev bus.Event) error {
	switch ev := ev.(type) {
	case bus.AddressInfo:
		return e.atomic(ctx, func(tx node.Repository, fx *effects) error {
			return e.onAddressInfo(ctx, tx, fx, ev)
		})
	case bus.NodeOnline:
		return e.atomic(ctx, func(tx node.Repository, fx *effects) error {
			return e.onNodeOnline(ctx, tx, fx, ev)
		})
	case bus.NodeOffline:
		return e.atomic(ctx, func(tx node.Repository, fx *effects) error {
			return e.onNodeOffline(ctx, tx, fx, ev)
		})
	case bus.SensorReply:
		return e.atomic(ctx, func(tx node.Repository, _ *effects) error {
			return e.onSensorReply(ctx, tx, ev)
		})
	case bus.ActuatorReply:
		return e.atomic(ctx, func(tx node.Repository, _ *effects) error {
			return e.onActuatorReply(ctx, tx, ev)
		})
	case bus.AckTimeout:
		return e.atomic(ctx, func(tx node.Repository, fx *effects) error {
			return e.onAckTimeout(ctx, tx, fx, ev)
		})
	case bus.ProtocolError:
		e.logger.Warn("bus protocol error", "code", ev.Code, "message", ev.Message)
		return nil
	default:
		e.logger.Debug("ignoring unknown bus event", "event", fmt.Sprintf("%T", ev))
		return nil
	}
}

// onAddressInfo treats a valid address as a heartbeat and anything else
// as a request for an address.
func (e *Engine) onAddressInfo(ctx context.Context, tx node.Repository, fx *effects, ev bus.AddressInfo) error {
	now := e.now().UTC()

	if ev.Address != 0 && ev.Services.Valid() {
		n, err := tx.GetByAddress(ctx, ev.Address)
		if errors.Is(err, node.ErrNodeNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		n.LastSeen = now
		return tx.Update(ctx, n)
	}

	n, err := tx.GetByIdentity(ctx, ev.Identity)
	switch {
	case err == nil:
		n.AddressRequests++
		if err := tx.Update(ctx, n); err != nil {
			return err
		}
		e.logger.Debug("address re-issued", "identity", n.Identity, "address", n.Address)
		fx.record(func(d Diagnostics) {
			d.WriteAddressRequest(n.Identity.String(), n.Address.String(), false)
		})

	case errors.Is(err, node.ErrNodeNotFound):
		addr, err := tx.NextAddress(ctx)
		if err != nil {
			return fmt.Errorf("allocating address: %w", err)
		}
		n = &node.Node{
			Identity:        ev.Identity,
			Address:         addr,
			EngineAddress:   ev.EngineAddress,
			Services:        ev.Services.WithoutValid(),
			FirstSeen:       now,
			LastSeen:        now,
			AddressRequests: 1,
			NeedsRefresh:    true,
		}
		if err := tx.Create(ctx, n); err != nil {
			return err
		}
		e.logger.Info("address allocated", "identity", n.Identity, "address", addr)
		fx.record(func(d Diagnostics) {
			d.WriteAddressRequest(n.Identity.String(), addr.String(), true)
		})

	default:
		return err
	}

	fx.send(bus.AddressResponse{
		Identity:      n.Identity,
		Address:       n.Address,
		EngineAddress: n.EngineAddress,
		Services:      ev.Services.WithValid(),
	})
	return nil
}

// onNodeOnline reconciles an online node with the registry.
func (e *Engine) onNodeOnline(ctx context.Context, tx node.Repository, fx *effects, ev bus.NodeOnline) error {
	if ev.Address == 0 {
		e.logger.Debug("ignoring online event without address", "identity", ev.Identity)
		return nil
	}

	byAddr, err := lookup(tx.GetByAddress(ctx, ev.Address))
	if err != nil {
		return err
	}
	byID, err := lookup(tx.GetByIdentity(ctx, ev.Identity))
	if err != nil {
		return err
	}

	if (byAddr != nil && byAddr.Identity != ev.Identity) || (byID != nil && byID.Address != ev.Address) {
		e.logger.Warn("address conflict", "identity", ev.Identity, "address", ev.Address)
		fx.send(bus.AddressResponse{
			Identity: ev.Identity,
			Services: ev.Services.WithoutValid(),
		})
		fx.record(func(d Diagnostics) {
			d.WriteConflict(ev.Identity.String(), ev.Address.String())
		})
		return nil
	}

	now := e.now().UTC()
	n := byID
	created := n == nil
	wasActive := n != nil && n.Active

	if created {
		n = &node.Node{
			Identity:      ev.Identity,
			Address:       ev.Address,
			EngineAddress: ev.EngineAddress,
			Services:      ev.Services.WithoutValid(),
			Active:        true,
			FirstSeen:     now,
			LastSeen:      now,
			NeedsRefresh:  true,
		}
	} else {
		n.Services = ev.Services.WithoutValid()
		n.EngineAddress = ev.EngineAddress
		n.Active = true
		n.LastSeen = now
	}

	if created || n.NeedsRefresh {
		fx.requestRefresh(n.Address)
	}
	if n.PendingNameWrite {
		fx.send(bus.ActuatorWrite{Target: n.Address, Object: bus.ObjectName, Data: []byte(n.Name)})
		n.PendingNameWrite = false
	}

	if created {
		if err := tx.Create(ctx, n); err != nil {
			return err
		}
		e.logger.Info("node registered on first contact", "identity", n.Identity, "address", n.Address)
	} else if err := tx.Update(ctx, n); err != nil {
		return err
	}

	if !wasActive {
		fx.record(func(d Diagnostics) {
			d.WriteNodeStatus(n.Identity.String(), n.Address.String(), true)
		})
	}
	return nil
}

// onNodeOffline marks a node inactive. Records are never deleted here.
func (e *Engine) onNodeOffline(ctx context.Context, tx node.Repository, fx *effects, ev bus.NodeOffline) error {
	n, err := lookup(tx.GetByAddress(ctx, ev.Address))
	if err != nil || n == nil || !n.Active {
		return err
	}

	n.Active = false
	if err := tx.Update(ctx, n); err != nil {
		return err
	}
	fx.record(func(d Diagnostics) {
		d.WriteNodeStatus(n.Identity.String(), n.Address.String(), false)
	})
	return nil
}

// onSensorReply stores the hardware parent of a node.
func (e *Engine) onSensorReply(ctx context.Context, tx node.Repository, ev bus.SensorReply) error {
	if ev.Object != bus.ObjectHardwareParent {
		return nil
	}
	parent, err := bus.DecodeParent(ev.Data)
	if err != nil {
		e.logger.Warn("bad hardware parent reply", "address", ev.Source, "error", err)
		return nil
	}

	n, err := lookup(tx.GetByAddress(ctx, ev.Source))
	if err != nil || n == nil {
		return err
	}
	n.Parent = parent
	return tx.Update(ctx, n)
}

// onActuatorReply stores the name a node reports and clears NeedsRefresh.
func (e *Engine) onActuatorReply(ctx context.Context, tx node.Repository, ev bus.ActuatorReply) error {
	if ev.Object != bus.ObjectName {
		return nil
	}

	n, err := lookup(tx.GetByAddress(ctx, ev.Source))
	if err != nil || n == nil {
		return err
	}
	n.Name = decodeName(ev.Data)
	n.NeedsRefresh = false
	return tx.Update(ctx, n)
}

// onAckTimeout flags an unacknowledged name write for retry on the next
// online transition. Other timeouts are recorded only.
func (e *Engine) onAckTimeout(ctx context.Context, tx node.Repository, fx *effects, ev bus.AckTimeout) error {
	e.logger.Info("acknowledge timeout", "address", ev.Target, "object", ev.Object)
	fx.record(func(d Diagnostics) {
		d.WriteAckTimeout(ev.Target.String(), uint16(ev.Object))
	})

	if ev.Object != bus.ObjectName {
		return nil
	}
	n, err := lookup(tx.GetByAddress(ctx, ev.Target))
	if err != nil || n == nil {
		return err
	}
	n.PendingNameWrite = true
	return tx.Update(ctx, n)
}

// lookup folds ErrNodeNotFound into a nil node.
func lookup(n *node.Node, err error) (*node.Node, error) {
	if errors.Is(err, node.ErrNodeNotFound) {
		return nil, nil
	}
	return n, err
}

// decodeName strips the NUL padding of a name object and clips it to
// what the registry stores.
func decodeName(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	if len(data) > node.MaxNameLength {
		data = data[:node.MaxNameLength]
	}
	return string(data)
}

package engine

import (
	"context"
	"fmt"

	"github.com/nerrad567/mbn-address/internal/bus"
	"github.com/nerrad567/mbn-address/internal/node"
)

// MaxQueryLimit is the largest page Query returns.
const MaxQueryLimit = 100

// Query returns a page of nodes. A limit outside 1..MaxQueryLimit is
// treated as 1 and a negative offset as 0.
func (e *Engine) Query(ctx context.Context, q node.Query) ([]node.Node, error) {
	if q.Limit <= 0 || q.Limit > MaxQueryLimit {
		q.Limit = 1
	}
	q.Offset = max(q.Offset, 0)

	var nodes []node.Node
	err := e.atomic(ctx, func(tx node.Repository, _ *effects) error {
		var err error
		nodes, err = tx.Find(ctx, q)
		return err
	})
	return nodes, err
}

// Rename stores a new display name. An active node gets it immediately;
// an inactive one gets it on its next online transition.
func (e *Engine) Rename(ctx context.Context, addr node.Address, name string) error {
	if err := node.ValidateName(name); err != nil {
		return err
	}

	return e.atomic(ctx, func(tx node.Repository, fx *effects) error {
		n, err := tx.GetByAddress(ctx, addr)
		if err != nil {
			return err
		}

		n.Name = name
		if n.Active {
			fx.send(bus.ActuatorWrite{Target: addr, Object: bus.ObjectName, Data: []byte(name)})
			n.PendingNameWrite = false
		} else {
			n.PendingNameWrite = true
		}
		return tx.Update(ctx, n)
	})
}

// SetEngineAddress stores the engine serving a node and pushes it when
// the node is active.
func (e *Engine) SetEngineAddress(ctx context.Context, addr, engineAddr node.Address) error {
	return e.atomic(ctx, func(tx node.Repository, fx *effects) error {
		n, err := tx.GetByAddress(ctx, addr)
		if err != nil {
			return err
		}

		n.EngineAddress = engineAddr
		if n.Active {
			fx.send(bus.ActuatorWrite{
				Target: addr,
				Object: bus.ObjectEngineAddress,
				Data:   bus.EncodeEngineAddress(engineAddr),
			})
		}
		return tx.Update(ctx, n)
	})
}

// Refresh flags every matching node for a name and parent re-read and
// reads active ones straight away.
func (e *Engine) Refresh(ctx context.Context, filter node.Filter) error {
	return e.atomic(ctx, func(tx node.Repository, fx *effects) error {
		nodes, err := tx.Find(ctx, node.Query{Filter: filter})
		if err != nil {
			return err
		}
		if len(nodes) == 0 {
			return ErrNoNodesFound
		}

		for i := range nodes {
			n := &nodes[i]
			if n.Active {
				fx.requestRefresh(n.Address)
			}
			n.NeedsRefresh = true
			if err := tx.Update(ctx, n); err != nil {
				return err
			}
		}
		return nil
	})
}

// Remove deletes an inactive node and releases its address.
func (e *Engine) Remove(ctx context.Context, addr node.Address) error {
	return e.atomic(ctx, func(tx node.Repository, fx *effects) error {
		n, err := tx.GetByAddress(ctx, addr)
		if err != nil {
			return err
		}
		if n.Active {
			return ErrNodeOnline
		}

		if err := tx.Delete(ctx, n.ID); err != nil {
			return err
		}
		e.logger.Info("node removed", "identity", n.Identity, "address", addr)
		fx.release(addr)
		return nil
	})
}

// Reassign moves the node at oldAddr to newAddr.
//
// Any record already holding newAddr is deleted; an active occupant is
// first told to drop the address. The moved node is told its new address
// and oldAddr is released. Reassigning an address to itself is a no-op.
func (e *Engine) Reassign(ctx context.Context, oldAddr, newAddr node.Address) error {
	if newAddr == 0 {
		return fmt.Errorf("%w: new address cannot be zero", node.ErrInvalidAddress)
	}

	return e.atomic(ctx, func(tx node.Repository, fx *effects) error {
		n, err := tx.GetByAddress(ctx, oldAddr)
		if err != nil {
			return err
		}
		if oldAddr == newAddr {
			return nil
		}

		occupants, err := tx.Find(ctx, node.Query{Filter: node.Filter{Address: &newAddr}})
		if err != nil {
			return err
		}
		for _, occ := range occupants {
			if occ.Active {
				fx.send(bus.AddressResponse{
					Identity: occ.Identity,
					Services: occ.Services.WithoutValid(),
				})
			}
			if err := tx.Delete(ctx, occ.ID); err != nil {
				return err
			}
			e.logger.Info("node superseded by reassignment", "identity", occ.Identity, "address", newAddr)
		}

		n.Address = newAddr
		if err := tx.Update(ctx, n); err != nil {
			return err
		}
		fx.send(bus.AddressResponse{
			Identity:      n.Identity,
			Address:       newAddr,
			EngineAddress: n.EngineAddress,
			Services:      n.Services.WithValid(),
		})
		fx.release(oldAddr)
		return nil
	})
}

// Ping broadcasts a liveness probe.
func (e *Engine) Ping(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.emit(ctx, &effects{messages: []bus.Message{bus.PingRequest{Target: node.BroadcastAddress}}})
	return nil
}

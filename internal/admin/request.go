package admin

import (
	"github.com/nerrad567/mbn-address/internal/node"
)

// validationError is a bad field in a command. Its text is the literal
// reply message.
type validationError string

func (e validationError) Error() string { return string(e) }

// Validation messages.
const (
	msgNoAddr         validationError = "No MambaNetAddr specified"
	msgBadAddr        validationError = "Incorrect MambaNetAddr"
	msgBadUniqueID    validationError = "Incorrect UniqueID"
	msgBadParent      validationError = "Incorrect Parent"
	msgBadServices    validationError = "Incorrect Services"
	msgNoEngineAddr   validationError = "No EngineAddr specified"
	msgBadEngineAddr  validationError = "Incorrect EngineAddr"
	msgNoName         validationError = "No Name specified"
	msgBadOrder       validationError = "Incorrect order"
	msgNoOldAddr      validationError = "No old address specified"
	msgBadOldAddr     validationError = "Incorrect old address"
	msgNoNewAddr      validationError = "No new address specified"
	msgBadNewAddr     validationError = "Incorrect new address"
	msgUnknownAction  validationError = "Unknown action"
	msgUnknownCommand validationError = "Unknown command"
	msgBadArgument    validationError = "Couldn't parse argument"
	msgBadCommand     validationError = "Couldn't parse command"
)

// Engine outcome messages.
const (
	msgNodeNotFound  = "Node not found"
	msgNameTooLong   = "Name too long"
	msgNoNodesFound  = "No nodes found"
	msgNodeOnline    = "Node is currently online"
	msgDatabaseError = "Database error"
)

// filterArgs are the node predicates shared by GET and REFRESH. A nil
// field was not present in the command.
type filterArgs struct {
	Name         *string `json:"Name"`
	UniqueID     *string `json:"UniqueID"`
	MambaNetAddr *string `json:"MambaNetAddr"`
	Services     *int    `json:"Services"`
	Active       *bool   `json:"Active"`
	EngineAddr   *string `json:"EngineAddr"`
	Parent       *string `json:"Parent"`
}

type orderArgs struct {
	By   []string `json:"by"`
	Desc bool     `json:"desc"`
}

type getArgs struct {
	filterArgs
	Limit  *int       `json:"limit"`
	Offset *int       `json:"offset"`
	Order  *orderArgs `json:"order"`
}

type setNameArgs struct {
	MambaNetAddr *string `json:"MambaNetAddr"`
	Name         *string `json:"Name"`
}

type setEngineArgs struct {
	MambaNetAddr *string `json:"MambaNetAddr"`
	EngineAddr   *string `json:"EngineAddr"`
}

type removeArgs struct {
	MambaNetAddr *string `json:"MambaNetAddr"`
}

type reassignArgs struct {
	Old *string `json:"old"`
	New *string `json:"new"`
}

type notifyArgs struct {
	Enable  []string `json:"enable"`
	Disable []string `json:"disable"`
}

// orderFields maps command field names onto sortable registry fields.
var orderFields = map[string]node.Field{
	"Name":            node.FieldName,
	"UniqueID":        node.FieldIdentity,
	"MambaNetAddr":    node.FieldAddress,
	"EngineAddr":      node.FieldEngineAddress,
	"Services":        node.FieldServices,
	"Active":          node.FieldActive,
	"Parent":          node.FieldParent,
	"FirstSeen":       node.FieldFirstSeen,
	"LastSeen":        node.FieldLastSeen,
	"AddressRequests": node.FieldAddressRequests,
}

// filter validates the predicates into a registry filter.
func (a filterArgs) filter() (node.Filter, error) {
	var f node.Filter

	f.Name = a.Name
	f.Active = a.Active

	if a.UniqueID != nil {
		id, err := node.ParseIdentity(*a.UniqueID)
		if err != nil {
			return f, msgBadUniqueID
		}
		f.Identity = &id
	}
	if a.MambaNetAddr != nil {
		addr, err := node.ParseAddress(*a.MambaNetAddr)
		if err != nil {
			return f, msgBadAddr
		}
		f.Address = &addr
	}
	if a.EngineAddr != nil {
		addr, err := node.ParseAddress(*a.EngineAddr)
		if err != nil {
			return f, msgBadEngineAddr
		}
		f.EngineAddress = &addr
	}
	if a.Parent != nil {
		id, err := node.ParseIdentity(*a.Parent)
		if err != nil {
			return f, msgBadParent
		}
		f.Parent = &id
	}
	if a.Services != nil {
		if *a.Services < 0 || *a.Services > 0xFF {
			return f, msgBadServices
		}
		s := node.ServiceMask(*a.Services)
		f.Services = &s
	}
	return f, nil
}

// query validates a GET command.
func (a getArgs) query() (node.Query, error) {
	f, err := a.filter()
	if err != nil {
		return node.Query{}, err
	}

	q := node.Query{Filter: f}
	if a.Limit != nil {
		q.Limit = *a.Limit
	}
	if a.Offset != nil {
		q.Offset = *a.Offset
	}
	if a.Order != nil {
		q.Order.Descending = a.Order.Desc
		for _, name := range a.Order.By {
			field, ok := orderFields[name]
			if !ok {
				return node.Query{}, msgBadOrder
			}
			q.Order.Fields = append(q.Order.Fields, field)
		}
	}
	return q, nil
}

// requiredAddress parses a mandatory address field.
func requiredAddress(v *string, missing, invalid validationError) (node.Address, error) {
	if v == nil {
		return 0, missing
	}
	addr, err := node.ParseAddress(*v)
	if err != nil {
		return 0, invalid
	}
	return addr, nil
}

// Subscriptions is the set of notifications a session receives.
type Subscriptions uint8

// Notification kinds.
const (
	SubscribeReleased Subscriptions = 1 << iota
)

// notifyEvents maps NOTIFY event names onto subscription bits.
var notifyEvents = map[string]Subscriptions{
	"RELEASED": SubscribeReleased,
}

// Has reports whether every bit in kind is subscribed.
func (s Subscriptions) Has(kind Subscriptions) bool {
	return s&kind == kind
}

// apply validates a NOTIFY command and returns the new set. An unknown
// name rejects the whole command.
func (a notifyArgs) apply(s Subscriptions) (Subscriptions, error) {
	var enable, disable Subscriptions
	for _, name := range a.Enable {
		bit, ok := notifyEvents[name]
		if !ok {
			return s, msgUnknownAction
		}
		enable |= bit
	}
	for _, name := range a.Disable {
		bit, ok := notifyEvents[name]
		if !ok {
			return s, msgUnknownAction
		}
		disable |= bit
	}
	return (s | enable) &^ disable, nil
}

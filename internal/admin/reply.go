package admin

import (
	"encoding/json"
	"time"

	"github.com/nerrad567/mbn-address/internal/node"
)

// Reply statuses.
const (
	StatusOK       = "OK"
	StatusError    = "ERROR"
	StatusNodes    = "NODES"
	StatusReleased = "RELEASED"
)

// Reply is one reply line.
type Reply struct {
	Status string
	Body   any
}

// Line encodes the reply as "<STATUS> <json>\n".
func (r Reply) Line() []byte {
	body, err := json.Marshal(r.Body)
	if err != nil {
		body = []byte(`{"msg":"Internal error"}`)
		r.Status = StatusError
	}
	line := make([]byte, 0, len(r.Status)+len(body)+2)
	line = append(line, r.Status...)
	line = append(line, ' ')
	line = append(line, body...)
	return append(line, '\n')
}

type messageBody struct {
	Msg string `json:"msg"`
}

type nodesBody struct {
	Result []NodeView `json:"result"`
}

type releasedBody struct {
	MambaNetAddr node.Address `json:"MambaNetAddr"`
}

func okReply() Reply {
	return Reply{Status: StatusOK, Body: struct{}{}}
}

func errorReply(msg string) Reply {
	return Reply{Status: StatusError, Body: messageBody{Msg: msg}}
}

func nodesReply(nodes []node.Node) Reply {
	views := make([]NodeView, 0, len(nodes))
	for i := range nodes {
		views = append(views, NewNodeView(&nodes[i]))
	}
	return Reply{Status: StatusNodes, Body: nodesBody{Result: views}}
}

func releasedReply(addr node.Address) Reply {
	return Reply{Status: StatusReleased, Body: releasedBody{MambaNetAddr: addr}}
}

// NodeView is the GET representation of a node.
type NodeView struct {
	Name            string           `json:"Name"`
	UniqueID        node.Identity    `json:"UniqueID"`
	MambaNetAddr    node.Address     `json:"MambaNetAddr"`
	EngineAddr      node.Address     `json:"EngineAddr"`
	Services        node.ServiceMask `json:"Services"`
	Active          bool             `json:"Active"`
	Parent          node.Identity    `json:"Parent"`
	FirstSeen       string           `json:"FirstSeen"`
	LastSeen        string           `json:"LastSeen"`
	AddressRequests int              `json:"AddressRequests"`
	Refresh         bool             `json:"Refresh"`
	SetName         bool             `json:"SetName"`
}

// NewNodeView converts a registry record.
func NewNodeView(n *node.Node) NodeView {
	return NodeView{
		Name:            n.Name,
		UniqueID:        n.Identity,
		MambaNetAddr:    n.Address,
		EngineAddr:      n.EngineAddress,
		Services:        n.Services,
		Active:          n.Active,
		Parent:          n.Parent,
		FirstSeen:       n.FirstSeen.UTC().Format(time.RFC3339),
		LastSeen:        n.LastSeen.UTC().Format(time.RFC3339),
		AddressRequests: n.AddressRequests,
		Refresh:         n.NeedsRefresh,
		SetName:         n.PendingNameWrite,
	}
}

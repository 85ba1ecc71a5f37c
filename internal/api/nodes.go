package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/mbn-address/internal/node"
)

// NodeResponse is the HTTP representation of a registry record.
type NodeResponse struct {
	Name             string           `json:"name"`
	Identity         node.Identity    `json:"identity"`
	Address          node.Address     `json:"address"`
	EngineAddress    node.Address     `json:"engine_address"`
	Services         node.ServiceMask `json:"services"`
	Active           bool             `json:"active"`
	Parent           node.Identity    `json:"parent"`
	FirstSeen        string           `json:"first_seen"`
	LastSeen         string           `json:"last_seen"`
	AddressRequests  int              `json:"address_requests"`
	NeedsRefresh     bool             `json:"needs_refresh"`
	PendingNameWrite bool             `json:"pending_name_write"`
}

func newNodeResponse(n *node.Node) NodeResponse {
	return NodeResponse{
		Name:             n.Name,
		Identity:         n.Identity,
		Address:          n.Address,
		EngineAddress:    n.EngineAddress,
		Services:         n.Services,
		Active:           n.Active,
		Parent:           n.Parent,
		FirstSeen:        n.FirstSeen.UTC().Format(time.RFC3339),
		LastSeen:         n.LastSeen.UTC().Format(time.RFC3339),
		AddressRequests:  n.AddressRequests,
		NeedsRefresh:     n.NeedsRefresh,
		PendingNameWrite: n.PendingNameWrite,
	}
}

// Page size bounds for the node listing.
const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// handleListNodes returns a page of nodes ordered by address.
//
// Query parameters: active, name, limit, offset.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	q := node.Query{
		Limit: defaultPageSize,
		Order: node.Order{Fields: []node.Field{node.FieldAddress}},
	}

	if v := params.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			writeBadRequest(w, "active must be true or false")
			return
		}
		q.Filter.Active = &active
	}
	if v := params.Get("name"); v != "" {
		q.Filter.Name = &v
	}
	if v := params.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxPageSize {
			writeBadRequest(w, "limit must be between 1 and 100")
			return
		}
		q.Limit = limit
	}
	if v := params.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil || offset < 0 {
			writeBadRequest(w, "offset must be a non-negative integer")
			return
		}
		q.Offset = offset
	}

	nodes, err := s.nodes.Query(r.Context(), q)
	if err != nil {
		s.logger.Error("listing nodes", "error", err)
		writeInternalError(w, "failed to list nodes")
		return
	}

	resp := make([]NodeResponse, 0, len(nodes))
	for i := range nodes {
		resp = append(resp, newNodeResponse(&nodes[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"nodes":  resp,
		"count":  len(resp),
		"offset": q.Offset,
	})
}

// handleGetNode returns the record holding one address.
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	addr, err := node.ParseAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeBadRequest(w, "address must be 8 hex digits")
		return
	}

	nodes, err := s.nodes.Query(r.Context(), node.Query{
		Filter: node.Filter{Address: &addr},
		Limit:  1,
		Order:  node.Order{Fields: []node.Field{node.FieldActive, node.FieldLastSeen}, Descending: true},
	})
	if err != nil {
		s.logger.Error("getting node", "address", addr, "error", err)
		writeInternalError(w, "failed to get node")
		return
	}
	if len(nodes) == 0 {
		writeNotFound(w, "node not found")
		return
	}

	writeJSON(w, http.StatusOK, newNodeResponse(&nodes[0]))
}

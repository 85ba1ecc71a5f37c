package node

import (
	"fmt"
	"strings"
)

// Filter selects nodes. Nil fields do not constrain the match; set fields
// are combined with AND.
type Filter struct {
	Name          *string
	Identity      *Identity
	Services      *ServiceMask
	Active        *bool
	Address       *Address
	EngineAddress *Address
	Parent        *Identity
}

// Empty reports whether the filter matches every node.
func (f Filter) Empty() bool {
	return f == Filter{}
}

// Field names a sortable node field.
type Field string

// Sortable fields.
const (
	FieldName            Field = "name"
	FieldIdentity        Field = "identity"
	FieldAddress         Field = "address"
	FieldEngineAddress   Field = "engine_address"
	FieldServices        Field = "services"
	FieldActive          Field = "active"
	FieldParent          Field = "parent"
	FieldFirstSeen       Field = "first_seen"
	FieldLastSeen        Field = "last_seen"
	FieldAddressRequests Field = "address_requests"
)

// fieldColumns maps each sortable field to its columns.
var fieldColumns = map[Field][]string{
	FieldName:            {"name"},
	FieldIdentity:        {"manufacturer_id", "product_id", "unit_id"},
	FieldAddress:         {"address"},
	FieldEngineAddress:   {"engine_address"},
	FieldServices:        {"services"},
	FieldActive:          {"active"},
	FieldParent:          {"parent_manufacturer_id", "parent_product_id", "parent_unit_id"},
	FieldFirstSeen:       {"first_seen"},
	FieldLastSeen:        {"last_seen"},
	FieldAddressRequests: {"address_requests"},
}

// Order sorts query results. An empty field list means insertion order.
type Order struct {
	Fields     []Field
	Descending bool
}

// Query is a filtered, ordered page of nodes.
type Query struct {
	Filter Filter

	// Limit caps the page size. Zero or negative means no limit.
	Limit int

	Offset int
	Order  Order
}

// where builds the WHERE clause and its arguments.
func (f Filter) where() (string, []any) {
	var conds []string
	var args []any

	if f.Name != nil {
		conds = append(conds, "name = ?")
		args = append(args, *f.Name)
	}
	if f.Identity != nil {
		conds = append(conds, "manufacturer_id = ? AND product_id = ? AND unit_id = ?")
		args = append(args, f.Identity.Manufacturer, f.Identity.Product, f.Identity.Unit)
	}
	if f.Services != nil {
		conds = append(conds, "services = ?")
		args = append(args, int64(*f.Services))
	}
	if f.Active != nil {
		conds = append(conds, "active = ?")
		args = append(args, boolToInt(*f.Active))
	}
	if f.Address != nil {
		conds = append(conds, "address = ?")
		args = append(args, int64(*f.Address))
	}
	if f.EngineAddress != nil {
		conds = append(conds, "engine_address = ?")
		args = append(args, int64(*f.EngineAddress))
	}
	if f.Parent != nil {
		conds = append(conds, "parent_manufacturer_id = ? AND parent_product_id = ? AND parent_unit_id = ?")
		args = append(args, f.Parent.Manufacturer, f.Parent.Product, f.Parent.Unit)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// orderBy builds the ORDER BY clause. Insertion order breaks ties.
func (o Order) orderBy() (string, error) {
	dir := " ASC"
	if o.Descending {
		dir = " DESC"
	}

	var cols []string
	for _, f := range o.Fields {
		fc, ok := fieldColumns[f]
		if !ok {
			return "", fmt.Errorf("%w: %q", ErrInvalidOrder, f)
		}
		for _, c := range fc {
			cols = append(cols, c+dir)
		}
	}
	cols = append(cols, "id"+dir)
	return " ORDER BY " + strings.Join(cols, ", "), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package domain

import "encoding/json"

// OrderRef is either a full work order or only its id. Replayed requests
// return references; callers resolve them with a read.
type OrderRef struct {
	order *WorkOrder
	id    string
}

func Full(order WorkOrder) OrderRef {
	o := order.Clone()
	return OrderRef{order: &o, id: order.ID}
}

func Reference(id string) OrderRef {
	return OrderRef{id: id}
}

func (r OrderRef) ID() string {
	return r.id
}

// Order returns the full entity when present.
func (r OrderRef) Order() (WorkOrder, bool) {
	if r.order == nil {
		return WorkOrder{}, false
	}
	return r.order.Clone(), true
}

func (r OrderRef) IsReference() bool {
	return r.order == nil
}

func (r OrderRef) MarshalJSON() ([]byte, error) {
	if r.order == nil {
		return json.Marshal(map[string]string{"id": r.id})
	}
	return json.Marshal(r.order)
}

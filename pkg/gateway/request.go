package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/patina/dxspaces/pkg/fabric"
	"github.com/patina/dxspaces/pkg/geometry"
	"github.com/patina/dxspaces/pkg/naming"
)

// DSObject identifies one stored array version and its extent.
type DSObject struct {
	Name      string              `json:"name"`
	Namespace string              `json:"namespace,omitempty"`
	Version   uint                `json:"version"`
	Bounds    []geometry.Interval `json:"bounds"`
}

// Request is one execution argument. It has the same shape as a listed
// object so listings can be fed back as arguments.
type Request = DSObject

// Box returns the object's bounds as a bounding box.
func (o DSObject) Box() geometry.BoundingBox {
	return geometry.BoundingBox{Bounds: o.Bounds}
}

// RequestList is an ordered list of execution arguments. Order is the
// positional argument order of the remote function.
type RequestList struct {
	Requests []Request `json:"requests"`
}

// ParseRequestList decodes a request list from its JSON text, which may
// itself be a JSON string.
func ParseRequestList(s string) (RequestList, error) {
	var rl RequestList
	if err := json.Unmarshal([]byte(s), &rl); err != nil {
		return RequestList{}, err
	}
	return rl, nil
}

// UnmarshalJSON accepts `{"requests": [...]}` or a string containing it.
func (rl *RequestList) UnmarshalJSON(data []byte) error {
	type plain RequestList

	inner, err := geometry.UnquoteObject(data)
	if err != nil {
		return fmt.Errorf("request list: %w", err)
	}

	var p plain
	if err := json.Unmarshal(inner, &p); err != nil {
		return fmt.Errorf("request list: %w", err)
	}
	*rl = RequestList(p)
	return nil
}

// BuildSingleRequest builds the fabric reference for one region of one
// object version.
func BuildSingleRequest(namespace, name string, version uint, box geometry.BoundingBox) fabric.ObjectRef {
	lb, ub := geometry.CornersFromBox(box)
	return fabric.ObjectRef{
		Name:    naming.Qualify(namespace, name),
		Version: version,
		LB:      lb,
		UB:      ub,
	}
}

// BuildVectorRequest maps every request to a fabric reference, keeping
// list order. fn is returned untouched.
func BuildVectorRequest(reqs RequestList, fn []byte) ([]fabric.ObjectRef, []byte) {
	refs := make([]fabric.ObjectRef, 0, len(reqs.Requests))
	for _, req := range reqs.Requests {
		refs = append(refs, BuildSingleRequest(req.Namespace, req.Name, req.Version, req.Box()))
	}
	return refs, fn
}

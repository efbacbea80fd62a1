package docstore

import (
	"encoding/json"
	"fmt"
)

// OpKind enumerates the patch primitives.
type OpKind int

const (
	OpSet OpKind = iota
	OpDelete
	OpArrayAppend
	OpIncrement
)

func (k OpKind) String() string {
	switch k {
	case OpSet:
		return "set"
	case OpDelete:
		return "delete"
	case OpArrayAppend:
		return "arrayAppend"
	case OpIncrement:
		return "increment"
	default:
		return "unknown"
	}
}

// Path addresses a field inside a document, one segment per nesting level.
type Path []string

// P builds a Path from its segments.
func P(segments ...string) Path {
	return Path(segments)
}

// Op is a single patch operation.
type Op struct {
	Kind   OpKind
	Path   Path
	Values []any
	Delta  float64
}

// Patch is an ordered list of field operations applied atomically to one document.
type Patch struct {
	ops []Op
}

// NewPatch returns an empty patch.
func NewPatch() *Patch {
	return &Patch{}
}

// Set replaces the value at path, creating intermediate objects.
func (p *Patch) Set(path Path, value any) *Patch {
	p.ops = append(p.ops, Op{Kind: OpSet, Path: path, Values: []any{value}})
	return p
}

// Delete removes the field at path. Deleting a missing field is a no-op.
func (p *Patch) Delete(path Path) *Patch {
	p.ops = append(p.ops, Op{Kind: OpDelete, Path: path})
	return p
}

// ArrayAppend appends values to the array at path, creating it when absent.
func (p *Patch) ArrayAppend(path Path, values ...any) *Patch {
	p.ops = append(p.ops, Op{Kind: OpArrayAppend, Path: path, Values: values})
	return p
}

// Increment adds delta to the number at path, treating a missing field as zero.
func (p *Patch) Increment(path Path, delta float64) *Patch {
	p.ops = append(p.ops, Op{Kind: OpIncrement, Path: path, Delta: delta})
	return p
}

// Ops returns the operations in application order.
func (p *Patch) Ops() []Op {
	if p == nil {
		return nil
	}
	return p.ops
}

// Empty reports whether the patch has no operations.
func (p *Patch) Empty() bool {
	return p == nil || len(p.ops) == 0
}

// ApplyPatch applies patch to a decoded JSON object in place.
func ApplyPatch(body map[string]any, patch *Patch) error {
	for _, op := range patch.Ops() {
		if len(op.Path) == 0 {
			return fmt.Errorf("%s: empty path", op.Kind)
		}
		parent, err := walk(body, op.Path[:len(op.Path)-1], op.Kind != OpDelete)
		if err != nil {
			return fmt.Errorf("%s %v: %w", op.Kind, op.Path, err)
		}
		leaf := op.Path[len(op.Path)-1]

		switch op.Kind {
		case OpSet:
			v, err := normalize(op.Values[0])
			if err != nil {
				return fmt.Errorf("set %v: %w", op.Path, err)
			}
			parent[leaf] = v
		case OpDelete:
			if parent != nil {
				delete(parent, leaf)
			}
		case OpArrayAppend:
			var arr []any
			switch current := parent[leaf].(type) {
			case nil:
			case []any:
				arr = current
			default:
				return fmt.Errorf("arrayAppend %v: field is not an array", op.Path)
			}
			for _, value := range op.Values {
				v, err := normalize(value)
				if err != nil {
					return fmt.Errorf("arrayAppend %v: %w", op.Path, err)
				}
				arr = append(arr, v)
			}
			parent[leaf] = arr
		case OpIncrement:
			var current float64
			switch n := parent[leaf].(type) {
			case nil:
			case float64:
				current = n
			default:
				return fmt.Errorf("increment %v: field is not a number", op.Path)
			}
			parent[leaf] = current + op.Delta
		default:
			return fmt.Errorf("unknown op %d", op.Kind)
		}
	}
	return nil
}

// walk descends through nested objects. With create set, missing objects are
// created; otherwise a missing object yields a nil parent.
func walk(body map[string]any, path Path, create bool) (map[string]any, error) {
	current := body
	for _, segment := range path {
		next, ok := current[segment]
		if !ok || next == nil {
			if !create {
				return nil, nil
			}
			child := map[string]any{}
			current[segment] = child
			current = child
			continue
		}
		child, ok := next.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("segment %q is not an object", segment)
		}
		current = child
	}
	return current, nil
}

// normalize converts a Go value into its generic JSON form so that in-memory
// documents hold exactly what a JSON column would.
func normalize(value any) (any, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func decodeObject(raw []byte) (map[string]any, error) {
	body := map[string]any{}
	if len(raw) == 0 {
		return body, nil
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	if body == nil {
		body = map[string]any{}
	}
	return body, nil
}

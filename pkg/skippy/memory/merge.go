// merge.go implements the non-destructive deep-merge used by skill
// updates: nested objects merge recursively, arrays replace, and an
// explicit null leaf deletes the field.
package memory

// mergeOp is the tagged form of one patch leaf.
type mergeOp int

const (
	opSet mergeOp = iota
	opDelete
	opMerge
)

// classifyLeaf maps a decoded JSON patch value onto a merge op.
// JSON null decodes to a nil any, which means delete.
func classifyLeaf(v any) mergeOp {
	if v == nil {
		return opDelete
	}
	if _, ok := v.(map[string]any); ok {
		return opMerge
	}
	return opSet
}

// DeepMerge applies patch onto dst and returns dst. dst may be nil.
//
// Semantics:
//   - object onto object: recursive merge
//   - null leaf: delete the field
//   - arrays and scalars: replace
func DeepMerge(dst, patch map[string]any) map[string]any {
	if dst == nil {
		dst = map[string]any{}
	}
	for k, v := range patch {
		switch classifyLeaf(v) {
		case opDelete:
			delete(dst, k)
		case opMerge:
			existing, ok := dst[k].(map[string]any)
			if !ok {
				existing = nil
			}
			dst[k] = DeepMerge(existing, v.(map[string]any))
		default:
			dst[k] = v
		}
	}
	return dst
}

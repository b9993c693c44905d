package cache

import "reflect"

const (
	// defaultEstimate is the conservative size charged for values the
	// estimator cannot traverse. A size estimate must never fail a Set.
	defaultEstimate = 512

	// maxDepth bounds traversal of pathological nesting.
	maxDepth = 32

	// Per-container overheads, approximating Go runtime headers.
	stringOverhead = 16
	sliceOverhead  = 24
	mapOverhead    = 48
	ptrOverhead    = 8
)

// Sizer lets a value report its own memory footprint, skipping reflective
// traversal. sequel.Payload implements it.
type Sizer interface {
	SizeBytes() int64
}

// estimateSize approximates the in-memory footprint of v in bytes.
//
// The estimate is deterministic and monotonic with respect to nested
// collection and string sizes, which is all eviction ordering needs;
// it is not an exact byte accounting. Unknown kinds (channels, funcs)
// and over-deep nesting fall back to a conservative non-zero default.
func estimateSize(v any) int64 {
	if v == nil {
		return ptrOverhead
	}
	if s, ok := v.(Sizer); ok {
		return s.SizeBytes()
	}
	seen := map[uintptr]struct{}{}
	return sizeOf(reflect.ValueOf(v), seen, 0)
}

func sizeOf(v reflect.Value, seen map[uintptr]struct{}, depth int) int64 {
	if depth > maxDepth {
		return defaultEstimate
	}

	switch v.Kind() {
	case reflect.Invalid:
		return ptrOverhead

	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return int64(v.Type().Size())

	case reflect.String:
		return stringOverhead + int64(v.Len())

	case reflect.Slice:
		if v.IsNil() {
			return sliceOverhead
		}
		total := int64(sliceOverhead)
		for i := 0; i < v.Len(); i++ {
			total += sizeOf(v.Index(i), seen, depth+1)
		}
		return total

	case reflect.Array:
		var total int64
		for i := 0; i < v.Len(); i++ {
			total += sizeOf(v.Index(i), seen, depth+1)
		}
		return total

	case reflect.Map:
		if v.IsNil() {
			return mapOverhead
		}
		total := int64(mapOverhead)
		iter := v.MapRange()
		for iter.Next() {
			total += sizeOf(iter.Key(), seen, depth+1)
			total += sizeOf(iter.Value(), seen, depth+1)
		}
		return total

	case reflect.Pointer:
		if v.IsNil() {
			return ptrOverhead
		}
		addr := v.Pointer()
		if _, ok := seen[addr]; ok {
			return ptrOverhead
		}
		seen[addr] = struct{}{}
		return ptrOverhead + sizeOf(v.Elem(), seen, depth+1)

	case reflect.Interface:
		if v.IsNil() {
			return ptrOverhead
		}
		return ptrOverhead + sizeOf(v.Elem(), seen, depth+1)

	case reflect.Struct:
		var total int64
		for i := 0; i < v.NumField(); i++ {
			total += sizeOf(v.Field(i), seen, depth+1)
		}
		return total

	default:
		// Channels, funcs, unsafe pointers.
		return defaultEstimate
	}
}

package common

// Compact recursively strips the empty leaves out of a decoded JSON value
// (map[string]interface{}, []interface{}, or scalars) before it's persisted.
// A collector that found nothing for a given field should omit the field
// entirely rather than store an empty string, an empty array, or a null,
// keeping analysis documents small and keeping "field absent" distinguishable
// from "field collected as an empty value" in views that key off its
// presence.
//
// Compact returns nil when v itself is empty, so the result of a nested
// Compact call can be assigned straight back into the parent without an
// extra presence check.
func Compact(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			compacted := Compact(child)
			if compacted == nil {
				continue
			}
			out[k] = compacted
		}
		if len(out) == 0 {
			return nil
		}
		return out

	case []interface{}:
		out := make([]interface{}, 0, len(val))
		for _, child := range val {
			compacted := Compact(child)
			if compacted == nil {
				continue
			}
			out = append(out, compacted)
		}
		if len(out) == 0 {
			return nil
		}
		return out

	case string:
		if val == "" {
			return nil
		}
		return val

	case nil:
		return nil

	default:
		// numbers, bools: always kept, including zero values like 0 and false,
		// since those are meaningful measurements, not absence of data.
		return val
	}
}

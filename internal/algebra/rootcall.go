package algebra

import "github.com/hanpama/graphcache/internal/query"

var canonicalRootCalls = map[string]string{
	"nodes":     "node",
	"usernames": "username",
}

func canonicalName(name string) string {
	if c, ok := canonicalRootCalls[name]; ok {
		return c
	}
	return name
}

// ContainsRootCall reports whether the records addressed by a include every
// record addressed by b. Roots without identifying arguments contain each
// other when their field names match.
func ContainsRootCall(a, b *query.Root) bool {
	if a == b {
		return true
	}
	if canonicalName(a.FieldName) != canonicalName(b.FieldName) {
		return false
	}
	av, bv := identifyingValue(a), identifyingValue(b)
	if av == nil && bv == nil {
		return true
	}
	if av == nil || bv == nil {
		return false
	}
	aList, aIsList := av.([]any)
	bList, bIsList := bv.([]any)
	switch {
	case aIsList && bIsList:
		for _, v := range bList {
			if !containsValue(aList, v) {
				return false
			}
		}
		return true
	case aIsList:
		return containsValue(aList, bv)
	case bIsList:
		for _, v := range bList {
			if !query.ValuesEqual(v, av) {
				return false
			}
		}
		return true
	}
	return query.ValuesEqual(av, bv)
}

func identifyingValue(r *query.Root) any {
	if r.IdentifyingArg == nil {
		return nil
	}
	return r.IdentifyingArg.Value
}

func containsValue(list []any, v any) bool {
	for _, item := range list {
		if query.ValuesEqual(item, v) {
			return true
		}
	}
	return false
}

package writer

import (
	"context"

	"github.com/hanpama/graphcache/internal/query"
	"github.com/hanpama/graphcache/internal/store"
)

// WriteRootPayload writes the response to root found in payload, keyed by
// the root's response key. Plural roots pair each identifying value with
// the element of the response array at the same position. Each result is
// written into the record its root call resolves to, which is remembered
// in the store's root call map.
func (w *Writer) WriteRootPayload(ctx context.Context, root *query.Root, payload map[string]any) error {
	data, ok := payload[root.ResponseKey()]
	if !ok {
		data, ok = payload[root.FieldName]
	}
	if !ok {
		return malformed("", root.ResponseKey(), "response has no data for root %s", root.FieldName)
	}

	values := root.IdentifyingValues()
	var results []any
	if root.Plural {
		list, ok := data.([]any)
		if data != nil && !ok {
			return malformed("", root.ResponseKey(), "expected an array for plural root, got %T", data)
		}
		if len(list) != len(values) {
			return malformed("", root.ResponseKey(), "got %d results for %d identifying values", len(list), len(values))
		}
		results = list
	} else {
		results = []any{data}
		if len(values) == 0 {
			values = []any{nil}
		}
	}

	isNodeRoot := root.FieldName == query.FieldNode || root.FieldName == "nodes"
	for i, result := range results {
		value := values[i]
		var id string
		if obj, ok := result.(map[string]any); ok {
			id, _ = obj[query.FieldID].(string)
		}
		if id == "" {
			if prev, ok := w.store.DataIDForRoot(root, value); ok {
				id = prev
			} else {
				id = store.GenerateClientID()
			}
		}
		if !isNodeRoot {
			w.store.PutDataID(root.FieldName, value, id)
		}
		if err := w.WritePayload(ctx, root, id, result); err != nil {
			return err
		}
	}
	return nil
}

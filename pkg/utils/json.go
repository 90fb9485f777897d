package utils

import (
	"encoding/json"
)

// MustMarshalJSON marshals v into a json byte array
// It panics if marshaling fails
func MustMarshalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("failed to marshal JSON: " + err.Error())
	}
	return data
}

// DeepMerge merges src into dst recursively and returns dst. Nested objects
// are merged key by key; any other src value replaces the dst value. Keys
// present only in dst are preserved. A nil src value never erases a dst key.
func DeepMerge(dst, src map[string]interface{}) map[string]interface{} {
	if dst == nil {
		dst = make(map[string]interface{}, len(src))
	}
	for k, sv := range src {
		if sv == nil {
			if _, exists := dst[k]; exists {
				continue
			}
			dst[k] = nil
			continue
		}
		srcMap, srcIsMap := sv.(map[string]interface{})
		dstMap, dstIsMap := dst[k].(map[string]interface{})
		if srcIsMap && dstIsMap {
			dst[k] = DeepMerge(dstMap, srcMap)
			continue
		}
		dst[k] = sv
	}
	return dst
}

// DeepMergeJSON deep merges two JSON objects. Empty inputs are treated as {}.
func DeepMergeJSON(existing, incoming []byte) ([]byte, error) {
	base := map[string]interface{}{}
	if len(existing) > 0 && string(existing) != "null" {
		if err := json.Unmarshal(existing, &base); err != nil {
			return nil, err
		}
	}
	if len(incoming) == 0 || string(incoming) == "null" {
		return json.Marshal(base)
	}
	patch := map[string]interface{}{}
	if err := json.Unmarshal(incoming, &patch); err != nil {
		return nil, err
	}
	return json.Marshal(DeepMerge(base, patch))
}

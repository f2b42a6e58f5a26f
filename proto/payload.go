package proto

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

type pathSegment struct {
	key   string
	index int
	isIdx bool
}

// parsePath splits "services[0].serviceURI" into key and index segments.
func parsePath(path string) ([]pathSegment, bool) {
	if path == "" {
		return nil, true
	}
	var segs []pathSegment
	for _, part := range strings.Split(path, ".") {
		if part == "" {
			return nil, false
		}
		key := part
		rest := ""
		if i := strings.IndexByte(part, '['); i >= 0 {
			key, rest = part[:i], part[i:]
		}
		if strings.ContainsAny(key, "]") {
			return nil, false
		}
		if key != "" {
			segs = append(segs, pathSegment{key: key})
		}
		for rest != "" {
			end := strings.IndexByte(rest, ']')
			if rest[0] != '[' || end < 0 {
				return nil, false
			}
			idx, err := strconv.Atoi(rest[1:end])
			if err != nil || idx < 0 {
				return nil, false
			}
			segs = append(segs, pathSegment{index: idx, isIdx: true})
			rest = rest[end+1:]
		}
	}
	return segs, true
}

// PayloadTree decodes the payload into a generic tree. Numbers stay json.Number.
func PayloadTree(m Message) (any, bool) {
	if len(m.Payload) == 0 {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(m.Payload))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, false
	}
	return tree, true
}

// Lookup walks path through a generic tree.
func Lookup(tree any, path string) (any, bool) {
	segs, ok := parsePath(path)
	if !ok {
		return nil, false
	}
	node := tree
	for _, seg := range segs {
		if seg.isIdx {
			arr, ok := node.([]any)
			if !ok || seg.index >= len(arr) {
				return nil, false
			}
			node = arr[seg.index]
			continue
		}
		obj, ok := node.(map[string]any)
		if !ok {
			return nil, false
		}
		node, ok = obj[seg.key]
		if !ok {
			return nil, false
		}
	}
	return node, true
}

// GetPayloadValue resolves path against the payload of m and projects the
// value onto T. Every failure, including bad path syntax, reports false.
func GetPayloadValue[T any](m Message, path string) (T, bool) {
	var zero T
	tree, ok := PayloadTree(m)
	if !ok {
		return zero, false
	}
	node, ok := Lookup(tree, path)
	if !ok || node == nil {
		return zero, false
	}
	return project[T](node)
}

func project[T any](node any) (T, bool) {
	var out T
	if v, ok := node.(T); ok {
		return v, true
	}
	data, err := json.Marshal(node)
	if err != nil {
		return out, false
	}
	if err := json.Unmarshal(data, &out); err != nil {
		var zero T
		return zero, false
	}
	return out, true
}

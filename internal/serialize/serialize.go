// Package serialize implements the structure preserving envelope used for
// components flagged as serialized.
//
// The wire form is the superjson layout: {"json": <plain value>,
// "meta": {"values": <annotations>}}. Annotations restore values plain JSON
// cannot carry: dates, big integers, non-finite numbers, undefined, sets
// and maps with non-string keys. Only dynamic values (map[string]any, []any
// and the types below) are annotated; structs are flattened through
// encoding/json first.
package serialize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Set is an unordered collection restored from a "set" annotation.
type Set []any

// Map is an ordered list of entries restored from a "map" annotation.
type Map []MapEntry

type MapEntry struct {
	Key   any
	Value any
}

// Undefined marks a value that was explicitly undefined on the client.
type Undefined struct{}

const dateLayout = "2006-01-02T15:04:05.000Z07:00"

type envelope struct {
	JSON any   `json:"json"`
	Meta *meta `json:"meta,omitempty"`
}

type meta struct {
	Values any `json:"values,omitempty"`
}

// Marshal encodes v into envelope text.
func Marshal(v any) (string, error) {
	plain, own, children, err := walk(v)
	if err != nil {
		return "", err
	}
	env := envelope{JSON: plain}
	switch {
	case own != "":
		env.Meta = &meta{Values: leaf(own, children)}
	case len(children) > 0:
		env.Meta = &meta{Values: children}
	}
	b, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("serialize: %w", err)
	}
	return string(b), nil
}

// Unmarshal decodes envelope text produced by Marshal or a compatible
// client.
func Unmarshal(text string) (any, error) {
	var raw struct {
		JSON json.RawMessage `json:"json"`
		Meta *struct {
			Values json.RawMessage `json:"values"`
		} `json:"meta"`
	}
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("serialize: %w", err)
	}
	var value any
	if len(raw.JSON) > 0 {
		if err := json.Unmarshal(raw.JSON, &value); err != nil {
			return nil, fmt.Errorf("serialize: json: %w", err)
		}
	}
	if raw.Meta == nil || len(raw.Meta.Values) == 0 || bytes.Equal(raw.Meta.Values, []byte("null")) {
		return value, nil
	}
	var tree any
	if err := json.Unmarshal(raw.Meta.Values, &tree); err != nil {
		return nil, fmt.Errorf("serialize: meta: %w", err)
	}
	return apply(value, tree)
}

func leaf(kind string, children map[string]any) []any {
	if len(children) == 0 {
		return []any{kind}
	}
	return []any{kind, children}
}

// walk returns the plain JSON form of v, its own annotation (if any) and
// the annotations of its descendants keyed by path relative to v.
func walk(v any) (any, string, map[string]any, error) {
	switch x := v.(type) {
	case nil:
		return nil, "", nil, nil
	case Undefined:
		return nil, "undefined", nil, nil
	case time.Time:
		return x.UTC().Format(dateLayout), "Date", nil, nil
	case *time.Time:
		if x == nil {
			return nil, "", nil, nil
		}
		return x.UTC().Format(dateLayout), "Date", nil, nil
	case *big.Int:
		if x == nil {
			return nil, "", nil, nil
		}
		return x.String(), "bigint", nil, nil
	case float64:
		return number(x)
	case float32:
		return number(float64(x))
	case string, bool, json.Number, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return x, "", nil, nil
	case Set:
		plain, children, err := walkSlice([]any(x))
		return plain, "set", children, err
	case Map:
		pairs := make([]any, 0, len(x))
		for _, e := range x {
			pairs = append(pairs, []any{e.Key, e.Value})
		}
		plain, children, err := walkSlice(pairs)
		return plain, "map", children, err
	case []any:
		plain, children, err := walkSlice(x)
		return plain, "", children, err
	case map[string]any:
		out := make(map[string]any, len(x))
		children := map[string]any{}
		for k, child := range x {
			p, own, sub, err := walk(child)
			if err != nil {
				return nil, "", nil, err
			}
			out[k] = p
			merge(children, escapeKey(k), own, sub)
		}
		return out, "", children, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", nil, fmt.Errorf("serialize: %w", err)
		}
		var generic any
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&generic); err != nil {
			return nil, "", nil, fmt.Errorf("serialize: %w", err)
		}
		return walk(generic)
	}
}

func walkSlice(items []any) ([]any, map[string]any, error) {
	out := make([]any, len(items))
	children := map[string]any{}
	for i, child := range items {
		p, own, sub, err := walk(child)
		if err != nil {
			return nil, nil, err
		}
		out[i] = p
		merge(children, strconv.Itoa(i), own, sub)
	}
	return out, children, nil
}

func merge(into map[string]any, key, own string, sub map[string]any) {
	if own != "" {
		into[key] = leaf(own, sub)
		return
	}
	for path, tree := range sub {
		into[key+"."+path] = tree
	}
}

func number(f float64) (any, string, map[string]any, error) {
	switch {
	case math.IsNaN(f):
		return "NaN", "number", nil, nil
	case math.IsInf(f, 1):
		return "Infinity", "number", nil, nil
	case math.IsInf(f, -1):
		return "-Infinity", "number", nil, nil
	default:
		return f, "", nil, nil
	}
}

// apply restores the annotations of tree onto value.
func apply(value any, tree any) (any, error) {
	switch t := tree.(type) {
	case []any:
		if len(t) == 0 {
			return nil, errors.New("serialize: empty annotation")
		}
		kind, ok := t[0].(string)
		if !ok {
			return nil, fmt.Errorf("serialize: annotation %v is not supported", t[0])
		}
		if len(t) > 1 {
			children, ok := t[1].(map[string]any)
			if !ok {
				return nil, errors.New("serialize: malformed annotation children")
			}
			var err error
			if value, err = applyChildren(value, children); err != nil {
				return nil, err
			}
		}
		return restore(kind, value)
	case map[string]any:
		return applyChildren(value, t)
	default:
		return nil, fmt.Errorf("serialize: malformed annotation %T", tree)
	}
}

func applyChildren(value any, children map[string]any) (any, error) {
	// Deeper paths first so a parent transform sees restored children.
	paths := make([]string, 0, len(children))
	for p := range children {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		return len(splitPath(paths[i])) > len(splitPath(paths[j]))
	})
	for _, p := range paths {
		segments := splitPath(p)
		current, err := get(value, segments)
		if err != nil {
			return nil, err
		}
		restored, err := apply(current, children[p])
		if err != nil {
			return nil, err
		}
		if value, err = set(value, segments, restored); err != nil {
			return nil, err
		}
	}
	return value, nil
}

func restore(kind string, value any) (any, error) {
	switch kind {
	case "undefined":
		return Undefined{}, nil
	case "Date":
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("serialize: Date value %v is not a string", value)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, fmt.Errorf("serialize: Date: %w", err)
		}
		return t, nil
	case "bigint":
		s, ok := value.(string)
		if !ok {
			return nil, fmt.Errorf("serialize: bigint value %v is not a string", value)
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, fmt.Errorf("serialize: bigint %q is not an integer", s)
		}
		return n, nil
	case "number":
		switch value {
		case "NaN":
			return math.NaN(), nil
		case "Infinity":
			return math.Inf(1), nil
		case "-Infinity":
			return math.Inf(-1), nil
		}
		return nil, fmt.Errorf("serialize: number %v is not supported", value)
	case "set":
		items, ok := value.([]any)
		if !ok {
			return nil, errors.New("serialize: set value is not an array")
		}
		return Set(items), nil
	case "map":
		items, ok := value.([]any)
		if !ok {
			return nil, errors.New("serialize: map value is not an array")
		}
		out := make(Map, 0, len(items))
		for _, item := range items {
			pair, ok := item.([]any)
			if !ok || len(pair) != 2 {
				return nil, errors.New("serialize: map entry is not a pair")
			}
			out = append(out, MapEntry{Key: pair[0], Value: pair[1]})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("serialize: annotation %q is not supported", kind)
	}
}

func get(value any, segments []string) (any, error) {
	for _, seg := range segments {
		switch c := value.(type) {
		case map[string]any:
			value = c[seg]
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(c) {
				return nil, fmt.Errorf("serialize: path segment %q out of range", seg)
			}
			value = c[i]
		default:
			return nil, fmt.Errorf("serialize: path segment %q on %T", seg, value)
		}
	}
	return value, nil
}

func set(root any, segments []string, v any) (any, error) {
	if len(segments) == 0 {
		return v, nil
	}
	parent, err := get(root, segments[:len(segments)-1])
	if err != nil {
		return nil, err
	}
	last := segments[len(segments)-1]
	switch c := parent.(type) {
	case map[string]any:
		c[last] = v
	case []any:
		i, err := strconv.Atoi(last)
		if err != nil || i < 0 || i >= len(c) {
			return nil, fmt.Errorf("serialize: path segment %q out of range", last)
		}
		c[i] = v
	default:
		return nil, fmt.Errorf("serialize: path segment %q on %T", last, parent)
	}
	return root, nil
}

func escapeKey(k string) string {
	k = strings.ReplaceAll(k, `\`, `\\`)
	return strings.ReplaceAll(k, ".", `\.`)
}

func splitPath(p string) []string {
	var (
		out []string
		cur strings.Builder
	)
	for i := 0; i < len(p); i++ {
		switch {
		case p[i] == '\\' && i+1 < len(p):
			i++
			cur.WriteByte(p[i])
		case p[i] == '.':
			out = append(out, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(p[i])
		}
	}
	return append(out, cur.String())
}

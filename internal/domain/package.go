package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Package is the descriptor persisted as package.json inside every bundle.
// Committed packages are immutable.
type Package struct {
	Name        string          `json:"name"`
	Version     string          `json:"version"`
	Parameters  ParameterSchema `json:"parameters,omitempty"`
	ServerSize  *int64          `json:"serverSize,omitempty"`
	ClientSize  *int64          `json:"clientSize,omitempty"`
	Serialized  bool            `json:"serialized"`
	PublishDate *time.Time      `json:"publishDate,omitempty"`
}

// Key returns the storage and cache key of the package.
func (p Package) Key() string {
	return Key(p.Name, p.Version)
}

// HasServer reports whether the package ships server code worth executing.
func (p Package) HasServer() bool {
	return p.ServerSize != nil && *p.ServerSize > 0
}

func Key(name, version string) string {
	return name + "/" + version
}

type PrimitiveType string

const (
	PrimitiveString  PrimitiveType = "string"
	PrimitiveNumber  PrimitiveType = "number"
	PrimitiveBoolean PrimitiveType = "boolean"
)

func (t PrimitiveType) Valid() bool {
	switch t {
	case PrimitiveString, PrimitiveNumber, PrimitiveBoolean:
		return true
	default:
		return false
	}
}

type Parameter struct {
	Name       string
	Type       PrimitiveType
	Mandatory  bool
	Default    any
	HasDefault bool
}

// ParameterSchema is the ordered set of inputs a component loader accepts.
// On the wire it is a JSON object keyed by parameter name; declaration order
// is kept.
type ParameterSchema []Parameter

func (s ParameterSchema) Lookup(name string) (Parameter, bool) {
	for _, p := range s {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

type parameterOut struct {
	Type      PrimitiveType `json:"type"`
	Mandatory bool          `json:"mandatory"`
	Default   any           `json:"default,omitempty"`
}

type parameterIn struct {
	Type      PrimitiveType   `json:"type"`
	Mandatory bool            `json:"mandatory"`
	Default   json.RawMessage `json:"default"`
}

func (s ParameterSchema) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, p := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(p.Name)
		if err != nil {
			return nil, err
		}
		out := parameterOut{Type: p.Type, Mandatory: p.Mandatory}
		if p.HasDefault {
			out.Default = p.Default
		}
		val, err := json.Marshal(out)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (s *ParameterSchema) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*s = nil
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("parameters must be an object")
	}

	out := ParameterSchema{}
	seen := map[string]struct{}{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return errors.New("parameter name must be a string")
		}
		if _, dup := seen[name]; dup {
			return fmt.Errorf("parameter %q declared twice", name)
		}
		seen[name] = struct{}{}

		var in parameterIn
		if err := dec.Decode(&in); err != nil {
			return fmt.Errorf("parameter %q: %w", name, err)
		}
		p := Parameter{Name: name, Type: in.Type, Mandatory: in.Mandatory}
		if len(in.Default) > 0 && string(in.Default) != "null" {
			if err := json.Unmarshal(in.Default, &p.Default); err != nil {
				return fmt.Errorf("parameter %q default: %w", name, err)
			}
			p.HasDefault = true
		}
		out = append(out, p)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*s = out
	return nil
}

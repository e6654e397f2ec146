// Package agent implements the capability registry: descriptor catalog,
// lazy loading and compilation, dependency injection, one-time bootstrap,
// and uniform result wrapping for every invocation.
package agent

import (
	"encoding/json"
	"strings"
	"time"
)

// Shape distinguishes the two capability forms the registry loads.
type Shape string

const (
	// ShapeNative means the descriptor carries already-bound Go functions.
	ShapeNative Shape = "native"
	// ShapeScripted means the descriptor carries Go source compiled in a
	// sandboxed interpreter at load time.
	ShapeScripted Shape = "scripted"
)

// CapabilityFunc is the uniform signature for bootstrap, execute, and any
// auxiliary functions a capability exposes. params carries the invocation
// arguments; callCtx is the shared workflow context.
type CapabilityFunc func(params map[string]interface{}, callCtx map[string]interface{}) (interface{}, error)

// NativeBinding holds pre-bound functions for a native-shape capability.
// Extras are auxiliary named functions bound alongside bootstrap/execute.
type NativeBinding struct {
	Bootstrap CapabilityFunc
	Execute   CapabilityFunc
	Extras    map[string]CapabilityFunc
}

// Descriptor describes one registered capability. Name is the unique
// registry key; everything else is metadata, configuration, or one of the
// two shape payloads.
type Descriptor struct {
	Name            string   `json:"name"`
	Description     string   `json:"description,omitempty"`
	Dependencies    []string `json:"dependencies,omitempty"`
	ExecutionTarget string   `json:"execution_target,omitempty"`

	RequiresStore bool   `json:"requires_store,omitempty"`
	StoreKind     string `json:"store_kind,omitempty"`

	// Scripted shape: serialized source plus the bootstrap snippet the
	// ingest pipeline extracted from it. Empty for native capabilities.
	Source          string `json:"source,omitempty"`
	BootstrapSource string `json:"bootstrap_source,omitempty"`

	// Native shape: functions bound in-process. Never persisted.
	Native *NativeBinding `json:"-"`

	// Schema documents the parameter shape Execute accepts, JSON-Schema
	// style. Informational: the registry never validates against it.
	Schema map[string]interface{} `json:"schema,omitempty"`

	Config   map[string]interface{} `json:"config,omitempty"`
	Secrets  map[string]interface{} `json:"secrets,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	Version   string    `json:"version,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Shape reports whether this descriptor binds natively or compiles source.
func (d *Descriptor) Shape() Shape {
	if d.Native != nil {
		return ShapeNative
	}
	return ShapeScripted
}

// ExtraFunctionNames lists auxiliary scripted functions declared in
// metadata under "extra_functions". Native extras are bound directly.
func (d *Descriptor) ExtraFunctionNames() []string {
	raw, ok := d.Metadata["extra_functions"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// NormalizeDependencies coerces the shapes legacy catalogs stored the
// dependency list in (JSON array string, comma list, single name, []any)
// into a plain string slice.
func NormalizeDependencies(raw interface{}) []string {
	switch v := raw.(type) {
	case nil:
		return nil
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return nil
		}
		if strings.HasPrefix(trimmed, "[") {
			var list []string
			if err := json.Unmarshal([]byte(trimmed), &list); err == nil {
				return list
			}
		}
		parts := strings.Split(trimmed, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return nil
}

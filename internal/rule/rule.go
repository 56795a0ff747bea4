package rule

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Type is the discriminator carried in every rule's "type" field.
type Type string

const (
	TypeCache       Type = "cache"
	TypeHeader      Type = "header"
	TypeRoute       Type = "route"
	TypeAccess      Type = "access"
	TypePerformance Type = "performance"
	TypeRateLimit   Type = "rateLimit"
	TypeSecurity    Type = "security"
	TypeCanary      Type = "canary"
	TypeBanner      Type = "banner"
)

// Body is the variant-specific payload of a rule.
type Body interface {
	Kind() Type
}

// Cache controls edge caching for a path pattern.
type Cache struct {
	Path        string `json:"path" validate:"required"`
	TTL         int    `json:"ttl" validate:"gte=0"`
	BypassQuery bool   `json:"bypassQuery,omitempty"`
}

// Header adds, sets or removes a response header.
type Header struct {
	Action string `json:"action" validate:"required,oneof=add set remove"`
	Name   string `json:"name" validate:"required"`
	Value  string `json:"value,omitempty" validate:"required_unless=Action remove"`
	Path   string `json:"path,omitempty"`
}

// Route redirects, rewrites or proxies a request path.
type Route struct {
	From   string `json:"from" validate:"required"`
	To     string `json:"to" validate:"required"`
	Mode   string `json:"mode" validate:"required,oneof=redirect rewrite proxy"`
	Status int    `json:"status,omitempty" validate:"omitempty,gte=300,lte=399"`
}

// Access allows or denies clients for a path.
type Access struct {
	Path  string   `json:"path,omitempty"`
	Allow []string `json:"allow,omitempty"`
	Deny  []string `json:"deny,omitempty"`
}

// Performance toggles an edge optimization.
type Performance struct {
	Optimization string `json:"optimization" validate:"required"`
	Enabled      bool   `json:"enabled"`
}

// RateLimit caps requests per window for a path.
type RateLimit struct {
	Path          string `json:"path" validate:"required"`
	Limit         int    `json:"limit" validate:"gt=0"`
	WindowSeconds int    `json:"windowSeconds" validate:"gt=0"`
}

// Security toggles a protection feature such as a WAF.
type Security struct {
	Feature string `json:"feature" validate:"required"`
	Mode    string `json:"mode,omitempty"`
	Enabled bool   `json:"enabled"`
}

// Canary splits a percentage of traffic to another target.
type Canary struct {
	From       string `json:"from" validate:"required"`
	To         string `json:"to" validate:"required"`
	Percentage int    `json:"percentage" validate:"gte=0,lte=100"`
}

// Banner injects a site banner.
type Banner struct {
	Message string `json:"message" validate:"required"`
	Path    string `json:"path,omitempty"`
}

// Generic holds a rule whose type has no dedicated variant. All of its fields
// are preserved so that it round-trips unchanged.
type Generic struct {
	Type   Type
	Fields map[string]json.RawMessage
}

func (Cache) Kind() Type       { return TypeCache }
func (Header) Kind() Type      { return TypeHeader }
func (Route) Kind() Type       { return TypeRoute }
func (Access) Kind() Type      { return TypeAccess }
func (Performance) Kind() Type { return TypePerformance }
func (RateLimit) Kind() Type   { return TypeRateLimit }
func (Security) Kind() Type    { return TypeSecurity }
func (Canary) Kind() Type      { return TypeCanary }
func (Banner) Kind() Type      { return TypeBanner }
func (g Generic) Kind() Type   { return g.Type }

// variants maps a type tag to a constructor for its payload.
var variants = map[Type]func() Body{
	TypeCache:       func() Body { return &Cache{} },
	TypeHeader:      func() Body { return &Header{} },
	TypeRoute:       func() Body { return &Route{} },
	TypeAccess:      func() Body { return &Access{} },
	TypePerformance: func() Body { return &Performance{} },
	TypeRateLimit:   func() Body { return &RateLimit{} },
	TypeSecurity:    func() Body { return &Security{} },
	TypeCanary:      func() Body { return &Canary{} },
	TypeBanner:      func() Body { return &Banner{} },
}

// Known reports whether t has a dedicated variant.
func Known(t Type) bool {
	_, ok := variants[t]
	return ok
}

// Rule is one edge rule. On the wire it is a flat JSON object:
// {"id": ..., "type": ..., "description": ..., <variant fields>}.
//
// Extra carries wire fields the body's struct does not own. They are kept
// verbatim so a rule round-trips with every field the caller supplied.
type Rule struct {
	ID          string
	Description string
	Body        Body
	Extra       map[string]json.RawMessage
}

// Type returns the rule's discriminator.
func (r Rule) Type() Type {
	if r.Body == nil {
		return ""
	}
	return r.Body.Kind()
}

// New builds a rule around a body.
func New(id string, body Body) Rule {
	return Rule{ID: id, Body: body}
}

// MarshalJSON flattens the variant payload next to id, type and description.
func (r Rule) MarshalJSON() ([]byte, error) {
	fields, err := r.fields()
	if err != nil {
		return nil, err
	}
	if r.ID != "" {
		raw, _ := json.Marshal(r.ID)
		fields["id"] = raw
	}
	return json.Marshal(fields)
}

// UnmarshalJSON decodes a flat rule object into the matching variant. A known
// type is given its typed body only when that body re-emits exactly the fields
// the caller sent; anything else is kept as Generic under the same type, so no
// field is dropped or rejected here. Validate reports shape problems.
func (r *Rule) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errors.New("rule must be a JSON object")
	}

	var head struct {
		ID   string `json:"id"`
		Type Type   `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("rule header: %w", err)
	}
	if head.Type == "" {
		return errors.New("rule type is required")
	}
	delete(fields, "id")
	delete(fields, "type")

	out := Rule{ID: head.ID}
	var desc string
	if raw, ok := fields["description"]; ok && json.Unmarshal(raw, &desc) == nil && desc != "" {
		out.Description = desc
		delete(fields, "description")
	}

	if body, extra, ok := typedBody(head.Type, fields); ok {
		out.Body = body
		out.Extra = extra
	} else {
		out.Body = Generic{Type: head.Type, Fields: fields}
	}

	*r = out
	return nil
}

// typedBody decodes fields into the variant registered for t. It fails unless
// every field the variant emits was present in fields with an equal value.
// Fields the variant does not own are returned as extra.
func typedBody(t Type, fields map[string]json.RawMessage) (Body, map[string]json.RawMessage, bool) {
	if _, ok := variants[t]; !ok {
		return nil, nil, false
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, nil, false
	}
	body, err := decodeBody(t, raw)
	if err != nil {
		return nil, nil, false
	}
	owned, err := bodyFields(body)
	if err != nil {
		return nil, nil, false
	}

	var extra map[string]json.RawMessage
	for k, v := range fields {
		emitted, ok := owned[k]
		if !ok {
			if extra == nil {
				extra = make(map[string]json.RawMessage)
			}
			extra[k] = v
			continue
		}
		if !sameJSON(v, emitted) {
			return nil, nil, false
		}
	}
	for k := range owned {
		if _, ok := fields[k]; !ok {
			return nil, nil, false
		}
	}
	return body, extra, true
}

// decodeBody strictly decodes data into the variant registered for t.
func decodeBody(t Type, data []byte) (Body, error) {
	ctor, ok := variants[t]
	if !ok {
		return nil, fmt.Errorf("unknown rule type %q", t)
	}
	body := ctor()
	if err := json.Unmarshal(data, body); err != nil {
		return nil, fmt.Errorf("%s rule: %w", t, err)
	}
	return deref(body), nil
}

func sameJSON(a, b json.RawMessage) bool {
	ca, err := canonicalize(a)
	if err != nil {
		return false
	}
	cb, err := canonicalize(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ca, cb)
}

// Canonical returns the rule's JSON with sorted keys and without its id.
// Two rules with equal canonical forms are the same rule for diffing.
func (r Rule) Canonical() ([]byte, error) {
	fields, err := r.fields()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return canonicalize(raw)
}

// StringField returns a top-level string field of the rule's wire form, if any.
func (r Rule) StringField(name string) (string, bool) {
	fields, err := r.fields()
	if err != nil {
		return "", false
	}
	raw, ok := fields[name]
	if !ok {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil || s == "" {
		return "", false
	}
	return s, true
}

// fields returns the wire form of the rule minus its id.
func (r Rule) fields() (map[string]json.RawMessage, error) {
	if r.Body == nil {
		return nil, errors.New("rule has no body")
	}

	fields, err := bodyFields(r.Body)
	if err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}

	typ, _ := json.Marshal(r.Body.Kind())
	fields["type"] = typ
	if r.Description != "" {
		desc, _ := json.Marshal(r.Description)
		fields["description"] = desc
	}
	return fields, nil
}

func bodyFields(b Body) (map[string]json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if g, ok := b.(Generic); ok {
		for k, v := range g.Fields {
			fields[k] = v
		}
		return fields, nil
	}
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// canonicalize re-encodes arbitrary JSON so nested object keys are sorted.
func canonicalize(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func deref(b Body) Body {
	switch v := b.(type) {
	case *Cache:
		return *v
	case *Header:
		return *v
	case *Route:
		return *v
	case *Access:
		return *v
	case *Performance:
		return *v
	case *RateLimit:
		return *v
	case *Security:
		return *v
	case *Canary:
		return *v
	case *Banner:
		return *v
	}
	return b
}

// Package schema models the shared API schema: which services exist, the
// methods each exposes per protocol, their parameter specs and the RLS rules.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/drblury/apibridge/internal/runtime/jsoncodec"
)

type Protocol string

const (
	ProtocolHTTP Protocol = "HTTP"
	ProtocolAMQP Protocol = "AMQP"
)

type Direction string

const (
	DirectionRead  Direction = "read"
	DirectionWrite Direction = "write"
)

// rlsKey is the service-level key holding access rules; every other key is a protocol section.
const rlsKey = "RLS"

// Schema is an immutable snapshot of every service. Services keep the order
// in which the source document listed them.
type Schema struct {
	order    []string
	services map[string]*ServiceSchema
	raw      json.RawMessage
}

// ServiceSchema is one service's protocol sections and optional RLS rules.
type ServiceSchema struct {
	Name      string
	Protocols []*ProtocolSection
	// RLS is nil when the service declares no RLS section.
	RLS RLSRules
}

// ProtocolSection is one protocol block, e.g. "AMQP".
type ProtocolSection struct {
	Protocol Protocol
	Config   ProtocolConfig
	Write    []MethodSpec
	Read     []MethodSpec
}

// MethodSpec is a method as declared in the schema.
type MethodSpec struct {
	Name   string
	Params []ParamSpec
}

// RLSRules maps a target service to its rule. A nil *RLSEntry stands for a
// null entry in the document.
type RLSRules map[string]*RLSEntry

// RLSEntry restricts which methods may be called on a target service.
type RLSEntry struct {
	Allowed    []string `json:"allowed"`
	Disallowed []string `json:"disallowed"`

	hasAllowed    bool
	hasDisallowed bool
}

func (e *RLSEntry) HasAllowed() bool    { return e != nil && e.hasAllowed }
func (e *RLSEntry) HasDisallowed() bool { return e != nil && e.hasDisallowed }

// Parse decodes a schema document.
func Parse(data []byte) (*Schema, error) {
	members, err := decodeOrdered(data)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	s := &Schema{
		services: make(map[string]*ServiceSchema, len(members)),
		raw:      append(json.RawMessage(nil), bytes.TrimSpace(data)...),
	}
	for _, m := range members {
		svc, err := parseService(m.Key, m.Value)
		if err != nil {
			return nil, err
		}
		s.order = append(s.order, m.Key)
		s.services[m.Key] = svc
	}
	return s, nil
}

// MustParse is Parse for literals in tests and examples.
func MustParse(data string) *Schema {
	s, err := Parse([]byte(data))
	if err != nil {
		panic(err)
	}
	return s
}

// Service returns the named service.
func (s *Schema) Service(name string) (*ServiceSchema, bool) {
	if s == nil {
		return nil, false
	}
	svc, ok := s.services[name]
	return svc, ok
}

// Services lists service names in document order.
func (s *Schema) Services() []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s.order...)
}

// Raw returns the document the schema was parsed from.
func (s *Schema) Raw() json.RawMessage {
	if s == nil {
		return nil
	}
	return s.raw
}

// Section returns the service's section for protocol p.
func (svc *ServiceSchema) Section(p Protocol) (*ProtocolSection, bool) {
	for _, sec := range svc.Protocols {
		if sec.Protocol == p {
			return sec, true
		}
	}
	return nil, false
}

// AMQPMethods lists every AMQP method name of the service, write first.
func (svc *ServiceSchema) AMQPMethods() []string {
	sec, ok := svc.Section(ProtocolAMQP)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(sec.Write)+len(sec.Read))
	for _, m := range sec.Write {
		names = append(names, m.Name)
	}
	for _, m := range sec.Read {
		names = append(names, m.Name)
	}
	return names
}

func parseService(name string, data []byte) (*ServiceSchema, error) {
	members, err := decodeOrdered(data)
	if err != nil {
		return nil, fmt.Errorf("schema: service %s: %w", name, err)
	}
	svc := &ServiceSchema{Name: name}
	for _, m := range members {
		if m.Key == rlsKey {
			rules, err := parseRLS(m.Value)
			if err != nil {
				return nil, fmt.Errorf("schema: service %s: RLS: %w", name, err)
			}
			svc.RLS = rules
			continue
		}
		section, ok, err := parseSection(Protocol(m.Key), m.Value)
		if err != nil {
			return nil, fmt.Errorf("schema: service %s: %s: %w", name, m.Key, err)
		}
		if ok {
			svc.Protocols = append(svc.Protocols, section)
		}
	}
	return svc, nil
}

func parseSection(p Protocol, data []byte) (*ProtocolSection, bool, error) {
	members, err := decodeOrdered(data)
	if err != nil {
		return nil, false, err
	}
	section := &ProtocolSection{Protocol: p, Config: ProtocolConfig{}}
	hasMethods := false
	for _, m := range members {
		switch m.Key {
		case "config":
			cfg, err := jsoncodec.DecodeObject(m.Value)
			if err != nil && !isNull(m.Value) {
				return nil, false, fmt.Errorf("config: %w", err)
			}
			section.Config = ProtocolConfig(cfg)
		case "methods":
			hasMethods = true
			groups, err := decodeOrdered(m.Value)
			if err != nil {
				return nil, false, fmt.Errorf("methods: %w", err)
			}
			for _, g := range groups {
				methods, err := parseMethods(g.Value)
				if err != nil {
					return nil, false, fmt.Errorf("methods.%s: %w", g.Key, err)
				}
				switch Direction(g.Key) {
				case DirectionWrite:
					section.Write = methods
				case DirectionRead:
					section.Read = methods
				}
			}
		}
	}
	if !hasMethods {
		return nil, false, nil
	}
	return section, true, nil
}

func parseMethods(data []byte) ([]MethodSpec, error) {
	members, err := decodeOrdered(data)
	if err != nil {
		return nil, err
	}
	methods := make([]MethodSpec, 0, len(members))
	for _, m := range members {
		params, err := decodeOrdered(m.Value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", m.Key, err)
		}
		spec := MethodSpec{Name: m.Key, Params: make([]ParamSpec, 0, len(params))}
		for _, p := range params {
			ps, err := parseParam(p.Key, p.Value)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", m.Key, p.Key, err)
			}
			spec.Params = append(spec.Params, ps)
		}
		methods = append(methods, spec)
	}
	return methods, nil
}

// parseRLS reads a null section as no section at all.
func parseRLS(data []byte) (RLSRules, error) {
	if isNull(data) {
		return nil, nil
	}
	members, err := decodeOrdered(data)
	if err != nil {
		return nil, err
	}
	rules := make(RLSRules, len(members))
	for _, m := range members {
		if isNull(m.Value) {
			rules[m.Key] = nil
			continue
		}
		var fields map[string]json.RawMessage
		if err := jsoncodec.Unmarshal(m.Value, &fields); err != nil {
			return nil, fmt.Errorf("%s: %w", m.Key, err)
		}
		entry := &RLSEntry{}
		if raw, ok := fields["allowed"]; ok && !isNull(raw) {
			if err := jsoncodec.Unmarshal(raw, &entry.Allowed); err != nil {
				return nil, fmt.Errorf("%s.allowed: %w", m.Key, err)
			}
			entry.hasAllowed = true
		}
		if raw, ok := fields["disallowed"]; ok && !isNull(raw) {
			if err := jsoncodec.Unmarshal(raw, &entry.Disallowed); err != nil {
				return nil, fmt.Errorf("%s.disallowed: %w", m.Key, err)
			}
			entry.hasDisallowed = true
		}
		rules[m.Key] = entry
	}
	return rules, nil
}

type member struct {
	Key   string
	Value json.RawMessage
}

// decodeOrdered splits a JSON object into its members in document order.
// null decodes to no members.
func decodeOrdered(data []byte) ([]member, error) {
	if isNull(data) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("expected object, got %v", tok)
	}
	var members []member
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, _ := keyTok.(string)
		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%s: %w", key, err)
		}
		members = append(members, member{Key: key, Value: value})
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	return members, nil
}

func isNull(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || string(trimmed) == "null"
}

// Builder assembles a Schema in code. Tests and examples use it instead of
// JSON literals.
type Builder struct {
	s *Schema
}

func NewBuilder() *Builder {
	return &Builder{s: &Schema{services: map[string]*ServiceSchema{}}}
}

// Service adds (or returns) a service.
func (b *Builder) Service(name string) *ServiceSchema {
	if svc, ok := b.s.services[name]; ok {
		return svc
	}
	svc := &ServiceSchema{Name: name}
	b.s.order = append(b.s.order, name)
	b.s.services[name] = svc
	return svc
}

// Build freezes the schema and renders its document form.
func (b *Builder) Build() *Schema {
	doc := make(map[string]any, len(b.s.services))
	for name, svc := range b.s.services {
		doc[name] = svc.document()
	}
	raw, err := jsoncodec.Marshal(doc)
	if err == nil {
		b.s.raw = raw
	}
	return b.s
}

// AddSection appends a protocol section and returns it for method registration.
func (svc *ServiceSchema) AddSection(p Protocol, cfg ProtocolConfig) *ProtocolSection {
	if cfg == nil {
		cfg = ProtocolConfig{}
	}
	sec := &ProtocolSection{Protocol: p, Config: cfg}
	svc.Protocols = append(svc.Protocols, sec)
	return sec
}

// Allow sets an allow-list rule towards target.
func (svc *ServiceSchema) Allow(target string, methods ...string) *ServiceSchema {
	svc.rule(target, &RLSEntry{Allowed: methods, hasAllowed: true})
	return svc
}

// Deny sets a deny-list rule towards target.
func (svc *ServiceSchema) Deny(target string, methods ...string) *ServiceSchema {
	svc.rule(target, &RLSEntry{Disallowed: methods, hasDisallowed: true})
	return svc
}

// Open sets a null rule towards target, which allows every method.
func (svc *ServiceSchema) Open(target string) *ServiceSchema {
	svc.rule(target, nil)
	return svc
}

func (svc *ServiceSchema) rule(target string, e *RLSEntry) {
	if svc.RLS == nil {
		svc.RLS = RLSRules{}
	}
	svc.RLS[target] = e
}

// AddMethod declares a method in the given direction.
func (sec *ProtocolSection) AddMethod(dir Direction, name string, params ...ParamSpec) *ProtocolSection {
	m := MethodSpec{Name: name, Params: params}
	if dir == DirectionRead {
		sec.Read = append(sec.Read, m)
	} else {
		sec.Write = append(sec.Write, m)
	}
	return sec
}

func (svc *ServiceSchema) document() map[string]any {
	doc := make(map[string]any, len(svc.Protocols)+1)
	for _, sec := range svc.Protocols {
		methods := map[string]any{}
		if len(sec.Write) > 0 {
			methods[string(DirectionWrite)] = methodsDocument(sec.Write)
		}
		if len(sec.Read) > 0 {
			methods[string(DirectionRead)] = methodsDocument(sec.Read)
		}
		doc[string(sec.Protocol)] = map[string]any{"config": map[string]any(sec.Config), "methods": methods}
	}
	if svc.RLS != nil {
		rules := make(map[string]any, len(svc.RLS))
		for target, e := range svc.RLS {
			if e == nil {
				rules[target] = nil
				continue
			}
			entry := map[string]any{}
			if e.hasAllowed {
				entry["allowed"] = nonNil(e.Allowed)
			}
			if e.hasDisallowed {
				entry["disallowed"] = nonNil(e.Disallowed)
			}
			rules[target] = entry
		}
		doc[rlsKey] = rules
	}
	return doc
}

func methodsDocument(methods []MethodSpec) map[string]any {
	out := make(map[string]any, len(methods))
	for _, m := range methods {
		params := make(map[string]any, len(m.Params))
		for _, p := range m.Params {
			params[p.Name] = p.tuple()
		}
		out[m.Name] = params
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// String renders a short summary used in logs.
func (s *Schema) String() string {
	names := s.Services()
	sort.Strings(names)
	return "schema[" + strings.Join(names, ",") + "]"
}

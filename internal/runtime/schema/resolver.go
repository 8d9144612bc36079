package schema

import (
	"errors"

	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
)

// MethodDescriptor is a protocol bound view of one method. It is rebuilt on
// every lookup and never cached.
type MethodDescriptor struct {
	Name      string
	Service   string
	Protocol  Protocol
	Direction Direction
	Config    ProtocolConfig
	Params    []ParamSpec
}

// FindMethod walks the service's protocol sections in document order, write
// methods before read methods, and returns the first match.
func FindMethod(name string, svc *ServiceSchema) (*MethodDescriptor, error) {
	if svc == nil {
		return nil, apierrors.MethodNotFound("", name)
	}
	for _, sec := range svc.Protocols {
		if m, ok := lookup(sec.Write, name); ok {
			return describe(svc.Name, sec, DirectionWrite, m), nil
		}
		if m, ok := lookup(sec.Read, name); ok {
			return describe(svc.Name, sec, DirectionRead, m), nil
		}
	}
	return nil, apierrors.MethodNotFound(svc.Name, name)
}

// FindMethod resolves method on the named service.
func (s *Schema) FindMethod(service, method string) (*MethodDescriptor, error) {
	svc, ok := s.Service(service)
	if !ok {
		return nil, apierrors.ServiceNotFound(service)
	}
	return FindMethod(method, svc)
}

func lookup(methods []MethodSpec, name string) (MethodSpec, bool) {
	for _, m := range methods {
		if m.Name == name {
			return m, true
		}
	}
	return MethodSpec{}, false
}

func describe(service string, sec *ProtocolSection, dir Direction, m MethodSpec) *MethodDescriptor {
	cfg := make(ProtocolConfig, len(sec.Config))
	for k, v := range sec.Config {
		cfg[k] = v
	}
	return &MethodDescriptor{
		Name:      m.Name,
		Service:   service,
		Protocol:  sec.Protocol,
		Direction: dir,
		Config:    cfg,
		Params:    append([]ParamSpec(nil), m.Params...),
	}
}

// Param returns the named parameter spec.
func (m *MethodDescriptor) Param(name string) (ParamSpec, bool) {
	for _, p := range m.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// CheckParams validates inputs against the method. Unknown names fail with
// ErrParamNotFound and missing required params with ErrRequireParamNotSet.
// A null value counts as absent.
func (m *MethodDescriptor) CheckParams(inputs []InputParam) error {
	set := make(map[string]bool, len(inputs))
	for _, in := range inputs {
		spec, ok := m.Param(in.Name)
		if !ok {
			return apierrors.ParamNotFound(m.Name, in.Name)
		}
		if in.Value == nil {
			continue
		}
		if err := spec.CheckValue(in.Value); err != nil {
			var e *apierrors.Error
			if errors.As(err, &e) && e.Method == "" {
				e.Method = m.Name
				e.Service = m.Service
			}
			return err
		}
		set[in.Name] = true
	}
	for _, p := range m.Params {
		if p.Required && !set[p.Name] {
			return apierrors.RequireParamNotSet(m.Name, p.Name)
		}
	}
	return nil
}

// CheckParamMap is CheckParams over a name to value map.
func (m *MethodDescriptor) CheckParamMap(params map[string]any) error {
	return m.CheckParams(InputsFromMap(params))
}

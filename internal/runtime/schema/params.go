package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/drblury/apibridge/internal/runtime/jsoncodec"
	"github.com/drblury/apibridge/internal/runtime/validation"
)

// ParamType names a parameter value type.
type ParamType string

const (
	TypeStr    ParamType = validation.TypeStr
	TypeInt    ParamType = validation.TypeInt
	TypeFloat  ParamType = validation.TypeFloat
	TypeGUID   ParamType = validation.TypeGUID
	TypeMD5    ParamType = validation.TypeMD5
	TypeJSON   ParamType = validation.TypeJSON
	TypeBin    ParamType = validation.TypeBin
	TypeBase64 ParamType = validation.TypeBase64
	TypeDate   ParamType = validation.TypeDate
	TypeBool   ParamType = validation.TypeBool
)

// ParamSpec declares one parameter. Size is kept in its textual form: a digit
// count for str and int, "I.F" for float, empty when unbounded.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Size     string
	Required bool
}

// Param is a shorthand constructor used with the schema Builder.
func Param(name string, typ ParamType, size any, required bool) ParamSpec {
	s := ""
	if size != nil {
		s = fmt.Sprint(size)
	}
	return ParamSpec{Name: name, Type: typ, Size: s, Required: required}
}

// CheckValue validates v against the spec's type and size.
func (p ParamSpec) CheckValue(v any) error {
	return validation.CheckValue(p.Name, string(p.Type), p.Size, v)
}

// tuple renders the positional wire form [type, size, required].
func (p ParamSpec) tuple() []any {
	var size any
	if p.Size != "" {
		size = json.Number(p.Size)
		if p.Type == TypeFloat {
			size = p.Size
		}
	}
	return []any{string(p.Type), size, p.Required}
}

// parseParam accepts [type, size, required] or {"type":..,"size":..,"required":..}.
func parseParam(name string, data []byte) (ParamSpec, error) {
	spec := ParamSpec{Name: name}
	trimmed := strings.TrimSpace(string(data))
	switch {
	case strings.HasPrefix(trimmed, "["):
		var parts []any
		if err := jsoncodec.Unmarshal(data, &parts); err != nil {
			return spec, err
		}
		if len(parts) == 0 {
			return spec, fmt.Errorf("empty param spec")
		}
		typ, ok := parts[0].(string)
		if !ok {
			return spec, fmt.Errorf("type must be a string, got %T", parts[0])
		}
		spec.Type = ParamType(typ)
		if len(parts) > 1 {
			spec.Size = sizeText(parts[1])
		}
		if len(parts) > 2 {
			spec.Required, _ = parts[2].(bool)
		}
	case strings.HasPrefix(trimmed, "{"):
		var obj struct {
			Type     string `json:"type"`
			Size     any    `json:"size"`
			Required bool   `json:"required"`
		}
		if err := jsoncodec.Unmarshal(data, &obj); err != nil {
			return spec, err
		}
		spec.Type = ParamType(obj.Type)
		spec.Size = sizeText(obj.Size)
		spec.Required = obj.Required
	default:
		return spec, fmt.Errorf("unsupported param spec %s", trimmed)
	}
	if !validation.KnownType(string(spec.Type)) {
		return spec, fmt.Errorf("unknown param type %q", spec.Type)
	}
	return spec, nil
}

func sizeText(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case json.Number:
		return s.String()
	case string:
		return strings.TrimSpace(s)
	default:
		return fmt.Sprint(s)
	}
}

// InputParam is one caller supplied argument.
type InputParam struct {
	Name  string
	Value any
}

// InputsFromMap converts a param map into inputs sorted by name.
func InputsFromMap(params map[string]any) []InputParam {
	inputs := make([]InputParam, 0, len(params))
	for name, value := range params {
		inputs = append(inputs, InputParam{Name: name, Value: value})
	}
	sort.Slice(inputs, func(i, j int) bool { return inputs[i].Name < inputs[j].Name })
	return inputs
}

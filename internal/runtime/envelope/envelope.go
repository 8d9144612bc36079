// Package envelope encodes the wire messages exchanged over the broker and
// derives their content-hash ids.
package envelope

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/drblury/apibridge/internal/runtime/jsoncodec"
)

// Reserved envelope fields. Everything else in a request is a method param.
const (
	FieldID              = "id"
	FieldServiceCallback = "service_callback"
	FieldMethod          = "method"
	FieldMethodCallback  = "method_callback"
	FieldAdditionalData  = "additional_data"
	FieldRecheckDate     = "recheck_date"
	FieldResponseID      = "response_id"
	FieldMessage         = "message"
	FieldResult          = "result"
	FieldResponse        = "response"
)

var reserved = map[string]bool{
	FieldID:              true,
	FieldServiceCallback: true,
	FieldMethod:          true,
	FieldMethodCallback:  true,
	FieldAdditionalData:  true,
	FieldRecheckDate:     true,
	FieldResponseID:      true,
}

// IsReserved reports whether name collides with an envelope field.
func IsReserved(name string) bool {
	return reserved[name]
}

// Serialize renders v as canonical JSON: sorted keys, compact.
func Serialize(v any) ([]byte, error) {
	return jsoncodec.Marshal(v)
}

// CreateHash returns the hex MD5 of v's canonical serialization. It
// identifies content and is not meant as a security primitive.
func CreateHash(v any) (string, error) {
	data, err := Serialize(v)
	if err != nil {
		return "", fmt.Errorf("envelope: serialize for hash: %w", err)
	}
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// Envelope is an outbound request.
type Envelope struct {
	ID              string
	ServiceCallback string
	Method          string
	MethodCallback  string
	Params          map[string]any
	// AdditionalData travels with the request but is excluded from the id.
	AdditionalData map[string]any
	// RecheckDate is set when a service requeues a request to itself.
	RecheckDate string
}

// New builds a request envelope and computes its id.
func New(from, method, callbackMethod string, params map[string]any, additional map[string]any) (Envelope, error) {
	for name := range params {
		if IsReserved(name) {
			return Envelope{}, fmt.Errorf("envelope: param %q uses a reserved name", name)
		}
	}
	// No params is stored as nil so the wire form decodes back to the same value.
	if len(params) == 0 {
		params = nil
	}
	e := Envelope{
		ServiceCallback: from,
		Method:          method,
		MethodCallback:  callbackMethod,
		Params:          params,
		AdditionalData:  additional,
	}
	if err := e.Seal(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// Seal recomputes ID from the current content.
func (e *Envelope) Seal() error {
	id, err := e.Hash()
	if err != nil {
		return err
	}
	e.ID = id
	return nil
}

// Hash computes the content hash over every field but id and additional_data.
func (e Envelope) Hash() (string, error) {
	m := e.ToMap()
	delete(m, FieldID)
	delete(m, FieldAdditionalData)
	return CreateHash(m)
}

// ToMap flattens the envelope into its wire map.
func (e Envelope) ToMap() map[string]any {
	m := make(map[string]any, len(e.Params)+6)
	for k, v := range e.Params {
		m[k] = v
	}
	m[FieldID] = e.ID
	m[FieldServiceCallback] = e.ServiceCallback
	m[FieldMethod] = e.Method
	m[FieldMethodCallback] = e.MethodCallback
	if e.AdditionalData != nil {
		m[FieldAdditionalData] = e.AdditionalData
	}
	if e.RecheckDate != "" {
		m[FieldRecheckDate] = e.RecheckDate
	}
	return m
}

// Marshal serializes the envelope.
func (e Envelope) Marshal() ([]byte, error) {
	return Serialize(e.ToMap())
}

// FromMap splits a wire map into reserved fields and params.
func FromMap(m map[string]any) (Envelope, error) {
	var (
		e   Envelope
		err error
	)
	if e.ID, err = requiredString(m, FieldID); err != nil {
		return Envelope{}, err
	}
	if e.ServiceCallback, err = requiredString(m, FieldServiceCallback); err != nil {
		return Envelope{}, err
	}
	if e.Method, err = requiredString(m, FieldMethod); err != nil {
		return Envelope{}, err
	}
	if e.MethodCallback, err = optionalString(m, FieldMethodCallback); err != nil {
		return Envelope{}, err
	}
	if e.RecheckDate, err = optionalString(m, FieldRecheckDate); err != nil {
		return Envelope{}, err
	}
	if raw, ok := m[FieldAdditionalData]; ok && raw != nil {
		data, ok := raw.(map[string]any)
		if !ok {
			return Envelope{}, fmt.Errorf("envelope: %s must be an object, got %T", FieldAdditionalData, raw)
		}
		e.AdditionalData = data
	}
	for k, v := range m {
		if IsReserved(k) {
			continue
		}
		if e.Params == nil {
			e.Params = make(map[string]any, len(m))
		}
		e.Params[k] = v
	}
	return e, nil
}

// ParamNames lists the param names in sorted order.
func (e Envelope) ParamNames() []string {
	names := make([]string, 0, len(e.Params))
	for k := range e.Params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func requiredString(m map[string]any, key string) (string, error) {
	raw, ok := m[key]
	if !ok {
		return "", fmt.Errorf("envelope: missing %s", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("envelope: %s must be a string, got %T", key, raw)
	}
	if strings.TrimSpace(s) == "" && key != FieldID {
		return "", fmt.Errorf("envelope: empty %s", key)
	}
	return s, nil
}

func optionalString(m map[string]any, key string) (string, error) {
	raw, ok := m[key]
	if !ok || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("envelope: %s must be a string, got %T", key, raw)
	}
	return s, nil
}

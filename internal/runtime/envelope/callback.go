package envelope

import (
	"fmt"
	"strings"

	"github.com/drblury/apibridge/internal/runtime/jsoncodec"
)

// Message is the payload of a callback.
type Message struct {
	Result   bool
	Response any
}

// CallbackEnvelope carries a handler result back to the caller. ResponseID
// is the id of the request it answers. Method names the caller-side callback
// handler and is empty when none was requested.
type CallbackEnvelope struct {
	ID              string
	ResponseID      string
	ServiceCallback string
	Method          string
	Message         Message
}

// NewCallback builds a callback envelope and computes its id.
func NewCallback(responseID, responder, method string, result bool, response any) (CallbackEnvelope, error) {
	c := CallbackEnvelope{
		ResponseID:      responseID,
		ServiceCallback: responder,
		Method:          method,
		Message:         Message{Result: result, Response: response},
	}
	id, err := c.Hash()
	if err != nil {
		return CallbackEnvelope{}, err
	}
	c.ID = id
	return c, nil
}

// NewErrorCallback builds a result=false callback with {"error": msg}.
func NewErrorCallback(responseID, responder, method string, cause error) (CallbackEnvelope, error) {
	return NewCallback(responseID, responder, method, false, map[string]any{"error": cause.Error()})
}

// Hash computes the content hash over every field but id.
func (c CallbackEnvelope) Hash() (string, error) {
	m := c.ToMap()
	delete(m, FieldID)
	return CreateHash(m)
}

// ToMap renders the wire map. An empty Method is written as null.
func (c CallbackEnvelope) ToMap() map[string]any {
	var method any
	if c.Method != "" {
		method = c.Method
	}
	return map[string]any{
		FieldID:              c.ID,
		FieldResponseID:      c.ResponseID,
		FieldServiceCallback: c.ServiceCallback,
		FieldMethod:          method,
		FieldMessage: map[string]any{
			FieldResult:   c.Message.Result,
			FieldResponse: c.Message.Response,
		},
	}
}

func (c CallbackEnvelope) Marshal() ([]byte, error) {
	return Serialize(c.ToMap())
}

// CallbackFromMap decodes a callback wire map. A string response holding a
// JSON object or array is decoded in place.
func CallbackFromMap(m map[string]any) (CallbackEnvelope, error) {
	var (
		c   CallbackEnvelope
		err error
	)
	if c.ResponseID, err = requiredString(m, FieldResponseID); err != nil {
		return CallbackEnvelope{}, err
	}
	if c.ID, err = optionalString(m, FieldID); err != nil {
		return CallbackEnvelope{}, err
	}
	if c.ServiceCallback, err = optionalString(m, FieldServiceCallback); err != nil {
		return CallbackEnvelope{}, err
	}
	if c.Method, err = optionalString(m, FieldMethod); err != nil {
		return CallbackEnvelope{}, err
	}
	msg, ok := m[FieldMessage].(map[string]any)
	if !ok {
		return CallbackEnvelope{}, fmt.Errorf("envelope: callback %s must be an object", FieldMessage)
	}
	if raw, ok := msg[FieldResult]; ok && raw != nil {
		result, ok := raw.(bool)
		if !ok {
			return CallbackEnvelope{}, fmt.Errorf("envelope: callback %s must be a bool, got %T", FieldResult, raw)
		}
		c.Message.Result = result
	}
	c.Message.Response = decodeResponse(msg[FieldResponse])
	return c, nil
}

func decodeResponse(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return v
	}
	var decoded any
	if err := jsoncodec.Unmarshal([]byte(trimmed), &decoded); err != nil {
		return v
	}
	return decoded
}

// ErrorText extracts the "error" string of an error callback.
func (c CallbackEnvelope) ErrorText() string {
	if c.Message.Result {
		return ""
	}
	if m, ok := c.Message.Response.(map[string]any); ok {
		if s, ok := m["error"].(string); ok {
			return s
		}
	}
	return fmt.Sprint(c.Message.Response)
}

package envelope

import (
	"fmt"

	"github.com/drblury/apibridge/internal/runtime/jsoncodec"
)

// Inbound is a classified broker payload: exactly one of Request or Callback is set.
type Inbound struct {
	Request  *Envelope
	Callback *CallbackEnvelope
}

// IsCallback reports whether the payload answered an earlier request.
func (in Inbound) IsCallback() bool {
	return in.Callback != nil
}

// Decode parses a payload and classifies it by the presence of response_id.
func Decode(data []byte) (Inbound, error) {
	m, err := jsoncodec.DecodeObject(data)
	if err != nil {
		return Inbound{}, fmt.Errorf("envelope: decode: %w", err)
	}
	if _, ok := m[FieldResponseID]; ok {
		cb, err := CallbackFromMap(m)
		if err != nil {
			return Inbound{}, err
		}
		return Inbound{Callback: &cb}, nil
	}
	req, err := FromMap(m)
	if err != nil {
		return Inbound{}, err
	}
	return Inbound{Request: &req}, nil
}

package metadata

// Metadata represents the broker headers carried alongside an envelope. The
// envelope body stays authoritative; headers only speed up routing and logging.
type Metadata map[string]string

// Reserved header keys.
const (
	// KeyCorrelationID carries the envelope id (the content hash).
	KeyCorrelationID = "correlation_id"
	// KeyResponseID is set on callbacks and names the request they answer.
	KeyResponseID = "apibridge_response_id"
	// KeyKind is KindRequest or KindCallback.
	KeyKind = "apibridge_kind"
	// KeyFromService names the sending service.
	KeyFromService = "apibridge_from"
	// KeyToService names the target service.
	KeyToService = "apibridge_to"
	// KeyMethod names the invoked method.
	KeyMethod = "apibridge_method"
)

const (
	KindRequest  = "request"
	KindCallback = "callback"
)

func (m Metadata) cloneWithExtra(extra int) Metadata {
	size := len(m) + extra
	if size <= 0 {
		return Metadata{}
	}

	cloned := make(Metadata, size)
	for k, v := range m {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the metadata map.
func (m Metadata) Clone() Metadata {
	return m.cloneWithExtra(0)
}

// With returns a cloned metadata map containing the provided key/value pair.
// Empty values are skipped.
func (m Metadata) With(key, value string) Metadata {
	cloned := m.cloneWithExtra(1)
	if value != "" {
		cloned[key] = value
	}
	return cloned
}

// New constructs a Metadata map from alternating key/value pairs.
func New(pairs ...string) Metadata {
	md := make(Metadata, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		if pairs[i+1] == "" {
			continue
		}
		md[pairs[i]] = pairs[i+1]
	}
	return md
}

// ForRequest builds the headers of an outbound request envelope.
func ForRequest(id, from, to, method string) Metadata {
	return New(
		KeyCorrelationID, id,
		KeyKind, KindRequest,
		KeyFromService, from,
		KeyToService, to,
		KeyMethod, method,
	)
}

// ForCallback builds the headers of a callback envelope.
func ForCallback(id, responseID, from, method string) Metadata {
	return New(
		KeyCorrelationID, id,
		KeyResponseID, responseID,
		KeyKind, KindCallback,
		KeyFromService, from,
		KeyMethod, method,
	)
}

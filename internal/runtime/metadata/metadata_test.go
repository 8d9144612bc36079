package metadata

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
)

func TestCloneDoesNotAlias(t *testing.T) {
	original := Metadata{"a": "1", "b": "2"}
	clone := original.Clone()
	clone["a"] = "changed"

	assert.Equal(t, "1", original["a"])
	assert.Len(t, clone, 2)
}

func TestCloneEmpty(t *testing.T) {
	var m Metadata
	cloned := m.Clone()
	assert.NotNil(t, cloned)
	assert.Empty(t, cloned)
}

func TestWithSkipsEmptyValues(t *testing.T) {
	m := Metadata{"a": "1"}
	assert.Equal(t, Metadata{"a": "1", "b": "2"}, m.With("b", "2"))
	assert.Equal(t, Metadata{"a": "1"}, m.With("c", ""))
	assert.Len(t, m, 1)
}

func TestForRequestAndCallback(t *testing.T) {
	req := ForRequest("abc", "Billing", "Users", "get_user")
	assert.Equal(t, Metadata{
		KeyCorrelationID: "abc",
		KeyKind:          KindRequest,
		KeyFromService:   "Billing",
		KeyToService:     "Users",
		KeyMethod:        "get_user",
	}, req)

	cb := ForCallback("def", "abc", "Users", "on_user")
	assert.Equal(t, "abc", cb[KeyResponseID])
	assert.Equal(t, KindCallback, cb[KeyKind])
	_, hasTo := cb[KeyToService]
	assert.False(t, hasTo)
}

func TestWatermillConversion(t *testing.T) {
	msg := message.NewMessage("uuid", nil)
	msg.Metadata = nil
	Apply(msg, ForRequest("abc", "A", "B", "m"))
	assert.Equal(t, "abc", msg.Metadata.Get(KeyCorrelationID))

	back := FromWatermill(msg.Metadata)
	assert.Equal(t, "B", back[KeyToService])
	assert.Empty(t, FromWatermill(nil))
}

package envelope

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIDIsIdempotent(t *testing.T) {
	params := map[string]any{"test_str": "hello", "n": 3}
	a, err := New("SendService", "test_method", "callbackMethod", params, nil)
	require.NoError(t, err)
	b, err := New("SendService", "test_method", "callbackMethod", map[string]any{"n": 3, "test_str": "hello"}, nil)
	require.NoError(t, err)
	assert.Equal(t, a.ID, b.ID)
	assert.Len(t, a.ID, 32)

	withExtra, err := New("SendService", "test_method", "callbackMethod", params, map[string]any{"order": 7})
	require.NoError(t, err)
	assert.Equal(t, a.ID, withExtra.ID, "additional_data is not part of the id")

	other, err := New("SendService", "test_method", "", params, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, other.ID)

	changed, err := New("SendService", "test_method", "callbackMethod", map[string]any{"test_str": "hello", "n": 4}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, changed.ID)
}

func TestIDSurvivesWireDecoding(t *testing.T) {
	e, err := New("A", "m", "cb", map[string]any{"n": 12, "f": 1.5, "s": "x", "nested": map[string]any{"z": 1, "a": []any{true}}}, nil)
	require.NoError(t, err)
	data, err := e.Marshal()
	require.NoError(t, err)

	in, err := Decode(data)
	require.NoError(t, err)
	require.NotNil(t, in.Request)
	rehash, err := in.Request.Hash()
	require.NoError(t, err)
	assert.Equal(t, e.ID, rehash)
	assert.Equal(t, json.Number("12"), in.Request.Params["n"])
}

func TestHashMatchesCanonicalMD5(t *testing.T) {
	id, err := CreateHash(map[string]any{"b": 1, "a": "x"})
	require.NoError(t, err)
	// md5 of {"a":"x","b":1}
	assert.Equal(t, "ee0d9126fa9a3ac9850bed8a722d2d11", md5Hex(`{"a":"x","b":1}`))
	assert.Equal(t, md5Hex(`{"a":"x","b":1}`), id)
}

func TestRoundTrip(t *testing.T) {
	cases := []Envelope{
		{ID: "abc", ServiceCallback: "A", Method: "m", MethodCallback: "cb", Params: map[string]any{"x": "1", "y": true}},
		{ID: "def", ServiceCallback: "A", Method: "m"},
		{ID: "ghi", ServiceCallback: "A", Method: "m", Params: map[string]any{"p": nil}, AdditionalData: map[string]any{"k": "v"}},
		{ID: "jkl", ServiceCallback: "A", Method: "m", Params: map[string]any{"p": 1}, RecheckDate: "2021-03-04T10:20:30±03:00"},
	}
	for _, e := range cases {
		back, err := FromMap(e.ToMap())
		require.NoError(t, err)
		assert.Equal(t, e, back)
	}
}

func TestRoundTripWithoutParams(t *testing.T) {
	for _, params := range []map[string]any{nil, {}} {
		e, err := New("A", "m", "", params, nil)
		require.NoError(t, err)
		assert.Nil(t, e.Params)

		back, err := FromMap(e.ToMap())
		require.NoError(t, err)
		assert.Equal(t, e, back)
	}
}

func TestNewRejectsReservedParams(t *testing.T) {
	for _, name := range []string{"id", "method", "response_id", "additional_data", "recheck_date"} {
		_, err := New("A", "m", "", map[string]any{name: "x"}, nil)
		assert.Error(t, err, name)
	}
}

func TestFromMapErrors(t *testing.T) {
	tests := map[string]map[string]any{
		"missing id":      {"service_callback": "A", "method": "m"},
		"missing service": {"id": "x", "method": "m"},
		"empty method":    {"id": "x", "service_callback": "A", "method": ""},
		"numeric method":  {"id": "x", "service_callback": "A", "method": 5},
		"bad callback":    {"id": "x", "service_callback": "A", "method": "m", "method_callback": 1},
		"bad additional":  {"id": "x", "service_callback": "A", "method": "m", "additional_data": "s"},
	}
	for name, m := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := FromMap(m)
			assert.Error(t, err)
		})
	}

	e, err := FromMap(map[string]any{"id": "x", "service_callback": "A", "method": "m", "method_callback": nil})
	require.NoError(t, err)
	assert.Equal(t, "", e.MethodCallback)
}

func TestCallbackEnvelope(t *testing.T) {
	cb, err := NewCallback("req-id", "CallbackService", "callbackMethod", true, map[string]any{"key": "value"})
	require.NoError(t, err)
	assert.Len(t, cb.ID, 32)

	again, err := NewCallback("req-id", "CallbackService", "callbackMethod", true, map[string]any{"key": "value"})
	require.NoError(t, err)
	assert.Equal(t, cb.ID, again.ID)

	data, err := cb.Marshal()
	require.NoError(t, err)
	in, err := Decode(data)
	require.NoError(t, err)
	require.True(t, in.IsCallback())
	assert.Equal(t, cb, *in.Callback)
}

func TestCallbackNullMethod(t *testing.T) {
	cb, err := NewCallback("req-id", "B", "", true, "ok")
	require.NoError(t, err)
	m := cb.ToMap()
	v, present := m[FieldMethod]
	assert.True(t, present)
	assert.Nil(t, v)

	data, err := cb.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"method":null`)
}

func TestCallbackDecodesStringResponse(t *testing.T) {
	in, err := Decode([]byte(`{"id":"c","response_id":"r","service_callback":"B","method":null,
		"message":{"result":true,"response":"{\"key\":\"value\"}"}}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"key": "value"}, in.Callback.Message.Response)

	in, err = Decode([]byte(`{"response_id":"r","message":{"result":true,"response":"plain"}}`))
	require.NoError(t, err)
	assert.Equal(t, "plain", in.Callback.Message.Response)
}

func TestErrorCallback(t *testing.T) {
	cb, err := NewErrorCallback("r", "B", "cb", errors.New("method m is not supported"))
	require.NoError(t, err)
	assert.False(t, cb.Message.Result)
	assert.Equal(t, "method m is not supported", cb.ErrorText())

	ok, err := NewCallback("r", "B", "cb", true, 1)
	require.NoError(t, err)
	assert.Equal(t, "", ok.ErrorText())
}

func TestDecodeErrors(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":         `not json`,
		"array":            `[1]`,
		"callback no msg":  `{"response_id":"r"}`,
		"callback bad res": `{"response_id":"r","message":{"result":"yes"}}`,
		"request missing":  `{"foo":"bar"}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(payload))
			assert.Error(t, err)
		})
	}
}

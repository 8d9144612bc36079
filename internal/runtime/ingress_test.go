package runtime

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/apibridge/internal/runtime/envelope"
	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
	metadatapkg "github.com/drblury/apibridge/internal/runtime/metadata"
	schemapkg "github.com/drblury/apibridge/internal/runtime/schema"
	ingresspkg "github.com/drblury/apibridge/transport/http"
)

func ingressMessage(payload, from string) *message.Message {
	msg := message.NewMessage("ingress-1", []byte(payload))
	if from != "" {
		msg.Metadata.Set(metadatapkg.KeyFromService, from)
	}
	return msg
}

func TestIngressForwardsEnvelope(t *testing.T) {
	n := newTestNet(t, testSchema(nil))
	worker, calls := n.workerService()
	n.listen(worker)
	gateway := n.service("Client")

	handler := gateway.ingressHandler("Worker")
	require.NoError(t, handler(ingressMessage(`{"method":"process","text":"via ingress","method_callback":"processed"}`, "Client")))

	require.Eventually(t, func() bool { return calls.count("process") == 1 }, 3*time.Second, 10*time.Millisecond)

	want, err := envelope.New("Client", "process", "processed", map[string]any{"text": "via ingress"}, nil)
	require.NoError(t, err)
	req := calls.all()[0]
	assert.Equal(t, want.ID, req.ID)
	assert.Equal(t, "Client", req.From)
	assert.Equal(t, "processed", req.CallbackMethod)
	assert.EqualValues(t, 1, gateway.Metrics().Dispatched(string(schemapkg.ProtocolAMQP), OutcomeOK))
}

func TestIngressKeepsExplicitID(t *testing.T) {
	n := newTestNet(t, testSchema(nil))
	worker, calls := n.workerService()
	n.listen(worker)
	gateway := n.service("Client")

	payload := `{"id":"fixed-id","service_callback":"Client","method":"process","text":"x"}`
	require.NoError(t, gateway.ingressHandler("Worker")(ingressMessage(payload, "")))

	require.Eventually(t, func() bool { return calls.count("process") == 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Equal(t, "fixed-id", calls.all()[0].ID)
}

func TestIngressRejects(t *testing.T) {
	sch := testSchema(schemapkg.ProtocolConfig{"address": "localhost", "port": "1", "endpoint": "/"})
	n := newTestNet(t, sch)
	gateway := n.service("Client")

	tests := []struct {
		name    string
		target  string
		payload string
		from    string
		wantErr error
	}{
		{"not json", "Worker", `nope`, "Client", nil},
		{"missing caller", "Worker", `{"method":"process","text":"x"}`, "", nil},
		{"unknown method", "Worker", `{"method":"nope"}`, "Client", apierrors.ErrMethodNotFound},
		{"missing param", "Worker", `{"method":"process"}`, "Client", apierrors.ErrRequireParamNotSet},
		{"denied caller", "Worker", `{"method":"process","text":"x"}`, "Mallory", apierrors.ErrServiceMethodNotAllowed},
		{"http only target", "Web", `{"method":"getApiStruct"}`, "Client", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := gateway.ingressHandler(tt.target)(ingressMessage(tt.payload, tt.from))
			require.Error(t, err)

			var rejected *RejectedEnvelopeError
			require.True(t, errors.As(err, &rejected), "got %v", err)
			assert.Equal(t, tt.payload, rejected.Payload)
			assert.True(t, isRejected(err))
			if tt.wantErr != nil {
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
			}
		})
	}
	assert.EqualValues(t, len(tests), gateway.Metrics().Dispatched("", OutcomeRejected))
}

func TestIngressSchemaFailureIsRetryable(t *testing.T) {
	n := newTestNet(t, testSchema(nil))
	unavailable := errors.New("schema endpoint down")
	gateway := n.serviceWith("Client", func(d *ServiceDependencies) {
		d.SchemaProvider = schemapkg.ProviderFunc(func(context.Context) (*schemapkg.Schema, error) {
			return nil, unavailable
		})
	})

	err := gateway.ingressHandler("Worker")(ingressMessage(`{"method":"process","text":"x"}`, "Client"))
	require.ErrorIs(t, err, unavailable)
	assert.False(t, isRejected(err))
}

func TestMountIngressAddsHandlerPerAMQPService(t *testing.T) {
	sch := testSchema(schemapkg.ProtocolConfig{"address": "localhost", "port": "1", "endpoint": "/"})
	n := newTestNet(t, sch)
	gateway := n.service("Client")

	ingress, err := ingresspkg.NewIngress("127.0.0.1:0", nil)
	require.NoError(t, err)
	gateway.mountIngress(sch, ingress)

	handlers := gateway.router.Handlers()
	for _, name := range []string{"ingress_Client", "ingress_Worker", "ingress_Mallory"} {
		assert.Contains(t, handlers, name)
	}
	assert.NotContains(t, handlers, "ingress_Web")
	assert.Same(t, ingress, gateway.ingress)
}

func TestRegisterHTTPIngressRequiresAddress(t *testing.T) {
	n := newTestNet(t, testSchema(nil))
	gateway := n.service("Client")
	assert.ErrorIs(t, gateway.RegisterHTTPIngress(n.ctx), errIngressAddressRequired)
}

package runtime

import (
	"context"
	"errors"
	"time"

	handlerpkg "github.com/drblury/apibridge/internal/runtime/handlers"
	loggingpkg "github.com/drblury/apibridge/internal/runtime/logging"
	metadatapkg "github.com/drblury/apibridge/internal/runtime/metadata"
	"github.com/drblury/apibridge/internal/runtime/validation"
)

// Recheck puts req back on the own queue with recheck_date set to at, so the
// handler sees it again. The request keeps its id, caller and callback
// method; the handler returns nil from the requeuing pass and the caller is
// answered by whichever later pass returns a result.
func (s *Service) Recheck(ctx context.Context, req *handlerpkg.Request, at time.Time) error {
	if req == nil {
		return errors.New("apibridge: recheck needs a request")
	}
	own, err := s.ownAMQP(ctx)
	if err != nil {
		return err
	}

	env := req.Envelope
	env.RecheckDate = validation.FormatDate(at)
	payload, err := env.Marshal()
	if err != nil {
		return err
	}

	md := metadatapkg.ForRequest(env.ID, env.ServiceCallback, s.Conf.ServiceName, env.Method)
	if err := s.publish(ctx, queueTopic(own), payload, md); err != nil {
		return err
	}
	s.Logger.Debug("Requeued request for recheck", loggingpkg.LogFields{
		"correlation_id": env.ID,
		"method":         env.Method,
		"recheck_date":   env.RecheckDate,
	})
	return nil
}

package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/imc400/tuka-backend/api/responses"
	"github.com/imc400/tuka-backend/internal/settlement"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/logger"
	"github.com/imc400/tuka-backend/pkg/stripe"
)

const maxPayloadBytes = 1 << 16

type SettlementService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (*settlement.Result, error)
}

type EventParser interface {
	ParseWebhook(payload []byte, signature string) (*stripe.Event, error)
}

type EventGuard interface {
	Begin(ctx context.Context, eventID string) (settlement.EventState, error)
	Complete(ctx context.Context, eventID string) error
	Release(ctx context.Context, eventID string) error
}

type ackView struct {
	EventID string `json:"event_id"`
	Outcome string `json:"outcome"`
}

// PaymentWebhook verifies processor notifications and hands them to
// settlement. Once the signature checks out the response is 200 unless
// settlement failed in a way the processor should retry, or another delivery
// of the same event is still settling.
func PaymentWebhook(svc SettlementService, parser EventParser, guard EventGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil || parser == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook handler unavailable"))
			return
		}

		payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "signature missing"))
			return
		}

		event, err := parser.ParseWebhook(payload, sigHeader)
		if errors.Is(err, stripe.ErrUnsupportedEvent) {
			responses.WriteSuccess(w, ackView{EventID: event.ID, Outcome: string(settlement.OutcomeIgnored)})
			return
		}
		if err != nil && event == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid signature"))
			return
		}
		if err != nil {
			// Verified but unusable; a redelivery would not fix it.
			if logg != nil {
				logg.Warn(logg.WithFields(ctx, map[string]any{"event_id": event.ID, "error": err.Error()}), "payment webhook ignored")
			}
			responses.WriteSuccess(w, ackView{EventID: event.ID, Outcome: string(settlement.OutcomeIgnored)})
			return
		}
		if logg != nil {
			ctx = logg.WithFields(ctx, map[string]any{"event_id": event.ID, "event_type": event.Type})
		}

		if guard != nil {
			state, err := guard.Begin(ctx, event.ID)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
				return
			}
			switch state {
			case settlement.EventDone:
				responses.WriteSuccess(w, ackView{EventID: event.ID, Outcome: string(settlement.OutcomeDuplicate)})
				return
			case settlement.EventInFlight:
				// a non-2xx makes the processor redeliver once the claim settles or lapses
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeConflict, "event is already being processed"))
				return
			}
		}

		result, err := svc.HandleEvent(ctx, event)
		if err != nil {
			if guard != nil {
				if releaseErr := guard.Release(ctx, event.ID); releaseErr != nil && logg != nil {
					logg.Error(ctx, "release webhook guard", releaseErr)
				}
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if guard != nil {
			if markErr := guard.Complete(ctx, event.ID); markErr != nil && logg != nil {
				logg.Error(ctx, "mark webhook settled", markErr)
			}
		}
		if logg != nil {
			logg.Info(logg.WithField(ctx, "outcome", string(result.Outcome)), "payment webhook processed")
		}
		responses.WriteSuccess(w, ackView{EventID: event.ID, Outcome: string(result.Outcome)})
	}
}

package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/imc400/tuka-backend/api/responses"
	"github.com/imc400/tuka-backend/api/validators"
	"github.com/imc400/tuka-backend/internal/fulfillment"
	"github.com/imc400/tuka-backend/internal/stores"
	"github.com/imc400/tuka-backend/pkg/db/models"
	"github.com/imc400/tuka-backend/pkg/enums"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/logger"
	"github.com/imc400/tuka-backend/pkg/outbox"
)

type fulfillmentReplayer interface {
	Replay(ctx context.Context, transactionID uint64, storeKey string) (*fulfillment.Outcome, error)
}

type FailedFulfillmentLister interface {
	ListFailed(ctx context.Context, limit int) ([]models.FulfillmentOrder, error)
}

type storeRegistry interface {
	Describe(ctx context.Context, key string) (*stores.StoreDTO, error)
	Upsert(ctx context.Context, input stores.UpsertStoreInput) (*stores.StoreDTO, error)
}

type failedFulfillmentView struct {
	TransactionID uint64                  `json:"transaction_id"`
	StoreKey      string                  `json:"store_key"`
	Status        enums.FulfillmentStatus `json:"status"`
	Attempts      int                     `json:"attempts"`
	Error         string                  `json:"error,omitempty"`
	UpdatedAt     time.Time               `json:"updated_at"`
}

// ReplayFulfillment retries a failed storefront order handoff.
func ReplayFulfillment(svc fulfillmentReplayer, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment service unavailable"))
			return
		}
		id, err := transactionIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		key, err := storeKeyParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		outcome, err := svc.Replay(r.Context(), id, key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, outcome)
	}
}

func ListFailedFulfillments(repo FailedFulfillmentLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "fulfillment repository unavailable"))
			return
		}
		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 200)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		rows, err := repo.ListFailed(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list failed fulfillments"))
			return
		}
		out := make([]failedFulfillmentView, 0, len(rows))
		for _, row := range rows {
			view := failedFulfillmentView{
				TransactionID: row.TransactionID,
				StoreKey:      row.StoreKey,
				Status:        row.Status,
				Attempts:      row.Attempts,
				UpdatedAt:     row.UpdatedAt,
			}
			if row.ErrorMessage != nil {
				view.Error = *row.ErrorMessage
			}
			out = append(out, view)
		}
		responses.WriteSuccess(w, out)
	}
}

func GetStore(svc storeRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "store service unavailable"))
			return
		}
		key, err := storeKeyParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		dto, err := svc.Describe(r.Context(), key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// UpsertStore registers a storefront or replaces its settings.
func UpsertStore(svc storeRegistry, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "store service unavailable"))
			return
		}
		var input stores.UpsertStoreInput
		if err := validators.DecodeJSONBody(r, &input); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		dto, err := svc.Upsert(r.Context(), input)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto)
	}
}

// DeadLetterLister reads the outbox dead-letter table.
type DeadLetterLister interface {
	List(ctx context.Context, filter outbox.DLQFilter) ([]models.OutboxDLQ, error)
}

type deadLetterView struct {
	EventID       string                     `json:"event_id"`
	EventType     enums.OutboxEventType      `json:"event_type"`
	AggregateType enums.OutboxAggregateType  `json:"aggregate_type"`
	AggregateID   string                     `json:"aggregate_id"`
	Reason        enums.OutboxDLQErrorReason `json:"reason"`
	Error         string                     `json:"error,omitempty"`
	Attempts      int                        `json:"attempts"`
	FailedAt      time.Time                  `json:"failed_at"`
}

// ListDeadLetters shows events the outbox publisher gave up on, newest first.
func ListDeadLetters(repo DeadLetterLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if repo == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dead-letter repository unavailable"))
			return
		}
		var (
			filter outbox.DLQFilter
			err    error
		)
		if filter.Limit, err = validators.ParseQueryInt(r, "limit", 50, 1, 500); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.EventType, err = validators.ParseQueryEnum(r, "event_type", enums.ParseOutboxEventType); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.Reason, err = validators.ParseQueryEnum(r, "reason", enums.ParseOutboxDLQErrorReason); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if filter.Since, err = validators.ParseQueryTime(r, "since"); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		rows, err := repo.List(r.Context(), filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list dead letters"))
			return
		}
		out := make([]deadLetterView, 0, len(rows))
		for _, row := range rows {
			view := deadLetterView{
				EventID:       row.EventID.String(),
				EventType:     row.EventType,
				AggregateType: row.AggregateType,
				AggregateID:   row.AggregateID,
				Reason:        row.ErrorReason,
				Attempts:      row.AttemptCount,
				FailedAt:      row.FailedAt,
			}
			if row.ErrorMessage != nil {
				view.Error = *row.ErrorMessage
			}
			out = append(out, view)
		}
		responses.WriteSuccess(w, out)
	}
}

package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/imc400/tuka-backend/api/responses"
	"github.com/imc400/tuka-backend/internal/credentials"
	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/logger"
)

type credentialConnector interface {
	AuthorizationURL(ctx context.Context, storeKey string) (string, error)
	Connect(ctx context.Context, state, code string) (*credentials.Grant, error)
}

type credentialRefresher interface {
	Refresh(ctx context.Context, storeKey string) (*credentials.Grant, error)
}

type grantView struct {
	StoreKey    string    `json:"store_key"`
	CollectorID string    `json:"collector_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	Stale       bool      `json:"stale,omitempty"`
}

func viewGrant(grant *credentials.Grant) grantView {
	return grantView{
		StoreKey:    grant.StoreKey,
		CollectorID: grant.CollectorID,
		ExpiresAt:   grant.ExpiresAt.UTC(),
		Stale:       grant.Stale,
	}
}

// OAuthConnect returns the processor authorization URL for a storefront.
func OAuthConnect(mgr credentialConnector, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if mgr == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credential manager unavailable"))
			return
		}
		key, err := storeKeyParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		url, err := mgr.AuthorizationURL(r.Context(), key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, map[string]string{"store_key": key, "authorization_url": url})
	}
}

// OAuthCallback exchanges the authorization code carried back by the processor.
func OAuthCallback(mgr credentialConnector, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if mgr == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credential manager unavailable"))
			return
		}
		q := r.URL.Query()
		if denied := strings.TrimSpace(q.Get("error")); denied != "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "authorization denied: "+denied))
			return
		}
		state := strings.TrimSpace(q.Get("state"))
		code := strings.TrimSpace(q.Get("code"))
		if state == "" || code == "" {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "state and code are required"))
			return
		}

		grant, err := mgr.Connect(r.Context(), state, code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, viewGrant(grant))
	}
}

// RefreshCredential forces a refresh of one storefront's grant.
func RefreshCredential(mgr credentialRefresher, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if mgr == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credential manager unavailable"))
			return
		}
		key, err := storeKeyParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		grant, err := mgr.Refresh(r.Context(), key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, viewGrant(grant))
	}
}

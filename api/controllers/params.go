package controllers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	pkgerrors "github.com/imc400/tuka-backend/pkg/errors"
	"github.com/imc400/tuka-backend/pkg/storekey"
)

func transactionIDParam(r *http.Request) (uint64, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "transactionId"))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "invalid transaction id")
	}
	return id, nil
}

func storeKeyParam(r *http.Request) (string, error) {
	key := storekey.Normalize(chi.URLParam(r, "storeKey"))
	if key == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "invalid store key")
	}
	return key, nil
}

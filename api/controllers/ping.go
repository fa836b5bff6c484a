package controllers

import (
	"net/http"

	"github.com/imc400/tuka-backend/api/middleware"
	"github.com/imc400/tuka-backend/api/responses"
)

func PublicPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		responses.WriteSuccess(w, map[string]string{"scope": "public", "status": "ok"})
	}
}

func AdminPing() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := map[string]string{"scope": "admin", "status": "ok"}
		if op, ok := middleware.OperatorFrom(r.Context()); ok {
			payload["operator_id"] = op.ID
			payload["role"] = string(op.Role)
		}
		responses.WriteSuccess(w, payload)
	}
}

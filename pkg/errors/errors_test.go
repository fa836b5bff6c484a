package errors

import (
	stdErrors "errors"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized},
		{code: CodeForbidden, status: http.StatusForbidden},
		{code: CodeNotFound, status: http.StatusNotFound},
		{code: CodeConflict, status: http.StatusConflict},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, detailsOK: true},
		{code: CodeIdempotency, status: http.StatusConflict, detailsOK: true},
		{code: CodeRateLimit, status: http.StatusTooManyRequests},
		{code: CodeInternal, status: http.StatusInternalServerError, retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, retryable: true, detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage == "" {
			t.Fatalf("code %s has no public message", tt.code)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
	if MetadataFor("SOMETHING_UNKNOWN").HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("unknown codes should map to internal")
	}
}

func TestWrapPreservesCauseAndMessage(t *testing.T) {
	cause := stdErrors.New("connection reset")
	wrapped := Wrap(CodeDependency, cause, "fetch payment")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Error() != "DEPENDENCY_ERROR: fetch payment: connection reset" {
		t.Fatalf("unexpected message %q", wrapped.Error())
	}
	if Wrap(CodeConflict, nil, "dup").Unwrap() != nil {
		t.Fatalf("nil cause should stay nil")
	}

	detailed := Newf(CodeValidation, "store %s unknown", "acme.example").WithDetails(map[string]any{"field": "store_key"})
	if detailed.Message() != "store acme.example unknown" || detailed.Details() == nil {
		t.Fatalf("unexpected error %+v", detailed)
	}
}

func TestCodeOfAndIsRetryable(t *testing.T) {
	nested := stdErrors.Join(stdErrors.New("outer"), New(CodeNotFound, "missing"))
	if got := CodeOf(nested, CodeInternal); got != CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %s", got)
	}
	if got := CodeOf(stdErrors.New("plain"), CodeDependency); got != CodeDependency {
		t.Fatalf("expected fallback, got %s", got)
	}
	if IsRetryable(New(CodeValidation, "bad")) {
		t.Fatalf("validation must not be retried")
	}
	if !IsRetryable(New(CodeDependency, "timeout")) || !IsRetryable(stdErrors.New("eof")) {
		t.Fatalf("dependency and untyped errors are transient")
	}
	if IsRetryable(nil) {
		t.Fatalf("nil is not retryable")
	}
}

func TestDumpExtractsPostgresDetail(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "uq_store_payments_txn_store", TableName: "store_payments"}
	d := Dump(Wrap(CodeConflict, pgErr, "insert store payment"))
	if d.Code != CodeConflict || d.PGCode != "23505" || d.PGConstraint != "uq_store_payments_txn_store" {
		t.Fatalf("unexpected dump %+v", d)
	}
	if len(d.Chain) != 2 {
		t.Fatalf("expected two chain entries, got %v", d.Chain)
	}
	if Dump(nil).TopMessage != "" {
		t.Fatalf("nil dump should be empty")
	}
}

package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationCarriesCode(t *testing.T) {
	err := Validation("billing_period_overlap", "period overlaps existing period")

	if !errors.Is(err, ErrValidation) {
		t.Errorf("expected errors.Is(err, ErrValidation)")
	}
	if got := Code(err); got != "billing_period_overlap" {
		t.Errorf("Code() = %q, want %q", got, "billing_period_overlap")
	}
}

func TestCodeSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("saving rule: %w", Validation("unknown_field", "unknown field %q", "foo"))

	if !errors.Is(err, ErrValidation) {
		t.Errorf("wrapped error lost validation kind")
	}
	if got := Code(err); got != "unknown_field" {
		t.Errorf("Code() = %q, want %q", got, "unknown_field")
	}
}

func TestExternalClassMatchesFamily(t *testing.T) {
	cases := []struct {
		name  string
		class error
	}{
		{"token_expired", ErrTokenExpired},
		{"token_revoked", ErrTokenRevoked},
		{"sync_token_invalid", ErrSyncTokenInvalid},
		{"rate_limited", ErrRateLimited},
		{"transient", ErrTransient},
		{"permanent", ErrPermanent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := External(tc.class, "fetch failed", errors.New("boom"))
			if !errors.Is(err, tc.class) {
				t.Errorf("expected errors.Is(err, class)")
			}
			if !errors.Is(err, ErrExternal) {
				t.Errorf("expected errors.Is(err, ErrExternal)")
			}
			if errors.Is(err, ErrValidation) {
				t.Errorf("provider error must not match ErrValidation")
			}
		})
	}
}

func TestExternalUnknownClassCoercedToPermanent(t *testing.T) {
	err := External(errors.New("not a class"), "fetch failed", nil)
	if !errors.Is(err, ErrPermanent) {
		t.Errorf("unknown class should coerce to ErrPermanent")
	}
}

func TestRetryable(t *testing.T) {
	if !Retryable(External(ErrTransient, "timeout", nil)) {
		t.Errorf("transient should be retryable")
	}
	if !Retryable(External(ErrRateLimited, "429", nil)) {
		t.Errorf("rate limited should be retryable")
	}
	if Retryable(External(ErrTokenRevoked, "revoked", nil)) {
		t.Errorf("token revoked must not be retryable")
	}
	if Retryable(NotFound("calendar")) {
		t.Errorf("not-found must not be retryable")
	}
}

func TestInternalUnwrapsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := Internal("writing snapshot", cause)
	if !errors.Is(err, cause) {
		t.Errorf("expected errors.Is(err, cause)")
	}
	if !errors.Is(err, ErrInternal) {
		t.Errorf("expected errors.Is(err, ErrInternal)")
	}
}

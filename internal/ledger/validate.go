package ledger

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validator wraps go-playground/validator/v10 the way
// internal/services/validation.go's ValidationHelper does, plus a
// custom "amountshape" tag for C1's decimal-string regex (§4.1) and the
// two-phase preflight semantic checks of §4.3 steps that struct tags
// alone cannot express (currency uniformity, bucket legality, balance).
type Validator struct {
	v *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New()
	v.RegisterValidation("amountshape", func(fl validator.FieldLevel) bool {
		return amountPattern.MatchString(strings.TrimSpace(fl.Field().String()))
	})
	return &Validator{v: v}
}

// ValidateShape runs struct-tag validation over the request and turns
// any validator.ValidationErrors into a *ValidationError with one Issue
// per field (§4.3, §6's 422 contract).
func (vd *Validator) ValidateShape(req *JournalRequest) error {
	if len(req.Lines) < 2 {
		return &ValidationError{Issues: []ValidationIssue{{
			Path: "lines", Message: "a journal needs at least 2 lines", Code: "TooFewLines",
		}}}
	}

	if err := vd.v.Struct(req); err != nil {
		verrs, ok := err.(validator.ValidationErrors)
		if !ok {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		issues := make([]ValidationIssue, 0, len(verrs))
		for _, fe := range verrs {
			issues = append(issues, ValidationIssue{
				Path:    fieldPath(fe),
				Message: fmt.Sprintf("field %q failed on the %q rule", fe.Field(), fe.Tag()),
				Code:    fe.Tag(),
			})
		}
		return &ValidationError{Issues: issues}
	}
	return nil
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	// Namespace is "JournalRequest.Lines[0].Amount.Currency"; drop the
	// leading struct name to match the wire-facing "lines[0].amount..." shape.
	if idx := strings.IndexByte(ns, '.'); idx >= 0 {
		ns = ns[idx+1:]
	}
	parts := strings.Split(ns, ".")
	for i, p := range parts {
		if p != "" {
			parts[i] = strings.ToLower(p[:1]) + p[1:]
		}
	}
	return strings.Join(parts, ".")
}

// Preflight runs the semantic checks of §4.3 that require looking across
// lines: one shared currency, bucket-rule legality per line, and exact
// balance. It must run before the posting transaction opens (§7
// propagation rule) so these never cause a transaction abort.
func (vd *Validator) Preflight(req *JournalRequest) error {
	currency := req.Lines[0].Amount.Currency
	for i, l := range req.Lines {
		if l.Amount.Currency != currency {
			return fmt.Errorf("%w: line %d has currency %q, expected %q", ErrCurrencyMismatch, i+1, l.Amount.Currency, currency)
		}
		if err := ValidateLineBuckets(l); err != nil {
			return fmt.Errorf("line %d: %w", i+1, err)
		}
	}

	balanced, err := IsBalanced(req.Lines)
	if err != nil {
		return err
	}
	if !balanced {
		return fmt.Errorf("%w", ErrUnbalanced)
	}
	return nil
}

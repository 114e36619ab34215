// Package schema validates outgoing events against their struct tags before they
// are published.
package schema

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validator checks events using `validate` struct tags.
type Validator struct {
	v *validator.Validate
}

// New creates a validator.
func New() *Validator {
	return &Validator{v: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate returns an error describing the first invalid fields of event.
func (v *Validator) Validate(event any) error {
	if err := v.v.Struct(event); err != nil {
		if verrs, ok := err.(validator.ValidationErrors); ok && len(verrs) > 0 {
			return fmt.Errorf("invalid %T: field %s failed %q: %w", event, verrs[0].Namespace(), verrs[0].Tag(), err)
		}
		return fmt.Errorf("invalid %T: %w", event, err)
	}
	return nil
}

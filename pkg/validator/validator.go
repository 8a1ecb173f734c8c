// Package validator holds the clinical scope whitelist and installs the
// matching rule on gin's binding engine.
package validator

import (
	"errors"
	"fmt"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/arogyalock/consent-api/internal/model"
)

var scopeCategories = map[string]struct{}{
	model.ScopePrescriptions: {},
	model.ScopeLabs:          {},
	model.ScopeNotes:         {},
	model.ScopeImaging:       {},
	model.ScopeImmunizations: {},
	model.ScopeVitals:        {},
}

// Request structs declare the rule as `binding:"dive,scopecategory"`, so
// it must live on the engine gin binds with, not on a private instance.
func init() {
	if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
		_ = v.RegisterValidation("scopecategory", func(fl validator.FieldLevel) bool {
			_, ok := scopeCategories[fl.Field().String()]
			return ok
		})
	}
}

// ErrInvalidScope marks scope sets that fail the whitelist check.
var ErrInvalidScope = errors.New("invalid scope")

// ValidateScope rejects empty scope sets, duplicates, and categories
// outside the known clinical data whitelist. It backs the service layer;
// the binding tag covers the same whitelist at the HTTP edge.
func ValidateScope(scope []string) error {
	if len(scope) == 0 {
		return fmt.Errorf("%w: must name at least one data category", ErrInvalidScope)
	}
	seen := make(map[string]struct{}, len(scope))
	for _, s := range scope {
		if _, ok := scopeCategories[s]; !ok {
			return fmt.Errorf("%w: unknown category %s", ErrInvalidScope, s)
		}
		if _, dup := seen[s]; dup {
			return fmt.Errorf("%w: duplicate category %s", ErrInvalidScope, s)
		}
		seen[s] = struct{}{}
	}
	return nil
}

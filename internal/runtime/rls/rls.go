// Package rls evaluates the per-service access rules of the schema.
package rls

import (
	"slices"

	apierrors "github.com/drblury/apibridge/internal/runtime/errors"
	"github.com/drblury/apibridge/internal/runtime/schema"
)

// Check decides whether the service described by from may call method on
// the service named to.
//
//   - no RLS section on from: allowed
//   - to missing from the RLS map: ErrAllServiceMethodsNotAllowed
//   - method in the disallowed list: ErrServiceMethodNotAllowed
//   - allowed list present without method: ErrServiceMethodNotAllowed
//   - null or empty rule: allowed
//
// Outbound calls and inbound requests are both checked here.
func Check(from *schema.ServiceSchema, to, fromName, method string) error {
	if from == nil {
		return apierrors.AllServiceMethodsNotAllowed(to, fromName)
	}
	if from.RLS == nil {
		return nil
	}
	entry, ok := from.RLS[to]
	if !ok {
		return apierrors.AllServiceMethodsNotAllowed(to, fromName)
	}
	if entry == nil {
		return nil
	}
	if entry.HasDisallowed() && slices.Contains(entry.Disallowed, method) {
		return apierrors.ServiceMethodNotAllowed(to, method, fromName)
	}
	if entry.HasAllowed() && !slices.Contains(entry.Allowed, method) {
		return apierrors.ServiceMethodNotAllowed(to, method, fromName)
	}
	return nil
}

// CheckSchema resolves the calling service in s before evaluating its rules.
// An unknown caller is denied.
func CheckSchema(s *schema.Schema, to, fromName, method string) error {
	from, ok := s.Service(fromName)
	if !ok {
		return apierrors.ServiceNotFound(fromName)
	}
	return Check(from, to, fromName, method)
}

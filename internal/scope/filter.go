// Package scope builds the tenant- and role-scoped predicates every fault and
// account read goes through. Callers are passed in explicitly; nothing here reads
// ambient request or session state.
package scope

import (
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/lalithlochan/solarops/internal/db"
)

var (
	// ErrMissingTenant is returned instead of ever widening a query to all tenants
	ErrMissingTenant = errors.New("scope: tenant id is required")
	ErrMissingSite   = errors.New("scope: site id is required")
	ErrUnknownRole   = errors.New("scope: unknown role")
)

// Caller is the verified identity a query runs on behalf of. It must be built from
// the stored account record, never from a request payload.
type Caller struct {
	AccountID       uuid.UUID
	TenantID        uuid.UUID
	Role            db.Role
	AssignedSiteIDs []uuid.UUID
}

// CallerFromAccount builds a Caller from a stored account
func CallerFromAccount(a *db.Account) Caller {
	return Caller{
		AccountID:       a.ID,
		TenantID:        a.TenantID,
		Role:            a.Role,
		AssignedSiteIDs: a.AssignedSiteIDs,
	}
}

// Filter is a predicate over (tenant, site) pairs.
//
// A nil SiteIDs means any site of the tenant. AllTenants is only ever set for
// super-admins.
type Filter struct {
	TenantID   uuid.UUID
	AllTenants bool
	SiteIDs    []uuid.UUID
	nothing    bool
}

// Nothing returns a filter that matches no record
func Nothing(tenantID uuid.UUID) Filter {
	return Filter{TenantID: tenantID, nothing: true}
}

// MatchesNothing reports whether the filter can be answered without touching storage
func (f Filter) MatchesNothing() bool {
	return f.nothing
}

// Match evaluates the filter against a record's tenant and site
func (f Filter) Match(tenantID, siteID uuid.UUID) bool {
	if f.nothing {
		return false
	}
	if !f.AllTenants && (f.TenantID == uuid.Nil || tenantID != f.TenantID) {
		return false
	}
	if f.SiteIDs != nil && !slices.Contains(f.SiteIDs, siteID) {
		return false
	}
	return true
}

// SQL renders the filter as a WHERE fragment. Placeholders start at $next.
func (f Filter) SQL(tenantCol, siteCol string, next int) (string, []any) {
	if f.nothing {
		return "FALSE", nil
	}

	var (
		clause string
		args   []any
	)

	if !f.AllTenants {
		clause = fmt.Sprintf("%s = $%d", tenantCol, next)
		args = append(args, f.TenantID)
		next++
	}

	if f.SiteIDs != nil {
		siteClause := fmt.Sprintf("%s = ANY($%d)", siteCol, next)
		args = append(args, f.SiteIDs)
		if clause == "" {
			clause = siteClause
		} else {
			clause += " AND " + siteClause
		}
	}

	if clause == "" {
		return "TRUE", nil
	}
	return clause, args
}

// BuildFaultFilter resolves the set of faults a caller may see, optionally narrowed
// to one site.
//
// Customers only ever see their assigned sites. Asking for a site outside the
// assignment, or having no assignment at all, yields a filter that matches nothing
// rather than an error. A caller without a tenant fails closed.
func BuildFaultFilter(c Caller, siteID *uuid.UUID) (Filter, error) {
	if !c.Role.Valid() {
		return Filter{}, fmt.Errorf("%w: %q", ErrUnknownRole, c.Role)
	}

	if c.Role == db.RoleSuperAdmin {
		f := Filter{AllTenants: true}
		if siteID != nil {
			f.SiteIDs = []uuid.UUID{*siteID}
		}
		return f, nil
	}

	if c.TenantID == uuid.Nil {
		return Filter{}, ErrMissingTenant
	}

	f := Filter{TenantID: c.TenantID}

	if c.Role != db.RoleCustomer {
		if siteID != nil {
			f.SiteIDs = []uuid.UUID{*siteID}
		}
		return f, nil
	}

	assigned := assignedSites(c.AssignedSiteIDs)
	if len(assigned) == 0 {
		return Nothing(c.TenantID), nil
	}

	if siteID != nil {
		if !slices.Contains(assigned, *siteID) {
			return Nothing(c.TenantID), nil
		}
		f.SiteIDs = []uuid.UUID{*siteID}
		return f, nil
	}

	f.SiteIDs = assigned
	return f, nil
}

// assignedSites copies the assignment, dropping nil and duplicate ids
func assignedSites(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || slices.Contains(out, id) {
			continue
		}
		out = append(out, id)
	}
	return out
}

// AccountFilter selects the customer accounts entitled to a site's notifications
type AccountFilter struct {
	TenantID uuid.UUID
	SiteID   uuid.UUID
	Role     db.Role
}

// CustomerAudience builds the recipient predicate for one site:
// role = customer AND same tenant AND site in the account's assignment.
func CustomerAudience(tenantID, siteID uuid.UUID) (AccountFilter, error) {
	if tenantID == uuid.Nil {
		return AccountFilter{}, ErrMissingTenant
	}
	if siteID == uuid.Nil {
		return AccountFilter{}, ErrMissingSite
	}
	return AccountFilter{TenantID: tenantID, SiteID: siteID, Role: db.RoleCustomer}, nil
}

// Match re-checks an account against the predicate in memory
func (f AccountFilter) Match(a *db.Account) bool {
	if a == nil || f.TenantID == uuid.Nil {
		return false
	}
	return a.Role == f.Role &&
		a.TenantID == f.TenantID &&
		slices.Contains(a.AssignedSiteIDs, f.SiteID)
}

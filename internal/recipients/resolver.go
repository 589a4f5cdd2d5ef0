// Package recipients resolves who hears about a fault: the customer accounts assigned
// to its site, plus the site and company names the messages are addressed with.
package recipients

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lalithlochan/solarops/internal/db"
	"github.com/lalithlochan/solarops/internal/scope"
)

const (
	// UnknownSite replaces the site name when the site record is missing or stale
	UnknownSite = "Unknown Site"

	// DefaultPlatformName replaces the company name when no platform name is configured
	DefaultPlatformName = "SolarOps"
)

// Directory is the read-only slice of the document store the resolver needs
type Directory interface {
	ListCustomersForSite(ctx context.Context, tenantID, siteID uuid.UUID) ([]*db.Account, error)
	GetSite(ctx context.Context, tenantID, siteID uuid.UUID) (*db.Site, error)
	GetCompany(ctx context.Context, id uuid.UUID) (*db.Company, error)
}

// Recipient is one customer entitled to a fault notification
type Recipient struct {
	AccountID   uuid.UUID `json:"account_id"`
	Email       string    `json:"email"`
	DisplayName string    `json:"display_name"`
}

// Audience is everything the composer needs to address a fault notification
type Audience struct {
	Recipients  []Recipient
	SiteName    string
	CompanyName string
}

// Resolver looks up notification audiences
type Resolver struct {
	dir          Directory
	platformName string
	logger       *zap.Logger
}

// NewResolver creates a resolver. platformName is shown when the tenant record
// cannot be read.
func NewResolver(dir Directory, platformName string, logger *zap.Logger) *Resolver {
	if platformName == "" {
		platformName = DefaultPlatformName
	}
	return &Resolver{
		dir:          dir,
		platformName: platformName,
		logger:       logger,
	}
}

// ResolveCustomerRecipients returns the customers of tenantID assigned to siteID.
//
// An empty result is a normal outcome. Rows coming back from the store are
// re-checked against the audience predicate and de-duplicated by address, so a
// misconfigured query can never leak a notification across tenants or sites.
func (r *Resolver) ResolveCustomerRecipients(ctx context.Context, tenantID, siteID uuid.UUID) ([]Recipient, error) {
	filter, err := scope.CustomerAudience(tenantID, siteID)
	if err != nil {
		return nil, err
	}

	accounts, err := r.dir.ListCustomersForSite(ctx, tenantID, siteID)
	if err != nil {
		return nil, fmt.Errorf("list customers: %w", err)
	}

	seen := make(map[string]struct{}, len(accounts))
	out := make([]Recipient, 0, len(accounts))

	for _, acc := range accounts {
		if !filter.Match(acc) {
			r.logger.Warn("dropping account outside notification audience",
				zap.String("tenant_id", tenantID.String()),
				zap.String("site_id", siteID.String()),
				zap.Stringp("account_id", accountID(acc)),
			)
			continue
		}

		email := strings.TrimSpace(acc.Email)
		if email == "" {
			r.logger.Warn("customer has no email address",
				zap.String("account_id", acc.ID.String()),
			)
			continue
		}

		key := strings.ToLower(email)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		out = append(out, Recipient{
			AccountID:   acc.ID,
			Email:       email,
			DisplayName: acc.DisplayName,
		})
	}

	return out, nil
}

// Resolve returns the recipients together with the site and company names.
//
// The returned Audience is never nil. Name lookups that fail degrade to sentinel
// values; only a failed customer query is reported as an error, in which case the
// audience still carries the names so other channels can proceed.
func (r *Resolver) Resolve(ctx context.Context, tenantID, siteID uuid.UUID) (*Audience, error) {
	audience := &Audience{
		SiteName:    r.siteName(ctx, tenantID, siteID),
		CompanyName: r.companyName(ctx, tenantID),
	}

	recipients, err := r.ResolveCustomerRecipients(ctx, tenantID, siteID)
	if err != nil {
		return audience, err
	}
	audience.Recipients = recipients

	return audience, nil
}

func (r *Resolver) siteName(ctx context.Context, tenantID, siteID uuid.UUID) string {
	site, err := r.dir.GetSite(ctx, tenantID, siteID)
	if err != nil {
		r.logLookupFailure("site", siteID, tenantID, err)
		return UnknownSite
	}
	if site == nil || strings.TrimSpace(site.Name) == "" {
		return UnknownSite
	}
	return site.Name
}

func (r *Resolver) companyName(ctx context.Context, tenantID uuid.UUID) string {
	company, err := r.dir.GetCompany(ctx, tenantID)
	if err != nil {
		r.logLookupFailure("company", tenantID, tenantID, err)
		return r.platformName
	}
	if company == nil || strings.TrimSpace(company.Name) == "" {
		return r.platformName
	}
	return company.Name
}

func (r *Resolver) logLookupFailure(kind string, id, tenantID uuid.UUID, err error) {
	msg := kind + " lookup failed, using fallback name"
	if errors.Is(err, db.ErrNotFound) {
		msg = kind + " not found, using fallback name"
	}
	r.logger.Warn(msg,
		zap.Error(err),
		zap.String("id", id.String()),
		zap.String("tenant_id", tenantID.String()),
	)
}

func accountID(a *db.Account) *string {
	if a == nil {
		return nil
	}
	s := a.ID.String()
	return &s
}

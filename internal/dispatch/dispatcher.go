// Package dispatch fans a notification-worthy fault event out to the internal
// webhook and to every customer assigned to the fault's site.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lalithlochan/solarops/internal/db"
	"github.com/lalithlochan/solarops/internal/fault"
	"github.com/lalithlochan/solarops/internal/recipients"
)

// Configuration errors. These are the only errors Dispatch returns.
var (
	ErrMissingTenant     = errors.New("event has no tenant id")
	ErrTenantMismatch    = errors.New("event tenant does not match fault tenant")
	ErrSiteMismatch      = errors.New("event site does not match fault site")
	ErrMissingFault      = errors.New("event carries no fault")
	ErrMissingWebhookURL = errors.New("webhook url is not configured")
	ErrMissingSender     = errors.New("channel sender is not configured")
)

// Sender delivers one notification. Implementations live in the worker package.
type Sender interface {
	Send(ctx context.Context, notif *db.Notification) error
}

// AudienceResolver resolves recipients and display names for a site
type AudienceResolver interface {
	Resolve(ctx context.Context, tenantID, siteID uuid.UUID) (*recipients.Audience, error)
}

// Config holds dispatcher settings
type Config struct {
	WebhookURL     string
	WebhookTimeout time.Duration
	EmailTimeout   time.Duration
	// LookupTimeout bounds audience resolution. When it expires the webhook still
	// goes out with fallback names.
	LookupTimeout time.Duration
	// Concurrency caps in-flight sends per event, the webhook included
	Concurrency int
}

// Dispatcher sends the webhook and the customer emails for one event
type Dispatcher struct {
	resolver AudienceResolver
	webhook  Sender
	email    Sender
	composer Composer
	config   Config
	logger   *zap.Logger
	now      func() time.Time
}

// New creates a dispatcher. A missing webhook URL or sender is a configuration error.
func New(resolver AudienceResolver, webhook, email Sender, cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if cfg.WebhookURL == "" {
		return nil, ErrMissingWebhookURL
	}
	if resolver == nil || webhook == nil || email == nil {
		return nil, ErrMissingSender
	}
	if cfg.WebhookTimeout <= 0 {
		cfg.WebhookTimeout = 10 * time.Second
	}
	if cfg.EmailTimeout <= 0 {
		cfg.EmailTimeout = 15 * time.Second
	}
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}

	return &Dispatcher{
		resolver: resolver,
		webhook:  webhook,
		email:    email,
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Dispatch classifies the event and, when it is notification-worthy, sends one
// webhook and one email per resolved recipient concurrently. It returns after every
// send has settled.
//
// Delivery failures are recorded in the report and never returned. Only
// configuration errors abort the invocation.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *db.FaultEvent) (*Report, error) {
	if ev == nil {
		return nil, ErrMissingFault
	}
	if err := validate(ev); err != nil {
		d.logger.Error("refusing fault event",
			zap.Error(err),
			zap.String("event_id", ev.EventID),
		)
		return nil, err
	}

	report := &Report{
		EventID:  ev.EventID,
		TenantID: ev.TenantID,
		Attempts: []Attempt{},
	}
	if ev.Fault != nil {
		report.FaultID = ev.Fault.ID
	}

	cls := fault.Classify(ev)
	if !cls.Notify() {
		d.logger.Debug("fault event not notification-worthy",
			zap.String("event_id", ev.EventID),
			zap.String("kind", string(ev.Kind)),
			zap.String("reason", cls.Reason),
		)
		return report, nil
	}
	if ev.Fault == nil {
		d.logger.Error("refusing fault event",
			zap.Error(ErrMissingFault),
			zap.String("event_id", ev.EventID),
		)
		return nil, ErrMissingFault
	}
	report.Trigger = cls.Trigger

	siteID := ev.SiteID
	if siteID == uuid.Nil {
		siteID = ev.Fault.SiteID
	}

	audience, lookupErr := d.resolve(ctx, ev.TenantID, siteID)
	if lookupErr != nil {
		d.logger.Warn("recipient lookup failed, emails skipped",
			zap.Error(lookupErr),
			zap.String("event_id", ev.EventID),
			zap.String("site_id", siteID.String()),
		)
	}

	// Sends must finish even if the caller is shutting down; each one has its own timeout.
	ctx = context.WithoutCancel(ctx)

	now := d.now()
	attempts := make([]Attempt, 1+len(audience.Recipients))

	var g errgroup.Group
	g.SetLimit(d.config.Concurrency)

	g.Go(func() error {
		attempts[0] = d.sendWebhook(ctx, ev, buildWebhookEvent(ev, cls.Trigger, audience, siteID, now))
		return nil
	})

	for i, rcpt := range audience.Recipients {
		g.Go(func() error {
			attempts[i+1] = d.sendEmail(ctx, ev, cls.Trigger, audience, rcpt, now)
			return nil
		})
	}

	_ = g.Wait()

	report.Attempts = attempts
	if lookupErr != nil {
		report.Attempts = append(report.Attempts, Attempt{
			Channel: db.ChannelEmail,
			Outcome: db.OutcomeFailed,
			Reason:  fmt.Sprintf("recipient lookup: %v", lookupErr),
			At:      d.now(),
		})
	}

	d.logger.Info("fault event dispatched",
		zap.String("event_id", ev.EventID),
		zap.String("fault_id", report.FaultID.String()),
		zap.String("trigger", string(cls.Trigger)),
		zap.Int("recipients", len(audience.Recipients)),
		zap.Int("sent", report.Sent()),
		zap.Int("failed", report.Failed()),
	)

	return report, nil
}

// resolve looks up the audience under LookupTimeout or the caller's deadline,
// whichever comes first. It never returns a nil audience and never waits on a
// resolver that ignores its context past the deadline.
func (d *Dispatcher) resolve(ctx context.Context, tenantID, siteID uuid.UUID) (*recipients.Audience, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.LookupTimeout)
	defer cancel()

	type result struct {
		audience *recipients.Audience
		err      error
	}
	done := make(chan result, 1)
	go func() {
		aud, err := d.resolver.Resolve(ctx, tenantID, siteID)
		done <- result{aud, err}
	}()

	var (
		audience *recipients.Audience
		err      error
	)
	select {
	case res := <-done:
		audience, err = res.audience, res.err
	case <-ctx.Done():
		err = fmt.Errorf("lookup abandoned: %w", ctx.Err())
	}

	if audience == nil {
		audience = &recipients.Audience{}
	}
	if audience.SiteName == "" {
		audience.SiteName = recipients.UnknownSite
	}
	if audience.CompanyName == "" {
		audience.CompanyName = recipients.DefaultPlatformName
	}
	return audience, err
}

func (d *Dispatcher) sendWebhook(ctx context.Context, ev *db.FaultEvent, body WebhookEvent) Attempt {
	attempt := Attempt{Channel: db.ChannelWebhook, Recipient: d.config.WebhookURL}

	notif, err := webhookNotification(ev, body)
	if err == nil {
		ctx, cancel := context.WithTimeout(ctx, d.config.WebhookTimeout)
		err = d.webhook.Send(ctx, notif)
		cancel()
	}

	return d.settle(attempt, ev, err)
}

func (d *Dispatcher) sendEmail(ctx context.Context, ev *db.FaultEvent, trigger fault.Trigger, aud *recipients.Audience, to recipients.Recipient, now time.Time) Attempt {
	attempt := Attempt{Channel: db.ChannelEmail, Recipient: to.Email}

	msg, err := d.composer.Compose(ev, trigger, aud, to, now)
	var notif *db.Notification
	if err == nil {
		notif, err = emailNotification(ev, msg)
	}
	if err == nil {
		ctx, cancel := context.WithTimeout(ctx, d.config.EmailTimeout)
		err = d.email.Send(ctx, notif)
		cancel()
	}

	return d.settle(attempt, ev, err)
}

func (d *Dispatcher) settle(a Attempt, ev *db.FaultEvent, err error) Attempt {
	a.At = d.now()
	if err != nil {
		a.Outcome = db.OutcomeFailed
		a.Reason = err.Error()
		d.logger.Warn("notification delivery failed",
			zap.Error(err),
			zap.String("event_id", ev.EventID),
			zap.String("channel", a.Channel),
			zap.String("recipient", a.Recipient),
		)
		return a
	}
	a.Outcome = db.OutcomeSent
	return a
}

func validate(ev *db.FaultEvent) error {
	if ev.TenantID == uuid.Nil {
		return ErrMissingTenant
	}
	if ev.Fault == nil {
		return nil
	}
	if ev.Fault.TenantID != ev.TenantID {
		return fmt.Errorf("%w: event %s, fault %s", ErrTenantMismatch, ev.TenantID, ev.Fault.TenantID)
	}
	if ev.SiteID != uuid.Nil && ev.Fault.SiteID != uuid.Nil && ev.SiteID != ev.Fault.SiteID {
		return fmt.Errorf("%w: event %s, fault %s", ErrSiteMismatch, ev.SiteID, ev.Fault.SiteID)
	}
	return nil
}

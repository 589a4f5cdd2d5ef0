package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lalithlochan/solarops/internal/circuitbreaker"
	"github.com/lalithlochan/solarops/internal/db"
	"github.com/lalithlochan/solarops/internal/fault"
	"github.com/lalithlochan/solarops/internal/recipients"
	"github.com/lalithlochan/solarops/internal/worker"
)

type recordingSender struct {
	mu    sync.Mutex
	sent  []*db.Notification
	errFn func(n *db.Notification) error
	block bool
}

func (s *recordingSender) Send(ctx context.Context, n *db.Notification) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	s.mu.Lock()
	s.sent = append(s.sent, n)
	s.mu.Unlock()
	if s.errFn != nil {
		return s.errFn(n)
	}
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeResolver struct {
	audience *recipients.Audience
	err      error
	calls    int
}

func (f *fakeResolver) Resolve(ctx context.Context, tenantID, siteID uuid.UUID) (*recipients.Audience, error) {
	f.calls++
	return f.audience, f.err
}

// directory backs a real recipients.Resolver
type directory struct {
	accounts []*db.Account
}

func (d *directory) ListCustomersForSite(ctx context.Context, tenantID, siteID uuid.UUID) ([]*db.Account, error) {
	var out []*db.Account
	for _, a := range d.accounts {
		if a.TenantID != tenantID {
			continue
		}
		for _, s := range a.AssignedSiteIDs {
			if s == siteID {
				out = append(out, a)
				break
			}
		}
	}
	return out, nil
}

func (d *directory) GetSite(ctx context.Context, tenantID, siteID uuid.UUID) (*db.Site, error) {
	return &db.Site{ID: siteID, TenantID: tenantID, Name: "Karaman GES"}, nil
}

func (d *directory) GetCompany(ctx context.Context, id uuid.UUID) (*db.Company, error) {
	return &db.Company{ID: id, Name: "Gunes Enerji"}, nil
}

func newTestDispatcher(t *testing.T, r AudienceResolver, webhook, email Sender) *Dispatcher {
	t.Helper()
	d, err := New(r, webhook, email, Config{
		WebhookURL:     "https://hooks.example.com/faults",
		WebhookTimeout: time.Second,
		EmailTimeout:   time.Second,
		Concurrency:    4,
	}, zap.NewNop())
	require.NoError(t, err)
	return d
}

func testFault(tenant, site uuid.UUID, status db.FaultStatus) *db.Fault {
	return &db.Fault{
		ID:          uuid.New(),
		TenantID:    tenant,
		SiteID:      site,
		Title:       "Inverter 3 offline",
		Description: "String B reports zero output",
		Priority:    db.PriorityHigh,
		Status:      status,
		CreatedAt:   time.Now().Add(-2 * time.Hour),
	}
}

func createdEvent(f *db.Fault) *db.FaultEvent {
	return &db.FaultEvent{
		EventID:   uuid.NewString(),
		Kind:      db.EventCreated,
		Fault:     f,
		NewStatus: f.Status,
		TenantID:  f.TenantID,
		SiteID:    f.SiteID,
	}
}

func updatedEvent(f *db.Fault, from, to db.FaultStatus) *db.FaultEvent {
	f.Status = to
	return &db.FaultEvent{
		EventID:   uuid.NewString(),
		Kind:      db.EventUpdated,
		Fault:     f,
		OldStatus: &from,
		NewStatus: to,
		TenantID:  f.TenantID,
		SiteID:    f.SiteID,
	}
}

func twoRecipients() *recipients.Audience {
	return &recipients.Audience{
		SiteName:    "Karaman GES",
		CompanyName: "Gunes Enerji",
		Recipients: []recipients.Recipient{
			{Email: "a@example.com", DisplayName: "A"},
			{Email: "b@example.com", DisplayName: "B"},
		},
	}
}

func TestDispatch_UnchangedStatusDoesNoIO(t *testing.T) {
	res := &fakeResolver{audience: twoRecipients()}
	webhook, email := &recordingSender{}, &recordingSender{}
	d := newTestDispatcher(t, res, webhook, email)

	f := testFault(uuid.New(), uuid.New(), db.StatusInProgress)
	report, err := d.Dispatch(context.Background(), updatedEvent(f, db.StatusInProgress, db.StatusInProgress))

	require.NoError(t, err)
	assert.True(t, report.Empty())
	assert.Equal(t, fault.TriggerNone, report.Trigger)
	assert.Zero(t, res.calls)
	assert.Zero(t, webhook.count())
	assert.Zero(t, email.count())
}

func TestDispatch_DeleteDoesNoIO(t *testing.T) {
	res := &fakeResolver{audience: twoRecipients()}
	webhook, email := &recordingSender{}, &recordingSender{}
	d := newTestDispatcher(t, res, webhook, email)

	f := testFault(uuid.New(), uuid.New(), db.StatusOpen)
	ev := &db.FaultEvent{Kind: db.EventDeleted, Fault: f, TenantID: f.TenantID, NewStatus: f.Status}

	report, err := d.Dispatch(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, report.Empty())
	assert.Zero(t, webhook.count()+email.count())
}

func TestDispatch_StatusChangeSendsWebhookAndEveryEmail(t *testing.T) {
	webhook, email := &recordingSender{}, &recordingSender{}
	d := newTestDispatcher(t, &fakeResolver{audience: twoRecipients()}, webhook, email)

	f := testFault(uuid.New(), uuid.New(), db.StatusOpen)
	report, err := d.Dispatch(context.Background(), updatedEvent(f, db.StatusOpen, db.StatusInProgress))

	require.NoError(t, err)
	assert.Equal(t, fault.TriggerStatusChanged, report.Trigger)
	assert.Len(t, report.ByChannel(db.ChannelWebhook), 1)
	assert.Len(t, report.ByChannel(db.ChannelEmail), 2)
	assert.Equal(t, 3, report.Sent())
	assert.Equal(t, 1, webhook.count())
	assert.Equal(t, 2, email.count())
}

func TestDispatch_CreateReachesOnlyAssignedCustomers(t *testing.T) {
	tenant := uuid.New()
	site, otherSite := uuid.New(), uuid.New()

	dir := &directory{accounts: []*db.Account{
		{ID: uuid.New(), TenantID: tenant, Role: db.RoleCustomer, Email: "one@example.com", AssignedSiteIDs: []uuid.UUID{site}},
		{ID: uuid.New(), TenantID: tenant, Role: db.RoleCustomer, Email: "two@example.com", AssignedSiteIDs: []uuid.UUID{site, otherSite}},
		{ID: uuid.New(), TenantID: tenant, Role: db.RoleCustomer, Email: "three@example.com", AssignedSiteIDs: []uuid.UUID{otherSite}},
	}}
	resolver := recipients.NewResolver(dir, "", zap.NewNop())

	webhook, email := &recordingSender{}, &recordingSender{}
	d := newTestDispatcher(t, resolver, webhook, email)

	report, err := d.Dispatch(context.Background(), createdEvent(testFault(tenant, site, db.StatusOpen)))
	require.NoError(t, err)

	assert.Equal(t, 1, webhook.count())
	assert.Equal(t, 2, email.count())

	var got []string
	for _, a := range report.ByChannel(db.ChannelEmail) {
		got = append(got, a.Recipient)
	}
	assert.ElementsMatch(t, []string{"one@example.com", "two@example.com"}, got)
}

func TestDispatch_WebhookFailureDoesNotBlockEmails(t *testing.T) {
	webhook := &recordingSender{errFn: func(*db.Notification) error {
		return errors.New("webhook returned non-2xx status: 500")
	}}
	email := &recordingSender{}
	d := newTestDispatcher(t, &fakeResolver{audience: twoRecipients()}, webhook, email)

	f := testFault(uuid.New(), uuid.New(), db.StatusOpen)
	report, err := d.Dispatch(context.Background(), createdEvent(f))

	require.NoError(t, err)
	hook := report.ByChannel(db.ChannelWebhook)
	require.Len(t, hook, 1)
	assert.Equal(t, db.OutcomeFailed, hook[0].Outcome)
	assert.Contains(t, hook[0].Reason, "500")
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, 2, report.Sent())
}

func TestDispatch_OneBadRecipientDoesNotSuppressOthers(t *testing.T) {
	email := &recordingSender{errFn: func(n *db.Notification) error {
		var p db.EmailPayload
		_ = json.Unmarshal(n.Payload, &p)
		if p.To == "a@example.com" {
			return errors.New("address rejected")
		}
		return nil
	}}
	d := newTestDispatcher(t, &fakeResolver{audience: twoRecipients()}, &recordingSender{}, email)

	f := testFault(uuid.New(), uuid.New(), db.StatusOpen)
	report, err := d.Dispatch(context.Background(), updatedEvent(f, db.StatusOpen, db.StatusResolved))
	require.NoError(t, err)

	assert.Equal(t, 2, email.count())
	for _, a := range report.ByChannel(db.ChannelEmail) {
		if a.Recipient == "a@example.com" {
			assert.Equal(t, db.OutcomeFailed, a.Outcome)
		} else {
			assert.Equal(t, db.OutcomeSent, a.Outcome)
		}
	}
}

func TestDispatch_TimeoutIsAFailedAttempt(t *testing.T) {
	d, err := New(&fakeResolver{audience: twoRecipients()}, &recordingSender{}, &recordingSender{block: true}, Config{
		WebhookURL:   "https://hooks.example.com/faults",
		EmailTimeout: 20 * time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)

	f := testFault(uuid.New(), uuid.New(), db.StatusOpen)
	report, err := d.Dispatch(context.Background(), createdEvent(f))
	require.NoError(t, err)

	emails := report.ByChannel(db.ChannelEmail)
	require.Len(t, emails, 2)
	for _, a := range emails {
		assert.Equal(t, db.OutcomeFailed, a.Outcome)
		assert.Contains(t, a.Reason, context.DeadlineExceeded.Error())
	}
	assert.Equal(t, db.OutcomeSent, report.ByChannel(db.ChannelWebhook)[0].Outcome)
}

func TestDispatch_ReopenAcrossEventsNotifiesTwice(t *testing.T) {
	webhook, email := &recordingSender{}, &recordingSender{}
	d := newTestDispatcher(t, &fakeResolver{audience: twoRecipients()}, webhook, email)

	f := testFault(uuid.New(), uuid.New(), db.StatusOpen)

	first, err := d.Dispatch(context.Background(), updatedEvent(f, db.StatusOpen, db.StatusInProgress))
	require.NoError(t, err)
	second, err := d.Dispatch(context.Background(), updatedEvent(f, db.StatusInProgress, db.StatusOpen))
	require.NoError(t, err)

	assert.False(t, first.Empty())
	assert.False(t, second.Empty())
	assert.Equal(t, 2, webhook.count())
	assert.Equal(t, 4, email.count())
}

func TestDispatch_EmptyAudienceSendsOnlyWebhook(t *testing.T) {
	webhook, email := &recordingSender{}, &recordingSender{}
	d := newTestDispatcher(t, &fakeResolver{audience: &recipients.Audience{SiteName: "S", CompanyName: "C"}}, webhook, email)

	report, err := d.Dispatch(context.Background(), createdEvent(testFault(uuid.New(), uuid.New(), db.StatusOpen)))
	require.NoError(t, err)

	assert.Len(t, report.Attempts, 1)
	assert.Equal(t, 1, webhook.count())
	assert.Zero(t, email.count())
}

func TestDispatch_RecipientLookupFailureStillSendsWebhook(t *testing.T) {
	res := &fakeResolver{
		audience: &recipients.Audience{SiteName: recipients.UnknownSite, CompanyName: "C"},
		err:      errors.New("list customers: connection refused"),
	}
	webhook, email := &recordingSender{}, &recordingSender{}
	d := newTestDispatcher(t, res, webhook, email)

	report, err := d.Dispatch(context.Background(), createdEvent(testFault(uuid.New(), uuid.New(), db.StatusOpen)))
	require.NoError(t, err)

	assert.Equal(t, 1, webhook.count())
	assert.Zero(t, email.count())

	emails := report.ByChannel(db.ChannelEmail)
	require.Len(t, emails, 1)
	assert.Equal(t, db.OutcomeFailed, emails[0].Outcome)
	assert.Contains(t, emails[0].Reason, "recipient lookup")
}

func TestDispatch_ConfigurationErrors(t *testing.T) {
	tenant, site := uuid.New(), uuid.New()

	tests := []struct {
		name    string
		event   func() *db.FaultEvent
		wantErr error
	}{
		{"nil_event", func() *db.FaultEvent { return nil }, ErrMissingFault},
		{"missing_tenant", func() *db.FaultEvent {
			ev := createdEvent(testFault(tenant, site, db.StatusOpen))
			ev.TenantID = uuid.Nil
			return ev
		}, ErrMissingTenant},
		{"tenant_mismatch", func() *db.FaultEvent {
			ev := createdEvent(testFault(tenant, site, db.StatusOpen))
			ev.TenantID = uuid.New()
			return ev
		}, ErrTenantMismatch},
		{"site_mismatch", func() *db.FaultEvent {
			ev := createdEvent(testFault(tenant, site, db.StatusOpen))
			ev.SiteID = uuid.New()
			return ev
		}, ErrSiteMismatch},
		{"create_without_fault", func() *db.FaultEvent {
			return &db.FaultEvent{Kind: db.EventCreated, TenantID: tenant, SiteID: site, NewStatus: db.StatusOpen}
		}, ErrMissingFault},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			webhook, email := &recordingSender{}, &recordingSender{}
			d := newTestDispatcher(t, &fakeResolver{audience: twoRecipients()}, webhook, email)

			report, err := d.Dispatch(context.Background(), tt.event())
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, report)
			assert.Zero(t, webhook.count()+email.count())
		})
	}
}

func TestNew_RequiresWebhookURLAndSenders(t *testing.T) {
	_, err := New(&fakeResolver{}, &recordingSender{}, &recordingSender{}, Config{}, zap.NewNop())
	assert.ErrorIs(t, err, ErrMissingWebhookURL)

	_, err = New(&fakeResolver{}, nil, &recordingSender{}, Config{WebhookURL: "https://x"}, zap.NewNop())
	assert.ErrorIs(t, err, ErrMissingSender)
}

func TestDispatch_WebhookBody(t *testing.T) {
	webhook := &recordingSender{}
	d := newTestDispatcher(t, &fakeResolver{audience: twoRecipients()}, webhook, &recordingSender{})

	f := testFault(uuid.New(), uuid.New(), db.StatusOpen)
	created := createdEvent(f)
	created.OccurredAt = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

	_, err := d.Dispatch(context.Background(), created)
	require.NoError(t, err)
	_, err = d.Dispatch(context.Background(), updatedEvent(f, db.StatusOpen, db.StatusOnHold))
	require.NoError(t, err)

	require.Equal(t, 2, webhook.count())

	var onCreate WebhookEvent
	require.NoError(t, json.Unmarshal(webhook.sent[0].Payload, &onCreate))
	assert.Equal(t, fault.TriggerCreated, onCreate.Event)
	assert.Equal(t, f.ID, onCreate.FaultID)
	assert.Equal(t, "Inverter 3 offline", onCreate.Title)
	require.NotNil(t, onCreate.Fault)
	assert.Nil(t, onCreate.OldStatus)
	assert.Equal(t, "Karaman GES", onCreate.Site.Name)
	assert.Equal(t, f.SiteID, onCreate.Site.ID)
	assert.Equal(t, "Gunes Enerji", onCreate.Tenant.Name)
	assert.Equal(t, "2024-03-01T09:30:00Z", onCreate.Timestamp)

	var onChange WebhookEvent
	require.NoError(t, json.Unmarshal(webhook.sent[1].Payload, &onChange))
	assert.Equal(t, fault.TriggerStatusChanged, onChange.Event)
	require.NotNil(t, onChange.OldStatus)
	assert.Equal(t, db.StatusOpen, *onChange.OldStatus)
	assert.Equal(t, db.StatusOnHold, onChange.NewStatus)
	assert.Equal(t, "on hold", onChange.StatusLabel)
	assert.Nil(t, onChange.Fault)
	_, err = time.Parse(time.RFC3339, onChange.Timestamp)
	assert.NoError(t, err)
}

func TestReport_DeliveryAttempts(t *testing.T) {
	r := &Report{
		EventID:  "evt-1",
		TenantID: uuid.New(),
		FaultID:  uuid.New(),
		Attempts: []Attempt{
			{Channel: db.ChannelWebhook, Recipient: "https://x", Outcome: db.OutcomeSent, At: time.Now()},
			{Channel: db.ChannelEmail, Recipient: "a@example.com", Outcome: db.OutcomeFailed, Reason: "bounce", At: time.Now()},
		},
	}

	rows := r.DeliveryAttempts()
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "evt-1", row.EventID)
		assert.Equal(t, r.TenantID, row.TenantID)
		assert.Equal(t, r.FaultID, row.FaultID)
		assert.NotEqual(t, uuid.Nil, row.ID)
	}
	assert.Equal(t, "bounce", rows[1].Reason)
}

// relay stands in for the mail provider behind the production sender chain. It
// refuses addresses starting with "bad" and fails everything while down is set.
type relay struct {
	mu    sync.Mutex
	down  bool
	tried []string
}

func (r *relay) Send(ctx context.Context, n *db.Notification) error {
	var p db.EmailPayload
	if err := json.Unmarshal(n.Payload, &p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tried = append(r.tried, p.To)

	if r.down {
		return errors.New("dial tcp: connection refused")
	}
	if strings.HasPrefix(p.To, "bad") {
		return fmt.Errorf("%w: address does not exist", worker.ErrRecipientRejected)
	}
	return nil
}

func (r *relay) SupportsChannel(channel string) bool { return channel == db.ChannelEmail }

func (r *relay) attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tried)
}

// emailChain builds the email path the gateway wires: a breaker-protected relay
// behind the channel router, all on one shared breaker.
func emailChain(r *relay) (*worker.MultiSender, *circuitbreaker.CircuitBreaker) {
	cfg := circuitbreaker.DefaultConfig("email")
	cfg.IsFailure = worker.IsRelayFailure
	cb := circuitbreaker.New(cfg, zap.NewNop())
	return worker.NewMultiSender(zap.NewNop(), circuitbreaker.NewProtectedSender(r, cb, zap.NewNop())), cb
}

func mixedAudience(bad, good int) *recipients.Audience {
	aud := &recipients.Audience{SiteName: "Karaman GES", CompanyName: "Gunes Enerji"}
	for i := 0; i < bad; i++ {
		aud.Recipients = append(aud.Recipients, recipients.Recipient{Email: fmt.Sprintf("bad%d@example.com", i)})
	}
	for i := 0; i < good; i++ {
		aud.Recipients = append(aud.Recipients, recipients.Recipient{Email: fmt.Sprintf("good%d@example.com", i)})
	}
	return aud
}

func serialDispatcher(t *testing.T, r AudienceResolver, webhook, email Sender) *Dispatcher {
	t.Helper()
	d, err := New(r, webhook, email, Config{
		WebhookURL:  "https://hooks.example.com/faults",
		Concurrency: 1,
	}, zap.NewNop())
	require.NoError(t, err)
	return d
}

func TestDispatch_RejectedAddressesDoNotOpenSharedEmailBreaker(t *testing.T) {
	mail := &relay{}
	email, cb := emailChain(mail)
	bad := circuitbreaker.DefaultConfig("email").MaxFailures + 2

	d := serialDispatcher(t, &fakeResolver{audience: mixedAudience(bad, 3)}, &recordingSender{}, email)

	report, err := d.Dispatch(context.Background(), createdEvent(testFault(uuid.New(), uuid.New(), db.StatusOpen)))
	require.NoError(t, err)

	assert.Equal(t, bad+3, mail.attempts(), "every resolved recipient reaches the relay")
	for _, a := range report.ByChannel(db.ChannelEmail) {
		if strings.HasPrefix(a.Recipient, "good") {
			assert.Equal(t, db.OutcomeSent, a.Outcome, a.Recipient)
		} else {
			assert.Equal(t, db.OutcomeFailed, a.Outcome, a.Recipient)
			assert.NotContains(t, a.Reason, circuitbreaker.ErrCircuitOpen.Error())
		}
	}
	assert.Equal(t, circuitbreaker.StateClosed, cb.GetState())

	// a later event for another tenant still goes out
	other, err := d.Dispatch(context.Background(), createdEvent(testFault(uuid.New(), uuid.New(), db.StatusOpen)))
	require.NoError(t, err)
	assert.Equal(t, 2*(bad+3), mail.attempts())
	assert.Equal(t, 3+1, other.Sent())
}

func TestDispatch_RelayOutageOpensEmailBreaker(t *testing.T) {
	mail := &relay{down: true}
	email, cb := emailChain(mail)
	limit := circuitbreaker.DefaultConfig("email").MaxFailures

	webhook := &recordingSender{}
	d := serialDispatcher(t, &fakeResolver{audience: mixedAudience(0, limit+3)}, webhook, email)

	report, err := d.Dispatch(context.Background(), createdEvent(testFault(uuid.New(), uuid.New(), db.StatusOpen)))
	require.NoError(t, err)

	assert.Equal(t, limit, mail.attempts())
	assert.Equal(t, circuitbreaker.StateOpen, cb.GetState())

	emails := report.ByChannel(db.ChannelEmail)
	require.Len(t, emails, limit+3)
	for _, a := range emails {
		assert.Equal(t, db.OutcomeFailed, a.Outcome)
	}
	assert.Equal(t, 1, webhook.count())
	assert.Equal(t, 1, report.Sent())
}

// stalledResolver models a document store that never answers
type stalledResolver struct {
	honorCtx bool
	release  chan struct{}
}

func (s *stalledResolver) Resolve(ctx context.Context, tenantID, siteID uuid.UUID) (*recipients.Audience, error) {
	if s.honorCtx {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	<-s.release
	return nil, errors.New("released")
}

func TestDispatch_StalledLookupStillSendsWebhook(t *testing.T) {
	tests := []struct {
		name     string
		resolver *stalledResolver
		timeout  time.Duration
		deadline time.Duration
	}{
		{"lookup_timeout", &stalledResolver{honorCtx: true}, 50 * time.Millisecond, 0},
		{"caller_deadline", &stalledResolver{honorCtx: true}, time.Minute, 50 * time.Millisecond},
		{"resolver_ignores_context", &stalledResolver{release: make(chan struct{})}, 50 * time.Millisecond, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.resolver.release != nil {
				t.Cleanup(func() { close(tt.resolver.release) })
			}

			webhook, email := &recordingSender{}, &recordingSender{}
			d, err := New(tt.resolver, webhook, email, Config{
				WebhookURL:    "https://hooks.example.com/faults",
				LookupTimeout: tt.timeout,
			}, zap.NewNop())
			require.NoError(t, err)

			ctx := context.Background()
			if tt.deadline > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, tt.deadline)
				defer cancel()
			}

			start := time.Now()
			report, err := d.Dispatch(ctx, createdEvent(testFault(uuid.New(), uuid.New(), db.StatusOpen)))
			require.NoError(t, err)
			assert.Less(t, time.Since(start), 5*time.Second)

			require.Equal(t, 1, webhook.count())
			assert.Zero(t, email.count())

			hook := report.ByChannel(db.ChannelWebhook)
			require.Len(t, hook, 1)
			assert.Equal(t, db.OutcomeSent, hook[0].Outcome)

			var body WebhookEvent
			require.NoError(t, json.Unmarshal(webhook.sent[0].Payload, &body))
			assert.Equal(t, recipients.UnknownSite, body.Site.Name)
			assert.Equal(t, recipients.DefaultPlatformName, body.Tenant.Name)

			emails := report.ByChannel(db.ChannelEmail)
			require.Len(t, emails, 1)
			assert.Equal(t, db.OutcomeFailed, emails[0].Outcome)
			assert.Contains(t, emails[0].Reason, "recipient lookup")
		})
	}
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/freelance-marketplace/backend/internal/apperrors"
	"github.com/freelance-marketplace/backend/internal/events"
	"github.com/freelance-marketplace/backend/internal/models"
	"github.com/freelance-marketplace/backend/internal/money"
	"github.com/freelance-marketplace/backend/internal/payments"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// memStore is an in-memory ProjectStore. Update holds one mutex for the
// whole call, which serializes writers the way row locks do.
type memStore struct {
	mu          sync.Mutex
	projects    map[uuid.UUID]*models.ProjectAggregate
	skipCommits int
	failCommits int
}

func newMemStore() *memStore {
	return &memStore{projects: make(map[uuid.UUID]*models.ProjectAggregate)}
}

func (s *memStore) Create(_ context.Context, agg *models.ProjectAggregate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[agg.Project.ID]; ok {
		return apperrors.State("project %s already exists", agg.Project.ID)
	}
	s.projects[agg.Project.ID] = agg.Clone()
	return nil
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (*models.ProjectAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.projects[id]
	if !ok {
		return nil, apperrors.NotFound("project", id)
	}
	return agg.Clone(), nil
}

func (s *memStore) Update(_ context.Context, id uuid.UUID, fn func(*models.ProjectAggregate) error) (*models.ProjectAggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	agg, ok := s.projects[id]
	if !ok {
		return nil, apperrors.NotFound("project", id)
	}
	work := agg.Clone()
	if err := fn(work); err != nil {
		return nil, err
	}
	if s.skipCommits > 0 {
		s.skipCommits--
	} else if s.failCommits > 0 {
		s.failCommits--
		return nil, errors.New("commit: connection reset")
	}
	s.projects[id] = work
	return work.Clone(), nil
}

func (s *memStore) failNextCommits(n int) {
	s.failAfterCommits(0, n)
}

// failAfterCommits lets skip commits through and then fails the next n.
func (s *memStore) failAfterCommits(skip, n int) {
	s.mu.Lock()
	s.skipCommits = skip
	s.failCommits = n
	s.mu.Unlock()
}

func (s *memStore) find(match func(*models.ProjectAggregate) bool, entity string, id any) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for pid, agg := range s.projects {
		if match(agg) {
			return pid, nil
		}
	}
	return uuid.Nil, apperrors.NotFound(entity, id)
}

func (s *memStore) ProjectIDByEscrow(_ context.Context, escrowID uuid.UUID) (uuid.UUID, error) {
	return s.find(func(a *models.ProjectAggregate) bool {
		return a.Escrow != nil && a.Escrow.ID == escrowID
	}, "escrow", escrowID)
}

func (s *memStore) ProjectIDByPaymentIntent(_ context.Context, intentID string) (uuid.UUID, error) {
	return s.find(func(a *models.ProjectAggregate) bool {
		return a.Escrow != nil && a.Escrow.PaymentIntentID == intentID
	}, "payment intent", intentID)
}

func (s *memStore) ProjectIDByMilestone(_ context.Context, milestoneID uuid.UUID) (uuid.UUID, error) {
	return s.find(func(a *models.ProjectAggregate) bool {
		return a.Milestone(milestoneID) != nil
	}, "milestone", milestoneID)
}

func (s *memStore) ProjectIDByDispute(_ context.Context, disputeID uuid.UUID) (uuid.UUID, error) {
	return s.find(func(a *models.ProjectAggregate) bool {
		return a.Dispute(disputeID) != nil
	}, "dispute", disputeID)
}

func (s *memStore) List(_ context.Context, f ProjectFilter) ([]models.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Project
	for _, agg := range s.projects {
		p := agg.Project
		if f.Status != nil && p.Status != *f.Status {
			continue
		}
		if f.EmployerID != nil && p.EmployerID != *f.EmployerID {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memStore) ListActiveWithoutEscrow(_ context.Context, limit int) ([]uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uuid.UUID
	for id, agg := range s.projects {
		if agg.Escrow == nil && models.IsProjectWorking(agg.Project.Status) && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

func (s *memStore) ListDisputes(_ context.Context, f DisputeFilter) ([]models.Dispute, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Dispute
	for _, agg := range s.projects {
		for _, d := range agg.Disputes {
			if f.Status != nil && d.Status != *f.Status {
				continue
			}
			out = append(out, *d)
		}
	}
	return out, nil
}

// fakeGateway mimics the processor's idempotency: a repeated key returns
// the reference of the first call without moving money again, and a key
// reused with different parameters is refused.
type fakeGateway struct {
	mu        sync.Mutex
	seq       int
	byKey     map[string]string
	params    map[string]string
	intents   []payments.PaymentIntentInput
	transfers []payments.TransferInput
	payouts   []payments.TransferInput
	refunds   []payments.RefundInput
	failNext  error
	// lostReply fails the next call after the processor executed it.
	lostReply error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{byKey: make(map[string]string), params: make(map[string]string)}
}

func (g *fakeGateway) call(prefix, key string, in any) (string, bool, error) {
	if err := g.failNext; err != nil {
		g.failNext = nil
		return "", false, apperrors.External(prefix, err)
	}
	fingerprint := fmt.Sprintf("%+v", in)
	if ref, ok := g.byKey[key]; ok && key != "" {
		if g.params[key] != fingerprint {
			return "", false, apperrors.External(prefix, fmt.Errorf("idempotency key %q reused with different parameters", key))
		}
		return ref, true, g.takeLostReply(prefix)
	}
	g.seq++
	ref := fmt.Sprintf("%s_%d", prefix, g.seq)
	g.byKey[key] = ref
	g.params[key] = fingerprint
	return ref, false, g.takeLostReply(prefix)
}

func (g *fakeGateway) takeLostReply(prefix string) error {
	err := g.lostReply
	if err == nil {
		return nil
	}
	g.lostReply = nil
	return apperrors.External(prefix, err)
}

func (g *fakeGateway) CreatePaymentIntent(_ context.Context, in payments.PaymentIntentInput) (*payments.PaymentIntent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, repeated, err := g.call("pi", in.IdempotencyKey, in)
	if !repeated && ref != "" {
		g.intents = append(g.intents, in)
	}
	if err != nil {
		return nil, err
	}
	return &payments.PaymentIntent{ID: ref, ClientSecret: ref + "_secret"}, nil
}

func (g *fakeGateway) CreateTransfer(_ context.Context, in payments.TransferInput) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, repeated, err := g.call("tr", in.IdempotencyKey, in)
	if !repeated && ref != "" {
		g.transfers = append(g.transfers, in)
	}
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (g *fakeGateway) CreatePayout(_ context.Context, in payments.TransferInput) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, repeated, err := g.call("po", in.IdempotencyKey, in)
	if !repeated && ref != "" {
		g.payouts = append(g.payouts, in)
	}
	if err != nil {
		return "", err
	}
	return ref, nil
}

func (g *fakeGateway) CreateRefund(_ context.Context, in payments.RefundInput) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ref, repeated, err := g.call("re", in.IdempotencyKey, in)
	if !repeated && ref != "" {
		g.refunds = append(g.refunds, in)
	}
	if err != nil {
		return "", err
	}
	return ref, nil
}

const validSignature = "t=1,v1=valid"

// VerifyWebhook accepts a JSON-encoded WebhookEvent signed with validSignature.
func (g *fakeGateway) VerifyWebhook(payload []byte, signature string) (*payments.WebhookEvent, error) {
	if signature != validSignature {
		return nil, apperrors.External("verify webhook", errors.New("signature mismatch"))
	}
	var ev payments.WebhookEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, apperrors.Validation("malformed webhook payload")
	}
	return &ev, nil
}

func (g *fakeGateway) moneyCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.transfers) + len(g.payouts) + len(g.refunds)
}

type fakeAccounts struct {
	mu       sync.Mutex
	accounts map[uuid.UUID]*models.PayoutAccount
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{accounts: make(map[uuid.UUID]*models.PayoutAccount)}
}

func (a *fakeAccounts) GetPayoutAccount(_ context.Context, userID uuid.UUID) (*models.PayoutAccount, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	acct, ok := a.accounts[userID]
	if !ok {
		return nil, apperrors.NotFound("payout account", userID)
	}
	c := *acct
	return &c, nil
}

func (a *fakeAccounts) UpsertPayoutAccount(_ context.Context, acct *models.PayoutAccount) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	c := *acct
	a.accounts[acct.UserID] = &c
	return nil
}

func (a *fakeAccounts) SetStatusByRef(_ context.Context, ref, status string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, acct := range a.accounts {
		if acct.AccountRef == ref {
			acct.Status = status
			return nil
		}
	}
	return apperrors.NotFound("payout account", ref)
}

type fakeTasks struct {
	mu    sync.Mutex
	tasks []*models.ReconcileTask
}

func (f *fakeTasks) Enqueue(_ context.Context, task *models.ReconcileTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.Kind == task.Kind && t.ProjectID == task.ProjectID && t.ProcessorRef == task.ProcessorRef {
			return nil
		}
	}
	c := *task
	f.tasks = append(f.tasks, &c)
	return nil
}

func (f *fakeTasks) ListOpen(_ context.Context, limit int) ([]models.ReconcileTask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ReconcileTask
	for _, t := range f.tasks {
		if t.Status == models.ReconcileStatusOpen && len(out) < limit {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTasks) set(id uuid.UUID, fn func(*models.ReconcileTask)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if t.ID == id {
			fn(t)
			return nil
		}
	}
	return apperrors.NotFound("reconciliation task", id)
}

func (f *fakeTasks) MarkDone(_ context.Context, id uuid.UUID) error {
	return f.set(id, func(t *models.ReconcileTask) { t.Status = models.ReconcileStatusDone })
}

func (f *fakeTasks) MarkManual(_ context.Context, id uuid.UUID, reason string) error {
	return f.set(id, func(t *models.ReconcileTask) {
		t.Status = models.ReconcileStatusManual
		t.LastError = &reason
	})
}

func (f *fakeTasks) RecordAttempt(_ context.Context, id uuid.UUID, msg string) error {
	return f.set(id, func(t *models.ReconcileTask) {
		t.Attempts++
		t.LastError = &msg
	})
}

func (f *fakeTasks) all() []models.ReconcileTask {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.ReconcileTask, 0, len(f.tasks))
	for _, t := range f.tasks {
		out = append(out, *t)
	}
	return out
}

type fakeAudit struct {
	mu      sync.Mutex
	entries []models.AuditLog
}

func (a *fakeAudit) Log(_ context.Context, entry models.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *fakeAudit) GetByProject(_ context.Context, projectID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []models.AuditLog
	for _, e := range a.entries {
		if e.ProjectID != nil && *e.ProjectID == projectID {
			out = append(out, e)
		}
	}
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

func (a *fakeAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Action)
	}
	return out
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(_ context.Context, _ string, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) count(eventType string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, ev := range p.events {
		if ev.Type == eventType {
			n++
		}
	}
	return n
}

type fakeDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *fakeDedup) Seen(_ context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.seen[key], nil
}

func (d *fakeDedup) Mark(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	d.seen[key] = true
	return nil
}

type testEnv struct {
	store    *memStore
	gateway  *fakeGateway
	accounts *fakeAccounts
	tasks    *fakeTasks
	audit    *fakeAudit
	pub      *fakePublisher
	dedup    *fakeDedup

	ledger     *Ledger
	projects   *ProjectService
	milestones *MilestoneService
	disputes   *DisputeService
	accountSvc *AccountService
	webhooks   *WebhookService
	reconciler *Reconciler

	employer   models.Principal
	freelancer models.Principal
	admin      models.Principal
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	log := zap.NewNop()
	e := &testEnv{
		store:      newMemStore(),
		gateway:    newFakeGateway(),
		accounts:   newFakeAccounts(),
		tasks:      &fakeTasks{},
		audit:      &fakeAudit{},
		pub:        &fakePublisher{},
		dedup:      &fakeDedup{},
		employer:   models.Principal{UserID: uuid.New(), Role: models.RoleEmployer},
		freelancer: models.Principal{UserID: uuid.New(), Role: models.RoleFreelancer},
		admin:      models.Principal{UserID: uuid.New(), Role: models.RoleAdmin},
	}
	e.ledger = NewLedger(e.store, e.accounts, e.tasks, e.gateway, e.audit, e.pub,
		LedgerConfig{Currency: "inr", PayoutMethod: PayoutMethodTransfer}, log)
	e.projects = NewProjectService(e.store, e.ledger, e.audit, e.pub, log)
	e.milestones = NewMilestoneService(e.store, e.audit, e.pub, log)
	e.disputes = NewDisputeService(e.store, e.ledger, e.audit, e.pub, log)
	e.accountSvc = NewAccountService(e.accounts, log)
	e.webhooks = NewWebhookService(e.gateway, e.ledger, e.accountSvc, e.dedup, log)
	e.reconciler = NewReconciler(e.store, e.tasks, e.ledger, 3, log)
	return e
}

func amt(s string) money.Amount { return money.MustParse(s) }

// openProject creates an open project whose milestones carry the given amounts.
func (e *testEnv) openProject(t *testing.T, amounts ...string) *models.ProjectAggregate {
	t.Helper()
	in := CreateProjectInput{
		Title:    "Landing page",
		Category: "web",
		Deadline: time.Now().Add(30 * 24 * time.Hour),
	}
	for i, a := range amounts {
		in.Budget += amt(a)
		in.Milestones = append(in.Milestones, MilestoneInput{
			Title:   fmt.Sprintf("Milestone %d", i+1),
			Amount:  amt(a),
			DueDate: time.Now().Add(time.Duration(i+1) * 7 * 24 * time.Hour),
		})
	}
	agg, err := e.projects.CreateProject(context.Background(), e.employer, in)
	require.NoError(t, err)
	return agg
}

// activeProject assigns the freelancer, which opens the escrow in pending.
func (e *testEnv) activeProject(t *testing.T, amounts ...string) *models.ProjectAggregate {
	t.Helper()
	ctx := context.Background()
	agg := e.openProject(t, amounts...)
	app, err := e.projects.Apply(ctx, e.freelancer, agg.Project.ID, "I can do this", nil)
	require.NoError(t, err)
	res, err := e.projects.ApproveApplication(ctx, e.employer, agg.Project.ID, app.ID)
	require.NoError(t, err)
	require.NoError(t, res.EscrowError)
	require.NotNil(t, res.Escrow)
	return e.reload(t, agg.Project.ID)
}

// fundedProject is an active project with a funded escrow and a freelancer
// able to receive transfers.
func (e *testEnv) fundedProject(t *testing.T, amounts ...string) *models.ProjectAggregate {
	t.Helper()
	agg := e.activeProject(t, amounts...)
	e.connectFreelancer(t)
	e.deliverFunding(t, "evt_"+uuid.NewString(), agg)
	agg = e.reload(t, agg.Project.ID)
	require.Equal(t, models.EscrowStatusFunded, agg.Escrow.Status)
	return agg
}

func (e *testEnv) connectFreelancer(t *testing.T) {
	t.Helper()
	require.NoError(t, e.accounts.UpsertPayoutAccount(context.Background(), &models.PayoutAccount{
		UserID:     e.freelancer.UserID,
		AccountRef: "acct_freelancer",
		Status:     models.AccountStatusActive,
	}))
}

func (e *testEnv) fundingPayload(t *testing.T, eventID string, agg *models.ProjectAggregate) []byte {
	t.Helper()
	b, err := json.Marshal(payments.WebhookEvent{
		ID:              eventID,
		Type:            payments.EventPaymentSucceeded,
		PaymentIntentID: agg.Escrow.PaymentIntentID,
		AmountReceived:  agg.Escrow.Amount,
		Currency:        agg.Escrow.Currency,
		Metadata: map[string]string{
			payments.MetaType:      payments.MetaTypeEscrow,
			payments.MetaProjectID: agg.Project.ID.String(),
			payments.MetaEscrowID:  agg.Escrow.ID.String(),
		},
	})
	require.NoError(t, err)
	return b
}

func (e *testEnv) deliverFunding(t *testing.T, eventID string, agg *models.ProjectAggregate) {
	t.Helper()
	require.NoError(t, e.webhooks.Handle(context.Background(), e.fundingPayload(t, eventID, agg), validSignature))
}

// approveMilestone walks a milestone through submit and approve.
func (e *testEnv) approveMilestone(t *testing.T, milestoneID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	_, err := e.milestones.Submit(ctx, e.freelancer, milestoneID, SubmissionInput{Description: "done", Attachments: []string{"https://files/a.zip"}})
	require.NoError(t, err)
	_, err = e.milestones.Approve(ctx, e.employer, milestoneID, "")
	require.NoError(t, err)
}

func (e *testEnv) reload(t *testing.T, projectID uuid.UUID) *models.ProjectAggregate {
	t.Helper()
	agg, err := e.store.Get(context.Background(), projectID)
	require.NoError(t, err)
	return agg
}

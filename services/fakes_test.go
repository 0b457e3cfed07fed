package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/burnweek/camp-registration-system/models"
	"github.com/burnweek/camp-registration-system/payments"
	"github.com/burnweek/camp-registration-system/repositories"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory stand-in for the Postgres repositories. It backs
// every repository interface at once so a transaction sees its own writes.
type fakeStore struct {
	mu sync.Mutex

	registrations map[int]*models.Registration
	assignments   map[int]*models.ResourceAssignment
	catalog       map[models.ResourceRef]*models.CatalogResource
	payments      map[int]*models.Payment
	audits        []*models.AuditEntry

	nextRegistrationID int
	nextAssignmentID   int
	nextPaymentID      int
	nextAuditID        int
	clock              time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		registrations: make(map[int]*models.Registration),
		assignments:   make(map[int]*models.ResourceAssignment),
		catalog:       make(map[models.ResourceRef]*models.CatalogResource),
		payments:      make(map[int]*models.Payment),
		// Close to wall time so TTL cutoffs computed from time.Now() behave,
		// but ticked deterministically from here on.
		clock: time.Now().Add(-time.Hour),
	}
}

// tick hands out strictly increasing timestamps so FIFO ordering by creation
// time is deterministic. Callers must hold mu.
func (s *fakeStore) tick() time.Time {
	s.clock = s.clock.Add(time.Second)
	return s.clock
}

func (s *fakeStore) addResource(kind models.ResourceKind, id int, name string, enabled bool, maxSlots int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ref := models.ResourceRef{Kind: kind, ID: id}
	s.catalog[ref] = &models.CatalogResource{ID: id, Kind: kind, Name: name, Enabled: enabled, MaxSlots: maxSlots}
}

type storeSnapshot struct {
	registrations map[int]models.Registration
	assignments   map[int]models.ResourceAssignment
	payments      map[int]models.Payment
	audits        []*models.AuditEntry

	nextRegistrationID int
	nextAssignmentID   int
	nextPaymentID      int
	nextAuditID        int
	clock              time.Time
}

func (s *fakeStore) snapshot() storeSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := storeSnapshot{
		registrations:      make(map[int]models.Registration, len(s.registrations)),
		assignments:        make(map[int]models.ResourceAssignment, len(s.assignments)),
		payments:           make(map[int]models.Payment, len(s.payments)),
		audits:             append([]*models.AuditEntry(nil), s.audits...),
		nextRegistrationID: s.nextRegistrationID,
		nextAssignmentID:   s.nextAssignmentID,
		nextPaymentID:      s.nextPaymentID,
		nextAuditID:        s.nextAuditID,
		clock:              s.clock,
	}
	for id, reg := range s.registrations {
		snap.registrations[id] = *reg
	}
	for id, a := range s.assignments {
		snap.assignments[id] = *a
	}
	for id, p := range s.payments {
		snap.payments[id] = *p
	}
	return snap
}

func (s *fakeStore) restore(snap storeSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.registrations = make(map[int]*models.Registration, len(snap.registrations))
	for id, reg := range snap.registrations {
		r := reg
		s.registrations[id] = &r
	}
	s.assignments = make(map[int]*models.ResourceAssignment, len(snap.assignments))
	for id, a := range snap.assignments {
		aa := a
		s.assignments[id] = &aa
	}
	s.payments = make(map[int]*models.Payment, len(snap.payments))
	for id, p := range snap.payments {
		pp := p
		s.payments[id] = &pp
	}
	s.audits = snap.audits
	s.nextRegistrationID = snap.nextRegistrationID
	s.nextAssignmentID = snap.nextAssignmentID
	s.nextPaymentID = snap.nextPaymentID
	s.nextAuditID = snap.nextAuditID
	s.clock = snap.clock
}

// fakeTxRunner serializes transactions with a mutex, mirroring how the
// admission advisory lock and row locks serialize conflicting work in
// Postgres. A returned error rolls the store back to its pre-tx state.
type fakeTxRunner struct {
	mu    sync.Mutex
	store *fakeStore
}

func newFakeTxRunner(store *fakeStore) *fakeTxRunner {
	return &fakeTxRunner{store: store}
}

func (r *fakeTxRunner) RunInTx(ctx context.Context, fn func(tx repositories.SQLExecutor) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.store.snapshot()
	if err := fn(nil); err != nil {
		r.store.restore(snap)
		return err
	}
	return nil
}

// RegistrationRepository

func (s *fakeStore) AcquireAdmissionLock(ctx context.Context, exec repositories.SQLExecutor, participantID, season int) error {
	// Transactions are already serialized by fakeTxRunner.
	return nil
}

func (s *fakeStore) Create(ctx context.Context, exec repositories.SQLExecutor, reg *models.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextRegistrationID++
	reg.ID = s.nextRegistrationID
	reg.CreatedAt = s.tick()
	reg.UpdatedAt = reg.CreatedAt

	stored := *reg
	stored.Assignments = nil
	s.registrations[reg.ID] = &stored
	return nil
}

func (s *fakeStore) FindByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[id]
	if !ok {
		return nil, repositories.ErrRegistrationNotFound
	}
	out := *reg
	return &out, nil
}

func (s *fakeStore) FindByIDForUpdate(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Registration, error) {
	return s.FindByID(ctx, exec, id)
}

func (s *fakeStore) CountActiveByKey(ctx context.Context, exec repositories.SQLExecutor, participantID, season int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, reg := range s.registrations {
		if reg.ParticipantID == participantID && reg.Season == season && reg.Status != models.RegistrationStatusCancelled {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) UpdateStatus(ctx context.Context, exec repositories.SQLExecutor, id int, expected, next models.RegistrationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[id]
	if !ok {
		return repositories.ErrRegistrationNotFound
	}
	if reg.Status != expected {
		return repositories.ErrRegistrationStale
	}
	reg.Status = next
	reg.UpdatedAt = s.tick()
	return nil
}

func (s *fakeStore) SetNeedsReview(ctx context.Context, exec repositories.SQLExecutor, id int, needsReview bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, ok := s.registrations[id]
	if !ok {
		return repositories.ErrRegistrationNotFound
	}
	reg.NeedsReview = needsReview
	return nil
}

func (s *fakeStore) List(ctx context.Context, filter models.RegistrationFilter) ([]*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Registration
	for _, reg := range s.registrations {
		if filter.ParticipantID != nil && reg.ParticipantID != *filter.ParticipantID {
			continue
		}
		if filter.Season != nil && reg.Season != *filter.Season {
			continue
		}
		if filter.Status != nil && reg.Status != *filter.Status {
			continue
		}
		r := *reg
		out = append(out, &r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) ListBySeason(ctx context.Context, season int) ([]*models.Registration, error) {
	return s.List(ctx, models.RegistrationFilter{Season: &season})
}

func (s *fakeStore) ListWaitlistedByResource(ctx context.Context, exec repositories.SQLExecutor, ref models.ResourceRef) ([]*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Registration
	for _, reg := range s.registrations {
		if reg.Status != models.RegistrationStatusWaitlisted {
			continue
		}
		for _, a := range s.assignments {
			if a.RegistrationID == reg.ID && a.ResourceKind == ref.Kind && a.ResourceID == ref.ID && a.State == models.AssignmentWaitlisted {
				r := *reg
				out = append(out, &r)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *fakeStore) ListExpiredPending(ctx context.Context, exec repositories.SQLExecutor, cutoff time.Time) ([]*models.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Registration
	for _, reg := range s.registrations {
		if reg.Status != models.RegistrationStatusPending || !reg.CreatedAt.Before(cutoff) {
			continue
		}
		paid := false
		for _, p := range s.payments {
			if p.RegistrationID == reg.ID && p.Status == models.PaymentStatusCompleted {
				paid = true
				break
			}
		}
		if !paid {
			r := *reg
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AssignmentRepository

func (s *fakeStore) LockResource(ctx context.Context, exec repositories.SQLExecutor, ref models.ResourceRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.catalog[ref]; !ok {
		return repositories.ErrResourceNotFound
	}
	return nil
}

func (s *fakeStore) CountReserved(ctx context.Context, exec repositories.SQLExecutor, ref models.ResourceRef) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, a := range s.assignments {
		if a.ResourceKind == ref.Kind && a.ResourceID == ref.ID && a.State == models.AssignmentReserved {
			count++
		}
	}
	return count, nil
}

func (s *fakeStore) CreateAssignment(ctx context.Context, exec repositories.SQLExecutor, a *models.ResourceAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAssignmentID++
	a.ID = s.nextAssignmentID
	a.CreatedAt = s.tick()

	stored := *a
	s.assignments[a.ID] = &stored
	return nil
}

func (s *fakeStore) ListByRegistration(ctx context.Context, exec repositories.SQLExecutor, registrationID int) ([]*models.ResourceAssignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.ResourceAssignment
	for _, a := range s.assignments {
		if a.RegistrationID == registrationID {
			aa := *a
			out = append(out, &aa)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) DeleteByRegistration(ctx context.Context, exec repositories.SQLExecutor, registrationID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.assignments {
		if a.RegistrationID == registrationID {
			delete(s.assignments, id)
		}
	}
	return nil
}

func (s *fakeStore) DeleteByRegistrationAndRef(ctx context.Context, exec repositories.SQLExecutor, registrationID int, ref models.ResourceRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, a := range s.assignments {
		if a.RegistrationID == registrationID && a.ResourceKind == ref.Kind && a.ResourceID == ref.ID {
			delete(s.assignments, id)
			return nil
		}
	}
	return repositories.ErrAssignmentNotFound
}

func (s *fakeStore) PromoteWaitlisted(ctx context.Context, exec repositories.SQLExecutor, registrationID int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.assignments {
		if a.RegistrationID == registrationID && a.State == models.AssignmentWaitlisted {
			a.State = models.AssignmentReserved
		}
	}
	return nil
}

// CatalogRepository

func (s *fakeStore) GetResource(ctx context.Context, exec repositories.SQLExecutor, ref models.ResourceRef) (*models.CatalogResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.catalog[ref]
	if !ok {
		return nil, repositories.ErrResourceNotFound
	}
	out := *res
	return &out, nil
}

func (s *fakeStore) ListByKind(ctx context.Context, kind models.ResourceKind) ([]*models.CatalogResource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.CatalogResource
	for _, res := range s.catalog {
		if res.Kind == kind {
			r := *res
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PaymentRepository

func (s *fakeStore) CreatePayment(ctx context.Context, exec repositories.SQLExecutor, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.payments {
		if existing.ProviderRef == p.ProviderRef {
			return repositories.ErrPaymentRefConflict
		}
	}

	s.nextPaymentID++
	p.ID = s.nextPaymentID
	p.CreatedAt = s.tick()
	p.UpdatedAt = p.CreatedAt

	stored := *p
	s.payments[p.ID] = &stored
	return nil
}

func (s *fakeStore) FindPaymentByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return nil, repositories.ErrPaymentNotFound
	}
	out := *p
	return &out, nil
}

func (s *fakeStore) FindByProviderRefForUpdate(ctx context.Context, exec repositories.SQLExecutor, providerRef string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range s.payments {
		if p.ProviderRef == providerRef {
			out := *p
			return &out, nil
		}
	}
	return nil, repositories.ErrPaymentNotFound
}

func (s *fakeStore) UpdatePaymentStatus(ctx context.Context, exec repositories.SQLExecutor, id int, status models.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.payments[id]
	if !ok {
		return repositories.ErrPaymentNotFound
	}
	p.Status = status
	p.UpdatedAt = s.tick()
	return nil
}

func (s *fakeStore) ListPaymentsByRegistration(ctx context.Context, exec repositories.SQLExecutor, registrationID int) ([]*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Payment
	for _, p := range s.payments {
		if p.RegistrationID == registrationID {
			pp := *p
			out = append(out, &pp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// AuditRepository

func (s *fakeStore) Append(ctx context.Context, exec repositories.SQLExecutor, entry *models.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextAuditID++
	entry.ID = s.nextAuditID
	entry.CreatedAt = s.tick()

	stored := *entry
	s.audits = append(s.audits, &stored)
	return nil
}

func (s *fakeStore) Query(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.AuditEntry
	for _, e := range s.audits {
		if filter.RegistrationID != nil && e.RegistrationID != *filter.RegistrationID {
			continue
		}
		if filter.ActorID != nil && e.ActorID != *filter.ActorID {
			continue
		}
		if filter.From != nil && e.CreatedAt.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.CreatedAt.After(*filter.To) {
			continue
		}
		ee := *e
		out = append(out, &ee)
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Interface adapters: the method sets of AssignmentRepository and
// PaymentRepository collide on Create/FindByID/UpdateStatus/
// ListByRegistration, so the shared store exposes them under distinct names
// and these thin views rename them back.

type fakeAssignmentRepo struct{ *fakeStore }

func (f fakeAssignmentRepo) Create(ctx context.Context, exec repositories.SQLExecutor, a *models.ResourceAssignment) error {
	return f.CreateAssignment(ctx, exec, a)
}

type fakePaymentRepo struct{ *fakeStore }

func (f fakePaymentRepo) Create(ctx context.Context, exec repositories.SQLExecutor, p *models.Payment) error {
	return f.CreatePayment(ctx, exec, p)
}

func (f fakePaymentRepo) FindByID(ctx context.Context, exec repositories.SQLExecutor, id int) (*models.Payment, error) {
	return f.FindPaymentByID(ctx, exec, id)
}

func (f fakePaymentRepo) UpdateStatus(ctx context.Context, exec repositories.SQLExecutor, id int, status models.PaymentStatus) error {
	return f.UpdatePaymentStatus(ctx, exec, id, status)
}

func (f fakePaymentRepo) ListByRegistration(ctx context.Context, exec repositories.SQLExecutor, registrationID int) ([]*models.Payment, error) {
	return f.ListPaymentsByRegistration(ctx, exec, registrationID)
}

// fakeGateway records checkout sessions and refunds.
type fakeGateway struct {
	mu          sync.Mutex
	sessions    int
	refunded    []string
	checkoutErr error
	refundErr   error
}

func (g *fakeGateway) CreateCheckoutSession(ctx context.Context, params payments.CheckoutParams) (*payments.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	g.sessions++
	id := fmt.Sprintf("sess_%04d", g.sessions)
	return &payments.CheckoutSession{
		SessionID: id,
		URL:       "https://pay.example.com/" + id,
	}, nil
}

func (g *fakeGateway) Refund(ctx context.Context, providerRef string) (*payments.RefundResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	g.refunded = append(g.refunded, providerRef)
	return &payments.RefundResult{Status: "refunded"}, nil
}

func (g *fakeGateway) refundedRefs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.refunded...)
}

// fakeBroadcaster records broadcast events.
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *fakeBroadcaster) RegistrationEvent(eventType string, reg *models.Registration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, eventType)
}

func (b *fakeBroadcaster) eventTypes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.events...)
}

// fixture wires every service against one shared fake store, the way main.go
// wires them against Postgres.
type fixture struct {
	store       *fakeStore
	runner      *fakeTxRunner
	gateway     *fakeGateway
	broadcaster *fakeBroadcaster
	notifier    *fakeNotifier
	allocator   *CapacityAllocator
	admission   *AdmissionService
	payment     *PaymentService
	admin       *AdminService
}

func newFixture(policy FullPolicy, autoPromote bool) *fixture {
	logger := testLogger()
	store := newFakeStore()
	runner := newFakeTxRunner(store)
	gateway := &fakeGateway{}
	broadcaster := &fakeBroadcaster{}
	notifier := &fakeNotifier{}

	assignmentRepo := fakeAssignmentRepo{store}
	paymentRepo := fakePaymentRepo{store}
	allocator := NewCapacityAllocator(store, assignmentRepo, store, autoPromote, logger)

	return &fixture{
		store:       store,
		runner:      runner,
		gateway:     gateway,
		broadcaster: broadcaster,
		notifier:    notifier,
		allocator:   allocator,
		admission:   NewAdmissionService(runner, store, assignmentRepo, allocator, policy, 72*time.Hour, notifier, broadcaster, logger),
		payment:     NewPaymentService(runner, paymentRepo, store, allocator, gateway, "stripe", notifier, broadcaster, logger),
		admin:       NewAdminService(runner, store, assignmentRepo, paymentRepo, store, allocator, gateway, notifier, broadcaster, logger),
	}
}

// fakeNotifier records notification kinds per participant.
type fakeNotifier struct {
	mu    sync.Mutex
	sent  []NotificationKind
	errIn error
}

func (n *fakeNotifier) Notify(ctx context.Context, participantID int, kind NotificationKind, payload map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.errIn != nil {
		return n.errIn
	}
	n.sent = append(n.sent, kind)
	return nil
}

// received reports whether a notification of the given kind was dispatched.
// Sends run on their own goroutines, so assertions poll this via Eventually.
func (n *fakeNotifier) received(kind NotificationKind) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, k := range n.sent {
		if k == kind {
			return true
		}
	}
	return false
}

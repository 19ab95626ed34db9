package investment

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/xfund/backend/internal/ledger"
	"github.com/xfund/backend/internal/lifecycle"
	"github.com/xfund/backend/internal/models"
)

// ---------------------------------------------------------------------------
// In-memory mocks
// ---------------------------------------------------------------------------

type memProjects struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*models.Project
	recorded *memInvestments
}

func newMemProjects(ps ...*models.Project) *memProjects {
	m := &memProjects{projects: make(map[uuid.UUID]*models.Project)}
	for _, p := range ps {
		cp := *p
		m.projects[p.ID] = &cp
	}
	return m
}

func (m *memProjects) GetByID(_ context.Context, id uuid.UUID) (*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil, errors.New("project not found")
	}
	cp := *p
	return &cp, nil
}

func (m *memProjects) ReserveShares(_ context.Context, id uuid.UUID, shares int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.projects[id]
	if p.Lifecycle != models.LifecycleFundingActive || p.SharesSold+shares > p.TotalShares {
		return false, nil
	}
	p.SharesSold += shares
	return true, nil
}

func (m *memProjects) ReleaseShares(_ context.Context, id uuid.UUID, shares int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.projects[id].SharesSold -= shares
	return nil
}

func (m *memProjects) TransitionLifecycle(_ context.Context, id uuid.UUID, from, to models.LifecycleState) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.projects[id]
	if p.Lifecycle != from {
		return false, nil
	}
	p.Lifecycle = to
	return true, nil
}

func (m *memProjects) MarkFundedIfSoldOut(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.projects[id]
	if p.Lifecycle != models.LifecycleFundingActive || p.SharesSold != p.TotalShares {
		return false, nil
	}
	if m.recorded != nil && m.recorded.shares(id) != p.TotalShares {
		return false, nil
	}
	p.Lifecycle = models.LifecycleFunded
	return true, nil
}

func (m *memProjects) ListFundingClosed(_ context.Context, now time.Time) ([]*models.Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Project
	for _, p := range m.projects {
		if p.Lifecycle == models.LifecycleFundingActive && p.FundingEnd != nil && !p.FundingEnd.After(now) {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memProjects) get(id uuid.UUID) models.Project {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.projects[id]
}

// ---

type memInvestments struct {
	mu      sync.Mutex
	items   []*models.Investment
	failErr error
}

func (m *memInvestments) Create(_ context.Context, i *models.Investment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failErr != nil {
		return m.failErr
	}
	cp := *i
	m.items = append(m.items, &cp)
	return nil
}

func (m *memInvestments) shares(projectID uuid.UUID) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, i := range m.items {
		if i.ProjectID == projectID && i.Payable() {
			n += i.Shares
		}
	}
	return n
}

func (m *memInvestments) GetByID(_ context.Context, id uuid.UUID) (*models.Investment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, i := range m.items {
		if i.ID == id {
			return i, nil
		}
	}
	return nil, errors.New("not found")
}

func (m *memInvestments) ListByProject(_ context.Context, projectID uuid.UUID) ([]*models.Investment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Investment
	for _, i := range m.items {
		if i.ProjectID == projectID {
			out = append(out, i)
		}
	}
	return out, nil
}

// ---

type fakeLedger struct {
	mu        sync.Mutex
	balances  map[uuid.UUID]int64 // by wallet
	walletOf  map[uuid.UUID]uuid.UUID
	transfers []ledger.TransferRequest
	gates     map[uuid.UUID]*gate
}

// gate parks transfers out of one wallet until released.
type gate struct {
	entered chan struct{}
	proceed chan struct{}
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balances: map[uuid.UUID]int64{models.PlatformWalletID: 0},
		walletOf: map[uuid.UUID]uuid.UUID{},
		gates:    map[uuid.UUID]*gate{},
	}
}

func (l *fakeLedger) hold(wallet uuid.UUID) *gate {
	g := &gate{entered: make(chan struct{}), proceed: make(chan struct{})}
	l.mu.Lock()
	l.gates[wallet] = g
	l.mu.Unlock()
	return g
}

func (l *fakeLedger) fund(account uuid.UUID, amount int64) uuid.UUID {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := uuid.New()
	l.walletOf[account] = w
	l.balances[w] = amount
	return w
}

func (l *fakeLedger) WalletByAccount(_ context.Context, accountID uuid.UUID) (*models.Wallet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	w, ok := l.walletOf[accountID]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	return &models.Wallet{ID: w, AccountID: accountID, Balance: l.balances[w]}, nil
}

func (l *fakeLedger) Transfer(_ context.Context, req ledger.TransferRequest) (*models.Transaction, *models.Transaction, error) {
	l.mu.Lock()
	g := l.gates[req.From]
	l.mu.Unlock()
	if g != nil {
		close(g.entered)
		<-g.proceed
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[req.From] < req.Amount {
		return nil, nil, ledger.ErrInsufficientFunds
	}
	l.balances[req.From] -= req.Amount
	l.balances[req.To] += req.Amount
	l.transfers = append(l.transfers, req)
	from := &models.Transaction{ID: uuid.New(), WalletID: req.From, Amount: -req.Amount, Kind: req.Kind, Reference: req.Reference + ":debit"}
	to := &models.Transaction{ID: uuid.New(), WalletID: req.To, Amount: req.Amount, Kind: req.Kind, Reference: req.Reference + ":credit"}
	return from, to, nil
}

func (l *fakeLedger) balance(wallet uuid.UUID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[wallet]
}

// ---

type nopAudit struct{}

func (nopAudit) Record(context.Context, uuid.UUID, string, models.EntityRef, map[string]any) {}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, uuid.UUID, uuid.UUID, models.EntityRef, string, string, string) {
}

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

func fundingProject(total, price int64) *models.Project {
	return &models.Project{
		ID:            uuid.New(),
		OwnerID:       uuid.New(),
		Title:         "Residence Les Tilleuls",
		TotalShares:   total,
		SharePrice:    price,
		MinInvestment: price,
		Lifecycle:     models.LifecycleFundingActive,
	}
}

func newTestService(projects *memProjects, investments *memInvestments, l *fakeLedger, policy lifecycle.FundedPolicy) *Service {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	projects.recorded = investments
	return NewService(projects, investments, l, nopAudit{}, nopNotifier{}, policy, logger)
}

// ---------------------------------------------------------------------------
// Invest
// ---------------------------------------------------------------------------

func TestInvest_Success(t *testing.T) {
	p := fundingProject(100, 1000)
	projects := newMemProjects(p)
	investments := &memInvestments{}
	l := newFakeLedger()
	investor := uuid.New()
	wallet := l.fund(investor, 50000)
	svc := newTestService(projects, investments, l, lifecycle.FundedOnExhaustion)

	inv, err := svc.Invest(context.Background(), investor, p.ID, 10500)
	if err != nil {
		t.Fatalf("Invest: %v", err)
	}
	if inv.Shares != 10 || inv.Fee != 500 {
		t.Errorf("shares/fee: got %d/%d, want 10/500", inv.Shares, inv.Fee)
	}
	if inv.Status != models.InvestmentActive {
		t.Errorf("status: got %q, want %q", inv.Status, models.InvestmentActive)
	}
	if inv.Shares*p.SharePrice+inv.Fee != inv.Amount {
		t.Error("shares*price + fee must equal amount")
	}
	if got := projects.get(p.ID).SharesSold; got != 10 {
		t.Errorf("shares_sold: got %d, want 10", got)
	}
	if got := l.balance(wallet); got != 39500 {
		t.Errorf("investor balance: got %d, want 39500", got)
	}
	if got := l.balance(models.PlatformWalletID); got != 10500 {
		t.Errorf("platform balance: got %d, want 10500", got)
	}
	if len(l.transfers) != 1 || l.transfers[0].Kind != models.TxKindInvestment || *l.transfers[0].InvestmentID != inv.ID {
		t.Errorf("expected one investment transfer linked to %s, got %+v", inv.ID, l.transfers)
	}
	if len(investments.items) != 1 {
		t.Errorf("persisted investments: got %d, want 1", len(investments.items))
	}
}

func TestInvest_PreconditionOrder(t *testing.T) {
	maxAmount := int64(20000)
	base := func() *models.Project {
		p := fundingProject(10, 1000)
		p.MinInvestment = 2000
		p.MaxInvestment = &maxAmount
		return p
	}

	cases := []struct {
		name   string
		mutate func(*models.Project)
		amount int64
		want   error
	}{
		{"not funding active wins over bad amount", func(p *models.Project) { p.Lifecycle = models.LifecycleLegalStructuring }, 1, ErrProjectNotOpen},
		{"below minimum", nil, 1500, ErrBelowMinimum},
		{"above maximum", nil, 25000, ErrAboveMaximum},
		{"no whole share", func(p *models.Project) { p.MinInvestment = 100 }, 500, ErrInvalidShareCount},
		{"more than remaining", func(p *models.Project) { p.SharesSold = 8 }, 3000, ErrOversubscribed},
	}
	for _, c := range cases {
		p := base()
		if c.mutate != nil {
			c.mutate(p)
		}
		projects := newMemProjects(p)
		l := newFakeLedger()
		investor := uuid.New()
		l.fund(investor, 100000)
		svc := newTestService(projects, &memInvestments{}, l, lifecycle.FundedOnExhaustion)

		_, err := svc.Invest(context.Background(), investor, p.ID, c.amount)
		if !errors.Is(err, c.want) {
			t.Errorf("%s: got %v, want %v", c.name, err, c.want)
		}
		if got := projects.get(p.ID).SharesSold; got != p.SharesSold {
			t.Errorf("%s: shares_sold changed to %d", c.name, got)
		}
		if len(l.transfers) != 0 {
			t.Errorf("%s: no money should move", c.name)
		}
	}
}

func TestInvest_InsufficientFundsReleasesShares(t *testing.T) {
	p := fundingProject(100, 1000)
	projects := newMemProjects(p)
	investments := &memInvestments{}
	l := newFakeLedger()
	investor := uuid.New()
	l.fund(investor, 999)
	svc := newTestService(projects, investments, l, lifecycle.FundedOnExhaustion)

	_, err := svc.Invest(context.Background(), investor, p.ID, 5000)
	if !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := projects.get(p.ID).SharesSold; got != 0 {
		t.Errorf("shares_sold after failed payment: got %d, want 0", got)
	}
	if len(investments.items) != 0 {
		t.Errorf("persisted investments: got %d, want 0", len(investments.items))
	}
}

func TestInvest_PersistFailureRefunds(t *testing.T) {
	p := fundingProject(100, 1000)
	projects := newMemProjects(p)
	investments := &memInvestments{failErr: errors.New("db down")}
	l := newFakeLedger()
	investor := uuid.New()
	wallet := l.fund(investor, 8000)
	svc := newTestService(projects, investments, l, lifecycle.FundedOnExhaustion)

	if _, err := svc.Invest(context.Background(), investor, p.ID, 3000); err == nil {
		t.Fatal("expected persist error")
	}
	if got := l.balance(wallet); got != 8000 {
		t.Errorf("investor balance after refund: got %d, want 8000", got)
	}
	if got := projects.get(p.ID).SharesSold; got != 0 {
		t.Errorf("shares_sold: got %d, want 0", got)
	}
	if len(l.transfers) != 2 || l.transfers[1].Kind != models.TxKindRepayment {
		t.Errorf("expected investment then repayment transfer, got %+v", l.transfers)
	}
}

func TestInvest_ConcurrentNeverOversells(t *testing.T) {
	const total = 50
	const perRequest = 5
	const requests = 23

	p := fundingProject(total, 100)
	projects := newMemProjects(p)
	investments := &memInvestments{}
	l := newFakeLedger()
	investors := make([]uuid.UUID, requests)
	for i := range investors {
		investors[i] = uuid.New()
		l.fund(investors[i], 100000)
	}
	svc := newTestService(projects, investments, l, lifecycle.FundedOnExhaustion)

	var wg sync.WaitGroup
	for _, investor := range investors {
		wg.Add(1)
		go func(investor uuid.UUID) {
			defer wg.Done()
			_, err := svc.Invest(context.Background(), investor, p.ID, perRequest*100)
			if err != nil && !errors.Is(err, ErrOversubscribed) && !errors.Is(err, ErrProjectNotOpen) {
				t.Errorf("unexpected error: %v", err)
			}
		}(investor)
	}
	wg.Wait()

	got := projects.get(p.ID)
	if got.SharesSold != total {
		t.Errorf("shares_sold: got %d, want exactly %d", got.SharesSold, total)
	}
	var allocated int64
	for _, inv := range investments.items {
		allocated += inv.Shares
	}
	if allocated != total {
		t.Errorf("allocated shares: got %d, want %d", allocated, total)
	}
	if got.Lifecycle != models.LifecycleFunded {
		t.Errorf("lifecycle: got %s, want funded", got.Lifecycle)
	}
	if platform := l.balance(models.PlatformWalletID); platform != total*100 {
		t.Errorf("platform balance: got %d, want %d", platform, total*100)
	}
}

func TestInvest_FailedPurchaseKeepsFundingOpen(t *testing.T) {
	p := fundingProject(100, 1000)
	projects := newMemProjects(p)
	investments := &memInvestments{}
	l := newFakeLedger()
	early, last, next := uuid.New(), uuid.New(), uuid.New()
	earlyGate := l.hold(l.fund(early, 0))
	lastGate := l.hold(l.fund(last, 10000))
	l.fund(next, 5000)
	svc := newTestService(projects, investments, l, lifecycle.FundedOnExhaustion)
	ctx := context.Background()

	earlyErr := make(chan error, 1)
	go func() {
		_, err := svc.Invest(ctx, early, p.ID, 90000)
		earlyErr <- err
	}()
	<-earlyGate.entered // 90 shares reserved, payment pending

	lastErr := make(chan error, 1)
	go func() {
		_, err := svc.Invest(ctx, last, p.ID, 10000)
		lastErr <- err
	}()
	<-lastGate.entered // remaining 10 reserved, shares_sold == total

	close(earlyGate.proceed)
	if err := <-earlyErr; !errors.Is(err, ledger.ErrInsufficientFunds) {
		t.Fatalf("early investor: expected ErrInsufficientFunds, got %v", err)
	}
	close(lastGate.proceed)
	if err := <-lastErr; err != nil {
		t.Fatalf("last investor: %v", err)
	}

	got := projects.get(p.ID)
	if got.SharesSold != 10 {
		t.Errorf("shares_sold: got %d, want 10", got.SharesSold)
	}
	if got.Lifecycle != models.LifecycleFundingActive {
		t.Fatalf("lifecycle: got %s with %d/%d shares sold, want funding_active", got.Lifecycle, got.SharesSold, got.TotalShares)
	}
	if _, err := svc.Invest(ctx, next, p.ID, 5000); err != nil {
		t.Errorf("released shares must stay on sale: %v", err)
	}
}

func TestInvest_LastRecordedPurchaseMarksFunded(t *testing.T) {
	p := fundingProject(100, 1000)
	projects := newMemProjects(p)
	investments := &memInvestments{}
	l := newFakeLedger()
	early, last := uuid.New(), uuid.New()
	earlyGate := l.hold(l.fund(early, 90000))
	l.fund(last, 10000)
	svc := newTestService(projects, investments, l, lifecycle.FundedOnExhaustion)
	ctx := context.Background()

	earlyErr := make(chan error, 1)
	go func() {
		_, err := svc.Invest(ctx, early, p.ID, 90000)
		earlyErr <- err
	}()
	<-earlyGate.entered

	// Sells the last shares while the early purchase is still unpaid.
	if _, err := svc.Invest(ctx, last, p.ID, 10000); err != nil {
		t.Fatalf("last investor: %v", err)
	}
	if got := projects.get(p.ID).Lifecycle; got != models.LifecycleFundingActive {
		t.Errorf("lifecycle before early payment: got %s, want funding_active", got)
	}

	close(earlyGate.proceed)
	if err := <-earlyErr; err != nil {
		t.Fatalf("early investor: %v", err)
	}
	if got := projects.get(p.ID).Lifecycle; got != models.LifecycleFunded {
		t.Errorf("lifecycle: got %s, want funded", got)
	}
}

func TestInvest_ClosedAfterReadIsNotOversubscribed(t *testing.T) {
	p := fundingProject(100, 1000)
	projects := &closingProjects{memProjects: newMemProjects(p)}
	l := newFakeLedger()
	investor := uuid.New()
	l.fund(investor, 5000)
	svc := newTestService(projects.memProjects, &memInvestments{}, l, lifecycle.FundedOnExhaustion)
	svc.Projects = projects

	_, err := svc.Invest(context.Background(), investor, p.ID, 5000)
	if !errors.Is(err, ErrProjectNotOpen) {
		t.Errorf("expected ErrProjectNotOpen, got %v", err)
	}
	if len(l.transfers) != 0 {
		t.Error("no money should move")
	}
}

// closingProjects closes funding between the read and the reservation.
type closingProjects struct {
	*memProjects
}

func (c *closingProjects) ReserveShares(ctx context.Context, id uuid.UUID, shares int64) (bool, error) {
	if _, err := c.TransitionLifecycle(ctx, id, models.LifecycleFundingActive, models.LifecycleFunded); err != nil {
		return false, err
	}
	return c.memProjects.ReserveShares(ctx, id, shares)
}

func TestInvest_WindowPolicyKeepsFundingOpen(t *testing.T) {
	p := fundingProject(10, 100)
	projects := newMemProjects(p)
	l := newFakeLedger()
	investor := uuid.New()
	l.fund(investor, 1000)
	svc := newTestService(projects, &memInvestments{}, l, lifecycle.FundedOnWindowClose)

	if _, err := svc.Invest(context.Background(), investor, p.ID, 1000); err != nil {
		t.Fatalf("Invest: %v", err)
	}
	if got := projects.get(p.ID).Lifecycle; got != models.LifecycleFundingActive {
		t.Errorf("lifecycle: got %s, want funding_active until window closes", got)
	}
}

// ---------------------------------------------------------------------------
// Lifecycle triggers
// ---------------------------------------------------------------------------

func TestCloseExpiredWindows(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	expired := fundingProject(10, 100)
	expired.FundingEnd = &past
	open := fundingProject(10, 100)
	open.FundingEnd = &future
	projects := newMemProjects(expired, open)

	svc := newTestService(projects, &memInvestments{}, newFakeLedger(), lifecycle.FundedOnEither)
	n, err := svc.CloseExpiredWindows(context.Background())
	if err != nil {
		t.Fatalf("CloseExpiredWindows: %v", err)
	}
	if n != 1 {
		t.Errorf("moved: got %d, want 1", n)
	}
	if got := projects.get(expired.ID).Lifecycle; got != models.LifecycleFunded {
		t.Errorf("expired project: got %s, want funded", got)
	}
	if got := projects.get(open.ID).Lifecycle; got != models.LifecycleFundingActive {
		t.Errorf("open project: got %s, want funding_active", got)
	}

	exhaustionOnly := newTestService(newMemProjects(expired), &memInvestments{}, newFakeLedger(), lifecycle.FundedOnExhaustion)
	if n, _ := exhaustionOnly.CloseExpiredWindows(context.Background()); n != 0 {
		t.Errorf("exhaustion policy should not close windows, moved %d", n)
	}
}

func TestOpenFunding(t *testing.T) {
	p := fundingProject(10, 100)
	p.Lifecycle = models.LifecycleLegalStructuring
	projects := newMemProjects(p)
	svc := newTestService(projects, &memInvestments{}, newFakeLedger(), lifecycle.FundedOnExhaustion)
	ctx := context.Background()

	if err := svc.OpenFunding(ctx, uuid.New(), p.ID); err != nil {
		t.Fatalf("OpenFunding: %v", err)
	}
	if got := projects.get(p.ID).Lifecycle; got != models.LifecycleFundingActive {
		t.Errorf("lifecycle: got %s, want funding_active", got)
	}
	if err := svc.OpenFunding(ctx, uuid.New(), p.ID); !errors.Is(err, lifecycle.ErrIllegalTransition) {
		t.Errorf("second OpenFunding: expected ErrIllegalTransition, got %v", err)
	}
}

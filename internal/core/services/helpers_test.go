package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"chama-engine/internal/adapters/persistence/models"
	"chama-engine/internal/adapters/persistence/repositories"
	"chama-engine/internal/config"
	"chama-engine/internal/core/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testPolicy() config.PolicyConfig {
	return config.PolicyConfig{
		GracePeriod:             72 * time.Hour,
		LatePenaltyRate:         10,
		LoanEligibilityMultiple: 3,
		LoanTermInstallments:    3,
		LoanRepaymentFrequency:  "MONTHLY",
		InterestMethod:          "SIMPLE",
		DefaultAfterOverdue:     2,
		ReminderLeadTime:        72 * time.Hour,
	}
}

func newTestStore(t *testing.T) *repositories.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, models.AutoMigrate(db))
	return repositories.NewStore(db)
}

// fakeGateway records payment instructions and answers with a fixed status,
// failing the first failFirst calls.
type fakeGateway struct {
	mu        sync.Mutex
	status    domain.PaymentStatus
	failFirst int
	calls     []PaymentRequest
}

func (g *fakeGateway) InitiatePayment(_ context.Context, req PaymentRequest) (*PaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if len(g.calls) <= g.failFirst {
		return nil, fmt.Errorf("gateway unavailable")
	}
	return &PaymentResult{Reference: req.Reference, Status: g.status}, nil
}

func (g *fakeGateway) Calls() []PaymentRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]PaymentRequest(nil), g.calls...)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []Notice
}

func (n *recordingNotifier) Notify(_ context.Context, notice Notice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
	return nil
}

func (n *recordingNotifier) types() []domain.EventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]domain.EventType, len(n.notices))
	for i, x := range n.notices {
		out[i] = x.Type
	}
	return out
}

type harness struct {
	t          *testing.T
	ctx        context.Context
	store      *repositories.Store
	gateway    *fakeGateway
	notifier   *recordingNotifier
	dispatcher *OutboxDispatcher
	groups     *GroupService
	cycles     *CycleService
	loans      *LoanService
	meetings   *MeetingService
	settlement *SettlementService
	admin      domain.Actor
	seq        int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := newTestStore(t)
	policy := testPolicy()
	h := &harness{
		t:        t,
		ctx:      context.Background(),
		store:    store,
		gateway:  &fakeGateway{status: domain.PaymentConfirmed},
		notifier: &recordingNotifier{},
	}
	h.dispatcher = NewOutboxDispatcher(store, h.gateway, h.notifier, config.OutboxConfig{
		MaxAttempts: 3,
		BaseBackoff: time.Minute,
		MaxBackoff:  10 * time.Minute,
		BatchSize:   100,
	}, nil, nil)

	authz := DefaultRolePolicy()
	h.groups = NewGroupService(store, authz, nil, nil)
	h.cycles = NewCycleService(store, authz, h.dispatcher, policy, nil, nil)
	h.loans = NewLoanService(store, authz, h.dispatcher, policy, nil, nil)
	h.meetings = NewMeetingService(store, authz, h.dispatcher, nil, nil)
	h.settlement = NewSettlementService(h.cycles, h.loans)
	h.dispatcher.SetSettler(h.settlement)

	admin := h.user("admin", domain.RoleAdmin)
	h.admin = domain.Actor{UserID: admin.ID, Role: domain.RoleAdmin}
	return h
}

func (h *harness) user(name string, role domain.Role) *models.User {
	h.t.Helper()
	h.seq++
	u := &models.User{
		Username: name,
		FullName: name,
		Email:    name + "@example.com",
		Phone:    fmt.Sprintf("0712%06d", h.seq),
		Password: "x",
		Role:     role,
		IsActive: true,
	}
	require.NoError(h.t, h.store.Users.Create(h.ctx, u))
	return u
}

// group creates a chama contributing amount per cycle with n active members.
func (h *harness) group(name, amount string, n int) (*models.Group, []*models.Membership) {
	h.t.Helper()
	g, err := h.groups.CreateGroup(h.ctx, h.admin, CreateGroupInput{
		Name:                  name,
		ContributionAmount:    dec(amount),
		ContributionFrequency: "MONTHLY",
		GracePeriodHours:      72,
		LatePenaltyRate:       dec("10"),
		MaxMembers:            10,
	}, "127.0.0.1")
	require.NoError(h.t, err)

	members := make([]*models.Membership, n)
	for i := range members {
		u := h.user(fmt.Sprintf("%s-m%d", name, i+1), domain.RoleMember)
		members[i], err = h.groups.AddMember(h.ctx, h.admin, g.ID, AddMemberInput{UserID: u.ID}, "127.0.0.1")
		require.NoError(h.t, err)
	}
	return g, members
}

func (h *harness) contribute(cycleID, memberID uint, amount string) *ContributionResult {
	h.t.Helper()
	res, err := h.cycles.RecordContribution(h.ctx, h.admin, cycleID, ContributionInput{
		MemberID: memberID,
		Amount:   dec(amount),
		Method:   "MPESA",
	}, "127.0.0.1")
	require.NoError(h.t, err)
	return res
}

// fundCycle opens a cycle and has every member pay in full.
func (h *harness) fundCycle(g *models.Group, members []*models.Membership, amount string) (*models.Cycle, *models.Payout) {
	h.t.Helper()
	cycle, err := h.cycles.OpenCycle(h.ctx, h.admin, g.ID, "")
	require.NoError(h.t, err)
	var res *ContributionResult
	for _, m := range members {
		res = h.contribute(cycle.ID, m.ID, amount)
	}
	require.NotNil(h.t, res.Payout)
	return res.Cycle, res.Payout
}

func (h *harness) memberActor(m *models.Membership) domain.Actor {
	return domain.Actor{UserID: m.UserID, Role: domain.RoleMember}
}

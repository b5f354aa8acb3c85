package app

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/custodia/escrow-service/internal/domain"
	"github.com/custodia/escrow-service/internal/store"
	"github.com/custodia/escrow-service/pkg/ledgerclient"
)

const (
	testAdmin = "addr_admin"
	testDesk  = "addr_desk"
	testPool  = "addr_pool"
)

// memRepo is an in-memory store.Repository used by the desk tests. Unneeded
// methods fall through to the embedded nil interface and panic if called.
type memRepo struct {
	store.Repository

	mu sync.Mutex

	requests      map[int64]*domain.Request
	nextRequestID int64

	contributions map[int64]*domain.Contribution
	votes         map[int64][]domain.Vote
	nextContribID int64

	validators []domain.Validator
	settings   domain.DeskSettings

	stats     map[string]*domain.ContributorStats
	statOrder []string

	locks map[string]struct{}
}

func newMemRepo(settings domain.DeskSettings) *memRepo {
	return &memRepo{
		requests:      make(map[int64]*domain.Request),
		contributions: make(map[int64]*domain.Contribution),
		votes:         make(map[int64][]domain.Vote),
		settings:      settings,
		stats:         make(map[string]*domain.ContributorStats),
		locks:         make(map[string]struct{}),
	}
}

func lockKey(scope string, entityID int64) string {
	return scope + "/" + strconv.FormatInt(entityID, 10)
}

func copyRequest(r *domain.Request) *domain.Request {
	c := *r
	return &c
}

func copyContribution(c *domain.Contribution) *domain.Contribution {
	cp := *c
	cp.Validators = append([]string(nil), c.Validators...)
	return &cp
}

func (m *memRepo) CreateRequest(ctx context.Context, r *domain.Request) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	created := copyRequest(r)
	created.ID = m.nextRequestID
	created.CreatedAt = now
	created.UpdatedAt = now
	m.nextRequestID++
	m.requests[created.ID] = created
	return copyRequest(created), nil
}

func (m *memRepo) DeleteRequest(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[id]; !ok {
		return store.ErrRequestNotFound
	}
	delete(m.requests, id)
	return nil
}

func (m *memRepo) GetRequestByID(ctx context.Context, id int64) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, store.ErrRequestNotFound
	}
	return copyRequest(r), nil
}

func (m *memRepo) CountRequests(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.requests)), nil
}

func (m *memRepo) ListRequests(ctx context.Context, opts domain.ListOptions) ([]domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.requests))
	for id := range m.requests {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := []domain.Request{}
	for i := opts.Offset; i < len(ids) && len(out) < opts.Limit; i++ {
		out = append(out, *copyRequest(m.requests[ids[i]]))
	}
	return out, nil
}

func (m *memRepo) ListOpenRequests(ctx context.Context) ([]domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Request{}
	for _, r := range m.requests {
		if !r.Fulfilled {
			out = append(out, *copyRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) ListOpenRequestsByRequester(ctx context.Context, requester string) ([]domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []domain.Request{}
	for _, r := range m.requests {
		if !r.Fulfilled && r.Requester == requester {
			out = append(out, *copyRequest(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) CompleteRequestByAdmin(ctx context.Context, id int64, response string) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, store.ErrRequestNotFound
	}
	if r.Fulfilled {
		return nil, store.ErrStaleSettlementState
	}
	r.Fulfilled = true
	r.Response = response
	r.PendingApproval = false
	r.UpdatedAt = time.Now().UTC()
	return copyRequest(r), nil
}

func (m *memRepo) AttachCompletion(ctx context.Context, id int64, resolver, documentRef string, submittedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return store.ErrRequestNotFound
	}
	if r.Fulfilled || r.PendingApproval {
		return store.ErrStaleSettlementState
	}
	at := submittedAt
	r.Resolver = resolver
	r.DocumentRef = documentRef
	r.PendingApproval = true
	r.CompletionSubmittedAt = &at
	return nil
}

func (m *memRepo) ClearCompletion(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return store.ErrRequestNotFound
	}
	if r.Fulfilled || !r.PendingApproval {
		return store.ErrStaleSettlementState
	}
	r.Resolver = ""
	r.DocumentRef = ""
	r.PendingApproval = false
	r.CompletionSubmittedAt = nil
	return nil
}

func (m *memRepo) SettleRequestPayout(ctx context.Context, id int64, requester string) (*domain.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, store.ErrRequestNotFound
	}
	if r.Requester != requester || r.Fulfilled || !r.PendingApproval {
		return nil, store.ErrStaleSettlementState
	}
	r.Fulfilled = true
	r.PendingApproval = false
	r.UpdatedAt = time.Now().UTC()
	return copyRequest(r), nil
}

func (m *memRepo) ReopenRequestPayout(ctx context.Context, id int64, resolver, documentRef string, submittedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return store.ErrRequestNotFound
	}
	at := submittedAt
	r.Fulfilled = false
	r.PendingApproval = true
	r.Resolver = resolver
	r.DocumentRef = documentRef
	r.CompletionSubmittedAt = &at
	return nil
}

func (m *memRepo) ReservedTotal(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, r := range m.requests {
		if !r.Fulfilled {
			total += r.Payment
		}
	}
	return total, nil
}

func (m *memRepo) CreateContribution(ctx context.Context, c *domain.Contribution, validators []string) (*domain.Contribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	created := copyContribution(c)
	created.ID = m.nextContribID
	created.Validators = append([]string(nil), validators...)
	created.CreatedAt = now
	created.UpdatedAt = now
	m.nextContribID++
	m.contributions[created.ID] = created
	return copyContribution(created), nil
}

// forceDeadline rewrites a contribution's review deadline so tests can move
// it across the finalization boundary without sleeping.
func (m *memRepo) forceDeadline(id int64, deadline time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contributions[id]; ok {
		c.ReviewDeadline = deadline
	}
}

func (m *memRepo) GetContributionByID(ctx context.Context, id int64) (*domain.Contribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contributions[id]
	if !ok {
		return nil, store.ErrContributionNotFound
	}
	return copyContribution(c), nil
}

func (m *memRepo) CountContributions(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.contributions)), nil
}

func (m *memRepo) ListContributions(ctx context.Context, opts domain.ListOptions) ([]domain.Contribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.contributions))
	for id := range m.contributions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := []domain.Contribution{}
	for i := opts.Offset; i < len(ids) && len(out) < opts.Limit; i++ {
		out = append(out, *copyContribution(m.contributions[ids[i]]))
	}
	return out, nil
}

func (m *memRepo) ListVotes(ctx context.Context, id int64) ([]domain.Vote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Vote(nil), m.votes[id]...), nil
}

func (m *memRepo) RecordVote(ctx context.Context, id int64, validator string, choice domain.VoteChoice, votedAt time.Time) (*domain.Contribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contributions[id]
	if !ok {
		return nil, store.ErrContributionNotFound
	}
	for _, v := range m.votes[id] {
		if v.Validator == validator {
			return nil, store.ErrAlreadyVoted
		}
	}
	if c.Status != domain.ContributionUnderReview {
		return nil, store.ErrStaleSettlementState
	}
	at := votedAt
	m.votes[id] = append(m.votes[id], domain.Vote{ContributionID: id, Validator: validator, Choice: choice, VotedAt: &at})
	if choice == domain.VoteApprove {
		c.ApprovalCount++
	} else {
		c.RejectionCount++
	}
	c.UpdatedAt = votedAt
	return copyContribution(c), nil
}

func (m *memRepo) RemoveVote(ctx context.Context, id int64, validator string, choice domain.VoteChoice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	votes := m.votes[id]
	for i, v := range votes {
		if v.Validator == validator {
			m.votes[id] = append(votes[:i], votes[i+1:]...)
			if c, ok := m.contributions[id]; ok {
				if choice == domain.VoteApprove {
					c.ApprovalCount--
				} else {
					c.RejectionCount--
				}
			}
			return nil
		}
	}
	return nil
}

func (m *memRepo) ApplyFinalizationDecision(ctx context.Context, id int64, quorum int) (*domain.Contribution, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contributions[id]
	if !ok || c.Status != domain.ContributionUnderReview {
		return nil, store.ErrStaleSettlementState
	}
	if c.ApprovalCount >= quorum {
		c.Status = domain.ContributionApproved
	} else {
		c.Status = domain.ContributionRejected
	}
	c.UpdatedAt = time.Now().UTC()
	return copyContribution(c), nil
}

func (m *memRepo) TransitionContributionStatus(ctx context.Context, id int64, from, to domain.ContributionStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contributions[id]
	if !ok {
		return false, store.ErrContributionNotFound
	}
	if c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memRepo) MarkRewardPaid(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contributions[id]
	if !ok {
		return store.ErrContributionNotFound
	}
	c.RewardPaid = true
	return nil
}

func (m *memRepo) ClearRewardPaid(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contributions[id]; ok {
		c.RewardPaid = false
	}
	return nil
}

func (m *memRepo) MarkRewardClaimed(ctx context.Context, id int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contributions[id]
	if !ok {
		return false, nil
	}
	if c.Status != domain.ContributionApproved || c.RewardPaid || c.RewardClaimed {
		return false, nil
	}
	c.RewardClaimed = true
	return true, nil
}

func (m *memRepo) ClearRewardClaimed(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.contributions[id]; ok {
		c.RewardClaimed = false
	}
	return nil
}

func (m *memRepo) AddContributorReward(ctx context.Context, contributor string, amount int64, approvedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[contributor]
	if !ok {
		at := approvedAt
		s = &domain.ContributorStats{Address: contributor, FirstApprovedAt: &at}
		m.stats[contributor] = s
		m.statOrder = append(m.statOrder, contributor)
	}
	s.TotalRewards += amount
	s.ApprovedCount++
	return nil
}

func (m *memRepo) GetContributorStats(ctx context.Context, contributor string) (*domain.ContributorStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.stats[contributor]
	if !ok {
		return nil, store.ErrContributorNotFound
	}
	c := *s
	return &c, nil
}

func (m *memRepo) TopContributors(ctx context.Context, limit int) ([]domain.ContributorStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.ContributorStats, 0, len(m.statOrder))
	for _, addr := range m.statOrder {
		out = append(out, *m.stats[addr])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TotalRewards > out[j].TotalRewards })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memRepo) AddValidator(ctx context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, v := range m.validators {
		if v.Address == address {
			return store.ErrValidatorExists
		}
	}
	m.validators = append(m.validators, domain.Validator{
		Address:  address,
		Position: len(m.validators),
		AddedAt:  time.Now().UTC(),
	})
	return nil
}

func (m *memRepo) RemoveValidator(ctx context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, v := range m.validators {
		if v.Address == address {
			last := len(m.validators) - 1
			m.validators[i] = m.validators[last]
			m.validators[i].Position = i
			m.validators = m.validators[:last]
			if len(m.validators) > 0 {
				m.settings.RotationCursor %= len(m.validators)
			} else {
				m.settings.RotationCursor = 0
			}
			return nil
		}
	}
	return store.ErrValidatorNotFound
}

func (m *memRepo) ListValidators(ctx context.Context) ([]domain.Validator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Validator(nil), m.validators...), nil
}

func (m *memRepo) GetDeskSettings(ctx context.Context) (*domain.DeskSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.settings
	return &s, nil
}

func (m *memRepo) SetMinQuorum(ctx context.Context, quorum int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.MinQuorum = quorum
	return nil
}

func (m *memRepo) SetReviewPeriod(ctx context.Context, seconds int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.ReviewPeriodSeconds = seconds
	return nil
}

func (m *memRepo) SetPoolAddress(ctx context.Context, address string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings.PoolAddress = address
	return nil
}

func (m *memRepo) AdvanceRotationCursor(ctx context.Context, by int, panelSize int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if panelSize <= 0 {
		return nil
	}
	m.settings.RotationCursor = (m.settings.RotationCursor + by) % panelSize
	return nil
}

func (m *memRepo) AcquireSettlementLock(ctx context.Context, scope string, entityID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := lockKey(scope, entityID)
	if _, held := m.locks[key]; held {
		return false, nil
	}
	m.locks[key] = struct{}{}
	return true, nil
}

func (m *memRepo) ReleaseSettlementLock(ctx context.Context, scope string, entityID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, lockKey(scope, entityID))
	return nil
}

// ledgerCall records one transfer observed by the fake ledger.
type ledgerCall struct {
	Path   string
	From   string
	To     string
	Amount int64
}

// fakeLedger is an httptest-backed stand-in for the external credit ledger.
// OnTransfer runs synchronously inside the transfer handler, which lets tests
// simulate a malicious recipient reentering the service mid-transfer.
type fakeLedger struct {
	mu               sync.Mutex
	balances         map[string]int64
	calls            []ledgerCall
	failTransfer     bool
	failTransferFrom bool
	OnTransfer       func()

	server *httptest.Server
}

func newFakeLedger() *fakeLedger {
	f := &fakeLedger{balances: make(map[string]int64)}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	return f
}

func (f *fakeLedger) Close() { f.server.Close() }

func (f *fakeLedger) setBalance(address string, balance int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = balance
}

func (f *fakeLedger) transferCalls() []ledgerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledgerCall(nil), f.calls...)
}

func (f *fakeLedger) handle(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/transfers":
		f.handleTransfer(w, r, f.failTransfer)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/transfers/allowance":
		f.handleAllowanceTransfer(w, r, f.failTransferFrom)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v1/balances/"):
		address := strings.TrimPrefix(r.URL.Path, "/api/v1/balances/")
		f.mu.Lock()
		balance := f.balances[address]
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"data":{"address":"`+address+`","balance":`+jsonInt(balance)+`}}`)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeLedger) handleTransfer(w http.ResponseWriter, r *http.Request, fail bool) {
	var req ledgerclient.TransferRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if fail {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = io.WriteString(w, `{"errors":[{"title":"transfer_rejected","detail":"recipient rejected the transfer","status":"402"}]}`)
		return
	}
	f.mu.Lock()
	f.calls = append(f.calls, ledgerCall{Path: r.URL.Path, From: req.From, To: req.To, Amount: req.Amount})
	callback := f.OnTransfer
	f.mu.Unlock()
	if callback != nil {
		callback()
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"data":{"id":"led_tx_1","status":"completed"}}`)
}

func (f *fakeLedger) handleAllowanceTransfer(w http.ResponseWriter, r *http.Request, fail bool) {
	var req ledgerclient.TransferFromRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if fail {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusPaymentRequired)
		_, _ = io.WriteString(w, `{"errors":[{"title":"insufficient_allowance","detail":"allowance exhausted","status":"402"}]}`)
		return
	}
	f.mu.Lock()
	f.calls = append(f.calls, ledgerCall{Path: r.URL.Path, From: req.Owner, To: req.To, Amount: req.Amount})
	callback := f.OnTransfer
	f.mu.Unlock()
	if callback != nil {
		callback()
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"data":{"id":"led_tx_2","status":"completed"}}`)
}

func jsonInt(v int64) string {
	b, _ := json.Marshal(v)
	return string(b)
}

func newTestService(repo store.Repository, ledgerURL string) *Service {
	return NewService(repo, ledgerclient.NewClient(ledgerURL, "test-key"), nil, testAdmin, testDesk, 25, 2000, 200, 4000)
}

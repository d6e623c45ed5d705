package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/digkill/TGArtBot/internal/kie"
	"github.com/digkill/TGArtBot/internal/models"
)

// fakeUserStore is an in-memory LedgerUserStore / PaymentUserStore with
// the same conditional-update semantics as the MySQL repository.
type fakeUserStore struct {
	mu    sync.Mutex
	users map[int64]*models.User
}

func newFakeUserStore(users ...*models.User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[int64]*models.User)}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func (s *fakeUserStore) FindByID(ctx context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	copied := *u
	return &copied, nil
}

func (s *fakeUserStore) DeductBalance(ctx context.Context, userID int64, amount decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return false, fmt.Errorf("user %d not found", userID)
	}
	if u.Balance.LessThan(amount) {
		return false, nil
	}
	u.Balance = u.Balance.Sub(amount)
	return true, nil
}

func (s *fakeUserStore) CreditBalance(ctx context.Context, userID int64, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return fmt.Errorf("user %d not found", userID)
	}
	u.Balance = u.Balance.Add(amount)
	return nil
}

func (s *fakeUserStore) Balance(ctx context.Context, userID int64) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return decimal.Zero, fmt.Errorf("user %d not found", userID)
	}
	return u.Balance, nil
}

// fakeTaskStore mirrors the repository's conditional updates: only a
// created task can move, only an undeducted one can be flagged.
type fakeTaskStore struct {
	mu    sync.Mutex
	tasks map[string]*models.Task
}

func newFakeTaskStore(tasks ...*models.Task) *fakeTaskStore {
	s := &fakeTaskStore{tasks: make(map[string]*models.Task)}
	for _, task := range tasks {
		s.tasks[task.ID] = task
	}
	return s
}

func (s *fakeTaskStore) Create(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return fmt.Errorf("task %s already exists", task.ID)
	}
	copied := *task
	s.tasks[task.ID] = &copied
	return nil
}

func (s *fakeTaskStore) Get(ctx context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok {
		return nil, nil
	}
	copied := *task
	return &copied, nil
}

func (s *fakeTaskStore) MarkDeducted(ctx context.Context, id string, status models.TaskStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || task.PriceDeducted || task.Status != models.TaskCreated {
		return false, nil
	}
	task.PriceDeducted = true
	task.Status = status
	return true, nil
}

func (s *fakeTaskStore) MarkTerminal(ctx context.Context, id string, status models.TaskStatus, failCode, failMsg string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || task.Status != models.TaskCreated {
		return false, nil
	}
	task.Status = status
	task.FailCode = failCode
	task.FailMsg = failMsg
	return true, nil
}

func (s *fakeTaskStore) SetNeedsReview(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if task, ok := s.tasks[id]; ok {
		task.NeedsReview = true
	}
	return nil
}

func (s *fakeTaskStore) status(id string) models.TaskStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id].Status
}

// fakeProvider scripts the remote API: a fixed task ID for CreateTask
// and a queue of status snapshots for GetTaskInfo, the last one
// repeating.
type fakeProvider struct {
	mu        sync.Mutex
	createID  string
	createErr error
	infos     []*kie.TaskInfo
	polls     int
}

func (p *fakeProvider) CreateTask(ctx context.Context, modelType string, input map[string]any) (string, error) {
	if p.createErr != nil {
		return "", p.createErr
	}
	return p.createID, nil
}

func (p *fakeProvider) GetTaskInfo(ctx context.Context, taskID string) (*kie.TaskInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.polls++
	if len(p.infos) == 0 {
		return &kie.TaskInfo{TaskID: taskID, State: kie.StateWaiting}, nil
	}
	info := p.infos[0]
	if len(p.infos) > 1 {
		p.infos = p.infos[1:]
	}
	return info, nil
}

func (p *fakeProvider) pollCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls
}

// fakeNotifier records every outgoing message.
type fakeNotifier struct {
	mu        sync.Mutex
	texts     []string
	media     []string
	documents []string
	operator  []string
	mediaErr  error
	docErr    error
}

func (n *fakeNotifier) SendText(chatID int64, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
}

func (n *fakeNotifier) SendMedia(ctx context.Context, chatID int64, url string, video bool, caption string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.mediaErr != nil {
		return n.mediaErr
	}
	n.media = append(n.media, url)
	return nil
}

func (n *fakeNotifier) SendDocument(ctx context.Context, chatID int64, url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.docErr != nil {
		return n.docErr
	}
	n.documents = append(n.documents, url)
	return nil
}

func (n *fakeNotifier) NotifyOperators(text string, requestID int64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.operator = append(n.operator, text)
}

func (n *fakeNotifier) mediaCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.media)
}

func (n *fakeNotifier) textCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.texts)
}

func (n *fakeNotifier) allTexts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.texts...)
}

// fakePaymentStore mirrors the conditional resolve of the repository.
type fakePaymentStore struct {
	mu     sync.Mutex
	nextID int64
	reqs   map[int64]*models.PaymentRequest
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{reqs: make(map[int64]*models.PaymentRequest)}
}

func (s *fakePaymentStore) Create(ctx context.Context, req *models.PaymentRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	req.ID = s.nextID
	copied := *req
	s.reqs[req.ID] = &copied
	return nil
}

func (s *fakePaymentStore) Get(ctx context.Context, id int64) (*models.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.reqs[id]
	if !ok {
		return nil, nil
	}
	copied := *req
	return &copied, nil
}

func (s *fakePaymentStore) Resolve(ctx context.Context, id int64, status models.PaymentStatus, operatorID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.reqs[id]
	if !ok || req.Status != models.PaymentPending {
		return false, nil
	}
	req.Status = status
	req.ResolvedBy = &operatorID
	return true, nil
}

func (s *fakePaymentStore) ListPending(ctx context.Context) ([]*models.PaymentRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.PaymentRequest
	for _, req := range s.reqs {
		if req.Status == models.PaymentPending {
			copied := *req
			out = append(out, &copied)
		}
	}
	return out, nil
}

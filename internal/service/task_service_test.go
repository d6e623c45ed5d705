package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/TGArtBot/internal/config"
	"github.com/digkill/TGArtBot/internal/kie"
	"github.com/digkill/TGArtBot/internal/models"
	"github.com/digkill/TGArtBot/internal/pricing"
)

func newTaskFixture(t *testing.T, provider *fakeProvider, balance string) (*TaskService, *fakeUserStore, *fakeTaskStore, *fakeNotifier) {
	t.Helper()
	cfg := config.Config{
		PollInitialDelay: time.Millisecond,
		PollInterval:     time.Millisecond,
		PollMaxAttempts:  5,
	}
	users := newFakeUserStore(&models.User{ID: 1, TelegramID: 100, Balance: money(balance)})
	tasks := newFakeTaskStore()
	notifier := &fakeNotifier{}
	ledger := NewLedgerService(testLogger(), users, tasks)
	svc := NewTaskService(cfg, testLogger(), provider, tasks, ledger, notifier)
	return svc, users, tasks, notifier
}

func imageModel() *models.Model {
	return &models.Model{
		ID:           "z-image",
		Name:         "Z-Image",
		ProviderType: "z-image",
		BaseCredits:  decimal.NullDecimal{Decimal: money("0.8"), Valid: true},
	}
}

func TestSubmit_SuccessDeliversAndDeductsOnce(t *testing.T) {
	provider := &fakeProvider{
		createID: "task-1",
		infos: []*kie.TaskInfo{
			{TaskID: "task-1", State: kie.StateGenerating},
			{TaskID: "task-1", State: kie.StateSuccess, ResultURLs: []string{"https://cdn.example/out.png"}},
		},
	}
	svc, users, tasks, notifier := newTaskFixture(t, provider, "100.00")
	user := &models.User{ID: 1, TelegramID: 100, Balance: money("100.00")}

	task, err := svc.Submit(context.Background(), 100, user, imageModel(), map[string]any{"prompt": "кот"}, pricing.Quote{Credits: money("0.8"), Price: money("0.62")})
	require.NoError(t, err)
	require.Equal(t, "task-1", task.ID)

	require.Eventually(t, func() bool {
		return tasks.status("task-1") == models.TaskCompleted
	}, time.Second, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		return notifier.mediaCount() == 1
	}, time.Second, 5*time.Millisecond)

	balance, err := users.Balance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "99.38", balance.StringFixed(2))
}

func TestSubmit_FailureNeverDeducts(t *testing.T) {
	provider := &fakeProvider{
		createID: "task-2",
		infos: []*kie.TaskInfo{
			{TaskID: "task-2", State: kie.StateFail, FailCode: "500", FailMsg: "internal error"},
		},
	}
	svc, users, tasks, notifier := newTaskFixture(t, provider, "100.00")
	user := &models.User{ID: 1, TelegramID: 100, Balance: money("100.00")}

	_, err := svc.Submit(context.Background(), 100, user, imageModel(), map[string]any{"prompt": "кот"}, pricing.Quote{Price: money("0.62")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return tasks.status("task-2") == models.TaskFailed
	}, time.Second, 5*time.Millisecond)

	balance, err := users.Balance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "100.00", balance.StringFixed(2))
	assert.Equal(t, 0, notifier.mediaCount())
}

func TestSubmit_PollBudgetExhaustedLeavesStatus(t *testing.T) {
	// The provider never reaches a terminal state; the poller gives up
	// without persisting any terminal status, so a later manual refresh
	// can still resolve the task.
	provider := &fakeProvider{createID: "task-3"}
	svc, users, tasks, notifier := newTaskFixture(t, provider, "100.00")
	user := &models.User{ID: 1, TelegramID: 100, Balance: money("100.00")}

	_, err := svc.Submit(context.Background(), 100, user, imageModel(), map[string]any{"prompt": "кот"}, pricing.Quote{Price: money("0.62")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		for _, text := range notifier.allTexts() {
			if strings.Contains(text, "/task task-3") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, models.TaskCreated, tasks.status("task-3"))
	assert.GreaterOrEqual(t, provider.pollCount(), 5)

	balance, err := users.Balance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "100.00", balance.StringFixed(2))
}

func TestRefresh_ResolvesLateSuccess(t *testing.T) {
	provider := &fakeProvider{
		createID: "task-4",
		infos: []*kie.TaskInfo{
			{TaskID: "task-4", State: kie.StateSuccess, ResultURLs: []string{"https://cdn.example/out.png"}},
		},
	}
	svc, users, tasks, notifier := newTaskFixture(t, provider, "100.00")
	require.NoError(t, tasks.Create(context.Background(), &models.Task{
		ID: "task-4", UserID: 1, ModelID: "z-image", Price: money("0.62"), Status: models.TaskCreated,
	}))

	require.NoError(t, svc.Refresh(context.Background(), 100, "task-4", 1))

	assert.Equal(t, models.TaskCompleted, tasks.status("task-4"))
	assert.Equal(t, 1, notifier.mediaCount())

	balance, err := users.Balance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "99.38", balance.StringFixed(2))

	// A second refresh reports the stored outcome without re-charging or
	// re-delivering.
	require.NoError(t, svc.Refresh(context.Background(), 100, "task-4", 1))
	assert.Equal(t, 1, notifier.mediaCount())
	balance, err = users.Balance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "99.38", balance.StringFixed(2))
}

func TestFinish_RacingResolversDeliverOnce(t *testing.T) {
	// The background poller and a manual refresh can both observe the
	// terminal status before either settles the task. Both work from a
	// stale snapshot; only the call that actually claims the deduction
	// delivers the media and announces the charge.
	provider := &fakeProvider{}
	svc, users, tasks, notifier := newTaskFixture(t, provider, "100.00")
	require.NoError(t, tasks.Create(context.Background(), &models.Task{
		ID: "task-7", UserID: 1, ModelID: "z-image", Price: money("0.62"), Status: models.TaskCreated,
	}))

	stale, err := tasks.Get(context.Background(), "task-7")
	require.NoError(t, err)
	info := &kie.TaskInfo{TaskID: "task-7", State: kie.StateSuccess, ResultURLs: []string{"https://cdn.example/out.png"}}

	first := *stale
	second := *stale
	svc.finish(context.Background(), 100, &first, info)
	svc.finish(context.Background(), 100, &second, info)

	assert.Equal(t, 1, notifier.mediaCount())
	charged := 0
	for _, text := range notifier.allTexts() {
		if strings.Contains(text, "Списано") {
			charged++
		}
	}
	assert.Equal(t, 1, charged)

	balance, err := users.Balance(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "99.38", balance.StringFixed(2))
}

func TestRefresh_ForeignTaskHidden(t *testing.T) {
	provider := &fakeProvider{}
	svc, _, tasks, notifier := newTaskFixture(t, provider, "100.00")
	require.NoError(t, tasks.Create(context.Background(), &models.Task{
		ID: "task-5", UserID: 2, ModelID: "z-image", Price: money("0.62"), Status: models.TaskCreated,
	}))

	require.NoError(t, svc.Refresh(context.Background(), 100, "task-5", 1))

	assert.Equal(t, 0, provider.pollCount(), "other users' tasks are never polled on demand")
	require.Equal(t, 1, notifier.textCount())
	assert.Contains(t, notifier.allTexts()[0], "не найдена")
}

func TestSubmit_SuccessWithEmptyResultFlagsReview(t *testing.T) {
	provider := &fakeProvider{
		createID: "task-6",
		infos: []*kie.TaskInfo{
			{TaskID: "task-6", State: kie.StateSuccess},
		},
	}
	svc, _, tasks, notifier := newTaskFixture(t, provider, "100.00")
	user := &models.User{ID: 1, TelegramID: 100, Balance: money("100.00")}

	_, err := svc.Submit(context.Background(), 100, user, imageModel(), map[string]any{"prompt": "кот"}, pricing.Quote{Price: money("0.62")})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		task, _ := tasks.Get(context.Background(), "task-6")
		return task != nil && task.NeedsReview
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, notifier.mediaCount())
}

package telegram

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/TGArtBot/internal/config"
	"github.com/digkill/TGArtBot/internal/models"
	"github.com/digkill/TGArtBot/internal/repository"
	"github.com/digkill/TGArtBot/internal/session"
)

// sentRecorder captures the text of every sendMessage the bot performs
// against the stubbed Bot API server.
type sentRecorder struct {
	mu    sync.Mutex
	texts []string
}

func (r *sentRecorder) add(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *sentRecorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

var catalogColumns = []string{"id", "name", "category", "provider_type", "base_credits", "params_json"}

func newBotFixture(t *testing.T) (*Bot, sqlmock.Sqlmock, *sentRecorder) {
	t.Helper()

	rec := &sentRecorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err == nil {
			if text := r.FormValue("text"); text != "" {
				rec.add(text)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"artbot","username":"artbot"}}`)
	}))
	t.Cleanup(srv.Close)

	api, err := tgbotapi.NewBotAPIWithAPIEndpoint("test-token", srv.URL+"/bot%s/%s")
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	sessions := session.NewStore(time.Minute, time.Second)
	bot := NewBot(config.Config{}, api, log, nil, repository.NewModelRepository(db), nil, nil, nil, nil, sessions, nil, nil)
	return bot, mock, rec
}

func TestStartCollecting_UnknownModel(t *testing.T) {
	bot, mock, rec := newBotFixture(t)
	mock.ExpectQuery("SELECT (.+) FROM catalog_models").
		WithArgs("no-such-model").
		WillReturnRows(sqlmock.NewRows(catalogColumns))

	user := &models.User{ID: 1, TelegramID: 100}
	bot.startCollecting(context.Background(), 100, user, "no-such-model")

	texts := rec.all()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "не найдена")
	assert.Nil(t, bot.sessions.Get(100), "no collecting session for a model that does not exist")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestHandleCollectText_RetiredModelClearsSession(t *testing.T) {
	// The model was removed from the catalog mid-dialogue; the next
	// message drops the stale session instead of continuing against a
	// model that no longer exists.
	bot, mock, rec := newBotFixture(t)
	mock.ExpectQuery("SELECT (.+) FROM catalog_models").
		WithArgs("retired-model").
		WillReturnRows(sqlmock.NewRows(catalogColumns))

	sess := &session.Session{Mode: session.ModeCollecting, ModelID: "retired-model", Params: map[string]any{}}
	bot.sessions.Set(100, sess)

	user := &models.User{ID: 1, TelegramID: 100}
	bot.handleCollectText(context.Background(), 100, user, sess, "кот в сапогах")

	assert.Nil(t, bot.sessions.Get(100))
	texts := rec.all()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "не найдена")
	require.NoError(t, mock.ExpectationsWereMet())
}

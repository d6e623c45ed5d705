package admin

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digkill/TGArtBot/internal/repository"
	"github.com/digkill/TGArtBot/internal/service"
)

var userColumns = []string{
	"id", "telegram_id", "username", "first_name", "last_name",
	"balance", "privileged", "banned", "created_at", "updated_at",
}

func newServerFixture(t *testing.T) (*Server, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	userRepo := repository.NewUserRepository(db)
	taskRepo := repository.NewTaskRepository(db)
	users := service.NewUserService(userRepo)
	ledger := service.NewLedgerService(log, userRepo, taskRepo)
	srv := NewServer(":0", "admin", "secret", log, users, ledger, nil, nil, nil, nil, nil)
	return srv, mock
}

func adminRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.SetBasicAuth("admin", "secret")
	return req
}

func TestDebitUser_UnknownUserNotFound(t *testing.T) {
	srv, mock := newServerFixture(t)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id =").
		WithArgs(int64(999)).
		WillReturnRows(sqlmock.NewRows(userColumns))

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, adminRequest(http.MethodPost, "/users/999/debit", `{"amount": 10}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	// No UPDATE was expected: the balance is never touched for an id
	// that has no user row.
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreditUser_UnknownUserNotFound(t *testing.T) {
	srv, mock := newServerFixture(t)
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id =").
		WithArgs(int64(999)).
		WillReturnRows(sqlmock.NewRows(userColumns))

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, adminRequest(http.MethodPost, "/users/999/credit", `{"amount": 10}`))

	assert.Equal(t, http.StatusNotFound, rec.Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDebitUser_ReturnsUpdatedBalance(t *testing.T) {
	srv, mock := newServerFixture(t)
	now := time.Now()
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id =").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(7, 100, "vasya", "Вася", "", "50.00", 0, 0, now, now))
	mock.ExpectExec("UPDATE users SET balance = GREATEST").
		WithArgs(sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM users WHERE id =").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(userColumns).
			AddRow(7, 100, "vasya", "Вася", "", "40.00", 0, 0, now, now))

	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, adminRequest(http.MethodPost, "/users/7/debit", `{"amount": 10}`))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"balance": "40"}`, rec.Body.String())
	require.NoError(t, mock.ExpectationsWereMet())
}

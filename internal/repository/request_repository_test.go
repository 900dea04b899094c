package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hangawi/ai-schedule-api/internal/models"
)

func newRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestRequestRepositoryCreateFillsDefaults(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	request := &models.Request{
		RoomID:      "room-1",
		RequesterID: "alice",
		Kind:        models.RequestKindTimeRequest,
		TimeSlot:    types.JSONText(`{"date":"2026-09-07","start_time":"10:00","end_time":"10:30"}`),
	}
	require.NoError(t, repo.Create(context.Background(), request))
	assert.NotEmpty(t, request.ID)
	assert.Equal(t, models.RequestStatusPending, request.Status)
	assert.False(t, request.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryUpdateStatusGuardsTerminalStates(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	// Zero rows matched: the request was already finalized elsewhere.
	mock.ExpectExec("UPDATE requests SET status").
		WillReturnResult(sqlmock.NewResult(0, 0))

	now := time.Now().UTC()
	err := repo.UpdateStatus(context.Background(), UpdateStatusParams{
		ID:          "req-1",
		Status:      models.RequestStatusApproved,
		RespondedAt: &now,
	})
	assert.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryUpdateStatusAppliesTransition(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	mock.ExpectExec("UPDATE requests SET status").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateStatus(context.Background(), UpdateStatusParams{
		ID:     "req-1",
		Status: models.RequestStatusWaitingForChain,
		ChainData: types.JSONText(`{"original_request_id":"req-0","depth":1}`),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryHasDuplicate(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	slot := types.JSONText(`{"date":"2026-09-07","start_time":"10:00","end_time":"10:30"}`)
	target := "bob"

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(1) FROM requests")).
		WithArgs("room-1", "alice", "time_request", slot, "bob").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	duplicate, err := repo.HasDuplicate(context.Background(), "room-1", "alice", models.RequestKindTimeRequest, &target, slot)
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListByRoomFiltersStatus(t *testing.T) {
	db, mock, cleanup := newRequestRepoMock(t)
	defer cleanup()
	repo := NewRequestRepository(db)

	rows := sqlmock.NewRows([]string{"id", "room_id", "requester_id", "kind", "status", "reason", "created_at"}).
		AddRow("req-1", "room-1", "alice", "time_request", "pending", "", time.Now())
	mock.ExpectQuery("SELECT .+ FROM requests WHERE room_id = \\$1 AND status = \\$2").
		WithArgs("room-1", models.RequestStatusPending).
		WillReturnRows(rows)

	requests, err := repo.ListByRoom(context.Background(), "room-1", models.RequestStatusPending, 50, 0)
	require.NoError(t, err)
	assert.Len(t, requests, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/ignite/cloak-gateway/internal/domain"
)

func newLogMock(t *testing.T) (*LogRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewLogRepo(db), mock
}

func TestInsertVisitorLog_AssignsID(t *testing.T) {
	repo, mock := newLogMock(t)

	mock.ExpectExec("INSERT INTO visitor_logs").
		WillReturnResult(sqlmock.NewResult(0, 1))

	row := &domain.VisitorLog{
		IP:             "203.0.113.1",
		Classification: domain.ClassHuman,
		RedirectedTo:   "https://landing.example.com/",
	}
	if err := repo.InsertVisitorLog(context.Background(), row); err != nil {
		t.Fatalf("InsertVisitorLog: %v", err)
	}
	if row.ID == "" {
		t.Error("missing id was not assigned")
	}
	if row.Timestamp.IsZero() {
		t.Error("missing timestamp was not assigned")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertRealtimeEvent(t *testing.T) {
	repo, mock := newLogMock(t)

	mock.ExpectExec("INSERT INTO realtime_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	row := &domain.RealtimeEvent{
		ID:             "11111111-1111-1111-1111-111111111111",
		IP:             "203.0.113.1",
		Classification: domain.ClassBot,
		Reason:         domain.ReasonGenericBot,
		Timestamp:      time.Now(),
	}
	if err := repo.InsertRealtimeEvent(context.Background(), row); err != nil {
		t.Fatalf("InsertRealtimeEvent: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertCapturedEmail(t *testing.T) {
	repo, mock := newLogMock(t)

	mock.ExpectExec("INSERT INTO captured_emails").
		WillReturnResult(sqlmock.NewResult(0, 1))

	row := &domain.CapturedEmail{
		Email:           "x@y.io",
		ParameterFormat: "query",
		IP:              "203.0.113.1",
	}
	if err := repo.InsertCapturedEmail(context.Background(), row); err != nil {
		t.Fatalf("InsertCapturedEmail: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestTrimRealtimeEvents(t *testing.T) {
	repo, mock := newLogMock(t)

	mock.ExpectExec("DELETE FROM realtime_events").
		WithArgs(1000).
		WillReturnResult(sqlmock.NewResult(0, 12))

	if err := repo.TrimRealtimeEvents(context.Background(), 1000); err != nil {
		t.Fatalf("TrimRealtimeEvents: %v", err)
	}
}

func TestPurgeVisitorLogs(t *testing.T) {
	repo, mock := newLogMock(t)
	cutoff := time.Now().Add(-7 * 24 * time.Hour)

	mock.ExpectExec("DELETE FROM visitor_logs").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := repo.PurgeVisitorLogs(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PurgeVisitorLogs: %v", err)
	}
	if n != 42 {
		t.Errorf("purged = %d, want 42", n)
	}
}

package sqldb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/goodtune/dwelltime/internal/storage"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func generateMySQLMockDB(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(mysql.New(mysql.Config{Conn: sqlDB, SkipInitializeWithVersion: true}), &gorm.Config{
		Logger:         gormlogger.Discard,
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open gorm: %v", err)
	}
	return New(db), mock
}

func TestMySQLOpenDetailClaimsTrack(t *testing.T) {
	store, mock := generateMySQLMockDB(t)

	start := time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)

	// The second of two racing opens hits the unique open_track index.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `detail_person_durations` \\(.*`open_track`\\) VALUES").
		WithArgs(int64(4), "", "A11", "Jane99", "track-1", start, nil, "track-1").
		WillReturnError(errors.New("Error 1062 (23000): Duplicate entry 'track-1' for key 'idx_details_open_track'"))
	mock.ExpectRollback()

	err := store.Durations().Atomic(context.Background(), func(tx storage.DurationTx) error {
		return tx.CreateDetail(&storage.Detail{
			PersonDurationID: 4,
			SubjectID:        "A11",
			Name:             "Jane99",
			TrackID:          "track-1",
			StartTime:        start,
		})
	})
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("expected conflict for a track that is already open, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal("ExpectationsWereMet err:", err)
	}
}

func TestMySQLCloseDetailReleasesTrack(t *testing.T) {
	store, mock := generateMySQLMockDB(t)

	end := time.Date(2024, 3, 1, 1, 1, 30, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE `detail_person_durations` SET `end_time`=\\?,`open_track`=\\? WHERE id = \\? AND end_time IS NULL").
		WithArgs(end, nil, 7).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := store.Durations().Atomic(context.Background(), func(tx storage.DurationTx) error {
		return tx.CloseDetail(&storage.Detail{ID: 7, EndTime: &end})
	})
	if err != nil {
		t.Fatalf("close detail: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal("ExpectationsWereMet err:", err)
	}
}

package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupReputationTestRepository(t *testing.T) (*ReputationRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	return NewReputationRepository(db), mock, func() { db.Close() }
}

func TestReputationRepository_ApplyVote(t *testing.T) {
	tests := []struct {
		name          string
		previous      int
		value         int
		expectedDelta int
	}{
		{name: "first vote", value: 1, expectedDelta: 1},
		{name: "flipped vote", previous: 1, value: -1, expectedDelta: -2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, cleanup := setupReputationTestRepository(t)
			defer cleanup()

			mock.ExpectBegin()
			mock.ExpectQuery(`SELECT id FROM users WHERE id = \$1 FOR UPDATE`).
				WithArgs(2).
				WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
			previous := mock.ExpectQuery(`SELECT value FROM reputation_votes`).WithArgs(2, 1)
			if tt.previous != 0 {
				previous.WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(tt.previous))
			} else {
				previous.WillReturnError(sql.ErrNoRows)
			}
			mock.ExpectExec(`INSERT INTO reputation_votes`).
				WithArgs(2, 1, tt.value, sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))
			mock.ExpectQuery(`UPDATE users SET reputation = reputation \+ \$1`).
				WithArgs(tt.expectedDelta, 2).
				WillReturnRows(sqlmock.NewRows([]string{"reputation"}).AddRow(3))
			mock.ExpectQuery(`FROM reputation_votes\s+WHERE target_id = \$1`).
				WithArgs(2).
				WillReturnRows(sqlmock.NewRows([]string{"positive", "negative"}).AddRow(5, 2))
			mock.ExpectCommit()

			summary, err := repo.ApplyVote(context.Background(), 2, 1, tt.value)
			require.NoError(t, err)
			assert.Equal(t, 3, summary.Reputation)
			assert.Equal(t, 5, summary.PositiveCount)
			assert.Equal(t, 2, summary.NegativeCount)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReputationRepository_ApplyVoteRejectsRepeat(t *testing.T) {
	repo, mock, cleanup := setupReputationTestRepository(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs(2).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
	mock.ExpectQuery(`SELECT value FROM reputation_votes`).
		WithArgs(2, 1).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(1))
	mock.ExpectRollback()

	_, err := repo.ApplyVote(context.Background(), 2, 1, 1)
	assert.ErrorIs(t, err, ErrDuplicateVote)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReputationRepository_ApplyVoteUnknownTarget(t *testing.T) {
	repo, mock, cleanup := setupReputationTestRepository(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT id FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs(9).
		WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := repo.ApplyVote(context.Background(), 9, 1, 1)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReputationRepository_UpsertVouch(t *testing.T) {
	tests := []struct {
		name            string
		created         bool
		expectedDelta   int
		expectedVouches int
	}{
		{name: "new vouch increments", created: true, expectedDelta: 1, expectedVouches: 4},
		{name: "existing vouch keeps count", created: false, expectedDelta: 0, expectedVouches: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, cleanup := setupReputationTestRepository(t)
			defer cleanup()

			mock.ExpectBegin()
			mock.ExpectQuery(`INSERT INTO vouches`).
				WithArgs(2, 1, "traded fairly", sqlmock.AnyArg()).
				WillReturnRows(sqlmock.NewRows([]string{"created"}).AddRow(tt.created))
			mock.ExpectQuery(`UPDATE users SET vouches = vouches \+ \$1`).
				WithArgs(tt.expectedDelta, 2).
				WillReturnRows(sqlmock.NewRows([]string{"vouches"}).AddRow(tt.expectedVouches))
			mock.ExpectCommit()

			created, total, err := repo.UpsertVouch(context.Background(), 2, 1, "traded fairly")
			require.NoError(t, err)
			assert.Equal(t, tt.created, created)
			assert.Equal(t, tt.expectedVouches, total)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestReputationRepository_Transfer(t *testing.T) {
	tests := []struct {
		name        string
		setupMock   func(sqlmock.Sqlmock)
		expectedErr error
	}{
		{
			name: "success",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`UPDATE users SET balance = balance - \$1 WHERE id = \$2 AND balance >= \$1`).
					WithArgs(int64(25), 1).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`UPDATE users SET balance = balance \+ \$1 WHERE id = \$2`).
					WithArgs(int64(25), 2).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectQuery(`INSERT INTO transactions`).
					WithArgs(1, 2, int64(25), "gg", sqlmock.AnyArg()).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(77))
				mock.ExpectCommit()
			},
		},
		{
			name: "insufficient balance",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`UPDATE users SET balance = balance - \$1`).
					WithArgs(int64(25), 1).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			expectedErr: ErrInsufficientBalance,
		},
		{
			name: "recipient missing",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectBegin()
				mock.ExpectExec(`UPDATE users SET balance = balance - \$1`).
					WillReturnResult(sqlmock.NewResult(0, 1))
				mock.ExpectExec(`UPDATE users SET balance = balance \+ \$1`).
					WillReturnResult(sqlmock.NewResult(0, 0))
				mock.ExpectRollback()
			},
			expectedErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock, cleanup := setupReputationTestRepository(t)
			defer cleanup()

			tt.setupMock(mock)

			txn, err := repo.Transfer(context.Background(), 1, 2, 25, "gg")
			if tt.expectedErr != nil {
				assert.ErrorIs(t, err, tt.expectedErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, 77, txn.ID)
				assert.Equal(t, int64(25), txn.Amount)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

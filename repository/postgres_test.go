package repository

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/AnamikaSharma1509/supplychain-authentication-using-blockchain-system/repository/models"
	"github.com/DATA-DOG/go-sqlmock"
	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// newMockRepository creates a Repository over a mocked postgres connection
func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock, *sql.DB) {
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       mockDB,
		DriverName: "postgres",
	})

	gormDB, err := gorm.Open(dialector, &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)

	return NewRepositoryWithDB(gormDB, cmtlog.NewNopLogger()), mock, mockDB
}

func TestPostgresGetUser(t *testing.T) {
	t.Run("returns not found for missing user", func(t *testing.T) {
		repo, mock, mockDB := newMockRepository(t)
		defer mockDB.Close()

		mock.ExpectQuery(`SELECT \* FROM "users" WHERE "users"."id" = \$1 ORDER BY .* LIMIT .*`).
			WithArgs(7, 1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "username", "role", "chain_address"}))

		user, rerr := repo.GetUser(context.Background(), 7)
		assert.Nil(t, user)
		require.NotNil(t, rerr)
		assert.True(t, errors.Is(rerr, ErrNotFound))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("maps user columns", func(t *testing.T) {
		repo, mock, mockDB := newMockRepository(t)
		defer mockDB.Close()

		rows := sqlmock.NewRows([]string{"id", "username", "role", "chain_address"}).
			AddRow(2, "northwind-distribution", "distributor", "0xFFcf8FDEE72ac11b5c542428B35EEF5769C409f0")
		mock.ExpectQuery(`SELECT \* FROM "users" WHERE "users"."id" = \$1 ORDER BY .* LIMIT .*`).
			WithArgs(2, 1).
			WillReturnRows(rows)

		user, rerr := repo.GetUser(context.Background(), 2)
		require.Nil(t, rerr)
		assert.Equal(t, "distributor", user.Role)
		require.NotNil(t, user.ChainAddress)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresCreateProductUniqueViolation(t *testing.T) {
	repo, mock, mockDB := newMockRepository(t)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "products"`).
		WillReturnError(&pgconn.PgError{Code: PgErrUniqueViolation, Message: "duplicate key value violates unique constraint"})
	mock.ExpectRollback()

	_, rerr := repo.CreateProduct(context.Background(), &models.Product{
		Name:           "Widget",
		ManufacturerID: 1,
		QRCodeHash:     "h1",
		CurrentOwnerID: 1,
	})
	require.NotNil(t, rerr)
	assert.True(t, errors.Is(rerr, ErrDuplicate))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresApplyTransferRollsBack(t *testing.T) {
	repo, mock, mockDB := newMockRepository(t)
	defer mockDB.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM "products" WHERE "products"."id" = \$1 ORDER BY .* LIMIT .* FOR UPDATE`).
		WithArgs(5, 1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "qr_code_hash", "manufacturer_id", "current_owner_id"}).
			AddRow(5, "Widget", "h1", 1, 1))
	mock.ExpectQuery(`INSERT INTO "supply_chain"`).
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, rerr := repo.ApplyTransfer(context.Background(), 5, 1, 2, models.StatusTransferred, "0xabc")
	require.NotNil(t, rerr)
	assert.True(t, errors.Is(rerr, ErrUpdate))
	assert.NoError(t, mock.ExpectationsWereMet())
}

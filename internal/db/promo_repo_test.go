package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"resonate/internal/types"
)

func TestPromotionRepo_GetByID_Found(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPromotionRepo(db, nil)

	start := time.Now().UTC().Truncate(time.Second)
	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanFn: func(dest ...any) error {
			*dest[0].(*string) = "promo-1"
			*dest[1].(*string) = "user_1"
			*dest[2].(*string) = "Midnight Run"
			*dest[3].(*string) = "https://resonate.fm/t/midnight-run"
			*dest[4].(*string) = "Nova Hart"
			*dest[5].(*string) = "boost"
			*dest[6].(*decimal.Decimal) = decimal.New(1999, -2)
			*dest[7].(*types.PromotionStatus) = types.PromotionStatusActive
			*dest[8].(**time.Time) = &start
			*dest[9].(*time.Time) = start
			*dest[10].(*time.Time) = start
			return nil
		}})

	got, err := repo.GetByID(context.Background(), "promo-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "promo-1", got.ID)
	assert.Equal(t, types.PromotionStatusActive, got.Status)
	assert.True(t, got.TotalCost.Equal(decimal.New(1999, -2)))
}

func TestPromotionRepo_GetByID_NotFound(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPromotionRepo(db, nil)

	db.On("QueryRow", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(&mockRow{scanErr: pgx.ErrNoRows})

	got, err := repo.GetByID(context.Background(), "promo-missing")
	require.NoError(t, err, "no-rows must be (nil, nil), not an error")
	assert.Nil(t, got)
}

func TestPromotionRepo_Insert_Success(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPromotionRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("INSERT 0 1"), nil)

	err := repo.Insert(context.Background(), &types.Promotion{
		ID:        "promo-1",
		UserID:    "user_1",
		TotalCost: decimal.New(4999, -2),
		Status:    types.PromotionStatusActive,
	})
	require.NoError(t, err)
	db.AssertExpectations(t)
}

func TestPromotionRepo_Update_RowVanished(t *testing.T) {
	db := new(mockDBTX)
	repo := NewPromotionRepo(db, nil)

	db.On("Exec", mock.Anything, mock.AnythingOfType("string"), mock.Anything).
		Return(pgconn.NewCommandTag("UPDATE 0"), nil)

	err := repo.Update(context.Background(), &types.Promotion{ID: "promo-gone"})
	require.Error(t, err)

	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, types.ErrCodeNotFoundPromotion, appErr.Code)
}

package currency

import (
	"context"
	"database/sql"
	"strings"

	"gorm.io/gorm"
)

// Currency describes a supported settlement currency.
type Currency struct {
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Symbol    *string `json:"symbol,omitempty"`
	MinorUnit int16   `json:"minor_unit"`
}

// Repository reads currency reference data.
type Repository interface {
	List(ctx context.Context) ([]Currency, error)
	Find(ctx context.Context, code string) (*Currency, error)
}

type repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) List(ctx context.Context) ([]Currency, error) {
	type row struct {
		Code      string         `gorm:"column:code"`
		Name      string         `gorm:"column:name"`
		Symbol    sql.NullString `gorm:"column:symbol"`
		MinorUnit int16          `gorm:"column:minor_unit"`
	}

	var rows []row
	err := r.db.WithContext(ctx).
		Raw(`SELECT code, name, symbol, minor_unit FROM currencies WHERE is_active = TRUE ORDER BY code`).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	currencies := make([]Currency, 0, len(rows))
	for _, item := range rows {
		var symbol *string
		if item.Symbol.Valid {
			value := item.Symbol.String
			symbol = &value
		}
		currencies = append(currencies, Currency{
			Code:      item.Code,
			Name:      item.Name,
			Symbol:    symbol,
			MinorUnit: item.MinorUnit,
		})
	}

	return currencies, nil
}

func (r *repository) Find(ctx context.Context, code string) (*Currency, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	type row struct {
		Code      string         `gorm:"column:code"`
		Name      string         `gorm:"column:name"`
		Symbol    sql.NullString `gorm:"column:symbol"`
		MinorUnit int16          `gorm:"column:minor_unit"`
	}

	var item row
	err := r.db.WithContext(ctx).
		Raw(`SELECT code, name, symbol, minor_unit FROM currencies WHERE code = ? LIMIT 1`, code).
		Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.Code == "" {
		return nil, nil
	}

	var symbol *string
	if item.Symbol.Valid {
		value := item.Symbol.String
		symbol = &value
	}
	return &Currency{
		Code:      item.Code,
		Name:      item.Name,
		Symbol:    symbol,
		MinorUnit: item.MinorUnit,
	}, nil
}

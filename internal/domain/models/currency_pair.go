package models

import "time"

// CurrencyPair is a row of the currency_pairs registry.
type CurrencyPair struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"type:varchar(10);uniqueIndex;not null" json:"name"`
	Description string    `gorm:"type:varchar(100)" json:"description"`
	PipValue    float64   `gorm:"not null;default:0.0001" json:"pip_value"`
	SpreadAvg   float64   `gorm:"not null;default:0" json:"spread_avg"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (CurrencyPair) TableName() string { return "currency_pairs" }

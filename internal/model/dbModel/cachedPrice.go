package dbModel

import "time"

type CachedPrice struct {
	Ticker     string    `db:"ticker"`
	Price      float64   `db:"price"`
	Currency   string    `db:"currency"`
	CapturedAt time.Time `db:"captured_at"`
	ExpiresAt  time.Time `db:"expires_at"`
}

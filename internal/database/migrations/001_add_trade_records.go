package migrations

import (
	"github.com/ksred/novatrade/internal/types"
	"gorm.io/gorm"
)

// AddTradeRecords creates the trade journal table and its query indexes
func AddTradeRecords(db *gorm.DB) error {
	if err := db.AutoMigrate(&types.TradeRecord{}); err != nil {
		return err
	}

	indexes := []string{
		// Journal listing per symbol, newest first
		`CREATE INDEX IF NOT EXISTS idx_trade_records_symbol_created_at
		 ON trade_records(symbol, created_at)`,

		// Separating automatic from manual trades
		`CREATE INDEX IF NOT EXISTS idx_trade_records_source
		 ON trade_records(source)`,

		`CREATE INDEX IF NOT EXISTS idx_trade_records_outcome
		 ON trade_records(outcome)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}

	return nil
}

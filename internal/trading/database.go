package trading

import (
	"strings"

	"github.com/ksred/novatrade/internal/types"
	"gorm.io/gorm"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 500
)

// Journal is the append-only trade record store. Records are never updated.
type Journal struct {
	db *gorm.DB
}

func NewJournal(db *gorm.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) Append(record *types.TradeRecord) error {
	return j.db.Create(record).Error
}

// List returns the newest records first, optionally for one symbol
func (j *Journal) List(symbol string, limit int) ([]types.TradeRecord, error) {
	if limit <= 0 {
		limit = defaultTradeLimit
	}
	if limit > maxTradeLimit {
		limit = maxTradeLimit
	}

	query := j.db.Order("created_at DESC").Limit(limit)
	if symbol != "" {
		query = query.Where("symbol = ?", strings.ToUpper(symbol))
	}

	records := []types.TradeRecord{}
	if err := query.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// GetByClientOrderID returns nil when no record matches
func (j *Journal) GetByClientOrderID(clientOrderID string) (*types.TradeRecord, error) {
	var record types.TradeRecord
	err := j.db.Where("client_order_id = ?", clientOrderID).Limit(1).Find(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == "" {
		return nil, nil
	}
	return &record, nil
}

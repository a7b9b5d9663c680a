package repositories

import (
	"context"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/courier/pkg/database"
)

// TxManager implements Transactor over a postgres pool.
type TxManager struct {
	db database.DB
}

func NewTxManager(db database.DB) *TxManager {
	return &TxManager{db: db}
}

func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.InTx(ctx, m.db, fn)
}

// NewPostgresStore wires every postgres repository over db.
func NewPostgresStore(db database.DB, logger ectologger.Logger) *Store {
	return &Store{
		Transactor:    NewTxManager(db),
		Requests:      NewRequestRepository(db, logger),
		Resolutions:   NewResolutionRepository(db, logger),
		Users:         NewUserRepository(db, logger),
		PricingRules:  NewPricingRuleRepository(db, logger),
		Notifications: NewNotificationRepository(db, logger),
		Ping:          db.PingContext,
	}
}

// groupCount is one row of a GROUP BY tally.
type groupCount struct {
	Key   string `db:"key"`
	Count int    `db:"count"`
}

func countGroups(ctx context.Context, db database.DB, table, column string, where func(sb *database.SelectBuilder)) ([]groupCount, error) {
	sb := database.NewSelectBuilder()
	sb.Select(column+" AS key", "COUNT(*) AS count")
	sb.From(table)
	if where != nil {
		where(sb)
	}
	sb.GroupBy(column)
	query, args := sb.Build()

	rows := []groupCount{}
	if err := database.Conn(ctx, db).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	return rows, nil
}

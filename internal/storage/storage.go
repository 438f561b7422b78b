package storage

import (
	"database/sql"
	"fmt"

	"dex-grid-bot-go/internal/models"

	_ "modernc.org/sqlite" // CGO-free sqlite driver
)

// InitDB opens the trade ledger database and creates tables as needed.
// The ledger is append-only history for auditing and reporting; the
// recoverable bot state lives in the Badger repository, not here.
func InitDB(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to ledger database: %w", err)
	}

	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create ledger tables: %w", err)
	}

	return db, nil
}

// createTables creates the ledger tables if they don't exist.
func createTables(db *sql.DB) error {
	// Every confirmed fill, one row per execution. Immutable after insert.
	createExecutionsTableSQL := `
	CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		level_id INTEGER NOT NULL,
		pair_id TEXT NOT NULL,
		side TEXT NOT NULL,
		exec_price REAL NOT NULL,
		quantity REAL NOT NULL,
		usd_value REAL NOT NULL,
		pool_fee REAL NOT NULL,
		gas_cost REAL NOT NULL,
		slippage REAL NOT NULL,
		tx_ref TEXT NOT NULL,
		block_number INTEGER NOT NULL,
		gas_used INTEGER NOT NULL,
		executed_at INTEGER NOT NULL
	);`

	if _, err := db.Exec(createExecutionsTableSQL); err != nil {
		return err
	}

	// Completed buy/sell cycles with realized profit breakdown.
	createCyclesTableSQL := `
	CREATE TABLE IF NOT EXISTS cycles (
		id TEXT PRIMARY KEY,
		pair_id TEXT NOT NULL,
		open_exec_id TEXT NOT NULL,
		close_exec_id TEXT NOT NULL,
		gross_profit REAL NOT NULL,
		total_costs REAL NOT NULL,
		net_profit REAL NOT NULL,
		opened_at INTEGER NOT NULL,
		closed_at INTEGER NOT NULL
	);`

	if _, err := db.Exec(createCyclesTableSQL); err != nil {
		return err
	}

	createPairIndexSQL := `CREATE INDEX IF NOT EXISTS idx_cycles_pair ON cycles (pair_id);`
	if _, err := db.Exec(createPairIndexSQL); err != nil {
		return err
	}

	return nil
}

// RecordExecution appends a confirmed fill to the ledger.
func RecordExecution(db *sql.DB, exec *models.TradeExecution) error {
	query := `
	INSERT INTO executions (id, level_id, pair_id, side, exec_price, quantity, usd_value, pool_fee, gas_cost, slippage, tx_ref, block_number, gas_used, executed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.Exec(query,
		exec.ID, exec.LevelID, exec.PairID, string(exec.Side),
		exec.ExecPrice, exec.Quantity, exec.USDValue,
		exec.Costs.PoolFee, exec.Costs.GasCost, exec.Costs.Slippage,
		exec.TxRef, exec.BlockNumber, exec.GasUsed, exec.Timestamp.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution %s: %w", exec.ID, err)
	}
	return nil
}

// RecordCycle appends a completed trade cycle to the ledger.
func RecordCycle(db *sql.DB, cycle *models.TradeCycle) error {
	if cycle.CloseExec == nil {
		return fmt.Errorf("cycle %s is not complete", cycle.ID)
	}

	query := `
	INSERT INTO cycles (id, pair_id, open_exec_id, close_exec_id, gross_profit, total_costs, net_profit, opened_at, closed_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := db.Exec(query,
		cycle.ID, cycle.PairID, cycle.OpenExec.ID, cycle.CloseExec.ID,
		cycle.GrossProfit, cycle.TotalCosts, cycle.NetProfit,
		cycle.OpenedAt.Unix(), cycle.ClosedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert cycle %s: %w", cycle.ID, err)
	}
	return nil
}

// PairPerformance is an aggregated per-pair view of the ledger.
type PairPerformance struct {
	PairID      string
	CycleCount  int
	NetProfit   float64
	GrossProfit float64
	TotalCosts  float64
	WinCount    int
}

// LoadPairPerformance aggregates completed cycles per pair for reporting.
func LoadPairPerformance(db *sql.DB) ([]PairPerformance, error) {
	query := `
	SELECT pair_id,
	       COUNT(*),
	       COALESCE(SUM(net_profit), 0),
	       COALESCE(SUM(gross_profit), 0),
	       COALESCE(SUM(total_costs), 0),
	       COALESCE(SUM(CASE WHEN net_profit > 0 THEN 1 ELSE 0 END), 0)
	FROM cycles
	GROUP BY pair_id
	ORDER BY pair_id;`

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pair performance: %w", err)
	}
	defer rows.Close()

	var out []PairPerformance
	for rows.Next() {
		var p PairPerformance
		if err := rows.Scan(&p.PairID, &p.CycleCount, &p.NetProfit, &p.GrossProfit, &p.TotalCosts, &p.WinCount); err != nil {
			return nil, fmt.Errorf("failed to scan performance row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

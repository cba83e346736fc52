package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"fournil/backend/internal/domain"
	"fournil/backend/internal/store"
	"fournil/backend/internal/xid"
)

func (s *Store) AppendStockTransaction(ctx context.Context, tx domain.StockTransaction) error {
	if strings.TrimSpace(tx.MaterialID) == "" {
		return fmt.Errorf("%w: material id is required", store.ErrInvalidInput)
	}
	if tx.ID == "" {
		tx.ID = xid.New("stk")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_transactions (id, material_id, quantity, reason, source_ref, program_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6::date,$7)
	`, tx.ID, tx.MaterialID, tx.Quantity, tx.Reason, tx.SourceRef, nullIfEmpty(tx.ProgramDate), tx.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: stock transaction %s already recorded", store.ErrConflict, tx.ID)
	}
	return err
}

func (s *Store) ListStockTransactions(ctx context.Context, programDate string, limit int) ([]domain.StockTransaction, error) {
	if limit < 1 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, material_id, quantity, reason, source_ref, COALESCE(to_char(program_date, 'YYYY-MM-DD'), ''), created_at
		FROM stock_transactions
		WHERE ($1::date IS NULL OR program_date = $1::date)
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`, nullIfEmpty(programDate), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	txs := make([]domain.StockTransaction, 0, limit)
	for rows.Next() {
		var tx domain.StockTransaction
		if err := rows.Scan(&tx.ID, &tx.MaterialID, &tx.Quantity, &tx.Reason, &tx.SourceRef, &tx.ProgramDate, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return txs, nil
}

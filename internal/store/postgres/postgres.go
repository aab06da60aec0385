package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"golang.org/x/sync/errgroup"

	"fuelstation/backend/internal/domain"
	"fuelstation/backend/internal/store"
	"fuelstation/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// schemaStatements creates the five report tables, the catalog table and the
// auth table. Children cascade on parent delete and index their foreign key.
// The unique (date, shift) index backs the one-report-per-shift invariant at
// the storage level, in addition to the in-transaction lookup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS daily_sales (
		id text PRIMARY KEY,
		date text NOT NULL,
		shift text NOT NULL,
		cashier text,
		total_sales numeric(14,2) NOT NULL DEFAULT 0,
		total_expenses numeric(14,2) NOT NULL DEFAULT 0,
		cash_on_hand numeric(14,2) NOT NULL DEFAULT 0,
		actual_cash numeric(14,2) NOT NULL DEFAULT 0,
		cash_variance numeric(14,2) NOT NULL DEFAULT 0,
		coins_amount numeric(14,2) NOT NULL DEFAULT 0,
		check_payment numeric(14,2) NOT NULL DEFAULT 0,
		bank_transfer numeric(14,2) NOT NULL DEFAULT 0,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS daily_sales_date_shift_idx ON daily_sales (date, shift)`,
	`CREATE TABLE IF NOT EXISTS sales_rows (
		id text PRIMARY KEY,
		daily_sales_id text NOT NULL REFERENCES daily_sales(id) ON DELETE CASCADE,
		nozzle text NOT NULL,
		product text NOT NULL,
		opening numeric(14,3) NOT NULL DEFAULT 0,
		closing numeric(14,3) NOT NULL DEFAULT 0,
		opening_peso numeric(14,2) NOT NULL DEFAULT 0,
		closing_peso numeric(14,2) NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS sales_rows_daily_sales_id_idx ON sales_rows (daily_sales_id)`,
	`CREATE TABLE IF NOT EXISTS expenses (
		id text PRIMARY KEY,
		daily_sales_id text NOT NULL REFERENCES daily_sales(id) ON DELETE CASCADE,
		description text NOT NULL,
		amount numeric(14,2) NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS expenses_daily_sales_id_idx ON expenses (daily_sales_id)`,
	`CREATE TABLE IF NOT EXISTS denominations (
		id text PRIMARY KEY,
		daily_sales_id text NOT NULL REFERENCES daily_sales(id) ON DELETE CASCADE,
		value numeric(14,2) NOT NULL,
		label text NOT NULL,
		count integer NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS denominations_daily_sales_id_idx ON denominations (daily_sales_id)`,
	`CREATE TABLE IF NOT EXISTS lubricant_products (
		id text PRIMARY KEY,
		name text NOT NULL,
		price numeric(14,2) NOT NULL,
		created_at timestamptz NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS lubricants (
		id text PRIMARY KEY,
		daily_sales_id text NOT NULL REFERENCES daily_sales(id) ON DELETE CASCADE,
		product_id text REFERENCES lubricant_products(id) ON DELETE SET NULL,
		product_name text NOT NULL,
		quantity integer NOT NULL DEFAULT 1,
		price numeric(14,2) NOT NULL,
		amount numeric(14,2) NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS lubricants_daily_sales_id_idx ON lubricants (daily_sales_id)`,
	`CREATE TABLE IF NOT EXISTS app_users (
		username text PRIMARY KEY,
		password text NOT NULL,
		role text NOT NULL,
		active boolean NOT NULL DEFAULT true,
		created_at timestamptz NOT NULL DEFAULT now(),
		updated_at timestamptz NOT NULL DEFAULT now()
	)`,
}

// EnsureSchema creates any missing tables and indexes. Statements are
// idempotent so it is safe to run on every startup.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) FetchReport(ctx context.Context, date string, shift string) (*domain.ReportAggregate, error) {
	var agg domain.ReportAggregate
	var cashier sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, date, shift, cashier, total_sales, total_expenses, cash_on_hand,
			actual_cash, cash_variance, coins_amount, check_payment, bank_transfer, created_at
		FROM daily_sales
		WHERE date = $1 AND shift = $2
		LIMIT 1
	`, date, shift).Scan(
		&agg.ID,
		&agg.Date,
		&agg.Shift,
		&cashier,
		&agg.TotalSales,
		&agg.TotalExpenses,
		&agg.CashOnHand,
		&agg.ActualCash,
		&agg.CashVariance,
		&agg.CoinsAmount,
		&agg.CheckPayment,
		&agg.BankTransfer,
		&agg.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if cashier.Valid {
		agg.Cashier = cashier.String
	}
	agg.CreatedAt = agg.CreatedAt.UTC()

	// The child collections have no ordering dependency on each other, so
	// they are fetched concurrently on the pool.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		rows, err := s.fetchRows(groupCtx, agg.ID)
		if err != nil {
			return err
		}
		agg.Rows = rows
		return nil
	})
	group.Go(func() error {
		expenses, err := s.fetchExpenses(groupCtx, agg.ID)
		if err != nil {
			return err
		}
		agg.Expenses = expenses
		return nil
	})
	group.Go(func() error {
		denominations, err := s.fetchDenominations(groupCtx, agg.ID)
		if err != nil {
			return err
		}
		agg.Denominations = denominations
		return nil
	})
	group.Go(func() error {
		lubricants, err := s.fetchLubricants(groupCtx, agg.ID)
		if err != nil {
			return err
		}
		agg.Lubricants = lubricants
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return &agg, nil
}

func (s *Store) fetchRows(ctx context.Context, reportID string) ([]domain.FuelRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, daily_sales_id, nozzle, product, opening, closing, opening_peso, closing_peso
		FROM sales_rows
		WHERE daily_sales_id = $1
	`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.FuelRow, 0, 8)
	for rows.Next() {
		var row domain.FuelRow
		if err := rows.Scan(&row.ID, &row.ReportID, &row.Nozzle, &row.Product, &row.Opening, &row.Closing, &row.OpeningPeso, &row.ClosingPeso); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) fetchExpenses(ctx context.Context, reportID string) ([]domain.ExpenseLine, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, daily_sales_id, description, amount
		FROM expenses
		WHERE daily_sales_id = $1
	`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.ExpenseLine, 0, 8)
	for rows.Next() {
		var line domain.ExpenseLine
		if err := rows.Scan(&line.ID, &line.ReportID, &line.Description, &line.Amount); err != nil {
			return nil, err
		}
		result = append(result, line)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) fetchDenominations(ctx context.Context, reportID string) ([]domain.DenominationCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, daily_sales_id, value, label, count
		FROM denominations
		WHERE daily_sales_id = $1
	`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.DenominationCount, 0, 12)
	for rows.Next() {
		var denom domain.DenominationCount
		if err := rows.Scan(&denom.ID, &denom.ReportID, &denom.Value, &denom.Label, &denom.Count); err != nil {
			return nil, err
		}
		result = append(result, denom)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) fetchLubricants(ctx context.Context, reportID string) ([]domain.LubricantSale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, daily_sales_id, product_id, product_name, quantity, price, amount
		FROM lubricants
		WHERE daily_sales_id = $1
	`, reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]domain.LubricantSale, 0, 4)
	for rows.Next() {
		var sale domain.LubricantSale
		var productID sql.NullString
		if err := rows.Scan(&sale.ID, &sale.ReportID, &productID, &sale.ProductName, &sale.Quantity, &sale.Price, &sale.Amount); err != nil {
			return nil, err
		}
		if productID.Valid {
			sale.ProductID = productID.String
		}
		result = append(result, sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// SaveReport runs the upsert-with-replace-children protocol in one
// transaction: resolve (or create) the parent for (date, shift), delete every
// child row it owns, update its scalar fields, then insert the submitted
// children. Either everything commits or nothing does. FOR UPDATE on the
// lookup serializes concurrent saves for the same key; the last committed
// writer wins.
func (s *Store) SaveReport(ctx context.Context, report domain.DailyReport, children domain.ReportChildren) (string, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return "", err
	}
	defer func() { _ = tx.Rollback() }()

	var reportID string
	err = tx.QueryRowContext(ctx, `
		SELECT id
		FROM daily_sales
		WHERE date = $1 AND shift = $2
		LIMIT 1
		FOR UPDATE
	`, report.Date, report.Shift).Scan(&reportID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		reportID = xid.New("ds")
		_, err = tx.ExecContext(ctx, `
			INSERT INTO daily_sales (
				id, date, shift, cashier, total_sales, total_expenses, cash_on_hand,
				actual_cash, cash_variance, coins_amount, check_payment, bank_transfer, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
		`, reportID, report.Date, report.Shift, nullIfEmpty(report.Cashier),
			report.TotalSales, report.TotalExpenses, report.CashOnHand, report.ActualCash,
			report.CashVariance, report.CoinsAmount, report.CheckPayment, report.BankTransfer)
		if err != nil {
			return "", err
		}
	case err != nil:
		return "", err
	default:
		for _, table := range []string{"sales_rows", "expenses", "denominations", "lubricants"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE daily_sales_id = $1`, reportID); err != nil {
				return "", err
			}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE daily_sales
			SET cashier = $2, total_sales = $3, total_expenses = $4, cash_on_hand = $5,
				actual_cash = $6, cash_variance = $7, coins_amount = $8,
				check_payment = $9, bank_transfer = $10
			WHERE id = $1
		`, reportID, nullIfEmpty(report.Cashier),
			report.TotalSales, report.TotalExpenses, report.CashOnHand, report.ActualCash,
			report.CashVariance, report.CoinsAmount, report.CheckPayment, report.BankTransfer)
		if err != nil {
			return "", err
		}
	}

	for _, row := range children.Rows {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sales_rows (id, daily_sales_id, nozzle, product, opening, closing, opening_peso, closing_peso)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, xid.New("row"), reportID, row.Nozzle, row.Product, row.Opening, row.Closing, row.OpeningPeso, row.ClosingPeso)
		if err != nil {
			return "", err
		}
	}
	for _, line := range children.Expenses {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO expenses (id, daily_sales_id, description, amount)
			VALUES ($1,$2,$3,$4)
		`, xid.New("exp"), reportID, line.Description, line.Amount)
		if err != nil {
			return "", err
		}
	}
	for _, denom := range children.Denominations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO denominations (id, daily_sales_id, value, label, count)
			VALUES ($1,$2,$3,$4,$5)
		`, xid.New("den"), reportID, denom.Value, denom.Label, denom.Count)
		if err != nil {
			return "", err
		}
	}
	for _, sale := range children.Lubricants {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lubricants (id, daily_sales_id, product_id, product_name, quantity, price, amount)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, xid.New("lub"), reportID, nullIfEmpty(sale.ProductID), sale.ProductName, sale.Quantity, sale.Price, sale.Amount)
		if err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}

	return reportID, nil
}

func (s *Store) ListLubricantProducts(ctx context.Context) ([]domain.LubricantProduct, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price, created_at
		FROM lubricant_products
		ORDER BY created_at ASC, name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.LubricantProduct, 0, 32)
	for rows.Next() {
		var p domain.LubricantProduct
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.CreatedAt); err != nil {
			return nil, err
		}
		p.CreatedAt = p.CreatedAt.UTC()
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

// ReplaceLubricantProducts clears the catalog and inserts the supplied
// entries in one transaction. Lubricant sale lines referencing a removed
// product keep their copied name and price; their product_id is set to null
// by the FK.
func (s *Store) ReplaceLubricantProducts(ctx context.Context, products []domain.LubricantProduct) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM lubricant_products`); err != nil {
		return err
	}

	for _, p := range products {
		id := p.ID
		if id == "" {
			id = xid.New("lp")
		}
		createdAt := p.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO lubricant_products (id, name, price, created_at)
			VALUES ($1,$2,$3,$4)
		`, id, p.Name, p.Price, createdAt)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) DeleteLubricantProduct(ctx context.Context, id string) error {
	// Idempotent: deleting an absent id affects zero rows and succeeds.
	_, err := s.db.ExecContext(ctx, `DELETE FROM lubricant_products WHERE id = $1`, id)
	return err
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.Invalidf("username and password are required")
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.Invalidf("username already exists")
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.Invalidf("username and password are required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

package repo

import (
	"context"
	"database/sql"

	"academy-checkout/internal/domain"
)

type BankAccountRepo interface {
	CreateBankAccount(ctx context.Context, account *domain.BankAccount) error
	ListActive(ctx context.Context) ([]domain.BankAccount, error)
}

type bankAccountRepo struct {
	db *sql.DB
}

func NewBankAccountRepo(db *sql.DB) BankAccountRepo {
	return &bankAccountRepo{db: db}
}

func (r *bankAccountRepo) CreateBankAccount(ctx context.Context, a *domain.BankAccount) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO bank_accounts (id, bank_name, account_holder, account_number, account_type, tax_id, email, active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.BankName, a.AccountHolder, a.AccountNumber, a.AccountType, a.TaxID, a.Email, a.Active,
	)
	return err
}

func (r *bankAccountRepo) ListActive(ctx context.Context) ([]domain.BankAccount, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, `
		SELECT id, bank_name, account_holder, account_number, account_type, tax_id, email, active
		FROM bank_accounts WHERE active ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.BankAccount
	for rows.Next() {
		var a domain.BankAccount
		if err := rows.Scan(&a.ID, &a.BankName, &a.AccountHolder, &a.AccountNumber, &a.AccountType, &a.TaxID, &a.Email, &a.Active); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

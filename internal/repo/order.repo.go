package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"academy-checkout/internal/domain"

	"github.com/google/uuid"
)

var (
	ErrOpenOrderExists      = errors.New("an open order already exists for this user and course")
	ErrOrderNumberTaken     = errors.New("order number already taken")
	ErrPaymentAlreadyLinked = errors.New("payment id already linked to another order")
)

type OrderRepo interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	FindByPaymentId(ctx context.Context, paymentID string) (*domain.Order, error)
	FindByPreferenceId(ctx context.Context, preferenceID string) (*domain.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error)
	FindOpenOrder(ctx context.Context, userID, courseID uuid.UUID) (*domain.Order, error)
	// TransitionStatus moves the order from -> to only if it is still in from.
	// It reports whether a row was changed.
	TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, patch domain.StatusPatch) (bool, error)
	SetPreference(ctx context.Context, id uuid.UUID, pref domain.Preference) (bool, error)
	RecordPaymentID(ctx context.Context, id uuid.UUID, paymentID string) error
	RecordTransferProof(ctx context.Context, id uuid.UUID, reference, proofURL string, sentAt time.Time) (bool, error)
	FindStuckOrders(ctx context.Context, updatedBefore time.Time) ([]domain.Order, error)
}

type orderRepo struct {
	db *sql.DB
}

func NewOrderRepo(db *sql.DB) OrderRepo {
	return &orderRepo{db: db}
}

const orderColumns = `id, order_number, user_id, customer_email, course_id, coupon_id,
	base_amount, discount_amount, final_amount, currency, payment_method, status, status_reason,
	preference_id, checkout_url, payment_id, transfer_reference, transfer_proof_url,
	transfer_sent_at, paid_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var o domain.Order
	err := row.Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.CustomerEmail,
		&o.CourseID,
		&o.CouponID,
		&o.BaseAmount,
		&o.DiscountAmount,
		&o.FinalAmount,
		&o.Currency,
		&o.PaymentMethod,
		&o.Status,
		&o.StatusReason,
		&o.PreferenceID,
		&o.CheckoutURL,
		&o.PaymentID,
		&o.TransferReference,
		&o.TransferProofURL,
		&o.TransferSentAt,
		&o.PaidAt,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *orderRepo) findOne(ctx context.Context, where string, arg any) (*domain.Order, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE "+where, arg)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (r *orderRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO orders (id, order_number, user_id, customer_email, course_id, coupon_id,
			base_amount, discount_amount, final_amount, currency, payment_method, status,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		order.ID, order.OrderNumber, order.UserID, order.CustomerEmail, order.CourseID, order.CouponID,
		order.BaseAmount, order.DiscountAmount, order.FinalAmount, order.Currency,
		order.PaymentMethod, order.Status, order.CreatedAt, order.UpdatedAt,
	)
	switch {
	case isUniqueViolation(err, "orders_one_open_intent"):
		return ErrOpenOrderExists
	case isUniqueViolation(err, "orders_order_number_key"):
		return ErrOrderNumberTaken
	}
	return err
}

func (r *orderRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return r.findOne(ctx, "id = $1", id)
}

func (r *orderRepo) FindByPaymentId(ctx context.Context, paymentID string) (*domain.Order, error) {
	return r.findOne(ctx, "payment_id = $1", paymentID)
}

func (r *orderRepo) FindByPreferenceId(ctx context.Context, preferenceID string) (*domain.Order, error) {
	return r.findOne(ctx, "preference_id = $1", preferenceID)
}

func (r *orderRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (*domain.Order, error) {
	return r.findOne(ctx, "order_number = $1", orderNumber)
}

func (r *orderRepo) FindOpenOrder(ctx context.Context, userID, courseID uuid.UUID) (*domain.Order, error) {
	row := conn(ctx, r.db).QueryRowContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 AND course_id = $2 AND status IN ($3, $4)",
		userID, courseID, domain.OrderInitiated, domain.OrderPendingPayment,
	)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrOrderNotFound
	}
	return order, err
}

func (r *orderRepo) TransitionStatus(ctx context.Context, id uuid.UUID, from, to domain.OrderStatus, patch domain.StatusPatch) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE orders
		SET status = $3,
		    payment_id = COALESCE($4, payment_id),
		    paid_at = COALESCE($5, paid_at),
		    status_reason = COALESCE($6, status_reason),
		    updated_at = now()
		WHERE id = $1 AND status = $2`,
		id, from, to, patch.PaymentID, patch.PaidAt, patch.Reason,
	)
	if isUniqueViolation(err, "orders_payment_id_key") {
		return false, ErrPaymentAlreadyLinked
	}
	return affectedOne(res, err)
}

func (r *orderRepo) SetPreference(ctx context.Context, id uuid.UUID, pref domain.Preference) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE orders
		SET preference_id = $2, checkout_url = $3, updated_at = now()
		WHERE id = $1 AND status = $4`,
		id, pref.ID, pref.RedirectURL, domain.OrderPendingPayment,
	)
	return affectedOne(res, err)
}

func (r *orderRepo) RecordPaymentID(ctx context.Context, id uuid.UUID, paymentID string) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE orders SET payment_id = $2, updated_at = now()
		WHERE id = $1 AND payment_id IS NULL`,
		id, paymentID,
	)
	if isUniqueViolation(err, "orders_payment_id_key") {
		return ErrPaymentAlreadyLinked
	}
	return err
}

func (r *orderRepo) RecordTransferProof(ctx context.Context, id uuid.UUID, reference, proofURL string, sentAt time.Time) (bool, error) {
	res, err := conn(ctx, r.db).ExecContext(ctx, `
		UPDATE orders
		SET transfer_reference = $2, transfer_proof_url = $3, transfer_sent_at = $4, updated_at = now()
		WHERE id = $1 AND status = $5 AND payment_method = $6`,
		id, reference, proofURL, sentAt, domain.OrderPendingPayment, domain.PaymentBankTransfer,
	)
	return affectedOne(res, err)
}

func (r *orderRepo) FindStuckOrders(ctx context.Context, updatedBefore time.Time) ([]domain.Order, error) {
	rows, err := conn(ctx, r.db).QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE updated_at < $1
		  AND (status = $2 OR (status = $3 AND payment_method = $4 AND preference_id IS NULL))
		ORDER BY updated_at
		LIMIT 500`,
		updatedBefore, domain.OrderInitiated, domain.OrderPendingPayment, domain.PaymentGateway,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func affectedOne(res sql.Result, err error) (bool, error) {
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

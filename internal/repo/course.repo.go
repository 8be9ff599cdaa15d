package repo

import (
	"context"
	"database/sql"
	"errors"

	"academy-checkout/internal/domain"

	"github.com/google/uuid"
)

type CourseRepo interface {
	CreateCourse(ctx context.Context, course *domain.Course) error
	FindById(ctx context.Context, id uuid.UUID) (*domain.Course, error)
	// IncrementEnrolled bumps the enrolled counter. With enforceCapacity the
	// increment only happens while a seat is left and the result reports it.
	IncrementEnrolled(ctx context.Context, id uuid.UUID, enforceCapacity bool) (bool, error)
}

type courseRepo struct {
	db *sql.DB
}

func NewCourseRepo(db *sql.DB) CourseRepo {
	return &courseRepo{db: db}
}

func (r *courseRepo) CreateCourse(ctx context.Context, c *domain.Course) error {
	_, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO courses (id, slug, title, type, price, currency, capacity, enrolled_count,
			status, modality, start_date, end_date, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.Slug, c.Title, c.Type, c.Price, c.Currency, c.Capacity, c.EnrolledCount,
		c.Status, c.Modality, c.StartDate, c.EndDate, c.CreatedAt, c.UpdatedAt,
	)
	return err
}

func (r *courseRepo) FindById(ctx context.Context, id uuid.UUID) (*domain.Course, error) {
	var c domain.Course
	var capacity sql.NullInt64
	err := conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, slug, title, type, price, currency, capacity, enrolled_count,
		       status, modality, start_date, end_date, created_at, updated_at
		FROM courses WHERE id = $1`, id).Scan(
		&c.ID,
		&c.Slug,
		&c.Title,
		&c.Type,
		&c.Price,
		&c.Currency,
		&capacity,
		&c.EnrolledCount,
		&c.Status,
		&c.Modality,
		&c.StartDate,
		&c.EndDate,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrCourseNotFound
	}
	if err != nil {
		return nil, err
	}
	if capacity.Valid {
		limit := int(capacity.Int64)
		c.Capacity = &limit
	}
	return &c, nil
}

func (r *courseRepo) IncrementEnrolled(ctx context.Context, id uuid.UUID, enforceCapacity bool) (bool, error) {
	query := `UPDATE courses SET enrolled_count = enrolled_count + 1, updated_at = now() WHERE id = $1`
	if enforceCapacity {
		query += ` AND (capacity IS NULL OR enrolled_count < capacity)`
	}
	res, err := conn(ctx, r.db).ExecContext(ctx, query, id)
	return affectedOne(res, err)
}

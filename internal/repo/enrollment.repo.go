package repo

import (
	"context"
	"database/sql"
	"errors"

	"academy-checkout/internal/domain"

	"github.com/google/uuid"
)

var ErrAlreadyEnrolled = errors.New("student already holds an active enrollment in this course")

type EnrollmentRepo interface {
	CreateEnrollment(ctx context.Context, e *domain.Enrollment) error
	// FindActive returns nil, nil when the student has no non-cancelled enrollment.
	FindActive(ctx context.Context, studentID, courseID uuid.UUID) (*domain.Enrollment, error)
}

type enrollmentRepo struct {
	db *sql.DB
}

func NewEnrollmentRepo(db *sql.DB) EnrollmentRepo {
	return &enrollmentRepo{db: db}
}

// CreateEnrollment inserts e. A conflicting active enrollment yields
// ErrAlreadyEnrolled without aborting the surrounding transaction.
func (r *enrollmentRepo) CreateEnrollment(ctx context.Context, e *domain.Enrollment) error {
	res, err := conn(ctx, r.db).ExecContext(ctx, `
		INSERT INTO enrollments (id, student_id, course_id, order_id, status, enrolled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (student_id, course_id) WHERE status <> 'cancelled' DO NOTHING`,
		e.ID, e.StudentID, e.CourseID, e.OrderID, e.Status, e.EnrolledAt, e.CreatedAt, e.UpdatedAt,
	)
	if isUniqueViolation(err, "enrollments_one_active") {
		return ErrAlreadyEnrolled
	}
	inserted, err := affectedOne(res, err)
	if err != nil {
		return err
	}
	if !inserted {
		return ErrAlreadyEnrolled
	}
	return nil
}

func (r *enrollmentRepo) FindActive(ctx context.Context, studentID, courseID uuid.UUID) (*domain.Enrollment, error) {
	var e domain.Enrollment
	err := conn(ctx, r.db).QueryRowContext(ctx, `
		SELECT id, student_id, course_id, order_id, status, enrolled_at, created_at, updated_at
		FROM enrollments
		WHERE student_id = $1 AND course_id = $2 AND status <> $3`,
		studentID, courseID, domain.EnrollmentCancelled,
	).Scan(&e.ID, &e.StudentID, &e.CourseID, &e.OrderID, &e.Status, &e.EnrolledAt, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/arinwt/lesson-reservation/internal/model"
)

// LessonRepo provides CRUD access to the lessons table. All timestamps
// are stored and compared in UTC.
type LessonRepo struct {
	db *sql.DB
}

// NewLessonRepo returns a new LessonRepo bound to the given database.
func NewLessonRepo(db *sql.DB) *LessonRepo { return &LessonRepo{db: db} }

const lessonColumns = `id, title, instructor, capacity, price, start_date, end_date,
	lesson_time, reg_start_at, reg_end_at, created_at, updated_at`

func scanLesson(row interface{ Scan(dest ...any) error }) (model.Lesson, error) {
	var l model.Lesson
	err := row.Scan(
		&l.ID, &l.Title, &l.Instructor, &l.Capacity, &l.Price,
		&l.StartDate, &l.EndDate, &l.LessonTime,
		&l.RegStartAt, &l.RegEndAt, &l.CreatedAt, &l.UpdatedAt,
	)
	return l, err
}

// Create inserts a lesson and populates its generated ID and timestamps.
func (r *LessonRepo) Create(ctx context.Context, l *model.Lesson) error {
	const q = `INSERT INTO lessons
		(title, instructor, capacity, price, start_date, end_date, lesson_time, reg_start_at, reg_end_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, q,
		l.Title, l.Instructor, l.Capacity, l.Price,
		l.StartDate, l.EndDate, l.LessonTime, l.RegStartAt, l.RegEndAt)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = uint64(id)
	got, err := r.GetByID(ctx, l.ID)
	if err != nil {
		return err
	}
	*l = got
	return nil
}

// Update rewrites the mutable fields of a lesson. It returns
// ErrLessonNotFound when the id does not exist.
func (r *LessonRepo) Update(ctx context.Context, l *model.Lesson) error {
	const q = `UPDATE lessons SET title=?, instructor=?, capacity=?, price=?,
		start_date=?, end_date=?, lesson_time=?, reg_start_at=?, reg_end_at=?
		WHERE id=?`
	res, err := r.db.ExecContext(ctx, q,
		l.Title, l.Instructor, l.Capacity, l.Price,
		l.StartDate, l.EndDate, l.LessonTime, l.RegStartAt, l.RegEndAt, l.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL also reports 0 when the row exists but nothing changed;
		// distinguish by reading the row back.
		if _, err := r.GetByID(ctx, l.ID); err != nil {
			return err
		}
	}
	return nil
}

// GetByID fetches a single lesson. It returns ErrLessonNotFound when no
// row matches.
func (r *LessonRepo) GetByID(ctx context.Context, id uint64) (model.Lesson, error) {
	l, err := scanLesson(r.db.QueryRowContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Lesson{}, ErrLessonNotFound
	}
	return l, err
}

// List returns all lessons ordered by start date ascending.
func (r *LessonRepo) List(ctx context.Context) ([]model.Lesson, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons ORDER BY start_date ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lessons := make([]model.Lesson, 0)
	for rows.Next() {
		l, err := scanLesson(rows)
		if err != nil {
			return nil, err
		}
		lessons = append(lessons, l)
	}
	return lessons, rows.Err()
}

// lockLessonTx loads a lesson row FOR UPDATE inside the given
// transaction, serializing concurrent reservations against the same
// lesson. Returns ErrLessonNotFound when the id does not exist.
func lockLessonTx(ctx context.Context, tx *sql.Tx, id uint64) (model.Lesson, error) {
	l, err := scanLesson(tx.QueryRowContext(ctx,
		`SELECT `+lessonColumns+` FROM lessons WHERE id = ? FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Lesson{}, ErrLessonNotFound
	}
	return l, err
}

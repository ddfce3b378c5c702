package sqlxrepos

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/assignment"
)

const (
	assignmentsTable = "assignments"
	templatesTable   = "assignment_templates"
)

var (
	assignmentColumns = []string{
		"id", "title", "description", "due_date", "status", "teacher_id", "student_id", "lesson_id", "created_at", "updated_at",
	}
	templateColumns = []string{"id", "title", "description", "teacher_id", "created_at", "updated_at"}
)

type assignmentRow struct {
	ID          string      `db:"id"`
	Title       string      `db:"title"`
	Description string      `db:"description"`
	DueDate     null.Time   `db:"due_date"`
	Status      string      `db:"status"`
	TeacherID   string      `db:"teacher_id"`
	StudentID   string      `db:"student_id"`
	LessonID    null.String `db:"lesson_id"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

func boilAssignment(a assignment.Assignment) assignmentRow {
	return assignmentRow{
		ID:          a.ID,
		Title:       a.Title,
		Description: a.Description,
		DueDate:     nullTime(a.DueDate),
		Status:      a.Status,
		TeacherID:   a.TeacherID,
		StudentID:   a.StudentID,
		LessonID:    nullID(a.LessonID),
		CreatedAt:   a.CreatedAt.UTC(),
		UpdatedAt:   a.UpdatedAt.UTC(),
	}
}

func (r assignmentRow) unboil() assignment.Assignment {
	return assignment.Assignment{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		DueDate:     timeOf(r.DueDate),
		Status:      r.Status,
		TeacherID:   r.TeacherID,
		StudentID:   r.StudentID,
		LessonID:    r.LessonID.String,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

func (r assignmentRow) values() map[string]interface{} {
	return map[string]interface{}{
		"title":       r.Title,
		"description": r.Description,
		"due_date":    r.DueDate,
		"status":      r.Status,
		"teacher_id":  r.TeacherID,
		"student_id":  r.StudentID,
		"lesson_id":   r.LessonID,
		"created_at":  r.CreatedAt,
		"updated_at":  r.UpdatedAt,
	}
}

func unboilAssignments(rows []assignmentRow) []assignment.Assignment {
	list := make([]assignment.Assignment, 0, len(rows))
	for _, r := range rows {
		list = append(list, r.unboil())
	}
	return list
}

type templateRow struct {
	ID          string    `db:"id"`
	Title       string    `db:"title"`
	Description string    `db:"description"`
	TeacherID   string    `db:"teacher_id"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r templateRow) unboil() assignment.Template {
	return assignment.Template{
		ID:          r.ID,
		Title:       r.Title,
		Description: r.Description,
		TeacherID:   r.TeacherID,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
}

type assignmentRepository struct {
	base
}

var _ assignment.Repository = (*assignmentRepository)(nil) // interface compliance check

func NewAssignmentRepository(exec core.DBExecutor) *assignmentRepository {
	return &assignmentRepository{base{exec: exec}}
}

func (repo assignmentRepository) selectAssignments() sq.SelectBuilder {
	return psql.Select(assignmentColumns...).From(assignmentsTable)
}

func (repo assignmentRepository) Create(ctx context.Context, a assignment.Assignment) (assignment.Assignment, error) {
	a.ID = uuid.NewString()
	row := boilAssignment(a)
	vals := row.values()
	vals["id"] = row.ID
	if _, err := repo.run(ctx, psql.Insert(assignmentsTable).SetMap(vals)); err != nil {
		return assignment.Assignment{}, trapErr(err, assignment.ErrNotFound, "inserting assignment")
	}
	return row.unboil(), nil
}

func (repo assignmentRepository) Get(ctx context.Context, id string) (assignment.Assignment, error) {
	if !validID(id) {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	var row assignmentRow
	if err := repo.get(ctx, &row, repo.selectAssignments().Where(sq.Eq{"id": id})); err != nil {
		return assignment.Assignment{}, trapErr(err, assignment.ErrNotFound, "getting assignment")
	}
	return row.unboil(), nil
}

func assignmentWhere(f assignment.QueryFilter) sq.And {
	where := sq.And{}
	for _, fld := range [][2]string{{"student_id", f.StudentID}, {"teacher_id", f.TeacherID}, {"lesson_id", f.LessonID}} {
		col, id := fld[0], fld[1]
		if id == "" {
			continue
		}
		if !validID(id) {
			return sq.And{sq.Expr("FALSE")}
		}
		where = append(where, sq.Eq{col: id})
	}
	if f.Status != "" {
		where = append(where, sq.Eq{"status": f.Status})
	}
	if !f.DueBefore.IsZero() {
		where = append(where, sq.Lt{"due_date": f.DueBefore.UTC()})
	}
	if !f.DueAfter.IsZero() {
		where = append(where, sq.GtOrEq{"due_date": f.DueAfter.UTC()})
	}
	if f.OpenOnly {
		where = append(where, sq.Eq{"status": assignment.OpenStatuses})
	}
	return where
}

func (repo assignmentRepository) Query(ctx context.Context, filter assignment.QueryFilter, ordering []core.DBOrdering, page core.Pagination) ([]assignment.Assignment, int, error) {
	where := assignmentWhere(filter)

	total, err := repo.count(ctx, psql.Select("COUNT(*)").From(assignmentsTable).Where(where))
	if err != nil {
		return nil, 0, errors.Wrap(err, "counting assignments")
	}

	var rows []assignmentRow
	query := paginate(repo.selectAssignments().Where(where).OrderBy(orderBy(ordering)...), page)
	if err = repo.selectAll(ctx, &rows, query); err != nil {
		return nil, 0, errors.Wrap(err, "querying assignments")
	}
	return unboilAssignments(rows), total, nil
}

func (repo assignmentRepository) List(ctx context.Context, filter assignment.QueryFilter) ([]assignment.Assignment, error) {
	var rows []assignmentRow
	query := repo.selectAssignments().Where(assignmentWhere(filter)).OrderBy("due_date ASC NULLS LAST", "created_at ASC")
	if err := repo.selectAll(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "listing assignments")
	}
	return unboilAssignments(rows), nil
}

func (repo assignmentRepository) Update(ctx context.Context, a assignment.Assignment) (assignment.Assignment, error) {
	if !validID(a.ID) {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	row := boilAssignment(a)
	n, err := repo.run(ctx, psql.Update(assignmentsTable).SetMap(row.values()).Where(sq.Eq{"id": row.ID}))
	if err != nil {
		return assignment.Assignment{}, trapErr(err, assignment.ErrNotFound, "updating assignment")
	}
	if n == 0 {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	return row.unboil(), nil
}

func (repo assignmentRepository) Delete(ctx context.Context, id string) error {
	if !validID(id) {
		return assignment.ErrNotFound
	}
	n, err := repo.run(ctx, psql.Delete(assignmentsTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return errors.Wrap(err, "deleting assignment")
	}
	if n == 0 {
		return assignment.ErrNotFound
	}
	return nil
}

// Templates

func (repo assignmentRepository) CreateTemplate(ctx context.Context, t assignment.Template) (assignment.Template, error) {
	t.ID = uuid.NewString()
	_, err := repo.run(ctx, psql.Insert(templatesTable).SetMap(map[string]interface{}{
		"id":          t.ID,
		"title":       t.Title,
		"description": t.Description,
		"teacher_id":  t.TeacherID,
		"created_at":  t.CreatedAt.UTC(),
		"updated_at":  t.UpdatedAt.UTC(),
	}))
	if err != nil {
		return assignment.Template{}, trapErr(err, assignment.ErrTemplateNotFound, "inserting template")
	}
	return t, nil
}

func (repo assignmentRepository) GetTemplate(ctx context.Context, id string) (assignment.Template, error) {
	if !validID(id) {
		return assignment.Template{}, assignment.ErrTemplateNotFound
	}
	var row templateRow
	if err := repo.get(ctx, &row, psql.Select(templateColumns...).From(templatesTable).Where(sq.Eq{"id": id})); err != nil {
		return assignment.Template{}, trapErr(err, assignment.ErrTemplateNotFound, "getting template")
	}
	return row.unboil(), nil
}

func (repo assignmentRepository) ListTemplates(ctx context.Context, teacherID string) ([]assignment.Template, error) {
	query := psql.Select(templateColumns...).From(templatesTable).OrderBy("title ASC")
	if teacherID != "" {
		if !validID(teacherID) {
			return []assignment.Template{}, nil
		}
		query = query.Where(sq.Eq{"teacher_id": teacherID})
	}

	var rows []templateRow
	if err := repo.selectAll(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "listing templates")
	}
	templates := make([]assignment.Template, 0, len(rows))
	for _, r := range rows {
		templates = append(templates, r.unboil())
	}
	return templates, nil
}

func (repo assignmentRepository) DeleteTemplate(ctx context.Context, id string) error {
	if !validID(id) {
		return assignment.ErrTemplateNotFound
	}
	n, err := repo.run(ctx, psql.Delete(templatesTable).Where(sq.Eq{"id": id}))
	if err != nil {
		return errors.Wrap(err, "deleting template")
	}
	if n == 0 {
		return assignment.ErrTemplateNotFound
	}
	return nil
}

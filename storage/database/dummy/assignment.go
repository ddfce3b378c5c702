package dummydb

import (
	"context"

	"github.com/PiotrRomanczuk/guitar-crm-sub014/core"
	"github.com/PiotrRomanczuk/guitar-crm-sub014/core/assignment"
)

type assignmentRepository struct {
	db        *table[assignment.Assignment]
	templates *table[assignment.Template]
}

var _ assignment.Repository = (*assignmentRepository)(nil) // interface compliance check

func NewAssignmentRepository(db *DB) *assignmentRepository {
	return &assignmentRepository{db: db.assignments, templates: db.templates}
}

// assignmentField sorts assignments without due date after the dated ones when ascending.
func assignmentField(a assignment.Assignment, field string) interface{} {
	switch field {
	case "due_date":
		if !a.HasDueDate() {
			return "~"
		}
		return a.DueDate
	case "title":
		return a.Title
	case "status":
		return a.Status
	}
	return a.CreatedAt
}

func matchAssignment(f assignment.QueryFilter) func(assignment.Assignment) bool {
	return func(a assignment.Assignment) bool {
		switch {
		case f.Status != "" && a.Status != f.Status:
			return false
		case f.StudentID != "" && a.StudentID != f.StudentID:
			return false
		case f.TeacherID != "" && a.TeacherID != f.TeacherID:
			return false
		case f.LessonID != "" && a.LessonID != f.LessonID:
			return false
		case !f.DueBefore.IsZero() && (!a.HasDueDate() || !a.DueDate.Before(f.DueBefore)):
			return false
		case !f.DueAfter.IsZero() && (!a.HasDueDate() || a.DueDate.Before(f.DueAfter)):
			return false
		case f.OpenOnly && !a.IsOpen():
			return false
		}
		return true
	}
}

func (repo *assignmentRepository) Create(_ context.Context, a assignment.Assignment) (assignment.Assignment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	a.ID = newID()
	repo.db.rows[a.ID] = &a
	return a, nil
}

func (repo *assignmentRepository) Get(_ context.Context, id string) (assignment.Assignment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if a, ok := repo.db.rows[id]; ok {
		return *a, nil
	}
	return assignment.Assignment{}, assignment.ErrNotFound
}

func (repo *assignmentRepository) Query(_ context.Context, filter assignment.QueryFilter, ordering []core.DBOrdering, page core.Pagination) ([]assignment.Assignment, int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	items := repo.db.all(matchAssignment(filter))
	orderItems(items, ordering, assignmentField)
	return paginate(items, page), len(items), nil
}

func (repo *assignmentRepository) List(_ context.Context, filter assignment.QueryFilter) ([]assignment.Assignment, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	items := repo.db.all(matchAssignment(filter))
	orderItems(items, []core.DBOrdering{{Field: "due_date", Ascending: true}, {Field: "created_at", Ascending: true}}, assignmentField)
	return items, nil
}

func (repo *assignmentRepository) Update(_ context.Context, a assignment.Assignment) (assignment.Assignment, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[a.ID]; !ok {
		return assignment.Assignment{}, assignment.ErrNotFound
	}
	repo.db.rows[a.ID] = &a
	return a, nil
}

func (repo *assignmentRepository) Delete(_ context.Context, id string) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if _, ok := repo.db.rows[id]; !ok {
		return assignment.ErrNotFound
	}
	delete(repo.db.rows, id)
	return nil
}

func (repo *assignmentRepository) CreateTemplate(_ context.Context, t assignment.Template) (assignment.Template, error) {
	repo.templates.Lock()
	defer repo.templates.Unlock()

	t.ID = newID()
	repo.templates.rows[t.ID] = &t
	return t, nil
}

func (repo *assignmentRepository) GetTemplate(_ context.Context, id string) (assignment.Template, error) {
	repo.templates.RLock()
	defer repo.templates.RUnlock()

	if t, ok := repo.templates.rows[id]; ok {
		return *t, nil
	}
	return assignment.Template{}, assignment.ErrTemplateNotFound
}

func (repo *assignmentRepository) ListTemplates(_ context.Context, teacherID string) ([]assignment.Template, error) {
	repo.templates.RLock()
	defer repo.templates.RUnlock()

	templates := repo.templates.all(func(t assignment.Template) bool {
		return teacherID == "" || t.TeacherID == teacherID
	})
	orderItems(templates, []core.DBOrdering{{Field: "title", Ascending: true}}, func(t assignment.Template, _ string) interface{} {
		return t.Title
	})
	return templates, nil
}

func (repo *assignmentRepository) DeleteTemplate(_ context.Context, id string) error {
	repo.templates.Lock()
	defer repo.templates.Unlock()

	if _, ok := repo.templates.rows[id]; !ok {
		return assignment.ErrTemplateNotFound
	}
	delete(repo.templates.rows, id)
	return nil
}

package sqlite

import (
	"context"
	"fmt"

	"github.com/warp/allocation-engine/generic"
)

// =============================================================================
// DIRECTORY SEEDING
// =============================================================================
// Directory CRUD belongs to another service. These upserts exist for the
// migrate command, demos and tests. A zero ID lets SQLite assign one.

// SaveUser inserts or updates a user and returns it with its ID.
func (s *Store) SaveUser(ctx context.Context, u generic.User) (generic.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (id, name, email, dept, created_at)
		VALUES (NULLIF(?, 0), ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email, dept = excluded.dept
		RETURNING id
	`, u.ID, u.Name, u.Email, u.Dept, now()).Scan(&u.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.User{}, generic.Invalid("email", "%q is already taken", u.Email)
		}
		return generic.User{}, fmt.Errorf("failed to save user: %w", err)
	}
	return u, nil
}

// SaveProject inserts or updates a project and returns it with its ID.
func (s *Store) SaveProject(ctx context.Context, p generic.Project) (generic.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Category == "" {
		p.Category = "project"
	}
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO projects (id, name, code, client, location, category, created_at)
		VALUES (NULLIF(?, 0), ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, code = excluded.code, client = excluded.client,
			location = excluded.location, category = excluded.category
		RETURNING id
	`, p.ID, p.Name, p.Code, p.Client, p.Location, p.Category, now()).Scan(&p.ID)
	if err != nil {
		if isUniqueConstraintError(err) {
			return generic.Project{}, generic.Invalid("name", "project %q already exists", p.Name)
		}
		return generic.Project{}, fmt.Errorf("failed to save project: %w", err)
	}
	return p, nil
}

// SaveTask inserts or updates a task and returns it with its ID.
func (s *Store) SaveTask(ctx context.Context, t generic.Task) (generic.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tasks (id, name, dept)
		VALUES (NULLIF(?, 0), ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, dept = excluded.dept
		RETURNING id
	`, t.ID, t.Name, t.Dept).Scan(&t.ID)
	if err != nil {
		return generic.Task{}, fmt.Errorf("failed to save task: %w", err)
	}
	return t, nil
}

// CatalogSeed names the records SeedCatalog makes sure exist.
type CatalogSeed struct {
	LeaveTaskName      string
	PTOProjectCategory string
	PTOProjectName     string
}

// SeedCatalog creates the leave task and PTO project if they are missing.
// It reports which records it created.
func (s *Store) SeedCatalog(ctx context.Context, seed CatalogSeed) (created []string, err error) {
	task, err := s.FindTaskByName(ctx, seed.LeaveTaskName)
	if err != nil {
		return nil, err
	}
	if task == nil {
		if _, err := s.SaveTask(ctx, generic.Task{Name: seed.LeaveTaskName}); err != nil {
			return nil, err
		}
		created = append(created, "task "+seed.LeaveTaskName)
	}

	project, err := s.FindProjectByCategoryOrName(ctx, seed.PTOProjectCategory, seed.PTOProjectName)
	if err != nil {
		return created, err
	}
	if project == nil {
		if _, err := s.SaveProject(ctx, generic.Project{
			Name:     seed.PTOProjectName,
			Category: seed.PTOProjectCategory,
		}); err != nil {
			return created, err
		}
		created = append(created, "project "+seed.PTOProjectName)
	}
	return created, nil
}

// Package catalog resolves the well-known leave task and PTO project.
//
// The engine never hard-codes their identifiers. Named looks them up by the
// configured name/category through the running transaction, Static returns
// fixed records for tests.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/warp/allocation-engine/generic"
)

const (
	DefaultLeaveTaskName      = "Leave/Holiday"
	DefaultPTOProjectCategory = "pto"
	DefaultPTOProjectName     = "PTO"
)

// Named resolves catalog records by name and category.
type Named struct {
	LeaveTaskName      string
	PTOProjectCategory string
	PTOProjectName     string
}

var _ generic.Catalog = Named{}

// Defaults returns a Named catalog with the stock names.
func Defaults() Named {
	return Named{
		LeaveTaskName:      DefaultLeaveTaskName,
		PTOProjectCategory: DefaultPTOProjectCategory,
		PTOProjectName:     DefaultPTOProjectName,
	}
}

func (n Named) LeaveTask(ctx context.Context, s generic.Store) (generic.Task, error) {
	task, err := s.FindTaskByName(ctx, n.LeaveTaskName)
	if err != nil {
		return generic.Task{}, fmt.Errorf("lookup leave task: %w", err)
	}
	if task == nil {
		return generic.Task{}, &generic.SetupIncompleteError{Missing: fmt.Sprintf("leave task %q", n.LeaveTaskName)}
	}
	return *task, nil
}

func (n Named) PTOProject(ctx context.Context, s generic.Store) (generic.Project, error) {
	project, err := s.FindProjectByCategoryOrName(ctx, n.PTOProjectCategory, n.PTOProjectName)
	if err != nil {
		return generic.Project{}, fmt.Errorf("lookup PTO project: %w", err)
	}
	if project == nil {
		return generic.Project{}, &generic.SetupIncompleteError{
			Missing: fmt.Sprintf("PTO project (category %q or name %q)", n.PTOProjectCategory, n.PTOProjectName),
		}
	}
	return *project, nil
}

func (n Named) IsPTOProject(p generic.Project) bool {
	if n.PTOProjectCategory != "" && strings.EqualFold(p.Category, n.PTOProjectCategory) {
		return true
	}
	return n.PTOProjectName != "" && p.Name == n.PTOProjectName
}

// Static serves fixed records. A nil field behaves as "not configured".
type Static struct {
	Task    *generic.Task
	Project *generic.Project
}

var _ generic.Catalog = Static{}

func (s Static) LeaveTask(context.Context, generic.Store) (generic.Task, error) {
	if s.Task == nil {
		return generic.Task{}, &generic.SetupIncompleteError{Missing: "leave task"}
	}
	return *s.Task, nil
}

func (s Static) PTOProject(context.Context, generic.Store) (generic.Project, error) {
	if s.Project == nil {
		return generic.Project{}, &generic.SetupIncompleteError{Missing: "PTO project"}
	}
	return *s.Project, nil
}

func (s Static) IsPTOProject(p generic.Project) bool {
	return s.Project != nil && p.ID == s.Project.ID
}

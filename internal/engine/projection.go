package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"inspectline/internal/domain"
	"inspectline/internal/repo"
)

// inspectionTaskStatus maps an inspection's lifecycle status to the task
// status its inspector should see.
func inspectionTaskStatus(status string) (string, bool) {
	switch status {
	case "assigned":
		return "todo", true
	case "in_progress":
		return "in_progress", true
	case "submitted":
		return "review", true
	case "completed":
		return "completed", true
	}
	return "", false
}

// templateTaskStatus maps a template's review status to the manager task
// status.
func templateTaskStatus(status string) (string, bool) {
	switch status {
	case "submitted":
		return "review", true
	case "manager_edit":
		return "in_progress", true
	case "published":
		return "todo", true
	}
	return "", false
}

// sameUTCDay reports whether the RFC3339 timestamp falls on the given day.
func sameUTCDay(ts string, day time.Time) bool {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return false
	}
	y1, m1, d1 := t.UTC().Date()
	y2, m2, d2 := day.UTC().Date()
	return y1 == y2 && m1 == m2 && d1 == d2
}

// ReconcileTasks backfills the task list for a user from the current state
// of their inspections and templates. The insert is existence-checked per
// anchor so repeated calls converge, and every failure is logged and
// skipped: a read must never break because a derived row could not be
// written.
func (e Engine) ReconcileTasks(ctx context.Context, userID, role string) ([]domain.Task, error) {
	switch role {
	case "inspector":
		e.reconcileInspectorTasks(ctx, userID)
	case "manager":
		e.reconcileManagerTasks(ctx, userID)
	}
	return e.Repo.ListTasks(ctx, repo.TaskFilters{AssignedToID: userID})
}

func (e Engine) reconcileInspectorTasks(ctx context.Context, inspectorID string) {
	inspections, err := e.Repo.ListInspections(ctx, repo.InspectionFilters{InspectorID: inspectorID})
	if err != nil {
		e.Log.Warn("task backfill: listing inspections failed",
			zap.String("inspector_id", inspectorID), zap.Error(err))
		return
	}
	today := e.now().UTC()
	for _, ins := range inspections {
		status, ok := inspectionTaskStatus(ins.Status)
		if !ok {
			continue
		}
		// fresh assignments only surface on their creation day; the
		// scheduled time is informational and does not move the window
		if ins.Status == "assigned" && !sameUTCDay(ins.CreatedAt, today) {
			continue
		}
		exists, err := e.Repo.TaskExistsForInspection(ctx, ins.ID, inspectorID)
		if err != nil {
			e.Log.Warn("task backfill: existence check failed",
				zap.String("inspection_id", ins.ID), zap.Error(err))
			continue
		}
		if exists {
			continue
		}
		t, err := e.Repo.GetTemplate(ctx, ins.TemplateID)
		title := "Inspection"
		if err == nil {
			title = "Inspection: " + t.Title
		}
		now := e.nowRFC3339()
		task := domain.Task{
			ID:           newID(),
			Title:        title,
			Priority:     "medium",
			Status:       status,
			IsCompleted:  status == "completed",
			InspectionID: &ins.ID,
			AssignedToID: inspectorID,
			AssignedByID: ins.ManagerID,
			DueDate:      ins.ScheduledAt,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		tplID := ins.TemplateID
		task.TemplateID = &tplID
		if err := e.Repo.InsertTask(ctx, task); err != nil {
			e.Log.Warn("task backfill: insert failed",
				zap.String("inspection_id", ins.ID), zap.Error(err))
		}
	}
}

func (e Engine) reconcileManagerTasks(ctx context.Context, managerID string) {
	templates, err := e.Repo.ListTemplatesByStatuses(ctx, managerID, []string{"submitted", "manager_edit", "published"})
	if err != nil {
		e.Log.Warn("task backfill: listing templates failed",
			zap.String("manager_id", managerID), zap.Error(err))
		return
	}
	for _, t := range templates {
		status, ok := templateTaskStatus(t.Status)
		if !ok {
			continue
		}
		exists, err := e.Repo.TaskExistsForTemplate(ctx, t.ID, managerID)
		if err != nil {
			e.Log.Warn("task backfill: existence check failed",
				zap.String("template_id", t.ID), zap.Error(err))
			continue
		}
		if exists {
			continue
		}
		now := e.nowRFC3339()
		tplID := t.ID
		task := domain.Task{
			ID:           newID(),
			Title:        "Template review: " + t.Title,
			Priority:     "medium",
			Status:       status,
			TemplateID:   &tplID,
			AssignedToID: managerID,
			AssignedByID: t.CreatorID,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := e.Repo.InsertTask(ctx, task); err != nil {
			e.Log.Warn("task backfill: insert failed",
				zap.String("template_id", t.ID), zap.Error(err))
		}
	}
}

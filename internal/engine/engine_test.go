package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"inspectline/internal/config"
	"inspectline/internal/db"
	"inspectline/internal/domain"
	"inspectline/internal/engine"
	"inspectline/internal/migrate"
	"inspectline/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default(), zap.NewNop())
	eng.Now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

// publishTemplate walks a template through draft, submission, and publish.
func publishTemplate(t *testing.T, env testEnv, pages []domain.Page) domain.Template {
	t.Helper()
	tpl, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateCreateOptions{
		Title:     "Carton check",
		Pages:     pages,
		CreatorID: "creator-1",
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	if _, err := env.Engine.SubmitTemplate(env.Ctx, tpl.ID, "manager-1", "creator-1"); err != nil {
		t.Fatalf("submit template: %v", err)
	}
	tpl, err = env.Engine.PublishTemplate(env.Ctx, tpl.ID, "manager-1")
	if err != nil {
		t.Fatalf("publish template: %v", err)
	}
	return tpl
}

func assignAndStart(t *testing.T, env testEnv, templateID string) domain.Inspection {
	t.Helper()
	ins, err := env.Engine.AssignInspection(env.Ctx, engine.AssignOptions{
		TemplateID:  templateID,
		InspectorID: "inspector-1",
		ManagerID:   "manager-1",
	})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	ins, err = env.Engine.StartInspection(env.Ctx, ins.ID, "inspector-1")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return ins
}

func TestTemplateLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tpl, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateCreateOptions{Title: "T", CreatorID: "creator-1"})
	if err != nil {
		t.Fatal(err)
	}
	if tpl.Status != "draft" {
		t.Fatalf("status = %s, want draft", tpl.Status)
	}
	// only the creator can submit
	if _, err := env.Engine.SubmitTemplate(env.Ctx, tpl.ID, "manager-1", "someone-else"); err == nil {
		t.Fatal("expected forbidden for non-creator submit")
	}
	tpl, err = env.Engine.SubmitTemplate(env.Ctx, tpl.ID, "manager-1", "creator-1")
	if err != nil {
		t.Fatal(err)
	}
	tpl, err = env.Engine.StartManagerEdit(env.Ctx, tpl.ID, "manager-1")
	if err != nil {
		t.Fatal(err)
	}
	if tpl.Status != "manager_edit" {
		t.Fatalf("status = %s, want manager_edit", tpl.Status)
	}
	tpl, err = env.Engine.PublishTemplate(env.Ctx, tpl.ID, "manager-1")
	if err != nil {
		t.Fatal(err)
	}
	if tpl.Status != "published" {
		t.Fatalf("status = %s, want published", tpl.Status)
	}
	// published is terminal
	if _, err := env.Engine.SubmitTemplate(env.Ctx, tpl.ID, "manager-1", "creator-1"); err == nil {
		t.Fatal("expected conflict submitting a published template")
	}
}

func TestConfigureSampling(t *testing.T) {
	env := newTestEnv(t)
	tpl := publishTemplate(t, env, nil)
	tpl, err := env.Engine.ConfigureSampling(env.Ctx, tpl.ID, 150, 2.5, "manager-1")
	if err != nil {
		t.Fatal(err)
	}
	if tpl.SampleSize == nil || *tpl.SampleSize != 20 {
		t.Fatalf("sample size = %v, want 20", tpl.SampleSize)
	}
	if tpl.CriticalAllowed == nil || *tpl.CriticalAllowed != 0 {
		t.Fatalf("critical allowed = %v, want 0", tpl.CriticalAllowed)
	}
	if tpl.MajorAllowed == nil || *tpl.MajorAllowed != 1 {
		t.Fatalf("major allowed = %v, want 1", tpl.MajorAllowed)
	}
	if tpl.MinorAllowed == nil || *tpl.MinorAllowed != 1 {
		t.Fatalf("minor allowed = %v, want 1", tpl.MinorAllowed)
	}
	// out-of-range lots clamp rather than reject; the smallest plan is stored
	tpl, err = env.Engine.ConfigureSampling(env.Ctx, tpl.ID, 0, 2.5, "manager-1")
	if err != nil {
		t.Fatal(err)
	}
	if tpl.LotSize == nil || *tpl.LotSize != 1 {
		t.Fatalf("lot size = %v, want 1", tpl.LotSize)
	}
	if tpl.SampleSize == nil || *tpl.SampleSize != 2 {
		t.Fatalf("sample size = %v, want 2", tpl.SampleSize)
	}
}

func TestStartInspectionGuards(t *testing.T) {
	env := newTestEnv(t)
	tpl := publishTemplate(t, env, nil)
	ins, err := env.Engine.AssignInspection(env.Ctx, engine.AssignOptions{
		TemplateID: tpl.ID, InspectorID: "inspector-1", ManagerID: "manager-1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.StartInspection(env.Ctx, ins.ID, "inspector-2"); err == nil {
		t.Fatal("expected forbidden for other inspector")
	}
	ins, err = env.Engine.StartInspection(env.Ctx, ins.ID, "inspector-1")
	if err != nil {
		t.Fatal(err)
	}
	if ins.Status != "in_progress" {
		t.Fatalf("status = %s, want in_progress", ins.Status)
	}
	if _, err := env.Engine.StartInspection(env.Ctx, ins.ID, "inspector-1"); err == nil {
		t.Fatal("expected conflict starting twice")
	}
}

func evidencePages() []domain.Page {
	return []domain.Page{{ID: "p1", Questions: []domain.Question{{
		ID:   "q1",
		Text: "Seal intact?",
		Rules: []domain.Rule{{
			Condition:    domain.RuleCondition{Kind: "equals", Equals: "No"},
			RequireText:  true,
			RequireMedia: true,
		}},
	}}}}
}

func TestSubmitEvidenceGateAborts(t *testing.T) {
	env := newTestEnv(t)
	tpl := publishTemplate(t, env, evidencePages())
	ins := assignAndStart(t, env, tpl.ID)

	_, err := env.Engine.SubmitInspection(env.Ctx, engine.SubmitOptions{
		ID:        ins.ID,
		ActorID:   "inspector-1",
		Responses: map[string]any{"q1": "No"},
	})
	var deficiency engine.EvidenceDeficiencyError
	if !errors.As(err, &deficiency) {
		t.Fatalf("expected evidence deficiency, got %v", err)
	}
	if len(deficiency.Items) != 1 || deficiency.Items[0].QuestionID != "q1" {
		t.Fatalf("unexpected items %+v", deficiency.Items)
	}

	// nothing persisted: status unchanged, no notifications, no manager task
	got, err := env.Engine.Repo.GetInspection(env.Ctx, ins.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "in_progress" {
		t.Fatalf("status = %s, want in_progress", got.Status)
	}
	ns, err := env.Engine.Repo.ListNotifications(env.Ctx, "manager-1", false)
	if err != nil {
		t.Fatal(err)
	}
	if len(ns) != 0 {
		t.Fatalf("notifications = %d, want 0", len(ns))
	}
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{AssignedToID: "manager-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 0 {
		t.Fatalf("manager tasks = %d, want 0", len(tasks))
	}
}

func TestSubmitWithSatisfiedEvidence(t *testing.T) {
	env := newTestEnv(t)
	tpl := publishTemplate(t, env, evidencePages())
	ins := assignAndStart(t, env, tpl.ID)

	got, err := env.Engine.SubmitInspection(env.Ctx, engine.SubmitOptions{
		ID:      ins.ID,
		ActorID: "inspector-1",
		Responses: map[string]any{
			"q1":                 "No",
			"q1__evidence_text":  "seal torn on carton 2",
			"q1__evidence_media": []any{"photo.jpg"},
		},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if got.Status != "submitted" {
		t.Fatalf("status = %s, want submitted", got.Status)
	}
	if len(got.RemainingActions) != 1 || !got.RemainingActions[0].Notified {
		t.Fatalf("remaining actions = %+v", got.RemainingActions)
	}
	// require_media notifies even without an explicit notify flag
	ns, err := env.Engine.Repo.ListNotifications(env.Ctx, "manager-1", true)
	if err != nil {
		t.Fatal(err)
	}
	if len(ns) != 1 {
		t.Fatalf("notifications = %d, want 1", len(ns))
	}
	// manager got a review task
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{AssignedToID: "manager-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Status != "review" {
		t.Fatalf("manager tasks = %+v", tasks)
	}
}

func TestSubmitAQLEvaluation(t *testing.T) {
	env := newTestEnv(t)
	tpl := publishTemplate(t, env, nil)
	if _, err := env.Engine.ConfigureSampling(env.Ctx, tpl.ID, 150, 2.5, "manager-1"); err != nil {
		t.Fatal(err)
	}
	ins := assignAndStart(t, env, tpl.ID)

	got, err := env.Engine.SubmitInspection(env.Ctx, engine.SubmitOptions{
		ID:           ins.ID,
		ActorID:      "inspector-1",
		Responses:    map[string]any{},
		DefectCounts: &domain.DefectCounts{Major: 2, Minor: 1},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.AQLPassed {
		t.Fatal("2 majors against allowance of 1 should fail")
	}
	if len(got.RejectionReasons) != 1 || got.RejectionReasons[0] != "MAJOR_EXCEEDED" {
		t.Fatalf("reasons = %v", got.RejectionReasons)
	}
	if got.AQL == nil || got.AQL.Overridden {
		t.Fatalf("snapshot = %+v", got.AQL)
	}
	if got.AQL.Computed.Passed != got.AQL.Effective.Passed {
		t.Fatal("computed and effective should agree without an override")
	}
}

func TestSubmitWithoutSamplingDefaultsToPass(t *testing.T) {
	env := newTestEnv(t)
	tpl := publishTemplate(t, env, nil)
	ins := assignAndStart(t, env, tpl.ID)

	got, err := env.Engine.SubmitInspection(env.Ctx, engine.SubmitOptions{
		ID:           ins.ID,
		ActorID:      "inspector-1",
		DefectCounts: &domain.DefectCounts{Major: 50},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !got.AQLPassed {
		t.Fatal("no sampling plan configured means no quality verdict to fail")
	}
}

func TestSubmitDerivesCountsFromResponses(t *testing.T) {
	env := newTestEnv(t)
	tpl := publishTemplate(t, env, nil)
	if _, err := env.Engine.ConfigureSampling(env.Ctx, tpl.ID, 150, 2.5, "manager-1"); err != nil {
		t.Fatal(err)
	}
	ins := assignAndStart(t, env, tpl.ID)

	got, err := env.Engine.SubmitInspection(env.Ctx, engine.SubmitOptions{
		ID:      ins.ID,
		ActorID: "inspector-1",
		Responses: map[string]any{
			"q1__critical_text": "1",
			"q2__major_text":    float64(2),
			"q3__minor_text":    "0",
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.DefectCounts.Critical != 1 || got.DefectCounts.Major != 2 || got.DefectCounts.Minor != 0 {
		t.Fatalf("counts = %+v", got.DefectCounts)
	}
	if got.AQLPassed {
		t.Fatal("a critical defect must fail the lot")
	}
	if got.RejectionReasons[0] != "CRITICAL_EXCEEDED" {
		t.Fatalf("reasons = %v", got.RejectionReasons)
	}
}

func TestSubmitOverride(t *testing.T) {
	env := newTestEnv(t)
	tpl := publishTemplate(t, env, nil)
	if _, err := env.Engine.ConfigureSampling(env.Ctx, tpl.ID, 150, 2.5, "manager-1"); err != nil {
		t.Fatal(err)
	}

	// ACCEPT flips a computed fail to an effective pass, keeping the
	// computed verdict in the snapshot
	ins := assignAndStart(t, env, tpl.ID)
	got, err := env.Engine.SubmitInspection(env.Ctx, engine.SubmitOptions{
		ID:           ins.ID,
		ActorID:      "inspector-1",
		ActorRole:    "inspector",
		DefectCounts: &domain.DefectCounts{Major: 3},
		Override:     &engine.OverrideRequest{Decision: "ACCEPT", Reason: "supplier deviation approved"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !got.AQLPassed {
		t.Fatal("override ACCEPT should pass")
	}
	if got.AQL == nil || !got.AQL.Overridden || got.AQL.Override == nil {
		t.Fatalf("snapshot = %+v", got.AQL)
	}
	if got.AQL.Computed.Passed {
		t.Fatal("computed verdict must survive the override")
	}
	if got.AQL.Override.Previous.Passed {
		t.Fatal("override_meta.previous must hold the computed verdict")
	}

	// REJECT appends the override marker to the computed reasons
	ins2 := assignAndStart(t, env, tpl.ID)
	got2, err := env.Engine.SubmitInspection(env.Ctx, engine.SubmitOptions{
		ID:       ins2.ID,
		ActorID:  "inspector-1",
		Override: &engine.OverrideRequest{Decision: "REJECT", Reason: "visible mold on pallet"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got2.AQLPassed {
		t.Fatal("override REJECT should fail")
	}
	last := got2.RejectionReasons[len(got2.RejectionReasons)-1]
	if last != "OVERRIDDEN_BY_INSPECTOR" {
		t.Fatalf("reasons = %v", got2.RejectionReasons)
	}

	// reason is mandatory
	ins3 := assignAndStart(t, env, tpl.ID)
	_, err = env.Engine.SubmitInspection(env.Ctx, engine.SubmitOptions{
		ID:       ins3.ID,
		ActorID:  "inspector-1",
		Override: &engine.OverrideRequest{Decision: "REJECT"},
	})
	var verr engine.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestApproveFinalizes(t *testing.T) {
	env := newTestEnv(t)
	tpl := publishTemplate(t, env, nil)
	if _, err := env.Engine.ConfigureSampling(env.Ctx, tpl.ID, 150, 2.5, "manager-1"); err != nil {
		t.Fatal(err)
	}
	ins := assignAndStart(t, env, tpl.ID)
	_, err := env.Engine.SubmitInspection(env.Ctx, engine.SubmitOptions{
		ID:      ins.ID,
		ActorID: "inspector-1",
		Responses: map[string]any{
			"samples": []any{
				map[string]any{"defects": []any{
					map[string]any{"code": "scratch", "count": float64(2)},
					map[string]any{"code": "dent"},
				}},
				map[string]any{"defects": []any{
					map[string]any{"code": "dent"},
				}},
			},
		},
		DefectCounts: &domain.DefectCounts{Critical: 1},
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := env.Engine.ApproveInspection(env.Ctx, ins.ID, "manager-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "completed" || got.CompletedAt == nil {
		t.Fatalf("inspection = %+v", got)
	}

	// finalized answers snapshot
	resp, err := env.Engine.Repo.GetInspectionResponse(env.Ctx, tpl.ID, "inspector-1")
	if err != nil {
		t.Fatalf("response snapshot: %v", err)
	}
	if resp.ManagerID != "manager-1" {
		t.Fatalf("response = %+v", resp)
	}

	// failing verdict yields exactly one corrective action with ranked codes
	cars, err := env.Engine.Repo.ListCorrectiveActions(env.Ctx, repo.CorrectiveActionFilters{InspectionID: ins.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(cars) != 1 {
		t.Fatalf("corrective actions = %d, want 1", len(cars))
	}
	top := cars[0].TopDefectCodes
	if len(top) != 2 || top[0].Code != "scratch" || top[0].Count != 2 || top[1].Code != "dent" || top[1].Count != 2 {
		t.Fatalf("top defects = %+v", top)
	}

	// tasks anchored to the inspection are completed
	tasks, err := env.Engine.Repo.ListTasks(env.Ctx, repo.TaskFilters{InspectionID: ins.ID})
	if err != nil {
		t.Fatal(err)
	}
	for _, task := range tasks {
		if task.Status != "completed" || !task.IsCompleted {
			t.Fatalf("task not completed: %+v", task)
		}
	}

	// second approval loses the conditional write
	_, err = env.Engine.ApproveInspection(env.Ctx, ins.ID, "manager-1")
	var conflict engine.StateConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	cars, _ = env.Engine.Repo.ListCorrectiveActions(env.Ctx, repo.CorrectiveActionFilters{InspectionID: ins.ID})
	if len(cars) != 1 {
		t.Fatalf("double approval duplicated corrective actions: %d", len(cars))
	}
}

func TestApprovePassingLotSkipsCorrectiveAction(t *testing.T) {
	env := newTestEnv(t)
	tpl := publishTemplate(t, env, nil)
	ins := assignAndStart(t, env, tpl.ID)
	if _, err := env.Engine.SubmitInspection(env.Ctx, engine.SubmitOptions{ID: ins.ID, ActorID: "inspector-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveInspection(env.Ctx, ins.ID, "manager-1"); err != nil {
		t.Fatal(err)
	}
	cars, err := env.Engine.Repo.ListCorrectiveActions(env.Ctx, repo.CorrectiveActionFilters{InspectionID: ins.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(cars) != 0 {
		t.Fatalf("passing lot produced corrective actions: %d", len(cars))
	}
}

func TestAuditTrailOnLifecycle(t *testing.T) {
	env := newTestEnv(t)
	tpl := publishTemplate(t, env, nil)
	ins := assignAndStart(t, env, tpl.ID)
	if _, err := env.Engine.SubmitInspection(env.Ctx, engine.SubmitOptions{ID: ins.ID, ActorID: "inspector-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApproveInspection(env.Ctx, ins.ID, "manager-1"); err != nil {
		t.Fatal(err)
	}
	events, err := env.Engine.Repo.ListAuditEvents(env.Ctx, ins.ID, 0)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"inspection.assigned", "inspection.started", "inspection.submitted", "inspection.approved"}
	if len(events) != len(want) {
		t.Fatalf("events = %d, want %d", len(events), len(want))
	}
	for i := range want {
		if events[i].Action != want[i] {
			t.Fatalf("event %d = %s, want %s", i, events[i].Action, want[i])
		}
	}
}

func TestReconcileInspectorTasks(t *testing.T) {
	env := newTestEnv(t)
	tpl := publishTemplate(t, env, nil)

	// assigned today surfaces as todo even when scheduled for tomorrow:
	// the window follows creation, not the schedule
	fresh, err := env.Engine.AssignInspection(env.Ctx, engine.AssignOptions{
		TemplateID: tpl.ID, InspectorID: "inspector-1", ManagerID: "manager-1",
		ScheduledAt: "2025-06-02T09:00:00Z",
	})
	if err != nil {
		t.Fatal(err)
	}

	// assigned yesterday stays invisible, a today schedule notwithstanding
	staleSchedule := "2025-06-01T10:00:00Z"
	stale := domain.Inspection{
		ID:          "stale-1",
		TemplateID:  tpl.ID,
		InspectorID: "inspector-1",
		ManagerID:   "manager-1",
		ScheduledAt: &staleSchedule,
		Status:      "assigned",
		Responses:   map[string]any{},
		AQLPassed:   true,
		CreatedAt:   "2025-05-31T09:00:00Z",
		UpdatedAt:   "2025-05-31T09:00:00Z",
	}
	if err := env.Engine.Repo.InsertInspection(env.Ctx, stale); err != nil {
		t.Fatal(err)
	}

	tasks, err := env.Engine.ReconcileTasks(env.Ctx, "inspector-1", "inspector")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(tasks))
	}
	if tasks[0].Status != "todo" || tasks[0].InspectionID == nil || *tasks[0].InspectionID != fresh.ID {
		t.Fatalf("task = %+v", tasks[0])
	}

	// repeated reconciliation is idempotent
	tasks, err = env.Engine.ReconcileTasks(env.Ctx, "inspector-1", "inspector")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("second pass tasks = %d, want 1", len(tasks))
	}

	// a submitted inspection without a task backfills as review
	if _, err := env.Engine.StartInspection(env.Ctx, fresh.ID, "inspector-1"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitInspection(env.Ctx, engine.SubmitOptions{ID: fresh.ID, ActorID: "inspector-1"}); err != nil {
		t.Fatal(err)
	}
	tasks, err = env.Engine.ReconcileTasks(env.Ctx, "inspector-1", "inspector")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Status != "review" {
		t.Fatalf("tasks after submit = %+v", tasks)
	}
}

func TestReconcileManagerTasks(t *testing.T) {
	env := newTestEnv(t)
	tpl, err := env.Engine.CreateTemplate(env.Ctx, engine.TemplateCreateOptions{Title: "T", CreatorID: "creator-1"})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.SubmitTemplate(env.Ctx, tpl.ID, "manager-1", "creator-1"); err != nil {
		t.Fatal(err)
	}

	tasks, err := env.Engine.ReconcileTasks(env.Ctx, "manager-1", "manager")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 || tasks[0].Status != "review" {
		t.Fatalf("tasks = %+v", tasks)
	}
	if tasks[0].TemplateID == nil || *tasks[0].TemplateID != tpl.ID {
		t.Fatalf("task anchor = %+v", tasks[0])
	}

	// idempotent across calls
	tasks, err = env.Engine.ReconcileTasks(env.Ctx, "manager-1", "manager")
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("second pass tasks = %d, want 1", len(tasks))
	}
}

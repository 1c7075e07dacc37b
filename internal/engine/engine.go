package engine

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"inspectline/internal/audit"
	"inspectline/internal/config"
	"inspectline/internal/domain"
	"inspectline/internal/engine/aql"
	"inspectline/internal/engine/rules"
	"inspectline/internal/repo"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Audit  audit.Writer
	Config *config.Config
	Log    *zap.Logger
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config, log *zap.Logger) Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Audit:  audit.Writer{DB: db},
		Config: cfg,
		Log:    log,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func newID() string {
	return uuid.NewString()
}

// withTx runs fn inside a transaction, committing on success.
func (e Engine) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- templates ----

type TemplateCreateOptions struct {
	Title            string
	Description      string
	ImageURL         string
	Pages            []domain.Page
	Organization     string
	Location         string
	DefectCategories domain.DefectCategories
	CreatorID        string
}

func (e Engine) CreateTemplate(ctx context.Context, opts TemplateCreateOptions) (domain.Template, error) {
	if opts.Title == "" {
		return domain.Template{}, validationf("title is required")
	}
	if opts.CreatorID == "" {
		return domain.Template{}, validationf("creator is required")
	}
	now := e.nowRFC3339()
	t := domain.Template{
		ID:               newID(),
		Title:            opts.Title,
		Description:      opts.Description,
		Pages:            opts.Pages,
		CreatorID:        opts.CreatorID,
		Organization:     opts.Organization,
		Location:         opts.Location,
		Status:           "draft",
		DefectCategories: opts.DefectCategories,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if opts.ImageURL != "" {
		t.ImageURL = &opts.ImageURL
	}
	if t.Pages == nil {
		t.Pages = []domain.Page{}
	}
	if err := e.Repo.InsertTemplate(ctx, t); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

type TemplateUpdateOptions struct {
	ID               string
	Title            *string
	Description      *string
	ImageURL         *string
	Pages            []domain.Page
	Organization     *string
	Location         *string
	DefectCategories *domain.DefectCategories
	ActorID          string
	ActorRole        string
}

// UpdateTemplateContent edits an unpublished template. Creators edit their
// drafts; managers edit in manager_edit.
func (e Engine) UpdateTemplateContent(ctx context.Context, opts TemplateUpdateOptions) (domain.Template, error) {
	t, err := e.Repo.GetTemplate(ctx, opts.ID)
	if err != nil {
		return domain.Template{}, err
	}
	switch t.Status {
	case "draft":
		if t.CreatorID != opts.ActorID {
			return domain.Template{}, ForbiddenError{Msg: "only the creator can edit a draft"}
		}
	case "manager_edit":
		if t.ManagerID == nil || *t.ManagerID != opts.ActorID {
			return domain.Template{}, ForbiddenError{Msg: "only the editing manager can change this template"}
		}
	default:
		return domain.Template{}, StateConflictError{Entity: "template", ID: t.ID, Msg: "not editable in status " + t.Status}
	}
	if opts.Title != nil {
		t.Title = *opts.Title
	}
	if opts.Description != nil {
		t.Description = *opts.Description
	}
	if opts.ImageURL != nil {
		t.ImageURL = opts.ImageURL
	}
	if opts.Pages != nil {
		t.Pages = opts.Pages
	}
	if opts.Organization != nil {
		t.Organization = *opts.Organization
	}
	if opts.Location != nil {
		t.Location = *opts.Location
	}
	if opts.DefectCategories != nil {
		t.DefectCategories = *opts.DefectCategories
	}
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateTemplate(ctx, t); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

func (e Engine) ensureTemplateTransition(from, to string) error {
	allowed := map[string][]string{
		"draft":        {"submitted"},
		"submitted":    {"manager_edit", "published"},
		"manager_edit": {"published", "submitted"},
	}
	for _, s := range allowed[from] {
		if s == to {
			return nil
		}
	}
	return StateConflictError{Entity: "template", Msg: "cannot move from " + from + " to " + to}
}

// SubmitTemplate sends a draft to its manager for review.
func (e Engine) SubmitTemplate(ctx context.Context, id, managerID, actorID string) (domain.Template, error) {
	t, err := e.Repo.GetTemplate(ctx, id)
	if err != nil {
		return domain.Template{}, err
	}
	if t.CreatorID != actorID {
		return domain.Template{}, ForbiddenError{Msg: "only the creator can submit a template"}
	}
	if err := e.ensureTemplateTransition(t.Status, "submitted"); err != nil {
		conflict := err.(StateConflictError)
		conflict.ID = t.ID
		return domain.Template{}, conflict
	}
	now := e.nowRFC3339()
	if err := e.Repo.UpdateTemplateStatusIf(ctx, id, t.Status, "submitted", now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Template{}, StateConflictError{Entity: "template", ID: id, Msg: "status changed concurrently"}
		}
		return domain.Template{}, err
	}
	t.Status = "submitted"
	t.UpdatedAt = now
	if managerID != "" {
		t.ManagerID = &managerID
		if err := e.Repo.UpdateTemplate(ctx, t); err != nil {
			return domain.Template{}, err
		}
	}
	return t, nil
}

// StartManagerEdit claims a submitted template for manager revision.
func (e Engine) StartManagerEdit(ctx context.Context, id, managerID string) (domain.Template, error) {
	t, err := e.Repo.GetTemplate(ctx, id)
	if err != nil {
		return domain.Template{}, err
	}
	if err := e.ensureTemplateTransition(t.Status, "manager_edit"); err != nil {
		conflict := err.(StateConflictError)
		conflict.ID = t.ID
		return domain.Template{}, conflict
	}
	now := e.nowRFC3339()
	if err := e.Repo.UpdateTemplateStatusIf(ctx, id, t.Status, "manager_edit", now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Template{}, StateConflictError{Entity: "template", ID: id, Msg: "status changed concurrently"}
		}
		return domain.Template{}, err
	}
	t.Status = "manager_edit"
	t.ManagerID = &managerID
	t.UpdatedAt = now
	if err := e.Repo.UpdateTemplate(ctx, t); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

// PublishTemplate makes a template assignable to inspectors.
func (e Engine) PublishTemplate(ctx context.Context, id, managerID string) (domain.Template, error) {
	t, err := e.Repo.GetTemplate(ctx, id)
	if err != nil {
		return domain.Template{}, err
	}
	if err := e.ensureTemplateTransition(t.Status, "published"); err != nil {
		conflict := err.(StateConflictError)
		conflict.ID = t.ID
		return domain.Template{}, conflict
	}
	now := e.nowRFC3339()
	if err := e.Repo.UpdateTemplateStatusIf(ctx, id, t.Status, "published", now); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.Template{}, StateConflictError{Entity: "template", ID: id, Msg: "status changed concurrently"}
		}
		return domain.Template{}, err
	}
	t.Status = "published"
	t.ManagerID = &managerID
	t.UpdatedAt = now
	if err := e.Repo.UpdateTemplate(ctx, t); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

// ConfigureSampling sets lot size and quality level on a template and
// derives its sampling plan.
func (e Engine) ConfigureSampling(ctx context.Context, id string, lotSize int, aqlLevel float64, actorID string) (domain.Template, error) {
	t, err := e.Repo.GetTemplate(ctx, id)
	if err != nil {
		return domain.Template{}, err
	}
	if aqlLevel == 0 && e.Config != nil {
		aqlLevel = e.Config.Sampling.DefaultAQLLevel
	}
	plan := aql.Compute(lotSize, aqlLevel)
	t.LotSize = &plan.LotSize
	t.AQLLevel = &plan.AQLLevel
	t.SampleSize = &plan.SampleSize
	t.CriticalAllowed = &plan.CriticalAllowed
	t.MajorAllowed = &plan.MajorAllowed
	t.MinorAllowed = &plan.MinorAllowed
	t.UpdatedAt = e.nowRFC3339()
	if err := e.Repo.UpdateTemplate(ctx, t); err != nil {
		return domain.Template{}, err
	}
	return t, nil
}

// SamplingPlan returns the stored plan, or nil when the template has no
// sampling configuration.
func SamplingPlan(t domain.Template) *aql.Plan {
	if t.LotSize == nil || t.AQLLevel == nil || t.SampleSize == nil {
		return nil
	}
	p := aql.Plan{
		LotSize:    *t.LotSize,
		AQLLevel:   *t.AQLLevel,
		SampleSize: *t.SampleSize,
	}
	if t.CriticalAllowed != nil {
		p.CriticalAllowed = *t.CriticalAllowed
	}
	if t.MajorAllowed != nil {
		p.MajorAllowed = *t.MajorAllowed
	}
	if t.MinorAllowed != nil {
		p.MinorAllowed = *t.MinorAllowed
	}
	return &p
}

// ---- inspections ----

type AssignOptions struct {
	TemplateID  string
	InspectorID string
	ManagerID   string
	ScheduledAt string
}

// AssignInspection schedules a published template for an inspector.
func (e Engine) AssignInspection(ctx context.Context, opts AssignOptions) (domain.Inspection, error) {
	if opts.InspectorID == "" {
		return domain.Inspection{}, validationf("inspector is required")
	}
	t, err := e.Repo.GetTemplate(ctx, opts.TemplateID)
	if err != nil {
		return domain.Inspection{}, err
	}
	if t.Status != "published" {
		return domain.Inspection{}, StateConflictError{Entity: "template", ID: t.ID, Msg: "only published templates can be assigned"}
	}
	now := e.nowRFC3339()
	ins := domain.Inspection{
		ID:               newID(),
		TemplateID:       t.ID,
		InspectorID:      opts.InspectorID,
		ManagerID:        opts.ManagerID,
		Status:           "assigned",
		Responses:        map[string]any{},
		RemainingActions: []domain.RuleMatch{},
		RejectionReasons: []string{},
		AQLPassed:        true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if opts.ScheduledAt != "" {
		ins.ScheduledAt = &opts.ScheduledAt
	}
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		if err := e.Repo.InsertInspectionTx(ctx, tx, ins); err != nil {
			return err
		}
		return e.Audit.Append(ctx, tx, ins.ID, opts.ManagerID, "inspection.assigned", audit.Details{
			"template_id":  t.ID,
			"inspector_id": opts.InspectorID,
		})
	})
	if err != nil {
		return domain.Inspection{}, err
	}
	return ins, nil
}

// StartInspection moves an assigned inspection into progress.
func (e Engine) StartInspection(ctx context.Context, id, actorID string) (domain.Inspection, error) {
	ins, err := e.Repo.GetInspection(ctx, id)
	if err != nil {
		return domain.Inspection{}, err
	}
	if ins.InspectorID != actorID {
		return domain.Inspection{}, ForbiddenError{Msg: "only the assigned inspector can start this inspection"}
	}
	if ins.Status != "assigned" {
		return domain.Inspection{}, StateConflictError{Entity: "inspection", ID: id, Msg: "cannot start from status " + ins.Status}
	}
	now := e.nowRFC3339()
	ins.Status = "in_progress"
	ins.UpdatedAt = now
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := e.Repo.UpdateInspectionIfStatus(ctx, tx, ins, "assigned")
		if err != nil {
			return err
		}
		if !ok {
			return StateConflictError{Entity: "inspection", ID: id, Msg: "status changed concurrently"}
		}
		if err := e.Repo.UpdateTasksStatusForInspection(ctx, tx, id, actorID, "in_progress", now); err != nil {
			return err
		}
		return e.Audit.Append(ctx, tx, id, actorID, "inspection.started", nil)
	})
	if err != nil {
		return domain.Inspection{}, err
	}
	return ins, nil
}

type OverrideRequest struct {
	Decision string
	Reason   string
}

type SubmitOptions struct {
	ID           string
	ActorID      string
	ActorRole    string
	Responses    map[string]any
	DefectCounts *domain.DefectCounts
	Override     *OverrideRequest
}

// Defect aggregate suffixes summed out of raw responses when the caller
// sends no usable aggregate counts.
const (
	criticalSuffix = "__critical_text"
	majorSuffix    = "__major_text"
	minorSuffix    = "__minor_text"
)

func deriveDefectCounts(responses map[string]any) domain.DefectCounts {
	var c domain.DefectCounts
	for key, v := range responses {
		n, ok := numeric(v)
		if !ok {
			continue
		}
		switch {
		case strings.HasSuffix(key, criticalSuffix):
			c.Critical += n
		case strings.HasSuffix(key, majorSuffix):
			c.Major += n
		case strings.HasSuffix(key, minorSuffix):
			c.Minor += n
		}
	}
	return c
}

func numeric(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

const overriddenReason = "OVERRIDDEN_BY_INSPECTOR"

// SubmitInspection runs the full submission pipeline: defect aggregation,
// acceptance evaluation, rule evaluation with its evidence gate, optional
// verdict override, persistence, and derived side effects. Evidence
// shortfalls abort before anything is written.
func (e Engine) SubmitInspection(ctx context.Context, opts SubmitOptions) (domain.Inspection, error) {
	ins, err := e.Repo.GetInspection(ctx, opts.ID)
	if err != nil {
		return domain.Inspection{}, err
	}
	if ins.InspectorID != opts.ActorID {
		return domain.Inspection{}, ForbiddenError{Msg: "only the assigned inspector can submit this inspection"}
	}
	if ins.Status != "assigned" && ins.Status != "in_progress" {
		return domain.Inspection{}, StateConflictError{Entity: "inspection", ID: opts.ID, Msg: "cannot submit from status " + ins.Status}
	}
	t, err := e.Repo.GetTemplate(ctx, ins.TemplateID)
	if err != nil {
		return domain.Inspection{}, err
	}
	responses := opts.Responses
	if responses == nil {
		responses = map[string]any{}
	}

	counts := domain.DefectCounts{}
	if opts.DefectCounts != nil {
		counts = *opts.DefectCounts
	}
	if counts.Critical == 0 && counts.Major == 0 && counts.Minor == 0 {
		counts = deriveDefectCounts(responses)
	}

	computed := domain.AQLOutcome{DefectCounts: counts, Passed: true, RejectionReasons: []string{}}
	plan := SamplingPlan(t)
	if plan != nil {
		computed = aql.Evaluate(*plan, counts)
	}

	ruleRes := rules.Evaluate(t.Pages, responses)
	if len(ruleRes.Deficiencies) > 0 {
		return domain.Inspection{}, EvidenceDeficiencyError{Items: ruleRes.Deficiencies}
	}

	effective := computed
	snapshot := domain.AQLSnapshot{Computed: computed, Effective: computed}
	if opts.Override != nil {
		if opts.Override.Decision != "ACCEPT" && opts.Override.Decision != "REJECT" {
			return domain.Inspection{}, validationf("override decision must be ACCEPT or REJECT")
		}
		if strings.TrimSpace(opts.Override.Reason) == "" {
			return domain.Inspection{}, validationf("override reason is required")
		}
		switch opts.Override.Decision {
		case "ACCEPT":
			effective = domain.AQLOutcome{DefectCounts: counts, Passed: true, RejectionReasons: []string{}}
		case "REJECT":
			reasons := append(append([]string{}, computed.RejectionReasons...), overriddenReason)
			effective = domain.AQLOutcome{DefectCounts: counts, Passed: false, RejectionReasons: reasons}
		}
		snapshot.Effective = effective
		snapshot.Overridden = true
		snapshot.Override = &domain.OverrideMeta{
			ActorID:  opts.ActorID,
			Role:     opts.ActorRole,
			Decision: opts.Override.Decision,
			Reason:   opts.Override.Reason,
			At:       e.nowRFC3339(),
			Previous: computed,
		}
	}

	now := e.nowRFC3339()
	prev := ins.Status
	ins.Status = "submitted"
	ins.Responses = responses
	ins.RemainingActions = ruleRes.Matches
	if ins.RemainingActions == nil {
		ins.RemainingActions = []domain.RuleMatch{}
	}
	ins.AQL = &snapshot
	ins.DefectCounts = counts
	ins.AQLPassed = effective.Passed
	ins.RejectionReasons = effective.RejectionReasons
	ins.UpdatedAt = now

	err = e.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := e.Repo.UpdateInspectionIfStatus(ctx, tx, ins, prev)
		if err != nil {
			return err
		}
		if !ok {
			return StateConflictError{Entity: "inspection", ID: opts.ID, Msg: "status changed concurrently"}
		}
		return e.Audit.Append(ctx, tx, ins.ID, opts.ActorID, "inspection.submitted", audit.Details{
			"aql_passed": effective.Passed,
			"overridden": snapshot.Overridden,
		})
	})
	if err != nil {
		return domain.Inspection{}, err
	}

	e.submitSideEffects(ctx, ins, t, ruleRes.Notifications)
	return ins, nil
}

// submitSideEffects runs the derived writes after a submission committed.
// Failures are logged and never escalate to the caller.
func (e Engine) submitSideEffects(ctx context.Context, ins domain.Inspection, t domain.Template, pending []rules.Pending) {
	now := e.nowRFC3339()

	if err := e.withTx(ctx, func(tx *sql.Tx) error {
		return e.Repo.UpdateTasksStatusForInspection(ctx, tx, ins.ID, ins.InspectorID, "review", now)
	}); err != nil {
		e.Log.Warn("inspector task move failed after submit",
			zap.String("inspection_id", ins.ID), zap.Error(err))
	}

	if ins.ManagerID != "" {
		if err := e.withTx(ctx, func(tx *sql.Tx) error {
			exists, err := e.Repo.TaskExistsForInspectionTx(ctx, tx, ins.ID, ins.ManagerID)
			if err != nil {
				return err
			}
			if exists {
				return nil
			}
			return e.Repo.InsertTaskTx(ctx, tx, domain.Task{
				ID:           newID(),
				Title:        "Review inspection: " + t.Title,
				Priority:     "high",
				Status:       "review",
				InspectionID: &ins.ID,
				TemplateID:   &t.ID,
				AssignedToID: ins.ManagerID,
				AssignedByID: ins.InspectorID,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
		}); err != nil {
			e.Log.Warn("manager review task creation failed after submit",
				zap.String("inspection_id", ins.ID), zap.Error(err))
		}
	}

	for _, p := range pending {
		n := domain.Notification{
			ID:           newID(),
			TemplateID:   ins.TemplateID,
			InspectionID: ins.ID,
			ManagerID:    ins.ManagerID,
			InspectorID:  ins.InspectorID,
			QuestionID:   p.QuestionID,
			QuestionText: p.QuestionText,
			Message:      p.Message,
			Type:         "rule_triggered",
			CreatedAt:    now,
		}
		if err := e.withTx(ctx, func(tx *sql.Tx) error {
			return e.Repo.InsertNotification(ctx, tx, n)
		}); err != nil {
			e.Log.Warn("notification insert failed after submit",
				zap.String("inspection_id", ins.ID),
				zap.String("question_id", p.QuestionID), zap.Error(err))
		}
	}
}

// ApproveInspection finalizes a submitted inspection. Exactly one approval
// wins: the status flip is guarded on the submitted state, and a miss means
// someone else already moved it.
func (e Engine) ApproveInspection(ctx context.Context, id, actorID string) (domain.Inspection, error) {
	ins, err := e.Repo.GetInspection(ctx, id)
	if err != nil {
		return domain.Inspection{}, err
	}
	if ins.ManagerID != "" && ins.ManagerID != actorID {
		return domain.Inspection{}, ForbiddenError{Msg: "only the owning manager can approve this inspection"}
	}
	now := e.nowRFC3339()
	ins.Status = "completed"
	ins.CompletedAt = &now
	ins.UpdatedAt = now
	err = e.withTx(ctx, func(tx *sql.Tx) error {
		ok, err := e.Repo.UpdateInspectionIfStatus(ctx, tx, ins, "submitted")
		if err != nil {
			return err
		}
		if !ok {
			return StateConflictError{Entity: "inspection", ID: id, Msg: "not in submitted status"}
		}
		return e.Audit.Append(ctx, tx, id, actorID, "inspection.approved", audit.Details{
			"aql_passed": ins.AQLPassed,
		})
	})
	if err != nil {
		return domain.Inspection{}, err
	}

	e.approveSideEffects(ctx, ins)
	return ins, nil
}

func (e Engine) approveSideEffects(ctx context.Context, ins domain.Inspection) {
	now := e.nowRFC3339()

	if err := e.withTx(ctx, func(tx *sql.Tx) error {
		return e.Repo.UpsertInspectionResponse(ctx, tx, domain.InspectionResponse{
			ID:          newID(),
			TemplateID:  ins.TemplateID,
			InspectorID: ins.InspectorID,
			ManagerID:   ins.ManagerID,
			Answers:     ins.Responses,
			CreatedAt:   now,
			UpdatedAt:   now,
		})
	}); err != nil {
		e.Log.Warn("response snapshot write failed after approval",
			zap.String("inspection_id", ins.ID), zap.Error(err))
	}

	if !effectivePassed(ins) {
		if err := e.withTx(ctx, func(tx *sql.Tx) error {
			exists, err := e.Repo.CorrectiveActionExists(ctx, tx, ins.ID)
			if err != nil {
				return err
			}
			if exists {
				return nil
			}
			return e.Repo.InsertCorrectiveAction(ctx, tx, domain.CorrectiveAction{
				ID:               newID(),
				InspectionID:     ins.ID,
				TemplateID:       ins.TemplateID,
				ManagerID:        ins.ManagerID,
				InspectorID:      ins.InspectorID,
				DefectCounts:     ins.DefectCounts,
				RejectionReasons: ins.RejectionReasons,
				TopDefectCodes:   topDefectCodes(ins.Responses, 5),
				Status:           "open",
				CreatedAt:        now,
			})
		}); err != nil {
			e.Log.Warn("corrective action write failed after approval",
				zap.String("inspection_id", ins.ID), zap.Error(err))
		}
	}

	if err := e.withTx(ctx, func(tx *sql.Tx) error {
		return e.Repo.CompleteTasksForInspection(ctx, tx, ins.ID, now)
	}); err != nil {
		e.Log.Warn("task completion failed after approval",
			zap.String("inspection_id", ins.ID), zap.Error(err))
	}
}

func effectivePassed(ins domain.Inspection) bool {
	if ins.AQL != nil {
		return ins.AQL.Effective.Passed
	}
	return ins.AQLPassed
}

// topDefectCodes tallies defect codes recorded across sampled units and
// returns the most frequent, ties broken by first appearance.
func topDefectCodes(responses map[string]any, limit int) []domain.DefectTally {
	samples, _ := responses["samples"].([]any)
	counts := map[string]int{}
	var order []string
	for _, s := range samples {
		sample, _ := s.(map[string]any)
		defects, _ := sample["defects"].([]any)
		for _, d := range defects {
			defect, _ := d.(map[string]any)
			code, _ := defect["code"].(string)
			if code == "" {
				continue
			}
			n := 1
			if v, ok := numeric(defect["count"]); ok && v > 0 {
				n = v
			}
			if _, seen := counts[code]; !seen {
				order = append(order, code)
			}
			counts[code] += n
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > limit {
		order = order[:limit]
	}
	res := make([]domain.DefectTally, 0, len(order))
	for _, code := range order {
		res = append(res, domain.DefectTally{Code: code, Count: counts[code]})
	}
	return res
}

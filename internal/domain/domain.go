package domain

// Template is an authored inspection form. Pages and questions are a
// loosely-typed, author-defined document stored as JSON; the AQL fields are
// only meaningful once both LotSize and AQLLevel are set.
type Template struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description,omitempty"`
	ImageURL    *string `json:"image_url,omitempty"`
	Pages       []Page  `json:"pages"`

	CreatorID string  `json:"creator_id"`
	ManagerID *string `json:"manager_id,omitempty"`

	Organization string `json:"organization,omitempty"`
	Location     string `json:"location,omitempty"`
	Status       string `json:"status" enum:"draft,submitted,manager_edit,published"`

	AQLLevel        *float64 `json:"aql_level,omitempty"`
	LotSize         *int     `json:"lot_size,omitempty"`
	SampleSize      *int     `json:"sample_size,omitempty"`
	MajorAllowed    *int     `json:"major_defects_allowed,omitempty"`
	MinorAllowed    *int     `json:"minor_defects_allowed,omitempty"`
	CriticalAllowed *int     `json:"critical_defects_allowed,omitempty"`

	DefectCategories DefectCategories `json:"defect_categories"`

	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// DefectCategories maps severity to the named defect codes a template tracks.
type DefectCategories struct {
	Critical []string `json:"critical"`
	Major    []string `json:"major"`
	Minor    []string `json:"minor"`
}

type Page struct {
	ID        string     `json:"id,omitempty"`
	Title     string     `json:"title,omitempty"`
	Questions []Question `json:"questions"`
}

type Question struct {
	ID    string `json:"id"`
	Text  string `json:"text,omitempty"`
	Kind  string `json:"kind,omitempty"`
	Rules []Rule `json:"rules,omitempty"`
}

// RuleCondition is a tagged variant over a small closed set of condition
// kinds. Only equality exists today; new kinds become new fields behind Kind
// so evaluation call sites stay untouched.
type RuleCondition struct {
	Kind   string `json:"kind" enum:"equals"`
	Equals string `json:"equals"`
}

type Rule struct {
	Condition    RuleCondition `json:"condition"`
	RequireText  bool          `json:"require_text,omitempty"`
	RequireMedia bool          `json:"require_media,omitempty"`
	Notify       bool          `json:"notify,omitempty"`
	Message      string        `json:"message,omitempty"`
}

// Inspection is one scheduled execution of a published template by one
// inspector, owned by one manager. CompletedAt stays nil until the manager
// approves.
type Inspection struct {
	ID          string  `json:"id"`
	TemplateID  string  `json:"template_id"`
	InspectorID string  `json:"inspector_id"`
	ManagerID   string  `json:"manager_id"`
	ScheduledAt *string `json:"scheduled_at,omitempty" format:"date-time"`

	Status    string         `json:"status" enum:"assigned,in_progress,submitted,completed"`
	Responses map[string]any `json:"responses"`

	RemainingActions []RuleMatch  `json:"remaining_actions"`
	AQL              *AQLSnapshot `json:"aql_results,omitempty"`
	DefectCounts     DefectCounts `json:"defect_counts"`
	AQLPassed        bool         `json:"aql_passed"`
	RejectionReasons []string     `json:"aql_rejection_reasons"`

	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type DefectCounts struct {
	Critical int `json:"critical"`
	Major    int `json:"major"`
	Minor    int `json:"minor"`
}

// AQLSnapshot keeps the evaluator's result in two slots so an inspector
// override never discards the computed outcome.
type AQLSnapshot struct {
	Computed   AQLOutcome    `json:"computed"`
	Effective  AQLOutcome    `json:"effective"`
	Overridden bool          `json:"overridden"`
	Override   *OverrideMeta `json:"override_meta,omitempty"`
}

type AQLOutcome struct {
	DefectCounts     DefectCounts `json:"defect_counts"`
	Passed           bool         `json:"passed"`
	RejectionReasons []string     `json:"rejection_reasons"`
}

type OverrideMeta struct {
	ActorID  string     `json:"actor_user_id"`
	Role     string     `json:"actor_role"`
	Decision string     `json:"decision" enum:"ACCEPT,REJECT"`
	Reason   string     `json:"reason"`
	At       string     `json:"at" format:"date-time"`
	Previous AQLOutcome `json:"previous"`
}

// RuleMatch is the outcome of one rule firing. It is not persisted as its
// own entity, only embedded in the inspection snapshot.
type RuleMatch struct {
	QuestionID   string `json:"question_id"`
	Value        string `json:"value"`
	RequireText  bool   `json:"require_text"`
	RequireMedia bool   `json:"require_media"`
	Notify       bool   `json:"notify"`
	Message      string `json:"message,omitempty"`
	Notified     bool   `json:"notified"`
}

// Task is a derived work item anchored to at most one of an inspection or a
// template.
type Task struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Priority    string `json:"priority" enum:"low,medium,high"`
	Status      string `json:"status" enum:"todo,in_progress,review,completed"`
	IsCompleted bool   `json:"is_completed"`

	InspectionID  *string `json:"inspection_id,omitempty"`
	TemplateID    *string `json:"template_id,omitempty"`
	TemplateTitle *string `json:"template_title,omitempty"`

	AssignedToID string `json:"assigned_to_id"`
	AssignedByID string `json:"assigned_by_id,omitempty"`

	DueDate     *string `json:"due_date,omitempty" format:"date-time"`
	CompletedAt *string `json:"completed_at,omitempty" format:"date-time"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// InspectionResponse is the finalized answer snapshot written on approval,
// upserted by (template, inspector).
type InspectionResponse struct {
	ID          string         `json:"id"`
	TemplateID  string         `json:"template_id"`
	InspectorID string         `json:"inspector_id"`
	ManagerID   string         `json:"manager_id"`
	Answers     map[string]any `json:"answers"`
	CreatedAt   string         `json:"created_at" format:"date-time"`
	UpdatedAt   string         `json:"updated_at" format:"date-time"`
}

// CorrectiveAction is created when an inspection finalizes with a failing
// quality gate.
type CorrectiveAction struct {
	ID               string        `json:"id"`
	InspectionID     string        `json:"inspection_id"`
	TemplateID       string        `json:"template_id"`
	ManagerID        string        `json:"manager_id"`
	InspectorID      string        `json:"inspector_id"`
	DefectCounts     DefectCounts  `json:"defect_counts"`
	RejectionReasons []string      `json:"rejection_reasons"`
	TopDefectCodes   []DefectTally `json:"top_defect_codes"`
	Status           string        `json:"status" enum:"open,closed"`
	CreatedAt        string        `json:"created_at" format:"date-time"`
}

type DefectTally struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

type Notification struct {
	ID           string `json:"id"`
	TemplateID   string `json:"template_id"`
	InspectionID string `json:"inspection_id"`
	ManagerID    string `json:"manager_id"`
	InspectorID  string `json:"inspector_id"`
	QuestionID   string `json:"question_id"`
	QuestionText string `json:"question_text,omitempty"`
	Message      string `json:"message"`
	Type         string `json:"type"`
	Read         bool   `json:"read"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// AuditEvent is an append-only record of who did what to an inspection.
type AuditEvent struct {
	ID       int64  `json:"id"`
	EntityID string `json:"entity_id"`
	ActorID  string `json:"actor_id"`
	Action   string `json:"action"`
	Details  string `json:"details_json"`
	TS       string `json:"ts" format:"date-time"`
}

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Role      string `json:"role" enum:"it,manager,inspector"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// DefectMaster is the IT-managed master list of defect codes per severity.
type DefectMaster struct {
	Critical  []string `json:"critical"`
	Major     []string `json:"major"`
	Minor     []string `json:"minor"`
	UpdatedAt string   `json:"updated_at,omitempty" format:"date-time"`
}

package models

import "time"

type (
	Category       string // Категория обращения
	Priority       string // Приоритет обращения
	IssueStatus    string // Статус, который видит житель
	Stage          string // Этап рабочего процесса
	TenderStatus   string // Статус тендера
	BidStatus      string // Статус предложения
	ProgressType   string // Тип отчета о работах
	ReviewStatus   string // Статус проверки отчета
	Role           string // Роль вызывающего
	AssignmentKind string // Тип назначения
)

const (
	CategoryRoads       Category = "roads"
	CategoryUtilities   Category = "utilities"
	CategoryEnvironment Category = "environment"
	CategorySafety      Category = "safety"
	CategoryParks       Category = "parks"
	CategoryOther       Category = "other"

	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"

	StatusPending      IssueStatus = "pending"
	StatusAcknowledged IssueStatus = "acknowledged"
	StatusInProgress   IssueStatus = "in_progress"
	StatusResolved     IssueStatus = "resolved"
	StatusClosed       IssueStatus = "closed"
	StatusRejected     IssueStatus = "rejected"

	StageReported           Stage = "reported"
	StageAreaReview         Stage = "area_review"
	StageDepartmentAssigned Stage = "department_assigned"
	StageContractorAssigned Stage = "contractor_assigned"
	StageInProgress         Stage = "in_progress"
	StageDepartmentReview   Stage = "department_review"
	StageResolved           Stage = "resolved"

	TenderAvailable      TenderStatus = "available"
	TenderAwarded        TenderStatus = "awarded"
	TenderWorkInProgress TenderStatus = "work_in_progress"
	TenderWorkCompleted  TenderStatus = "work_completed"
	TenderCompleted      TenderStatus = "completed"
	TenderCancelled      TenderStatus = "cancelled"

	BidSubmitted BidStatus = "submitted"
	BidAccepted  BidStatus = "accepted"
	BidRejected  BidStatus = "rejected"

	ProgressUpdate     ProgressType = "update"
	ProgressCompletion ProgressType = "completion"

	ReviewSubmitted ReviewStatus = "submitted"
	ReviewApproved  ReviewStatus = "approved"
	ReviewRejected  ReviewStatus = "rejected"

	RoleCitizen         Role = "citizen"
	RoleAreaAdmin       Role = "area_admin"
	RoleDepartmentAdmin Role = "department_admin"
	RoleContractor      Role = "contractor"
	RoleSuperAdmin      Role = "super_admin"

	AreaToDepartment       AssignmentKind = "area_to_department"
	DepartmentToContractor AssignmentKind = "department_to_contractor"
)

var (
	categories = map[Category]bool{
		CategoryRoads: true, CategoryUtilities: true, CategoryEnvironment: true,
		CategorySafety: true, CategoryParks: true, CategoryOther: true,
	}
	priorities = map[Priority]bool{
		PriorityLow: true, PriorityMedium: true, PriorityHigh: true, PriorityUrgent: true,
	}
	stages = map[Stage]bool{
		StageReported: true, StageAreaReview: true, StageDepartmentAssigned: true,
		StageContractorAssigned: true, StageInProgress: true, StageDepartmentReview: true,
		StageResolved: true,
	}
	roles = map[Role]bool{
		RoleCitizen: true, RoleAreaAdmin: true, RoleDepartmentAdmin: true,
		RoleContractor: true, RoleSuperAdmin: true,
	}
	tenderStatuses = map[TenderStatus]bool{
		TenderAvailable: true, TenderAwarded: true, TenderWorkInProgress: true,
		TenderWorkCompleted: true, TenderCompleted: true, TenderCancelled: true,
	}
)

func (c Category) Valid() bool     { return categories[c] }
func (p Priority) Valid() bool     { return priorities[p] }
func (s Stage) Valid() bool        { return stages[s] }
func (r Role) Valid() bool         { return roles[r] }
func (s TenderStatus) Valid() bool { return tenderStatuses[s] }

// Terminal сообщает, что обращение больше не двигается по процессу.
func (s IssueStatus) Terminal() bool {
	return s == StatusResolved || s == StatusClosed || s == StatusRejected
}

// Live - тендер еще занимает обращение (не отменен и не завершен).
func (s TenderStatus) Live() bool {
	return s != TenderCancelled && s != TenderCompleted
}

// Location - место проблемы
type Location struct {
	Name    string `db:"location_name" json:"name"`
	Address string `db:"location_address" json:"address"`
	Area    string `db:"area" json:"area"`
	Ward    string `db:"ward" json:"ward"`
}

// Сущность Обращения
type Issue struct {
	ID                   int64       `db:"id" json:"id"`
	Title                string      `db:"title" json:"title"`
	Description          string      `db:"description" json:"description"`
	Category             Category    `db:"category" json:"category"`
	Priority             Priority    `db:"priority" json:"priority"`
	Status               IssueStatus `db:"status" json:"status"`
	Stage                Stage       `db:"workflow_stage" json:"workflowStage"`
	ReporterID           int64       `db:"reporter_id" json:"reporterId"`
	Location             `json:"location"`
	AssignedDepartmentID *int64      `db:"assigned_department_id" json:"assignedDepartmentId,omitempty"`
	RejectionReason      string      `db:"rejection_reason" json:"rejectionReason,omitempty"`
	Version              int         `db:"version" json:"version"`
	CreatedAt            time.Time   `db:"created_at" json:"createdAt"`
	UpdatedAt            time.Time   `db:"updated_at" json:"-"`
	ResolvedAt           *time.Time  `db:"resolved_at" json:"resolvedAt,omitempty"`
}

// Сущность Назначения (только дописывается)
type Assignment struct {
	ID         int64          `db:"id" json:"id"`
	IssueID    int64          `db:"issue_id" json:"issueId"`
	Type       AssignmentKind `db:"assignment_type" json:"assignmentType"`
	AssignedBy int64          `db:"assigned_by" json:"assignedBy"`
	AssignedTo int64          `db:"assigned_to" json:"assignedTo"`
	Notes      string         `db:"notes" json:"notes"`
	CreatedAt  time.Time      `db:"created_at" json:"createdAt"`
}

// Сущность Тендера
type Tender struct {
	ID                  int64        `db:"id" json:"id"`
	SourceIssueID       *int64       `db:"source_issue_id" json:"sourceIssueId,omitempty"`
	DepartmentID        int64        `db:"department_id" json:"departmentId"`
	Title               string       `db:"title" json:"title"`
	Description         string       `db:"description" json:"description"`
	BudgetMin           float64      `db:"budget_min" json:"budgetMin"`
	BudgetMax           float64      `db:"budget_max" json:"budgetMax"`
	Deadline            time.Time    `db:"deadline_date" json:"deadline"`
	Status              TenderStatus `db:"status" json:"status"`
	AwardedContractorID *int64       `db:"awarded_contractor_id" json:"awardedContractorId,omitempty"`
	AwardedAmount       *float64     `db:"awarded_amount" json:"awardedAmount,omitempty"`
	CreatedBy           int64        `db:"created_by" json:"createdBy"`
	CreatedAt           time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt           time.Time    `db:"updated_at" json:"-"`
}

// Сущность Предложения
type Bid struct {
	ID           int64      `db:"id" json:"id"`
	TenderID     int64      `db:"tender_id" json:"tenderId"`
	ContractorID int64      `db:"contractor_id" json:"contractorId"`
	Amount       float64    `db:"amount" json:"amount"`
	Details      string     `db:"details" json:"details"`
	Timeline     string     `db:"timeline" json:"timeline"`
	Status       BidStatus  `db:"status" json:"status"`
	SubmittedAt  time.Time  `db:"submitted_at" json:"submittedAt"`
	DecidedAt    *time.Time `db:"decided_at" json:"decidedAt,omitempty"`
}

// Сущность Отчета о ходе работ
type WorkProgress struct {
	ID                int64        `db:"id" json:"id"`
	TenderID          int64        `db:"tender_id" json:"tenderId"`
	ContractorID      int64        `db:"contractor_id" json:"contractorId"`
	Type              ProgressType `db:"progress_type" json:"type"`
	Status            ReviewStatus `db:"status" json:"status"`
	Percentage        *int         `db:"progress_percentage" json:"percentage,omitempty"`
	Description       string       `db:"description" json:"description"`
	VerifiedBy        *int64       `db:"verified_by" json:"verifiedBy,omitempty"`
	VerifiedAt        *time.Time   `db:"verified_at" json:"verifiedAt,omitempty"`
	VerificationNotes string       `db:"verification_notes" json:"verificationNotes,omitempty"`
	CreatedAt         time.Time    `db:"created_at" json:"createdAt"`
}

// Actor - вызывающий, как его описал внешний сервис авторизации
type Actor struct {
	ID           int64  `json:"id"`
	Role         Role   `json:"role"`
	DepartmentID int64  `json:"departmentId,omitempty"`
	Area         string `json:"area,omitempty"`
}

// TenderSummary - краткие сведения о тендере в списке обращений
type TenderSummary struct {
	ID       int64        `json:"id"`
	Status   TenderStatus `json:"status"`
	BidCount int          `json:"bidCount"`
}

// IssueSummary - обращение со связанными сведениями для списков
type IssueSummary struct {
	Issue
	ReporterName   string         `json:"reporterName,omitempty"`
	Tender         *TenderSummary `json:"tender,omitempty"`
	LastAssignment *Assignment    `json:"lastAssignment,omitempty"`
}

// Snapshot - согласованное состояние после решения по предложению или отчету
type Snapshot struct {
	Bid      *Bid          `json:"bid,omitempty"`
	Progress *WorkProgress `json:"workProgress,omitempty"`
	Tender   *Tender       `json:"tender"`
	Issue    *Issue        `json:"issue,omitempty"`
}

// ActivityRow - строка активности участника за период.
// Строки одного участника могут повторяться.
type ActivityRow struct {
	UserID         int64
	DisplayName    string
	TotalScore     int
	IssuesReported int
	PostsCreated   int
	Badges         []string
}

type LeaderboardEntry struct {
	Rank           int      `json:"rank"`
	ID             int64    `json:"id"`
	DisplayName    string   `json:"displayName"`
	TotalScore     int      `json:"totalScore"`
	IssuesReported int      `json:"issuesReported"`
	PostsCreated   int      `json:"postsCreated"`
	Badges         []string `json:"badges"`
}

type LeaderboardStats struct {
	Users        int `json:"users"`
	TotalIssues  int `json:"totalIssues"`
	TotalPosts   int `json:"totalPosts"`
	AverageScore int `json:"averageScore"`
}

type Leaderboard struct {
	Period string             `json:"period"`
	Podium []LeaderboardEntry `json:"podium"`
	Ranked []LeaderboardEntry `json:"ranked"`
	Stats  LeaderboardStats   `json:"stats"`
}

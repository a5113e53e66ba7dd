package model

import "time"

// Role identifies which kind of account a session belongs to.
type Role string

const (
	RoleCompany Role = "COMPANY"
	RoleClub    Role = "CLUB"
	RoleAdmin   Role = "ADMIN"
)

// Roles lists every role the backend issues.
var Roles = []Role{RoleCompany, RoleClub, RoleAdmin}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleCompany, RoleClub, RoleAdmin:
		return true
	}
	return false
}

// User is the authenticated identity returned by whoami, login and register.
type User struct {
	ID                 int64  `json:"id"`
	Email              string `json:"email,omitempty"`
	Role               Role   `json:"role"`
	Name               string `json:"name,omitempty"`
	VerificationStatus string `json:"verification_status,omitempty"`
	Tier               string `json:"tier,omitempty"`
}

// Verified reports whether the backend marked the account as verified.
func (u User) Verified() bool { return u.VerificationStatus == "VERIFIED" }

// CampaignStatus is the lifecycle stage of a campaign.
type CampaignStatus string

const (
	CampaignStatusDraft CampaignStatus = "DRAFT"
	CampaignOpen        CampaignStatus = "OPEN"
	CampaignInProgress  CampaignStatus = "IN_PROGRESS"
	CampaignCompleted   CampaignStatus = "COMPLETED"
	CampaignArchived    CampaignStatus = "ARCHIVED"
)

// ApplicationStatus is where a club's bid stands.
type ApplicationStatus string

const (
	ApplicationPending     ApplicationStatus = "PENDING"
	ApplicationAwarded     ApplicationStatus = "AWARDED"
	ApplicationSubmitted   ApplicationStatus = "SUBMITTED"
	ApplicationNotSelected ApplicationStatus = "NOT_SELECTED"
	ApplicationRejected    ApplicationStatus = "REJECTED"
	ApplicationCompleted   ApplicationStatus = "COMPLETED"
)

// Campaign is a company-posted quest.
type Campaign struct {
	ID            int64           `json:"id"`
	CompanyName   string          `json:"company_name,omitempty"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	Type          string          `json:"type,omitempty"`
	Budget        float64         `json:"budget"`
	Deadline      string          `json:"deadline,omitempty"`
	Status        CampaignStatus  `json:"status"`
	Requirements  []string        `json:"requirements"`
	Applications  []Application   `json:"applications,omitempty"`
	MyApplication *ApplicationRef `json:"my_application,omitempty"`
	CreatedAt     *time.Time      `json:"created_at,omitempty"`
}

// ApplicationRef is the club's own application as embedded in a campaign detail.
type ApplicationRef struct {
	ID     int64             `json:"id"`
	Status ApplicationStatus `json:"status"`
}

// CampaignDraft is the payload for creating a campaign.
type CampaignDraft struct {
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Type         string   `json:"type,omitempty"`
	Budget       float64  `json:"budget"`
	Deadline     string   `json:"deadline,omitempty"`
	Requirements []string `json:"requirements"`
}

// Application is a club's bid on a campaign.
type Application struct {
	ID            int64             `json:"id"`
	Campaign      int64             `json:"campaign"`
	CampaignTitle string            `json:"campaign_title,omitempty"`
	ClubName      string            `json:"club_name"`
	ClubUserID    int64             `json:"club_user_id"`
	Status        ApplicationStatus `json:"status"`
	Message       string            `json:"message"`
	Deliverables  []Deliverable     `json:"deliverables"`
	SubmittedAt   *time.Time        `json:"submitted_at,omitempty"`
}

// Deliverable is a file attached to an awarded application.
type Deliverable struct {
	ID         int64      `json:"id"`
	File       string     `json:"file"`
	UploadedAt *time.Time `json:"uploaded_at,omitempty"`
}

// EntityType names the kind of account awaiting verification.
type EntityType string

const (
	EntityCompany EntityType = "COMPANY"
	EntityClub    EntityType = "CLUB"
)

// AdminEntity is a company or club waiting in the verification queue.
type AdminEntity struct {
	ID                 int64      `json:"id"`
	Type               EntityType `json:"type"`
	VerificationStatus string     `json:"verification_status"`
	Name               string     `json:"name,omitempty"`
	Email              string     `json:"email,omitempty"`
	RegistrationNumber string     `json:"registration_number,omitempty"`
	Document           string     `json:"document,omitempty"`
}

// AdminStats are the counters shown above the verification queue.
type AdminStats struct {
	PendingReviews int    `json:"pending_reviews"`
	SystemFlags    int    `json:"system_flags"`
	TotalUsers     int    `json:"total_users"`
	Revenue        string `json:"revenue"`
}

// AdminUser is one row of the admin entity list.
type AdminUser struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
	IsActive bool   `json:"is_active"`
	Name     string `json:"name,omitempty"`
	Tier     string `json:"tier,omitempty"`
}

// SystemLog is one entry of the admin log feed.
type SystemLog struct {
	ID        int64      `json:"id"`
	Category  string     `json:"category"`
	Level     string     `json:"level"`
	Message   string     `json:"message"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// PaymentIntent is returned by the create-intent endpoint.
type PaymentIntent struct {
	TransactionID int64   `json:"transactionId"`
	Amount        float64 `json:"amount,omitempty"`
	Type          string  `json:"type,omitempty"`
}

// Transaction is one row of the company's payment history.
type Transaction struct {
	ID        int64      `json:"id"`
	Amount    string     `json:"amount"`
	Type      string     `json:"transaction_type"`
	Status    string     `json:"status"`
	Campaign  *int64     `json:"related_campaign,omitempty"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
}

// Page is the paginated envelope returned by list endpoints that paginate.
type Page[T any] struct {
	Count    int     `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

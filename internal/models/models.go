package models

import "time"

const (
	RoleAdmin     = "admin"
	// RoleModerator may remove other members' content.
	RoleModerator = "moderator"
)

type User struct {
	ID               string
	Email            string
	PasswordHash     string
	EmailConfirmedAt *time.Time
	CreatedAt        time.Time
	LastSignInAt     *time.Time
}

type Profile struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Username   string     `json:"username,omitempty"`
	Approved   bool       `json:"approved"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	ApprovedBy *string    `json:"approved_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type RoleAssignment struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}

type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	IPHint           string
	UserAgent        string
	CreatedAt        time.Time
	RefreshedAt      time.Time
	ExpiresAt        time.Time
	RevokedAt        *time.Time
}

type ConfirmToken struct {
	ID        string
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UsedAt    *time.Time
	CreatedAt time.Time
}

type AuditEntry struct {
	ID           string    `json:"id"`
	ActorUserID  string    `json:"actor_user_id"`
	ActorEmail   string    `json:"actor_email,omitempty"`
	Action       string    `json:"action"`
	Target       string    `json:"target"`
	MetadataJSON string    `json:"metadata_json"`
	CreatedAt    time.Time `json:"created_at"`
}

type ProfileQuery struct {
	Status string
	Q      string
	Order  string
	Limit  int
	Offset int
}

type AuditQuery struct {
	Action string
	Actor  string
	Target string
	Limit  int
	Offset int
}

type Category struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Position    int    `json:"position"`
}

type Post struct {
	ID           string    `json:"id"`
	AuthorID     string    `json:"author_id"`
	AuthorName   string    `json:"author_name,omitempty"`
	CategoryID   *string   `json:"category_id,omitempty"`
	Title        string    `json:"title"`
	Body         string    `json:"body"`
	Tags         []string  `json:"tags"`
	CommentCount int       `json:"comment_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type PostQuery struct {
	Category string
	Tag      string
	Author   string
	Q        string
	Limit    int
	Offset   int
}

type Comment struct {
	ID         string    `json:"id"`
	PostID     string    `json:"post_id"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name,omitempty"`
	Body       string    `json:"body"`
	CreatedAt  time.Time `json:"created_at"`
}

type Tag struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Posts int    `json:"posts"`
}

type InterviewQuestion struct {
	ID        string    `json:"id"`
	AuthorID  string    `json:"author_id"`
	Company   string    `json:"company"`
	Role      string    `json:"role"`
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	CreatedAt time.Time `json:"created_at"`
}

type QuestionQuery struct {
	Company string
	Q       string
	Limit   int
	Offset  int
}

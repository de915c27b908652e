package models

import (
	"time"

	"github.com/google/uuid"
)

// Message roles as stored in conversation.json.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one conversation entry. Assistant messages that committed a
// workflow carry the version id they committed (workflow_v1, workflow_v2, ...).
type Message struct {
	ID          string    `json:"id"`
	Role        string    `json:"role"`
	Content     string    `json:"content"`
	WorkflowRef string    `json:"workflow_ref,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewMessage builds a message with a fresh id and timestamp.
func NewMessage(role, content string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
}

// Conversation is the persisted state of one agent conversation, stored at
// conversations/<id>/conversation.json.
type Conversation struct {
	ID              string               `json:"id"`
	Dataset         string               `json:"dataset"`
	MRN             string               `json:"mrn"`
	CSN             string               `json:"csn"`
	Messages        []Message            `json:"messages"`
	WorkflowHistory map[string]*Workflow `json:"workflow_history,omitempty"`
	CurrentWorkflow string               `json:"current_workflow_id,omitempty"`
	TurnCount       int                  `json:"turn_count"`
	CreatedAt       time.Time            `json:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at"`
}

// User is an authenticated principal. Access to datasets and projects is
// granted per user; admins bypass grants.
type User struct {
	Username        string    `json:"username"`
	PasswordHash    string    `json:"password_hash"`
	Salt            string    `json:"salt"`
	Admin           bool      `json:"admin,omitempty"`
	AllowedDatasets []string  `json:"allowed_datasets,omitempty"`
	Projects        []string  `json:"projects,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Project groups plans and experiments under an owner plus allowed users.
type Project struct {
	Name         string    `json:"name"`
	Owner        string    `json:"owner"`
	AllowedUsers []string  `json:"allowed_users,omitempty"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Plan is a saved, named workflow with an owner model.
type Plan struct {
	Name      string    `json:"name"`
	Owner     string    `json:"owner"`
	Workflow  Workflow  `json:"workflow"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Annotation is a reviewer note attached to an output value.
type Annotation struct {
	ID            string    `json:"id"`
	OutputValueID string    `json:"output_value_id"`
	Author        string    `json:"author"`
	Label         string    `json:"label"`
	Comment       string    `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

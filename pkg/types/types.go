package types

import (
	"strings"
	"time"

	"github.com/pubwiki/wikifarm/pkg/events"
)

// TaskTypeCreateWiki is the only task type the provisioner currently runs.
const TaskTypeCreateWiki = "create_wiki"

// Task is the durable record of a provisioning request. Rows are created by
// the create endpoint and mutated only by the worker.
type Task struct {
	ID                string       `db:"id" json:"id"`
	Type              string       `db:"type" json:"type"`
	Status            events.State `db:"status" json:"status"`
	Progress          int          `db:"progress" json:"progress"`
	CreatedByUserID   uint64       `db:"created_by_user_id" json:"created_by_user_id"`
	CreatedByUsername []byte       `db:"created_by_username" json:"created_by_username"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	StartedAt         *time.Time   `db:"started_at" json:"started_at,omitempty"`
	FinishedAt        *time.Time   `db:"finished_at" json:"finished_at,omitempty"`
	WikiID            *uint64      `db:"wiki_id" json:"wiki_id,omitempty"`
	Message           *string      `db:"message" json:"message,omitempty"`
}

// Visibility values for a wiki.
const (
	VisibilityPublic   = "public"
	VisibilityPrivate  = "private"
	VisibilityUnlisted = "unlisted"
)

// NormalizeVisibility lower-cases v and collapses unknown values to public.
func NormalizeVisibility(v string) string {
	v = strings.ToLower(v)
	switch v {
	case VisibilityPublic, VisibilityPrivate, VisibilityUnlisted:
		return v
	}
	return VisibilityPublic
}

// WikiStatusReady marks a wiki as fully provisioned and servable.
const WikiStatusReady = "ready"

// Wiki is the post-provision handoff record.
type Wiki struct {
	ID            uint64    `db:"id" json:"id"`
	Name          string    `db:"name" json:"name"`
	Slug          string    `db:"slug" json:"slug"`
	Domain        *string   `db:"domain" json:"domain"`
	Path          *string   `db:"path" json:"path"`
	Language      string    `db:"language" json:"language"`
	OwnerUserID   uint64    `db:"owner_user_id" json:"owner_user_id"`
	OwnerUsername []byte    `db:"owner_username" json:"-"`
	Visibility    string    `db:"visibility" json:"visibility"`
	Status        string    `db:"status" json:"status"`
	IsFeatured    bool      `db:"is_featured" json:"is_featured"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// GroupPermission is one row of a wiki's permission matrix. The
// (wiki, group, permission) triple is unique; writes replace the whole set.
type GroupPermission struct {
	WikiID     uint64 `db:"wiki_id" json:"wiki_id"`
	GroupName  string `db:"group_name" json:"group_name"`
	Permission string `db:"permission" json:"permission"`
	Allowed    bool   `db:"allowed" json:"allowed"`
}

// Owner identifies the requesting user inside a job payload.
type Owner struct {
	ID       uint64 `json:"id"`
	Username string `json:"username"`
}

// Job is the JSON payload pushed onto the shared queue by the create
// endpoint and drained by the worker.
type Job struct {
	TaskID     string `json:"task_id"`
	Name       string `json:"name"`
	Slug       string `json:"slug"`
	Language   string `json:"language"`
	Visibility string `json:"visibility"`
	Owner      Owner  `json:"owner"`
}

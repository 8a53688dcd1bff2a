// Package domain contains the provisioning workflow's persisted state.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// State is the workflow position. The machine is linear; Failed is
// terminal but retryable from the first incomplete step.
type State string

const (
	StatePending             State = "PENDING"
	StateValidating          State = "VALIDATING_ORGANIZATION"
	StateCreatingAdmin       State = "CREATING_ADMIN_ACCOUNT"
	StateApplyingSettings    State = "APPLYING_DEFAULT_SETTINGS"
	StateConfiguringFeatures State = "CONFIGURING_FEATURE_SET"
	StateNotifyingAdmin      State = "NOTIFYING_ADMIN"
	StateComplete            State = "COMPLETE"
	StateFailed              State = "FAILED"
)

// Step names recorded in steps_completed. Order is the execution order.
const (
	StepValidateOrganization = "validate_organization"
	StepCreateAdminAccount   = "create_admin_account"
	StepApplyDefaultSettings = "apply_default_settings"
	StepConfigureFeatureSet  = "configure_feature_set"
	StepNotifyAdmin          = "notify_admin"
)

// Steps lists every workflow step in execution order.
func Steps() []string {
	return []string{
		StepValidateOrganization,
		StepCreateAdminAccount,
		StepApplyDefaultSettings,
		StepConfigureFeatureSet,
		StepNotifyAdmin,
	}
}

// StateForStep maps a step to the state the machine sits in while
// executing it.
func StateForStep(step string) State {
	switch step {
	case StepValidateOrganization:
		return StateValidating
	case StepCreateAdminAccount:
		return StateCreatingAdmin
	case StepApplyDefaultSettings:
		return StateApplyingSettings
	case StepConfigureFeatureSet:
		return StateConfiguringFeatures
	case StepNotifyAdmin:
		return StateNotifyingAdmin
	default:
		return StatePending
	}
}

// Record tracks one tenant's provisioning progress. It persists across
// restarts so an interrupted run resumes instead of restarting.
type Record struct {
	OrgID          snowflake.ID                `gorm:"primaryKey;column:org_id" json:"org_id"`
	State          State                       `gorm:"type:text;not null;default:'PENDING'" json:"state"`
	StepsCompleted datatypes.JSONSlice[string] `gorm:"not null;default:'[]'" json:"steps_completed"`
	AdminUserID    *snowflake.ID               `gorm:"column:admin_user_id" json:"admin_user_id,omitempty"`
	LastError      *string                     `gorm:"column:last_error" json:"last_error,omitempty"`
	CreatedAt      time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt      time.Time                   `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Record) TableName() string { return "provisioning_records" }

// StepDone reports whether the named step already completed.
func (r *Record) StepDone(step string) bool {
	for _, done := range r.StepsCompleted {
		if done == step {
			return true
		}
	}
	return false
}

type Service interface {
	// Provision drives the organization to a fully usable state. It is
	// idempotent: a Complete record returns as-is, a Failed or partial
	// record resumes from the first incomplete step. Concurrent calls for
	// the same tenant are serialized by a per-tenant lock.
	Provision(ctx context.Context, orgID snowflake.ID) (*Record, error)

	// Get returns the provisioning record, or ErrRecordNotFound.
	Get(ctx context.Context, orgID snowflake.ID) (*Record, error)

	// ListFailed returns orgs in Failed state for scheduler retry.
	ListFailed(ctx context.Context, limit int) ([]*Record, error)
}

var (
	ErrInvalidOrganization = errors.New("invalid_organization")
	ErrRecordNotFound      = errors.New("provisioning_record_not_found")
	ErrProvisionInProgress = errors.New("provision_in_progress")
	ErrValidationFailed    = errors.New("organization_validation_failed")
)

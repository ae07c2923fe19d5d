package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ekaya-inc/crm-reconciler/pkg/apperrors"
	"github.com/ekaya-inc/crm-reconciler/pkg/jsonutil"
)

// Lead is a CRM prospect owned by exactly one identity.
type Lead struct {
	ID              uuid.UUID  `json:"id"`
	OwnerID         uuid.UUID  `json:"owner_id"`
	Name            string     `json:"name"`
	Company         string     `json:"company"`
	Email           string     `json:"email"`
	Phone           string     `json:"phone"`
	Notes           string     `json:"notes"`
	Status          string     `json:"status"`
	CallStatus      string     `json:"call_status"`
	Industry        string     `json:"industry"`
	Website         string     `json:"website"`
	Revenue         string     `json:"revenue"`
	DecisionMaker   string     `json:"decision_maker"`
	PhoneOwner      string     `json:"phone_owner"`
	Disposition     string     `json:"disposition"`
	ScheduledCallAt *time.Time `json:"scheduled_call_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Lead pipeline statuses.
const (
	LeadStatusProspect    = "prospect"
	LeadStatusQualified   = "qualified"
	LeadStatusProposal    = "proposal"
	LeadStatusNegotiation = "negotiation"
	LeadStatusClosedWon   = "closed-won"
	LeadStatusClosedLost  = "closed-lost"
)

// Call outcomes recorded against a lead.
const (
	CallStatusNotCalled   = "not_called"
	CallStatusAnswered    = "answered"
	CallStatusNoResponse  = "no_response"
	CallStatusVoicemail   = "voicemail"
	CallStatusBusy        = "busy"
	CallStatusWrongNumber = "wrong_number"
)

// LeadStatuses is the status domain. The first entry is the default.
var LeadStatuses = []string{
	LeadStatusProspect,
	LeadStatusQualified,
	LeadStatusProposal,
	LeadStatusNegotiation,
	LeadStatusClosedWon,
	LeadStatusClosedLost,
}

// CallStatuses is the call outcome domain. The first entry is the default.
var CallStatuses = []string{
	CallStatusNotCalled,
	CallStatusAnswered,
	CallStatusNoResponse,
	CallStatusVoicemail,
	CallStatusBusy,
	CallStatusWrongNumber,
}

// IsValidLeadStatus checks if the given status is in the status domain.
func IsValidLeadStatus(status string) bool {
	return contains(LeadStatuses, status)
}

// IsValidCallStatus checks if the given outcome is in the call outcome domain.
func IsValidCallStatus(status string) bool {
	return contains(CallStatuses, status)
}

// ApplyDefaults fills empty enumerated fields with their domain defaults.
func (l *Lead) ApplyDefaults() {
	if l.Status == "" {
		l.Status = LeadStatusProspect
	}
	if l.CallStatus == "" {
		l.CallStatus = CallStatusNotCalled
	}
}

// UnmarshalJSON accepts numeric phone and revenue values.
func (l *Lead) UnmarshalJSON(data []byte) error {
	type alias Lead
	aux := struct {
		*alias
		Phone   json.RawMessage `json:"phone"`
		Revenue json.RawMessage `json:"revenue"`
	}{alias: (*alias)(l)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	l.Phone = jsonutil.FlexibleStringValue(aux.Phone)
	l.Revenue = jsonutil.FlexibleStringValue(aux.Revenue)
	return nil
}

// LeadUpdate is a partial update. Nil fields are left unchanged.
// ClearScheduledCall removes the scheduled call; in JSON it is an explicit
// "scheduled_call_at": null.
type LeadUpdate struct {
	Name               *string    `json:"name,omitempty"`
	Company            *string    `json:"company,omitempty"`
	Email              *string    `json:"email,omitempty"`
	Phone              *string    `json:"phone,omitempty"`
	Notes              *string    `json:"notes,omitempty"`
	Status             *string    `json:"status,omitempty"`
	CallStatus         *string    `json:"call_status,omitempty"`
	Industry           *string    `json:"industry,omitempty"`
	Website            *string    `json:"website,omitempty"`
	Revenue            *string    `json:"revenue,omitempty"`
	DecisionMaker      *string    `json:"decision_maker,omitempty"`
	PhoneOwner         *string    `json:"phone_owner,omitempty"`
	Disposition        *string    `json:"disposition,omitempty"`
	ScheduledCallAt    *time.Time `json:"scheduled_call_at,omitempty"`
	ClearScheduledCall bool       `json:"-"`
}

func (u *LeadUpdate) UnmarshalJSON(data []byte) error {
	type alias LeadUpdate
	aux := struct {
		*alias
		Phone           json.RawMessage `json:"phone,omitempty"`
		Revenue         json.RawMessage `json:"revenue,omitempty"`
		ScheduledCallAt json.RawMessage `json:"scheduled_call_at,omitempty"`
	}{alias: (*alias)(u)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	u.Phone = jsonutil.FlexibleStringPtr(aux.Phone)
	u.Revenue = jsonutil.FlexibleStringPtr(aux.Revenue)

	u.ScheduledCallAt = nil
	u.ClearScheduledCall = false
	switch {
	case len(aux.ScheduledCallAt) == 0:
	case string(aux.ScheduledCallAt) == "null":
		u.ClearScheduledCall = true
	default:
		var at time.Time
		if err := json.Unmarshal(aux.ScheduledCallAt, &at); err != nil {
			return fmt.Errorf("scheduled_call_at: %w", err)
		}
		u.ScheduledCallAt = &at
	}
	return nil
}

// Validate checks the enumerated fields the update sets.
func (u *LeadUpdate) Validate() error {
	if u.Status != nil && !IsValidLeadStatus(*u.Status) {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidStatus, *u.Status)
	}
	if u.CallStatus != nil && !IsValidCallStatus(*u.CallStatus) {
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidCallStatus, *u.CallStatus)
	}
	return nil
}

// ApplyTo copies the set fields onto lead.
func (u *LeadUpdate) ApplyTo(lead *Lead) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	set(&lead.Name, u.Name)
	set(&lead.Company, u.Company)
	set(&lead.Email, u.Email)
	set(&lead.Phone, u.Phone)
	set(&lead.Notes, u.Notes)
	set(&lead.Status, u.Status)
	set(&lead.CallStatus, u.CallStatus)
	set(&lead.Industry, u.Industry)
	set(&lead.Website, u.Website)
	set(&lead.Revenue, u.Revenue)
	set(&lead.DecisionMaker, u.DecisionMaker)
	set(&lead.PhoneOwner, u.PhoneOwner)
	set(&lead.Disposition, u.Disposition)
	switch {
	case u.ClearScheduledCall:
		lead.ScheduledCallAt = nil
	case u.ScheduledCallAt != nil:
		lead.ScheduledCallAt = u.ScheduledCallAt
	}
}

package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/crm-reconciler/pkg/apperrors"
)

func TestLeadUpdate_UnmarshalScheduledCall(t *testing.T) {
	var absent LeadUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"name":"Acme"}`), &absent))
	assert.False(t, absent.ClearScheduledCall)
	assert.Nil(t, absent.ScheduledCallAt)

	var cleared LeadUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"scheduled_call_at":null}`), &cleared))
	assert.True(t, cleared.ClearScheduledCall)

	var set LeadUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"scheduled_call_at":"2026-11-02T15:00:00Z","revenue":5000}`), &set))
	require.NotNil(t, set.ScheduledCallAt)
	assert.Equal(t, 15, set.ScheduledCallAt.Hour())
	require.NotNil(t, set.Revenue)
	assert.Equal(t, "5000", *set.Revenue)

	var bad LeadUpdate
	assert.Error(t, json.Unmarshal([]byte(`{"scheduled_call_at":"tomorrow"}`), &bad))
}

func TestLeadUpdate_ApplyTo(t *testing.T) {
	var update LeadUpdate
	require.NoError(t, json.Unmarshal([]byte(`{"industry":"retail","scheduled_call_at":null}`), &update))

	lead := &Lead{Name: "Acme", Industry: "manufacturing"}
	lead.ScheduledCallAt = new(time.Time)
	update.ApplyTo(lead)

	assert.Equal(t, "Acme", lead.Name)
	assert.Equal(t, "retail", lead.Industry)
	assert.Nil(t, lead.ScheduledCallAt)
}

func TestLeadUpdate_Validate(t *testing.T) {
	status := "won"
	assert.ErrorIs(t, (&LeadUpdate{Status: &status}).Validate(), apperrors.ErrInvalidStatus)

	call := "ghosted"
	assert.ErrorIs(t, (&LeadUpdate{CallStatus: &call}).Validate(), apperrors.ErrInvalidCallStatus)

	assert.NoError(t, (&LeadUpdate{}).Validate())
}

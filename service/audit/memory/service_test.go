package memory

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/luxera/rungate/service/audit"
	"github.com/luxera/rungate/service/dao"
)

func testDecision(requestID, runID string, outcome audit.Outcome) *audit.Decision {
	return &audit.Decision{
		RequestID: requestID,
		RunID:     runID,
		Agent:     "lumen",
		Human:     "reviewer@luxera.io",
		Decision:  outcome,
		Timestamp: time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		Reason:    "looks fine",
	}
}

func TestAppendAndList(t *testing.T) {
	svc := New()
	ctx := context.Background()

	first := testDecision("req-1", "run-1", audit.OutcomeApproved)
	second := testDecision("req-2", "run-1", audit.OutcomeRejected)
	other := testDecision("req-3", "run-2", audit.OutcomeApproved)

	require.NoError(t, svc.Append(ctx, first))
	require.NoError(t, svc.Append(ctx, second))
	require.NoError(t, svc.Append(ctx, other))

	decisions, err := svc.List(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, decisions, 2)
	// insertion order preserved
	assert.Equal(t, "req-1", decisions[0].RequestID)
	assert.Equal(t, "req-2", decisions[1].RequestID)

	loaded, err := svc.Decision(ctx, "req-3")
	require.NoError(t, err)
	assert.Equal(t, "run-2", loaded.RunID)
}

func TestDuplicateDecisionLeavesLogUnchanged(t *testing.T) {
	svc := New()
	ctx := context.Background()

	original := testDecision("req-1", "run-1", audit.OutcomeApproved)
	require.NoError(t, svc.Append(ctx, original))

	override := testDecision("req-1", "run-1", audit.OutcomeRejected)
	err := svc.Append(ctx, override)
	assert.ErrorIs(t, err, audit.ErrAlreadyDecided)

	// the authoritative decision is untouched
	loaded, err := svc.Decision(ctx, "req-1")
	require.NoError(t, err)
	assert.Equal(t, audit.OutcomeApproved, loaded.Decision)

	decisions, err := svc.List(ctx, "run-1")
	require.NoError(t, err)
	assert.Len(t, decisions, 1)
}

func TestAppendValidation(t *testing.T) {
	svc := New()
	ctx := context.Background()

	assert.ErrorIs(t, svc.Append(ctx, nil), audit.ErrInvalidDecision)
	assert.ErrorIs(t, svc.Append(ctx, &audit.Decision{RunID: "run-1", Decision: audit.OutcomeApproved}), audit.ErrInvalidDecision)
	assert.ErrorIs(t, svc.Append(ctx, testDecision("req-1", "run-1", "maybe")), audit.ErrInvalidDecision)
}

func TestDecisionNotFound(t *testing.T) {
	svc := New()
	_, err := svc.Decision(context.Background(), "missing")
	assert.ErrorIs(t, err, dao.ErrNotFound)

	_, err = svc.Decision(context.Background(), "")
	assert.ErrorIs(t, err, dao.ErrInvalidID)
}

func TestQueueReceivesRecordedDecisions(t *testing.T) {
	svc := New()
	ctx := context.Background()

	require.NoError(t, svc.Append(ctx, testDecision("req-1", "run-1", audit.OutcomeApproved)))

	msg, err := svc.Queue().Consume(ctx)
	require.NoError(t, err)
	event := msg.T()
	assert.Equal(t, audit.TopicDecisionRecorded, event.Topic)
	assert.Equal(t, "req-1", event.Data.RequestID)
	require.NoError(t, msg.Ack())
}

func TestDecisionJSONRoundTrip(t *testing.T) {
	original := testDecision("req-1", "run-1", audit.OutcomeApproved)

	data, err := json.Marshal(original)
	require.NoError(t, err)

	var decoded audit.Decision
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, *original, decoded)
}

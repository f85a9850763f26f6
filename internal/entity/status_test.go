package entity_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pressreel-worker/internal/entity"
)

func TestProgressFor_FixedTable(t *testing.T) {
	cases := []struct {
		status entity.Status
		want   float64
	}{
		{entity.Processing(), 0.0},
		{entity.Analyzing(), 0.1},
		{entity.GeneratingVoiceover(), 0.3},
		{entity.GatheringVisuals(), 0.5},
		{entity.AssemblingVideo(), 0.7},
		{entity.Finalizing(), 0.9},
		{entity.Completed(), 1.0},
		{entity.Failed("boom"), 0.0},
		{entity.Cancelled(), 0.0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, entity.ProgressFor(tc.status), tc.status.String())
		assert.Equal(t, tc.want, entity.ProgressFor(tc.status), "must be deterministic")
	}
}

func TestProgress_NonDecreasingAlongSuccessors(t *testing.T) {
	s := entity.Processing()
	steps := 0
	for {
		next, ok := s.Next()
		if !ok {
			break
		}
		assert.GreaterOrEqual(t, next.Progress(), s.Progress(), "%s -> %s", s, next)
		assert.True(t, entity.CanTransition(s, next))
		assert.False(t, entity.CanTransition(next, s))
		s = next
		steps++
	}
	assert.Equal(t, entity.Completed(), s)
	assert.Equal(t, 6, steps)
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, entity.IsTerminal(entity.Completed()))
	assert.True(t, entity.IsTerminal(entity.Failed("x")))
	assert.True(t, entity.IsTerminal(entity.Cancelled()))
	for _, s := range []entity.Status{
		entity.Processing(), entity.Analyzing(), entity.GeneratingVoiceover(),
		entity.GatheringVisuals(), entity.AssemblingVideo(), entity.Finalizing(),
	} {
		assert.False(t, entity.IsTerminal(s), s.String())
	}
}

func TestTerminalNeverTransitions(t *testing.T) {
	for _, from := range []entity.Status{entity.Completed(), entity.Failed("x"), entity.Cancelled()} {
		assert.False(t, entity.CanTransition(from, entity.Failed("y")))
		assert.False(t, entity.CanTransition(from, entity.Analyzing()))
	}
}

func TestFailedEquality(t *testing.T) {
	a := entity.Failed("network")
	b := entity.Failed("invalid timeline")

	assert.False(t, a.Equal(b))
	assert.True(t, a.Equal(entity.Failed("network")))
	assert.True(t, a.IsFailure())
	assert.True(t, b.IsFailure())
	assert.True(t, a.IsTerminal() && b.IsTerminal())
}

func TestStatusRecord_RoundTripsReason(t *testing.T) {
	in := entity.Failed("scene durations outside allowed window")
	rec := in.Record()
	require.NotNil(t, rec.Error)
	assert.Equal(t, "failed", rec.Status)

	out, err := entity.DecodeStatus(rec)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	raw, err := json.Marshal(entity.Analyzing())
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"analyzing","error":null}`, string(raw))
}

func TestDecodeStatus_UnknownDiscriminator(t *testing.T) {
	_, err := entity.DecodeStatus(entity.StatusRecord{Status: "rendering"})
	require.Error(t, err)

	var unknown *entity.UnknownStatusError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "rendering", unknown.Value)

	var s entity.Status
	assert.Error(t, json.Unmarshal([]byte(`{"status":"nope"}`), &s))
}

func TestDecodeStatus_DropsReasonForNonFailure(t *testing.T) {
	reason := "stale"
	s, err := entity.ParseStatus("completed", &reason)
	require.NoError(t, err)
	assert.Equal(t, entity.Completed(), s)
}

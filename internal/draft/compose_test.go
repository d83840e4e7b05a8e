package draft

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/callbridge/internal/domain"
)

func TestDetectPriority(t *testing.T) {
	tests := []struct {
		name       string
		transcript string
		want       domain.DraftPriority
	}{
		{"urgent keyword", "This is URGENT, the server is down", domain.DraftPriorityCritical},
		{"emergency keyword", "we have an emergency situation", domain.DraftPriorityCritical},
		{"asap keyword", "please fix this ASAP", domain.DraftPriorityCritical},
		{"immediately keyword", "needs attention immediately", domain.DraftPriorityCritical},
		{"important keyword", "this is quite important to us", domain.DraftPriorityHigh},
		{"soon keyword", "we would like this resolved soon", domain.DraftPriorityHigh},
		{"no keywords", "just calling about my invoice", domain.DraftPriorityNormal},
		{"empty transcript", "", domain.DraftPriorityNormal},
		{"critical beats high", "important and urgent", domain.DraftPriorityCritical},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DetectPriority(tt.transcript))
		})
	}
}

func TestComposeTitle(t *testing.T) {
	call := domain.TranscribedCall{
		CallerName: "Jane Smith",
		Transcript: "Hello I am calling about the printer on the third floor which is broken",
	}
	got := composeTitle(call)
	assert.Equal(t, "Call from Jane Smith - Hello I am calling about the printer on the third...", got)
}

func TestComposeTitle_FallsBackToNumber(t *testing.T) {
	call := domain.TranscribedCall{
		CallerNumber: "+15551234567",
		Transcript:   "short one",
	}
	assert.Equal(t, "Call from +15551234567 - short one...", composeTitle(call))
}

func TestComposeTitle_NoTranscript(t *testing.T) {
	assert.Equal(t, "Call from Unknown", composeTitle(domain.TranscribedCall{}))
}

func TestComposeContent(t *testing.T) {
	start := time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
	call := domain.TranscribedCall{
		CallID:          "call-42",
		Extension:       "101",
		AgentName:       "Sam",
		CallerName:      "Jane Smith",
		CallerNumber:    "+15551234567",
		DurationSeconds: 125,
		StartTime:       start,
		EndTime:         start.Add(125 * time.Second),
		RecordingURL:    "https://pbx.example.com/rec/42",
		Direction:       "Inbound",
		Transcript:      "my laptop will not boot, this is urgent",
	}

	content := ComposeContent(call)

	assert.Equal(t, domain.DraftPriorityCritical, content.Priority)
	assert.Equal(t, "101", content.Agent.Extension)
	require.NotNil(t, content.Contact)
	assert.Equal(t, "Jane Smith", content.Contact.Name)
	assert.Equal(t, "+15551234567", content.Contact.Phone)
	assert.Equal(t, []string{"telephony", "auto-transcribed"}, content.Tags)
	assert.Equal(t, "call-42", content.CustomFields["call_id"])
	assert.Contains(t, content.Description, "**Call Information**")
	assert.Contains(t, content.Description, "- Duration: 2m 5s")
	assert.Contains(t, content.Description, "[Click here to listen](https://pbx.example.com/rec/42)")
	assert.Contains(t, content.Description, "my laptop will not boot")
}

func TestComposeContent_AnonymousCaller(t *testing.T) {
	content := ComposeContent(domain.TranscribedCall{
		CallID:     "call-43",
		Extension:  "102",
		Transcript: "hello",
	})
	assert.Nil(t, content.Contact)
	assert.Contains(t, content.Description, "No recording available")
}

func TestMergeEdits(t *testing.T) {
	base := domain.DraftContent{
		Title:       "original title",
		Description: "original description",
		Priority:    domain.DraftPriorityNormal,
		Tags:        []string{"telephony"},
	}

	t.Run("nil edits keep content", func(t *testing.T) {
		assert.Equal(t, base, mergeEdits(base, nil))
	})

	t.Run("set fields override", func(t *testing.T) {
		got := mergeEdits(base, &domain.DraftContent{
			Title:    "agent title",
			Priority: domain.DraftPriorityHigh,
		})
		assert.Equal(t, "agent title", got.Title)
		assert.Equal(t, "original description", got.Description)
		assert.Equal(t, domain.DraftPriorityHigh, got.Priority)
		assert.Equal(t, []string{"telephony"}, got.Tags)
	})

	t.Run("unknown priority ignored", func(t *testing.T) {
		got := mergeEdits(base, &domain.DraftContent{Priority: domain.DraftPriority("BANANAS")})
		assert.Equal(t, domain.DraftPriorityNormal, got.Priority)
	})

	t.Run("custom fields merge", func(t *testing.T) {
		got := mergeEdits(base, &domain.DraftContent{CustomFields: map[string]string{"site": "HQ"}})
		assert.Equal(t, "HQ", got.CustomFields["site"])
	})
}

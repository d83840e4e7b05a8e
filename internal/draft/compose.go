package draft

import (
	"fmt"
	"strings"

	"github.com/spec-kit/callbridge/internal/domain"
)

const titleWordCount = 10

var (
	criticalKeywords = []string{"urgent", "emergency", "critical", "asap", "immediately"}
	highKeywords     = []string{"important", "priority", "soon", "quickly"}
)

// ComposeContent builds the proposed ticket content from a transcribed call.
func ComposeContent(call domain.TranscribedCall) domain.DraftContent {
	content := domain.DraftContent{
		Title:       composeTitle(call),
		Description: composeDescription(call),
		Priority:    DetectPriority(call.Transcript),
		Agent: domain.AgentInfo{
			Extension: call.Extension,
			Name:      call.AgentName,
		},
		Call: domain.CallInfo{
			DurationSeconds: call.DurationSeconds,
			StartTime:       call.StartTime,
			EndTime:         call.EndTime,
			RecordingURL:    call.RecordingURL,
			Direction:       call.Direction,
		},
		Transcript: call.Transcript,
		Tags:       []string{"telephony", "auto-transcribed"},
		CustomFields: map[string]string{
			"call_id":   call.CallID,
			"extension": call.Extension,
		},
	}
	if call.CallerName != "" || call.CallerNumber != "" {
		content.Contact = &domain.ContactInfo{Name: call.CallerName, Phone: call.CallerNumber}
	}
	return content
}

func composeTitle(call domain.TranscribedCall) string {
	caller := call.CallerName
	if caller == "" {
		caller = call.CallerNumber
	}
	if caller == "" {
		caller = "Unknown"
	}
	words := strings.Fields(call.Transcript)
	if len(words) > titleWordCount {
		words = words[:titleWordCount]
	}
	lead := strings.Join(words, " ")
	if lead == "" {
		return fmt.Sprintf("Call from %s", caller)
	}
	return fmt.Sprintf("Call from %s - %s...", caller, lead)
}

func composeDescription(call domain.TranscribedCall) string {
	caller := call.CallerName
	if caller == "" {
		caller = "Unknown"
	}
	number := call.CallerNumber
	if number == "" {
		number = "Unknown"
	}
	agent := call.AgentName
	if agent == "" {
		agent = "Unknown"
	}
	direction := call.Direction
	if direction == "" {
		direction = "Inbound"
	}
	recording := "No recording available"
	if call.RecordingURL != "" {
		recording = fmt.Sprintf("[Click here to listen](%s)", call.RecordingURL)
	}

	var b strings.Builder
	b.WriteString("**Call Information**\n")
	fmt.Fprintf(&b, "- Date: %s\n", call.EndTime.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "- Duration: %dm %ds\n", call.DurationSeconds/60, call.DurationSeconds%60)
	fmt.Fprintf(&b, "- Direction: %s\n", direction)
	fmt.Fprintf(&b, "- Caller: %s (%s)\n", caller, number)
	fmt.Fprintf(&b, "- Agent: %s (Ext: %s)\n\n", agent, call.Extension)
	b.WriteString("**Transcription**\n")
	b.WriteString(call.Transcript)
	b.WriteString("\n\n**Recording**\n")
	b.WriteString(recording)
	b.WriteString("\n\n---\n*This ticket was automatically generated from a transcribed call.*")
	return b.String()
}

// DetectPriority maps urgency keywords in the transcript to a priority.
func DetectPriority(transcript string) domain.DraftPriority {
	lower := strings.ToLower(transcript)
	for _, kw := range criticalKeywords {
		if strings.Contains(lower, kw) {
			return domain.DraftPriorityCritical
		}
	}
	for _, kw := range highKeywords {
		if strings.Contains(lower, kw) {
			return domain.DraftPriorityHigh
		}
	}
	return domain.DraftPriorityNormal
}

// mergeEdits applies agent-supplied edits onto the draft content. Only
// fields the agent actually set override the composed values.
func mergeEdits(content domain.DraftContent, edits *domain.DraftContent) domain.DraftContent {
	if edits == nil {
		return content
	}
	if edits.Title != "" {
		content.Title = edits.Title
	}
	if edits.Description != "" {
		content.Description = edits.Description
	}
	if edits.Priority != "" && edits.Priority.Rank() >= 0 {
		content.Priority = edits.Priority
	}
	if len(edits.Tags) > 0 {
		content.Tags = edits.Tags
	}
	if edits.Contact != nil {
		content.Contact = edits.Contact
	}
	for k, v := range edits.CustomFields {
		if content.CustomFields == nil {
			content.CustomFields = make(map[string]string)
		}
		content.CustomFields[k] = v
	}
	return content
}

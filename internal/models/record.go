package models

import "time"

// Status tracks a resolution record through the processing pipeline.
//
//	received -> processed | agent_error | failed
//	processed -> forwarded | n8n_error
//
// Everything past received is terminal for automatic processing; an
// explicit retry resets a record to received.
type Status string

const (
	StatusReceived   Status = "received"
	StatusProcessed  Status = "processed"
	StatusForwarded  Status = "forwarded"
	StatusAgentError Status = "agent_error"
	StatusN8NError   Status = "n8n_error"
	StatusFailed     Status = "failed"
)

// QuotedRequest is the original request a resolution message replied to.
type QuotedRequest struct {
	Author string `json:"author,omitempty"`
	Text   string `json:"text,omitempty"`
}

// Resolution is the normalized message bundle submitted for processing.
type Resolution struct {
	Channel        string         `json:"channel"`
	MessageID      string         `json:"message_id,omitempty"`
	Author         string         `json:"author"`
	Timestamp      string         `json:"timestamp,omitempty"`
	Classification map[string]any `json:"classification"`
	ResolutionText string         `json:"resolution_text"`
	QuotedRequest  *QuotedRequest `json:"quoted_request,omitempty"`
	Permalink      string         `json:"permalink,omitempty"`
}

// Payload is the structured issue-tracker record produced by
// classification.
type Payload struct {
	IssueType    string         `json:"issue_type"`
	Summary      string         `json:"summary"`
	Description  string         `json:"description"`
	Labels       []string       `json:"labels"`
	CustomFields map[string]any `json:"custom_fields,omitempty"`
	Comment      string         `json:"comment,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Record is the durable view of one ingested resolution. It is owned by
// the store and mutated only through status transitions.
type Record struct {
	ID             int64          `json:"id"`
	MessageID      string         `json:"message_id,omitempty"`
	Channel        string         `json:"channel"`
	Author         string         `json:"author"`
	Timestamp      string         `json:"timestamp,omitempty"`
	Classification map[string]any `json:"classification"`
	ResolutionText string         `json:"resolution_text"`
	QuotedRequest  *QuotedRequest `json:"quoted_request,omitempty"`
	Permalink      string         `json:"permalink,omitempty"`
	Status         Status         `json:"status"`
	Payload        *Payload       `json:"jira_payload,omitempty"`
	ForwardCode    *int           `json:"n8n_response_code,omitempty"`
	ForwardBody    string         `json:"n8n_response_body,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// Resolution rebuilds the ingested bundle from the record, used when a
// record is retried.
func (r *Record) Resolution() Resolution {
	return Resolution{
		Channel:        r.Channel,
		MessageID:      r.MessageID,
		Author:         r.Author,
		Timestamp:      r.Timestamp,
		Classification: r.Classification,
		ResolutionText: r.ResolutionText,
		QuotedRequest:  r.QuotedRequest,
		Permalink:      r.Permalink,
	}
}

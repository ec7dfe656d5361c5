package models

import (
	"time"

	"github.com/google/uuid"
)

// ExtractionFilter configures an extraction run. Every predicate is
// optional: an empty list or zero value means "no constraint". Active
// predicates are ANDed together; keyword and regex sets are each OR within
// themselves.
type ExtractionFilter struct {
	// Time window on message creation time.
	StartDate *time.Time `json:"start_date,omitempty"`
	EndDate   *time.Time `json:"end_date,omitempty"`

	// Content filters.
	Keywords      []string `json:"keywords,omitempty"`
	RegexPatterns []string `json:"regex_patterns,omitempty"`

	// Author filters.
	AuthorIDs    []string `json:"author_ids,omitempty"`
	AuthorNames  []string `json:"author_names,omitempty"`
	AuthorEmails []string `json:"author_emails,omitempty"`

	// Scope filters.
	TeamIDs      []string `json:"team_ids,omitempty"`
	ChannelIDs   []string `json:"channel_ids,omitempty"`
	ChannelNames []string `json:"channel_names,omitempty"`

	// Message type handling.
	IncludeReplies        bool `json:"include_replies"`
	IncludeSystemMessages bool `json:"include_system_messages"`
	IncludeDeleted        bool `json:"include_deleted"`

	// Extraction options.
	MaxMessages int `json:"max_messages,omitempty"`
	BatchSize   int `json:"batch_size,omitempty"`
}

// DefaultFilter returns a filter matching everything except system
// messages and deleted messages, with replies included.
func DefaultFilter() ExtractionFilter {
	return ExtractionFilter{
		IncludeReplies: true,
		BatchSize:      50,
	}
}

// IncidentKeywords is the default keyword set for incident extraction.
var IncidentKeywords = []string{
	"incident", "outage", "down", "error", "critical", "urgent",
	"emergency", "issue", "problem", "failure", "alert",
}

// IncidentFilter builds a filter for incident-related traffic inside a
// time window. An empty keyword list falls back to IncidentKeywords.
func IncidentFilter(start, end time.Time, keywords, teamIDs, channelNames []string) ExtractionFilter {
	if len(keywords) == 0 {
		keywords = IncidentKeywords
	}
	f := DefaultFilter()
	f.StartDate = &start
	f.EndDate = &end
	f.Keywords = keywords
	f.TeamIDs = teamIDs
	f.ChannelNames = channelNames
	return f
}

// AuthorFilter builds a filter for all messages by one author.
func AuthorFilter(email string, start, end *time.Time) ExtractionFilter {
	f := DefaultFilter()
	f.AuthorEmails = []string{email}
	f.StartDate = start
	f.EndDate = end
	return f
}

// Thread groups a root message with its replies.
type Thread struct {
	Root    Message   `json:"root"`
	Replies []Message `json:"replies,omitempty"`
}

func (t Thread) MessageCount() int {
	return 1 + len(t.Replies)
}

// ExtractionResult is the outcome of one extraction run. Messages keep
// discovery-then-fetch order; Errors holds non-fatal per-channel failures.
// The struct is immutable after NewExtractionResult; statistics are
// computed on demand.
type ExtractionResult struct {
	RunID     string           `json:"run_id"`
	Messages  []Message        `json:"messages"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Filter    ExtractionFilter `json:"filter"`
	Errors    []string         `json:"errors,omitempty"`
}

func NewExtractionResult(messages []Message, start, end time.Time, filter ExtractionFilter, errs []string) ExtractionResult {
	return ExtractionResult{
		RunID:     uuid.New().String(),
		Messages:  messages,
		StartTime: start,
		EndTime:   end,
		Filter:    filter,
		Errors:    errs,
	}
}

func (r ExtractionResult) Duration() time.Duration {
	return r.EndTime.Sub(r.StartTime)
}

// Threads organizes the result's messages into root/reply groups, in the
// order the roots were extracted.
func (r ExtractionResult) Threads() []Thread {
	var threads []Thread
	for _, m := range r.Messages {
		if m.ReplyToID != "" {
			continue
		}
		t := Thread{Root: m}
		for _, c := range r.Messages {
			if c.ReplyToID == m.ID {
				t.Replies = append(t.Replies, c)
			}
		}
		threads = append(threads, t)
	}
	return threads
}

// Statistics summarizes an extraction run.
type Statistics struct {
	TotalMessages     int     `json:"total_messages"`
	Threads           int     `json:"total_threads"`
	DurationSeconds   float64 `json:"duration_seconds"`
	MessagesPerSecond float64 `json:"messages_per_second"`
	Authors           int     `json:"authors"`
	Channels          int     `json:"channels"`
	Teams             int     `json:"teams"`
	WithAttachments   int     `json:"with_attachments"`
	WithReactions     int     `json:"with_reactions"`
	WithMentions      int     `json:"with_mentions"`
	Errors            int     `json:"errors"`
}

func (r ExtractionResult) Statistics() Statistics {
	authors := make(map[string]struct{})
	channels := make(map[string]struct{})
	teams := make(map[string]struct{})

	stats := Statistics{
		TotalMessages:   len(r.Messages),
		Threads:         len(r.Threads()),
		DurationSeconds: r.Duration().Seconds(),
		Errors:          len(r.Errors),
	}
	if secs := stats.DurationSeconds; secs > 0 {
		stats.MessagesPerSecond = float64(len(r.Messages)) / secs
	}

	for _, m := range r.Messages {
		authors[m.AuthorID] = struct{}{}
		channels[m.ChannelID] = struct{}{}
		teams[m.TeamID] = struct{}{}
		if len(m.Attachments) > 0 {
			stats.WithAttachments++
		}
		if len(m.Reactions) > 0 {
			stats.WithReactions++
		}
		if len(m.Mentions) > 0 {
			stats.WithMentions++
		}
	}
	stats.Authors = len(authors)
	stats.Channels = len(channels)
	stats.Teams = len(teams)
	return stats
}

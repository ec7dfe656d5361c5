package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/xaenox/teams-extractor/internal/models"
)

// GraphAPI is the slice of the Graph client the extractor depends on.
type GraphAPI interface {
	Teams(ctx context.Context) ([]json.RawMessage, error)
	TeamChannels(ctx context.Context, teamID string) ([]json.RawMessage, error)
	ChannelMessages(ctx context.Context, teamID, channelID string, top, maxPages int) ([]json.RawMessage, error)
	MessageReplies(ctx context.Context, teamID, channelID, messageID string) ([]json.RawMessage, error)
}

// ProgressFunc is invoked after each channel with the 1-based channel
// index, the channel total, and a short description.
type ProgressFunc func(current, total int, description string)

// Extractor drives discovery, per-channel fetch, filtering, and
// aggregation for one extraction run. Channel-level failures degrade the
// result instead of aborting it; only discovery failure is fatal.
type Extractor struct {
	client GraphAPI
	log    *zap.Logger
}

func New(client GraphAPI, log *zap.Logger) *Extractor {
	return &Extractor{client: client, log: log}
}

// Extract runs one extraction. progress may be nil.
func (e *Extractor) Extract(ctx context.Context, filter models.ExtractionFilter, progress ProgressFunc) models.ExtractionResult {
	start := time.Now()
	var all []models.Message
	var errs []string

	channels, warnings, err := e.discoverChannels(ctx, filter)
	if err != nil {
		errs = append(errs, fmt.Sprintf("fatal error during extraction: %v", err))
		return models.NewExtractionResult(all, start, time.Now(), filter, errs)
	}
	errs = append(errs, warnings...)
	e.log.Info("discovered channels", zap.Int("count", len(channels)))

	total := len(channels)
	for idx, ch := range channels {
		if progress != nil {
			progress(idx+1, total, "scanning "+ch.DisplayName)
		}

		raw, err := e.fetchChannel(ctx, ch, filter)
		if err != nil {
			msg := fmt.Sprintf("error extracting from channel %s: %v", ch.DisplayName, err)
			e.log.Error("channel extraction failed",
				zap.String("channel", ch.DisplayName),
				zap.String("team_id", ch.TeamID),
				zap.Error(err))
			errs = append(errs, msg)
			continue
		}

		filtered := Apply(raw, filter)
		all = append(all, filtered...)

		e.log.Info("channel extracted",
			zap.String("channel", ch.DisplayName),
			zap.Int("index", idx+1),
			zap.Int("total", total),
			zap.Int("kept", len(filtered)),
			zap.Int("fetched", len(raw)))

		if filter.MaxMessages > 0 && len(all) >= filter.MaxMessages {
			all = all[:filter.MaxMessages]
			e.log.Info("reached message limit", zap.Int("max_messages", filter.MaxMessages))
			break
		}
	}

	result := models.NewExtractionResult(all, start, time.Now(), filter, errs)
	e.log.Info("extraction complete",
		zap.String("run_id", result.RunID),
		zap.Int("messages", len(all)),
		zap.Int("errors", len(errs)),
		zap.Duration("duration", result.Duration()))
	return result
}

// ExtractIncidents extracts incident-related messages inside a time
// window, with a default incident keyword set.
func (e *Extractor) ExtractIncidents(ctx context.Context, start, end time.Time, keywords, teamIDs, channelNames []string) models.ExtractionResult {
	return e.Extract(ctx, models.IncidentFilter(start, end, keywords, teamIDs, channelNames), nil)
}

// ExtractByAuthor extracts all messages written by one user.
func (e *Extractor) ExtractByAuthor(ctx context.Context, email string, start, end *time.Time) models.ExtractionResult {
	return e.Extract(ctx, models.AuthorFilter(email, start, end), nil)
}

// discoverChannels enumerates accessible teams and their channels,
// applying the filter's team and channel allow-lists. A team whose
// channel listing fails is skipped; the failure is returned as a warning
// so it lands in the result's error list without aborting discovery.
func (e *Extractor) discoverChannels(ctx context.Context, filter models.ExtractionFilter) ([]models.Channel, []string, error) {
	rawTeams, err := e.client.Teams(ctx)
	if err != nil {
		return nil, nil, err
	}

	teamAllowed := toSet(filter.TeamIDs)
	channelAllowed := toSet(filter.ChannelIDs)
	nameAllowed := toSet(filter.ChannelNames)

	var channels []models.Channel
	var warnings []string
	for _, rawTeam := range rawTeams {
		var team models.Team
		if err := json.Unmarshal(rawTeam, &team); err != nil {
			e.log.Warn("skipping unparseable team entry", zap.Error(err))
			continue
		}
		if len(filter.TeamIDs) > 0 && !teamAllowed[team.ID] {
			continue
		}

		rawChannels, err := e.client.TeamChannels(ctx, team.ID)
		if err != nil {
			e.log.Warn("could not list channels for team",
				zap.String("team", team.DisplayName),
				zap.String("team_id", team.ID),
				zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("could not access channels for team %s: %v", team.DisplayName, err))
			continue
		}

		for _, rawCh := range rawChannels {
			ch, err := models.ParseChannel(rawCh, team.ID)
			if err != nil {
				e.log.Warn("skipping unparseable channel entry",
					zap.String("team_id", team.ID),
					zap.Error(err))
				continue
			}
			if len(filter.ChannelIDs) > 0 && !channelAllowed[ch.ID] {
				continue
			}
			if len(filter.ChannelNames) > 0 && !nameAllowed[ch.DisplayName] {
				continue
			}
			channels = append(channels, ch)
		}
	}

	return channels, warnings, nil
}

// fetchChannel retrieves a channel's messages and, when configured, their
// replies. A reply fetch failure leaves the root message in place; a
// failure on the channel's own page set is returned to the caller.
func (e *Extractor) fetchChannel(ctx context.Context, ch models.Channel, filter models.ExtractionFilter) ([]models.Message, error) {
	raw, err := e.client.ChannelMessages(ctx, ch.TeamID, ch.ID, filter.BatchSize, 0)
	if err != nil {
		return nil, err
	}

	var messages []models.Message
	for _, item := range raw {
		msg, embedded, err := models.ParseMessage(item, ch)
		if err != nil {
			e.log.Warn("skipping unparseable message",
				zap.String("channel", ch.DisplayName),
				zap.Error(err))
			continue
		}
		messages = append(messages, msg)

		if !filter.IncludeReplies {
			continue
		}

		replies := embedded
		if len(replies) == 0 && msg.ReplyToID == "" {
			replies, err = e.client.MessageReplies(ctx, ch.TeamID, ch.ID, msg.ID)
			if err != nil {
				e.log.Debug("could not fetch replies",
					zap.String("message_id", msg.ID),
					zap.Error(err))
				continue
			}
		}
		for _, rawReply := range replies {
			reply, _, err := models.ParseMessage(rawReply, ch)
			if err != nil {
				e.log.Warn("skipping unparseable reply",
					zap.String("message_id", msg.ID),
					zap.Error(err))
				continue
			}
			messages = append(messages, reply)
		}
	}

	return messages, nil
}

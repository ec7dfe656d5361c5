package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xaenox/teams-extractor/internal/models"
)

type fakeGraph struct {
	teams           func(ctx context.Context) ([]json.RawMessage, error)
	teamChannels    func(ctx context.Context, teamID string) ([]json.RawMessage, error)
	channelMessages func(ctx context.Context, teamID, channelID string, top, maxPages int) ([]json.RawMessage, error)
	messageReplies  func(ctx context.Context, teamID, channelID, messageID string) ([]json.RawMessage, error)
}

func (f *fakeGraph) Teams(ctx context.Context) ([]json.RawMessage, error) {
	return f.teams(ctx)
}

func (f *fakeGraph) TeamChannels(ctx context.Context, teamID string) ([]json.RawMessage, error) {
	return f.teamChannels(ctx, teamID)
}

func (f *fakeGraph) ChannelMessages(ctx context.Context, teamID, channelID string, top, maxPages int) ([]json.RawMessage, error) {
	return f.channelMessages(ctx, teamID, channelID, top, maxPages)
}

func (f *fakeGraph) MessageReplies(ctx context.Context, teamID, channelID, messageID string) ([]json.RawMessage, error) {
	if f.messageReplies == nil {
		return nil, nil
	}
	return f.messageReplies(ctx, teamID, channelID, messageID)
}

func rawTeam(id, name string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"displayName":%q}`, id, name))
}

func rawChannel(id, name string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"id":%q,"displayName":%q,"membershipType":"standard"}`, id, name))
}

func rawMessage(id, body string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"id":%q,"messageType":"message","createdDateTime":"2024-06-15T10:00:00Z","body":{"content":%q,"contentType":"text"},"from":{"user":{"id":"u1","displayName":"Ada Lovelace"}}}`,
		id, body))
}

func rawMessages(channelID string, n int) []json.RawMessage {
	out := make([]json.RawMessage, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, rawMessage(fmt.Sprintf("%s-m%d", channelID, i), "status update"))
	}
	return out
}

func TestExtractDiscoveryFailureIsFatal(t *testing.T) {
	g := &fakeGraph{
		teams: func(context.Context) ([]json.RawMessage, error) {
			return nil, errors.New("token rejected")
		},
	}
	e := New(g, zaptest.NewLogger(t))

	result := e.Extract(context.Background(), models.DefaultFilter(), nil)
	assert.Empty(t, result.Messages)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "fatal error during extraction")
	assert.NotEmpty(t, result.RunID)
}

func TestExtractSurvivesOneBrokenTeam(t *testing.T) {
	g := &fakeGraph{
		teams: func(context.Context) ([]json.RawMessage, error) {
			return []json.RawMessage{rawTeam("t1", "Platform"), rawTeam("t2", "Restricted")}, nil
		},
		teamChannels: func(_ context.Context, teamID string) ([]json.RawMessage, error) {
			if teamID == "t2" {
				return nil, errors.New("403 Forbidden")
			}
			return []json.RawMessage{rawChannel("c1", "General")}, nil
		},
		channelMessages: func(_ context.Context, _, channelID string, _, _ int) ([]json.RawMessage, error) {
			return rawMessages(channelID, 2), nil
		},
	}
	e := New(g, zaptest.NewLogger(t))

	result := e.Extract(context.Background(), models.DefaultFilter(), nil)
	assert.Len(t, result.Messages, 2, "the surviving channel is still extracted")
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "could not access channels for team Restricted")
}

func TestExtractChannelFailureIsRecorded(t *testing.T) {
	g := &fakeGraph{
		teams: func(context.Context) ([]json.RawMessage, error) {
			return []json.RawMessage{rawTeam("t1", "Platform")}, nil
		},
		teamChannels: func(context.Context, string) ([]json.RawMessage, error) {
			return []json.RawMessage{rawChannel("c1", "General"), rawChannel("c2", "Incidents")}, nil
		},
		channelMessages: func(_ context.Context, _, channelID string, _, _ int) ([]json.RawMessage, error) {
			if channelID == "c1" {
				return nil, errors.New("503 Service Unavailable")
			}
			return rawMessages(channelID, 3), nil
		},
	}
	e := New(g, zaptest.NewLogger(t))

	result := e.Extract(context.Background(), models.DefaultFilter(), nil)
	assert.Len(t, result.Messages, 3)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "error extracting from channel General")
}

func TestExtractMaxMessagesStopsEarly(t *testing.T) {
	var fetched []string
	g := &fakeGraph{
		teams: func(context.Context) ([]json.RawMessage, error) {
			return []json.RawMessage{rawTeam("t1", "Platform")}, nil
		},
		teamChannels: func(context.Context, string) ([]json.RawMessage, error) {
			return []json.RawMessage{rawChannel("c1", "A"), rawChannel("c2", "B"), rawChannel("c3", "C")}, nil
		},
		channelMessages: func(_ context.Context, _, channelID string, _, _ int) ([]json.RawMessage, error) {
			fetched = append(fetched, channelID)
			return rawMessages(channelID, 4), nil
		},
	}
	e := New(g, zaptest.NewLogger(t))

	filter := models.DefaultFilter()
	filter.MaxMessages = 5
	result := e.Extract(context.Background(), filter, nil)

	assert.Len(t, result.Messages, 5, "the result is truncated to the limit")
	assert.Equal(t, []string{"c1", "c2"}, fetched, "remaining channels are never fetched")
	assert.Empty(t, result.Errors)
}

func TestExtractScopeFilters(t *testing.T) {
	g := &fakeGraph{
		teams: func(context.Context) ([]json.RawMessage, error) {
			return []json.RawMessage{rawTeam("t1", "Platform"), rawTeam("t2", "Design")}, nil
		},
		teamChannels: func(_ context.Context, teamID string) ([]json.RawMessage, error) {
			require.Equal(t, "t1", teamID, "unlisted teams are never queried")
			return []json.RawMessage{rawChannel("c1", "General"), rawChannel("c2", "Incidents")}, nil
		},
		channelMessages: func(_ context.Context, _, channelID string, _, _ int) ([]json.RawMessage, error) {
			require.Equal(t, "c2", channelID)
			return rawMessages(channelID, 1), nil
		},
	}
	e := New(g, zaptest.NewLogger(t))

	filter := models.DefaultFilter()
	filter.TeamIDs = []string{"t1"}
	filter.ChannelNames = []string{"Incidents"}
	result := e.Extract(context.Background(), filter, nil)

	require.Len(t, result.Messages, 1)
	assert.Equal(t, "c2", result.Messages[0].ChannelID)
}

func TestExtractFetchesRepliesWhenNotEmbedded(t *testing.T) {
	g := &fakeGraph{
		teams: func(context.Context) ([]json.RawMessage, error) {
			return []json.RawMessage{rawTeam("t1", "Platform")}, nil
		},
		teamChannels: func(context.Context, string) ([]json.RawMessage, error) {
			return []json.RawMessage{rawChannel("c1", "General")}, nil
		},
		channelMessages: func(_ context.Context, _, channelID string, _, _ int) ([]json.RawMessage, error) {
			return []json.RawMessage{rawMessage("root-1", "question")}, nil
		},
		messageReplies: func(_ context.Context, _, _, messageID string) ([]json.RawMessage, error) {
			require.Equal(t, "root-1", messageID)
			return []json.RawMessage{
				json.RawMessage(`{"id":"reply-1","replyToId":"root-1","messageType":"message","createdDateTime":"2024-06-15T10:05:00Z","body":{"content":"answer","contentType":"text"},"from":{"user":{"id":"u2","displayName":"Grace Hopper"}}}`),
			}, nil
		},
	}
	e := New(g, zaptest.NewLogger(t))

	result := e.Extract(context.Background(), models.DefaultFilter(), nil)
	require.Len(t, result.Messages, 2)
	assert.Equal(t, "root-1", result.Messages[0].ID)
	assert.Equal(t, "reply-1", result.Messages[1].ID)
	assert.Equal(t, "root-1", result.Messages[1].ReplyToID)
}

func TestExtractReplyFailureKeepsRoot(t *testing.T) {
	g := &fakeGraph{
		teams: func(context.Context) ([]json.RawMessage, error) {
			return []json.RawMessage{rawTeam("t1", "Platform")}, nil
		},
		teamChannels: func(context.Context, string) ([]json.RawMessage, error) {
			return []json.RawMessage{rawChannel("c1", "General")}, nil
		},
		channelMessages: func(_ context.Context, _, channelID string, _, _ int) ([]json.RawMessage, error) {
			return []json.RawMessage{rawMessage("root-1", "question")}, nil
		},
		messageReplies: func(context.Context, string, string, string) ([]json.RawMessage, error) {
			return nil, errors.New("replies endpoint timed out")
		},
	}
	e := New(g, zaptest.NewLogger(t))

	result := e.Extract(context.Background(), models.DefaultFilter(), nil)
	require.Len(t, result.Messages, 1)
	assert.Equal(t, "root-1", result.Messages[0].ID)
	assert.Empty(t, result.Errors)
}

func TestExtractReportsProgress(t *testing.T) {
	g := &fakeGraph{
		teams: func(context.Context) ([]json.RawMessage, error) {
			return []json.RawMessage{rawTeam("t1", "Platform")}, nil
		},
		teamChannels: func(context.Context, string) ([]json.RawMessage, error) {
			return []json.RawMessage{rawChannel("c1", "A"), rawChannel("c2", "B")}, nil
		},
		channelMessages: func(_ context.Context, _, channelID string, _, _ int) ([]json.RawMessage, error) {
			return nil, nil
		},
	}
	e := New(g, zaptest.NewLogger(t))

	var calls []string
	e.Extract(context.Background(), models.DefaultFilter(), func(current, total int, description string) {
		calls = append(calls, fmt.Sprintf("%d/%d %s", current, total, description))
	})
	assert.Equal(t, []string{"1/2 scanning A", "2/2 scanning B"}, calls)
}

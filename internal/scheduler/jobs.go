package scheduler

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xaenox/teams-extractor/internal/models"
)

type jobFile struct {
	Jobs []jobConfig `mapstructure:"jobs"`
}

type jobConfig struct {
	Name             string       `mapstructure:"name"`
	Schedule         string       `mapstructure:"schedule"`
	OutputDir        string       `mapstructure:"output_dir"`
	Enabled          *bool        `mapstructure:"enabled"`
	ExtractionConfig filterConfig `mapstructure:"extraction_config"`
}

type filterConfig struct {
	StartDate             string   `mapstructure:"start_date"`
	EndDate               string   `mapstructure:"end_date"`
	Keywords              []string `mapstructure:"keywords"`
	RegexPatterns         []string `mapstructure:"regex_patterns"`
	AuthorIDs             []string `mapstructure:"author_ids"`
	AuthorNames           []string `mapstructure:"author_names"`
	AuthorEmails          []string `mapstructure:"author_emails"`
	TeamIDs               []string `mapstructure:"team_ids"`
	ChannelIDs            []string `mapstructure:"channel_ids"`
	ChannelNames          []string `mapstructure:"channel_names"`
	IncludeReplies        *bool    `mapstructure:"include_replies"`
	IncludeSystemMessages bool     `mapstructure:"include_system_messages"`
	IncludeDeleted        bool     `mapstructure:"include_deleted"`
	MaxMessages           int      `mapstructure:"max_messages"`
	BatchSize             int      `mapstructure:"batch_size"`
}

// LoadJobs reads a YAML job file and registers every job it can parse.
// A malformed job entry is logged and skipped so one bad job does not
// take the others down; a missing or unreadable file is an error.
func (s *Scheduler) LoadJobs(path string) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("reading job file: %w", err)
	}

	var file jobFile
	if err := v.Unmarshal(&file); err != nil {
		return fmt.Errorf("parsing job file: %w", err)
	}

	for _, jc := range file.Jobs {
		j, err := jc.toJob()
		if err == nil {
			err = s.Add(j)
		}
		if err != nil {
			s.log.Error("skipping malformed job entry",
				zap.String("job", jc.Name),
				zap.Error(err))
		}
	}

	s.log.Info("job file loaded",
		zap.String("path", path),
		zap.Int("active_jobs", len(s.jobs)))
	return nil
}

func (jc jobConfig) toJob() (Job, error) {
	if jc.Name == "" {
		return Job{}, fmt.Errorf("job entry has no name")
	}
	if jc.Schedule == "" {
		return Job{}, fmt.Errorf("job %s has no schedule", jc.Name)
	}
	filter, err := jc.ExtractionConfig.toFilter()
	if err != nil {
		return Job{}, fmt.Errorf("job %s: %w", jc.Name, err)
	}

	enabled := true
	if jc.Enabled != nil {
		enabled = *jc.Enabled
	}
	return Job{
		Name:      jc.Name,
		Schedule:  jc.Schedule,
		Filter:    filter,
		OutputDir: jc.OutputDir,
		Enabled:   enabled,
	}, nil
}

func (fc filterConfig) toFilter() (models.ExtractionFilter, error) {
	f := models.DefaultFilter()
	f.Keywords = fc.Keywords
	f.RegexPatterns = fc.RegexPatterns
	f.AuthorIDs = fc.AuthorIDs
	f.AuthorNames = fc.AuthorNames
	f.AuthorEmails = fc.AuthorEmails
	f.TeamIDs = fc.TeamIDs
	f.ChannelIDs = fc.ChannelIDs
	f.ChannelNames = fc.ChannelNames
	f.IncludeSystemMessages = fc.IncludeSystemMessages
	f.IncludeDeleted = fc.IncludeDeleted
	f.MaxMessages = fc.MaxMessages
	if fc.IncludeReplies != nil {
		f.IncludeReplies = *fc.IncludeReplies
	}
	if fc.BatchSize > 0 {
		f.BatchSize = fc.BatchSize
	}

	var err error
	if f.StartDate, err = parseDate(fc.StartDate); err != nil {
		return f, fmt.Errorf("invalid start_date: %w", err)
	}
	if f.EndDate, err = parseDate(fc.EndDate); err != nil {
		return f, fmt.Errorf("invalid end_date: %w", err)
	}
	return f, nil
}

func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse("2006-01-02", s)
		if err != nil {
			return nil, err
		}
	}
	return &t, nil
}

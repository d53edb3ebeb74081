package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/jobhound/jobhound/internal/posting"
)

const (
	remoteOKName    = "remoteok"
	remoteOKBaseURL = "https://remoteok.com/api"
	remoteOKTimeout = 15 * time.Second

	userAgent = "jobhound (+https://github.com/jobhound/jobhound)"
)

// RemoteOK fetches postings from the RemoteOK public API. The API returns a
// single JSON array per tag; its first element is a legal notice, not a job.
type RemoteOK struct {
	baseURL string
	tags    []string
	client  *http.Client
	logger  *zap.Logger
}

func NewRemoteOK(baseURL string, tags []string, logger *zap.Logger) *RemoteOK {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = remoteOKBaseURL
	}

	return &RemoteOK{
		baseURL: baseURL,
		tags:    tags,
		client:  &http.Client{Timeout: remoteOKTimeout},
		logger:  logger,
	}
}

func (r *RemoteOK) Name() string {
	return remoteOKName
}

// remoteOKJob mirrors one listing. Decoded weakly because the feed has mixed
// number/string ids depending on listing age.
type remoteOKJob struct {
	ID          string  `mapstructure:"id"`
	Position    string  `mapstructure:"position"`
	Company     string  `mapstructure:"company"`
	Location    string  `mapstructure:"location"`
	Description string  `mapstructure:"description"`
	URL         string  `mapstructure:"url"`
	SalaryMin   float64 `mapstructure:"salary_min"`
	SalaryMax   float64 `mapstructure:"salary_max"`
}

func (r *RemoteOK) Fetch(ctx context.Context) ([]posting.Seed, error) {
	if len(r.tags) == 0 {
		return r.fetchTag(ctx, "")
	}

	var seeds []posting.Seed
	for _, tag := range r.tags {
		batch, err := r.fetchTag(ctx, tag)
		if err != nil {
			return seeds, fmt.Errorf("tag %q: %w", tag, err)
		}
		seeds = append(seeds, batch...)
	}

	return seeds, nil
}

func (r *RemoteOK) fetchTag(ctx context.Context, tag string) ([]posting.Seed, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL, nil)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if tag != "" {
		q := url.Values{}
		q.Set("tag", tag)
		req.URL.RawQuery = q.Encode()
	}

	r.logger.Debug("make request", zap.String("url", req.URL.String()))

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s", resp.Status)
	}

	var listings []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&listings); err != nil {
		return nil, fmt.Errorf("decode remoteok response: %w", err)
	}

	seeds := make([]posting.Seed, 0, len(listings))
	for _, raw := range listings {
		var job remoteOKJob
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			Result:           &job,
			WeaklyTypedInput: true,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(raw); err != nil {
			r.logger.Debug("skip undecodable listing", zap.Error(err))
			continue
		}

		// The legal notice has no id or position.
		if job.ID == "" || job.Position == "" {
			continue
		}

		seeds = append(seeds, posting.Seed{
			Source:      remoteOKName,
			ExternalID:  job.ID,
			Title:       job.Position,
			Company:     job.Company,
			Location:    job.Location,
			Description: job.Description,
			URL:         job.URL,
			Salary:      formatSalary(job.SalaryMin, job.SalaryMax),
		})
	}

	return seeds, nil
}

func formatSalary(min, max float64) string {
	switch {
	case min <= 0 && max <= 0:
		return ""
	case max <= 0:
		return fmt.Sprintf("$%.0f+", min)
	case min <= 0:
		return fmt.Sprintf("up to $%.0f", max)
	default:
		return fmt.Sprintf("$%.0f-$%.0f", min, max)
	}
}

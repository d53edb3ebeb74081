package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jobhound/jobhound/internal/posting"
)

const (
	adzunaName     = "adzuna"
	adzunaBaseURL  = "https://api.adzuna.com/v1/api/jobs"
	adzunaPageSize = 50
	adzunaTimeout  = 15 * time.Second

	defaultAdzunaMaxPages = 3
)

// Adzuna fetches postings from the Adzuna search API, one paged search per
// configured keyword.
type Adzuna struct {
	baseURL  string
	appID    string
	appKey   string
	country  string
	keywords []string
	maxPages int
	client   *http.Client
	logger   *zap.Logger
}

func NewAdzuna(baseURL, appID, appKey, country string, keywords []string, maxPages int, logger *zap.Logger) *Adzuna {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = adzunaBaseURL
	}
	if maxPages <= 0 {
		maxPages = defaultAdzunaMaxPages
	}

	return &Adzuna{
		baseURL:  baseURL,
		appID:    appID,
		appKey:   appKey,
		country:  country,
		keywords: keywords,
		maxPages: maxPages,
		client:   &http.Client{Timeout: adzunaTimeout},
		logger:   logger,
	}
}

func (a *Adzuna) Name() string {
	return adzunaName
}

type adzunaResponse struct {
	Results []adzunaResult `json:"results"`
	Count   int            `json:"count"`
}

type adzunaResult struct {
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Company     adzunaCompany  `json:"company"`
	Location    adzunaLocation `json:"location"`
	SalaryMin   float64        `json:"salary_min"`
	SalaryMax   float64        `json:"salary_max"`
	RedirectURL string         `json:"redirect_url"`
}

type adzunaCompany struct {
	DisplayName string `json:"display_name"`
}

type adzunaLocation struct {
	DisplayName string `json:"display_name"`
}

func (a *Adzuna) Fetch(ctx context.Context) ([]posting.Seed, error) {
	if a.appID == "" || a.appKey == "" {
		return nil, fmt.Errorf("adzuna credentials are not set")
	}

	var seeds []posting.Seed
	for _, keyword := range a.keywords {
		batch, err := a.search(ctx, keyword)
		if err != nil {
			return seeds, fmt.Errorf("keyword %q: %w", keyword, err)
		}
		seeds = append(seeds, batch...)
	}

	return seeds, nil
}

// search pages through results for one keyword until a short page or the
// page cap.
func (a *Adzuna) search(ctx context.Context, keyword string) ([]posting.Seed, error) {
	var seeds []posting.Seed

	for page := 1; page <= a.maxPages; page++ {
		batch, err := a.fetchPage(ctx, keyword, page)
		if err != nil {
			return seeds, fmt.Errorf("page %d: %w", page, err)
		}
		if len(batch) == 0 {
			break
		}
		seeds = append(seeds, batch...)
		if len(batch) < adzunaPageSize {
			break
		}
	}

	return seeds, nil
}

func (a *Adzuna) fetchPage(ctx context.Context, keyword string, page int) ([]posting.Seed, error) {
	endpoint := fmt.Sprintf("%s/%s/search/%d", a.baseURL, a.country, page)

	params := url.Values{}
	params.Set("app_id", a.appID)
	params.Set("app_key", a.appKey)
	params.Set("results_per_page", strconv.Itoa(adzunaPageSize))
	params.Set("what", keyword)
	params.Set("content-type", "application/json")
	params.Set("sort_by", "date")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	a.logger.Debug("make request",
		zap.String("source", adzunaName),
		zap.String("keyword", keyword),
		zap.Int("page", page),
	)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bad status: %s: %s", resp.Status, string(body))
	}

	var apiResp adzunaResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("decode adzuna response: %w", err)
	}

	seeds := make([]posting.Seed, 0, len(apiResp.Results))
	for _, r := range apiResp.Results {
		seeds = append(seeds, posting.Seed{
			Source:      adzunaName,
			ExternalID:  r.ID,
			Title:       r.Title,
			Company:     r.Company.DisplayName,
			Location:    r.Location.DisplayName,
			Description: r.Description,
			URL:         r.RedirectURL,
			Salary:      formatSalary(r.SalaryMin, r.SalaryMax),
		})
	}

	return seeds, nil
}

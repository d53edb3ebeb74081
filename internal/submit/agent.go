package submit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/jobhound/jobhound/internal/posting"
	"github.com/jobhound/jobhound/internal/profile"
	"github.com/jobhound/jobhound/internal/tailor"
)

const (
	defaultSubmitTimeout = 3 * time.Minute
	defaultMinInterval   = 30 * time.Second
)

// Agent talks to the local browser worker over HTTP. Calls are rate limited
// so job boards see at most one interaction per min-interval.
type Agent struct {
	baseURL     string
	token       string
	evidenceDir string
	timeout     time.Duration
	limiter     *rate.Limiter
	logger      *zap.Logger

	HTTPClient *http.Client
}

func NewAgent(baseURL, token, evidenceDir string, minInterval, submitTimeout time.Duration, logger *zap.Logger) *Agent {
	if submitTimeout <= 0 {
		submitTimeout = defaultSubmitTimeout
	}
	if minInterval <= 0 {
		minInterval = defaultMinInterval
	}

	return &Agent{
		baseURL:     strings.TrimRight(baseURL, "/"),
		token:       token,
		evidenceDir: evidenceDir,
		timeout:     submitTimeout,
		limiter:     rate.NewLimiter(rate.Every(minInterval), 1),
		logger:      logger,
		// Per-call deadlines come from the request context.
		HTTPClient: &http.Client{},
	}
}

type evidenceRequest struct {
	Fingerprint string `json:"fingerprint"`
	URL         string `json:"url"`
	Dir         string `json:"dir,omitempty"`
}

type evidenceResponse struct {
	Ref string `json:"ref"`
}

func (a *Agent) CaptureEvidence(ctx context.Context, p *posting.Posting) (string, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body := evidenceRequest{
		Fingerprint: p.Fingerprint,
		URL:         p.URL,
		Dir:         a.evidenceDir,
	}

	var out evidenceResponse
	if err := a.post(ctx, "/evidence", body, &out); err != nil {
		return "", fmt.Errorf("capture evidence for %s: %w", p.Fingerprint, err)
	}

	if out.Ref == "" {
		return "", fmt.Errorf("agent returned no evidence ref for %s", p.Fingerprint)
	}

	return out.Ref, nil
}

type submissionRequest struct {
	Fingerprint string            `json:"fingerprint"`
	URL         string            `json:"url"`
	Title       string            `json:"title"`
	Company     string            `json:"company"`
	CoverLetter string            `json:"cover_letter"`
	Summary     string            `json:"summary,omitempty"`
	Skills      []string          `json:"skills,omitempty"`
	ResumePath  string            `json:"resume_path,omitempty"`
	UserInfo    *profile.UserInfo `json:"user_info,omitempty"`
}

type submissionResponse struct {
	Outcome     string `json:"outcome"`
	EvidenceRef string `json:"evidence_ref"`
	Detail      string `json:"detail"`
}

func (a *Agent) Submit(ctx context.Context, p *posting.Posting, materials *tailor.Materials, info *profile.UserInfo) (*Result, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	body := submissionRequest{
		Fingerprint: p.Fingerprint,
		URL:         p.URL,
		Title:       p.Title,
		Company:     p.Company,
		UserInfo:    info,
	}
	if materials != nil {
		body.CoverLetter = materials.CoverLetter
		body.Summary = materials.Summary
		body.Skills = materials.Skills
		body.ResumePath = materials.ResumePath
	}

	a.logger.Info("submitting application",
		zap.String("fingerprint", p.Fingerprint),
		zap.String("title", p.Title),
		zap.String("company", p.Company),
	)

	var out submissionResponse
	if err := a.post(ctx, "/submissions", body, &out); err != nil {
		return nil, fmt.Errorf("submit %s: %w", p.Fingerprint, err)
	}

	outcome := parseOutcome(out.Outcome)
	if outcome == OutcomeNeedsReview && out.Outcome != "review" {
		a.logger.Warn("unknown agent outcome, treating as review",
			zap.String("fingerprint", p.Fingerprint),
			zap.String("outcome", out.Outcome),
		)
	}

	return &Result{
		Outcome:     outcome,
		EvidenceRef: out.EvidenceRef,
		Detail:      out.Detail,
	}, nil
}

func parseOutcome(s string) Outcome {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "submitted":
		return OutcomeSubmitted
	case "retryable":
		return OutcomeRetryable
	case "permanent":
		return OutcomePermanent
	default:
		return OutcomeNeedsReview
	}
}

func (a *Agent) post(ctx context.Context, path string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", path, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", a.token))
	}

	a.logger.Debug("make request", zap.String("url", req.URL.String()))

	resp, err := a.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("bad status: %s: %s", resp.Status, strings.TrimSpace(string(data)))
	}

	if result == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}

	return nil
}

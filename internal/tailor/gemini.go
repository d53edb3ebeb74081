package tailor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	_ "embed"

	"github.com/jobhound/jobhound/internal/ai"
	logfields "github.com/jobhound/jobhound/internal/logger"
	"github.com/jobhound/jobhound/internal/posting"
	"go.uber.org/zap"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}

// Gemini writes cover letter, summary and key skills in a single
// structured-JSON generation per posting.
type Gemini struct {
	generator contentGenerator
	timeout   time.Duration
	logger    *zap.Logger
	maxLogLen int
}

//go:embed prompt.md
var systemPrompt string

const defaultMaxLogLength = 200

func NewGemini(generator contentGenerator, logger *zap.Logger, timeout time.Duration, maxLogLength int) *Gemini {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}

	return &Gemini{
		generator: generator,
		timeout:   timeout,
		logger:    logfields.WithAI(logger, "gemini", generator.Model()),
		maxLogLen: maxLogLength,
	}
}

func (g *Gemini) Tailor(ctx context.Context, resume string, p *posting.Posting) (*Materials, error) {
	if strings.TrimSpace(resume) == "" {
		return nil, fmt.Errorf("resume is required")
	}
	if p == nil {
		return nil, fmt.Errorf("posting is required")
	}

	payload := map[string]any{
		"resume": resume,
		"posting": map[string]any{
			"title":       p.Title,
			"company":     p.Company,
			"location":    p.Location,
			"description": p.Description,
		},
	}

	message, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal tailoring payload: %w", err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	g.logger.Debug("gemini tailoring request",
		zap.String("fingerprint", p.Fingerprint),
		zap.Int("payload_length", utf8.RuneCountInString(string(message))),
		zap.String("payload_preview", logfields.Preview(string(message), g.maxLogLen)),
	)

	raw, err := g.generator.GenerateContent(ctx, systemPrompt, string(message))
	if err != nil {
		return nil, fmt.Errorf("tailor materials for %s: %w", p.Fingerprint, err)
	}

	g.logger.Debug("gemini tailoring response",
		zap.String("fingerprint", p.Fingerprint),
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", logfields.Preview(raw, g.maxLogLen)),
	)

	return parseMaterials(raw)
}

func parseMaterials(raw string) (*Materials, error) {
	data, err := ai.ParseObject(raw)
	if err != nil {
		return nil, err
	}

	coverLetter := ai.CoerceString(data["cover_letter"])
	if coverLetter == "" {
		return nil, fmt.Errorf("gemini response has no cover letter")
	}

	return &Materials{
		CoverLetter: coverLetter,
		Summary:     ai.CoerceString(data["summary"]),
		Skills:      ai.CoerceStringSlice(data["skills"]),
	}, nil
}

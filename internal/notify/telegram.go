package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jobhound/jobhound/internal/posting"
	"github.com/jobhound/jobhound/internal/store"
)

const (
	telegramAPIURL  = "https://api.telegram.org"
	telegramTimeout = 10 * time.Second

	approveCallbackPrefix = "approve_"
	rejectCallbackPrefix  = "reject_"
)

// Telegram talks to the Bot API directly: sendMessage with an inline
// approve/reject keyboard, getUpdates to collect button presses.
type Telegram struct {
	token  string
	chatID int64
	logger *zap.Logger

	// offset confirms consumed updates to the Bot API: without it getUpdates
	// redelivers answered button presses for up to 24 hours. decisions holds
	// presses decoded from a confirmed batch until their posting polls.
	offset    int64
	decisions map[string]Decision

	HTTPClient *http.Client
	APIURL     string
}

func NewTelegram(token string, chatID int64, logger *zap.Logger) *Telegram {
	return &Telegram{
		token:     token,
		chatID:    chatID,
		logger:    logger,
		decisions: make(map[string]Decision),
		HTTPClient: &http.Client{
			Timeout: telegramTimeout,
		},
		APIURL: telegramAPIURL,
	}
}

// apiResponse is the Bot API envelope around every method result.
type apiResponse struct {
	OK          bool            `json:"ok"`
	Description string          `json:"description"`
	Result      json.RawMessage `json:"result"`
}

type update struct {
	UpdateID      int64          `json:"update_id"`
	CallbackQuery *callbackQuery `json:"callback_query"`
}

type callbackQuery struct {
	ID   string `json:"id"`
	Data string `json:"data"`
}

func (t *Telegram) SendApprovalRequest(ctx context.Context, p *posting.Posting) (string, error) {
	payload := map[string]any{
		"chat_id": t.chatID,
		"text":    approvalText(p),
		"reply_markup": map[string]any{
			"inline_keyboard": [][]map[string]any{{
				{"text": "Approve", "callback_data": approveCallbackPrefix + p.Fingerprint},
				{"text": "Reject", "callback_data": rejectCallbackPrefix + p.Fingerprint},
			}},
		},
	}

	var message struct {
		MessageID int64 `json:"message_id"`
	}
	if err := t.call(ctx, "sendMessage", payload, &message); err != nil {
		return "", fmt.Errorf("send approval request: %w", err)
	}

	return strconv.FormatInt(message.MessageID, 10), nil
}

// PollDecision fetches pending button presses and reports the decision for
// this posting, if any. Every fetched update is answered and confirmed via
// offset on the next call, so a batch is consumed whole; presses for other
// postings are held until their own request polls. Stale presses for
// already-resolved postings are skipped by the gate because their request is
// gone.
func (t *Telegram) PollDecision(ctx context.Context, req store.ApprovalRequest) (Decision, error) {
	if d, ok := t.decisions[req.Fingerprint]; ok {
		delete(t.decisions, req.Fingerprint)
		return d, nil
	}

	payload := map[string]any{
		"allowed_updates": []string{"callback_query"},
	}
	if t.offset != 0 {
		payload["offset"] = t.offset
	}

	var updates []update
	if err := t.call(ctx, "getUpdates", payload, &updates); err != nil {
		return DecisionPending, fmt.Errorf("poll decision: %w", err)
	}

	for _, u := range updates {
		if u.UpdateID >= t.offset {
			t.offset = u.UpdateID + 1
		}
		if u.CallbackQuery == nil {
			continue
		}

		fingerprint, decision := parseCallback(u.CallbackQuery.Data)
		if decision == DecisionPending {
			continue
		}

		ack := map[string]any{
			"callback_query_id": u.CallbackQuery.ID,
			"text":              decision.String(),
		}
		if err := t.call(ctx, "answerCallbackQuery", ack, nil); err != nil {
			// The decision still counts, the button just keeps spinning.
			t.logger.Warn("answer callback query failed", zap.Error(err))
		}

		// First press wins when the same posting is pressed twice in a batch.
		if _, seen := t.decisions[fingerprint]; !seen {
			t.decisions[fingerprint] = decision
		}
	}

	if d, ok := t.decisions[req.Fingerprint]; ok {
		delete(t.decisions, req.Fingerprint)
		return d, nil
	}
	return DecisionPending, nil
}

func parseCallback(data string) (string, Decision) {
	switch {
	case strings.HasPrefix(data, approveCallbackPrefix):
		return strings.TrimPrefix(data, approveCallbackPrefix), DecisionApproved
	case strings.HasPrefix(data, rejectCallbackPrefix):
		return strings.TrimPrefix(data, rejectCallbackPrefix), DecisionRejected
	}
	return "", DecisionPending
}

func (t *Telegram) SendRunSummary(ctx context.Context, stats *store.RunStats) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Pass %s finished", stats.ID)
	if stats.DryRun {
		b.WriteString(" (dry run)")
	}
	fmt.Fprintf(&b, "\ndiscovered %d, duplicates %d, screened out %d",
		stats.Discovered, stats.Duplicates, stats.ScreenedOut)
	fmt.Fprintf(&b, "\nscored %d: rejected %d, pending approval %d, ready %d",
		stats.Scored, stats.Rejected, stats.PendingApproval, stats.Ready)
	fmt.Fprintf(&b, "\nsubmitted %d, failed %d, errors %d",
		stats.Submitted, stats.Failed, stats.Errors)

	payload := map[string]any{
		"chat_id": t.chatID,
		"text":    b.String(),
	}

	if err := t.call(ctx, "sendMessage", payload, nil); err != nil {
		return fmt.Errorf("send run summary: %w", err)
	}

	return nil
}

func (t *Telegram) SendOutcome(ctx context.Context, p *posting.Posting, note string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s at %s", p.State, p.Title, p.Company)
	if note != "" {
		fmt.Fprintf(&b, "\n%s", note)
	}
	if p.URL != "" {
		fmt.Fprintf(&b, "\n%s", p.URL)
	}

	payload := map[string]any{
		"chat_id": t.chatID,
		"text":    b.String(),
	}

	if err := t.call(ctx, "sendMessage", payload, nil); err != nil {
		return fmt.Errorf("send outcome: %w", err)
	}

	return nil
}

func approvalText(p *posting.Posting) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Approve application?\n%s at %s", p.Title, p.Company)
	if p.Location != "" {
		fmt.Fprintf(&b, " (%s)", p.Location)
	}
	if p.Salary != "" {
		fmt.Fprintf(&b, "\nsalary: %s", p.Salary)
	}
	fmt.Fprintf(&b, "\nscore: %.2f", p.ScoreValue())
	if p.ScoreReason != "" {
		fmt.Fprintf(&b, " (%s)", p.ScoreReason)
	}
	if p.URL != "" {
		fmt.Fprintf(&b, "\n%s", p.URL)
	}

	return b.String()
}

func (t *Telegram) call(ctx context.Context, method string, payload, result any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", method, err)
	}

	url := fmt.Sprintf("%s/bot%s/%s", t.APIURL, t.token, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	t.logger.Debug("make request", zap.String("method", method))

	resp, err := t.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var envelope apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode %s response: %w", method, err)
	}

	if !envelope.OK {
		return fmt.Errorf("telegram %s: %s", method, envelope.Description)
	}

	if result == nil {
		return nil
	}

	if err := json.Unmarshal(envelope.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}

	return nil
}

package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	loc      *time.Location
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram sink. Times are rendered in loc.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, loc *time.Location, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}
	if loc == nil {
		loc = time.UTC
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		loc:      loc,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// NotifyChange sends a summary of the new series.
func (n *TelegramNotifier) NotifyChange(ctx context.Context, c Change) error {
	if err := n.send(ctx, renderChange(c, n.loc)); err != nil {
		return err
	}
	n.logger.Info().Str("bucket", string(c.Bucket)).
		Str("date", c.Date.Format(time.DateOnly)).
		Msg("change notification sent")
	return nil
}

// NotifyProblem sends the problem description.
func (n *TelegramNotifier) NotifyProblem(ctx context.Context, p Problem) error {
	if err := n.send(ctx, renderProblem(p, n.loc)); err != nil {
		return err
	}
	n.logger.Info().Str("kind", string(p.Kind)).Msg("problem notification sent")
	return nil
}

func (n *TelegramNotifier) send(ctx context.Context, text string) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    text,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram unexpected status: %d", resp.StatusCode)
	}

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil && !result.OK {
		return fmt.Errorf("telegram returned ok=false: %s", result.Description)
	}
	return nil
}

func renderChange(c Change, loc *time.Location) string {
	b := strings.Builder{}
	b.WriteString("[Agile rates updated]\n")
	b.WriteString(fmt.Sprintf("Day: %s (%s)\n", c.Date.In(loc).Format("Mon 02 Jan 2006"), c.Bucket))
	b.WriteString(fmt.Sprintf("Slots: %d", c.SlotCount))
	if !c.Complete {
		b.WriteString(" (incomplete)")
	}
	b.WriteString("\n")
	if c.SlotCount > 0 {
		b.WriteString(fmt.Sprintf("Min: %s p/kWh\n", fixed(c.Min)))
		b.WriteString(fmt.Sprintf("Max: %s p/kWh\n", fixed(c.Max)))
		b.WriteString(fmt.Sprintf("Average: %s p/kWh\n", fixed(c.Average)))
		if c.Min < 0 {
			b.WriteString("Negative pricing present\n")
		}
	}
	b.WriteString(fmt.Sprintf("Fetched: %s", c.FetchedAt.In(loc).Format("15:04 MST")))
	return b.String()
}

func renderProblem(p Problem, loc *time.Location) string {
	b := strings.Builder{}
	b.WriteString(fmt.Sprintf("[Agile fetch problem: %s]\n", p.Kind))
	b.WriteString(fmt.Sprintf("Day: %s (%s)\n", p.Date.In(loc).Format(time.DateOnly), p.Bucket))
	b.WriteString(p.Message)
	return b.String()
}

func fixed(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

var _ Notifier = (*TelegramNotifier)(nil)

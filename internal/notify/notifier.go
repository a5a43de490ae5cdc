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

// PrizeNotification summarises a finalized pool for operators and winners.
type PrizeNotification struct {
	Game      string
	Day       time.Time
	PoolTotal decimal.Decimal
	Payouts   []Payout
}

// Payout is one winner's line in a notification.
type Payout struct {
	Rank      int
	Recipient string
	Amount    decimal.Decimal
}

// Notifier delivers prize notifications.
type Notifier interface {
	Notify(ctx context.Context, note PrizeNotification) error
}

// TelegramNotifier pushes messages through the Telegram Bot API.
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier constructs a Telegram notifier.
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// Notify posts the rendered prize summary via sendMessage.
func (n *TelegramNotifier) Notify(ctx context.Context, note PrizeNotification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note),
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
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram returned ok=false")
		}
	}

	n.logger.Info().Str("game", note.Game).Time("day", note.Day).Int("payouts", len(note.Payouts)).Msg("prize notification sent")
	return nil
}

func renderMessage(note PrizeNotification) string {
	builder := strings.Builder{}
	builder.WriteString("[x402 Arcade Prize Pool]\n")
	builder.WriteString(fmt.Sprintf("Game: %s\n", note.Game))
	builder.WriteString(fmt.Sprintf("Day: %s\n", note.Day.UTC().Format("2006-01-02")))
	builder.WriteString(fmt.Sprintf("Pool: %s\n", note.PoolTotal.StringFixed(2)))
	for _, payout := range note.Payouts {
		builder.WriteString(fmt.Sprintf("#%d %s -> %s\n", payout.Rank, payout.Recipient, payout.Amount.StringFixed(2)))
	}
	if len(note.Payouts) == 0 {
		builder.WriteString("No payouts (below minimum distributable)\n")
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)

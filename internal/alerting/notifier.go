package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Kind 区分告警类型。
type Kind string

const (
	KindGateClosed   Kind = "gate_closed"
	KindGateReopened Kind = "gate_reopened"
	KindUpkeepFailed Kind = "upkeep_failed"
)

// Notification 封装偿付能力告警上下文。
type Notification struct {
	Kind             Kind
	At               time.Time
	PoolID           common.Hash
	AssetID          common.Hash
	NAV              decimal.Decimal
	Reserve          decimal.Decimal
	Liability        decimal.Decimal
	TotalShares      decimal.Decimal
	NAVTimestamp     uint64
	ReserveTimestamp uint64
	Reason           string
	Channels         []string
	AdditionalMsg    string
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
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
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
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
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("kind", string(note.Kind)).
		Str("asset_id", note.AssetID.Hex()).
		Msg("告警已发送 (Telegram)")
	return nil
}

// LogNotifier 仅写日志，用于未配置外部渠道的环境。
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier 构造日志告警器。
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify 以 warn 级别输出告警。
func (n *LogNotifier) Notify(ctx context.Context, note Notification) error {
	n.logger.Warn().
		Str("kind", string(note.Kind)).
		Str("pool_id", note.PoolID.Hex()).
		Str("asset_id", note.AssetID.Hex()).
		Str("nav", note.NAV.String()).
		Str("reserve", note.Reserve.String()).
		Str("liability", note.Liability.String()).
		Str("reason", note.Reason).
		Msg("solvency alert")
	return nil
}

// Multi 依次投递到所有渠道，汇总错误。
type Multi []Notifier

// Notify 实现 Notifier。
func (m Multi) Notify(ctx context.Context, note Notification) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func renderMessage(note Notification) string {
	builder := strings.Builder{}
	switch note.Kind {
	case KindGateReopened:
		builder.WriteString("[AURA Solvency] gate reopened\n")
	case KindUpkeepFailed:
		builder.WriteString("[AURA Oracle] scheduled update failed\n")
	default:
		builder.WriteString("[AURA Solvency] SYSTEM PAUSED\n")
	}
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", note.At.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Pool: %s\n", note.PoolID.Hex()))
	builder.WriteString(fmt.Sprintf("Asset: %s\n", note.AssetID.Hex()))
	if note.Kind != KindUpkeepFailed {
		builder.WriteString(fmt.Sprintf("NAV: %s (ts %d)\n", note.NAV.StringFixed(6), note.NAVTimestamp))
		builder.WriteString(fmt.Sprintf("Reserve: %s (ts %d)\n", note.Reserve.StringFixed(2), note.ReserveTimestamp))
		builder.WriteString(fmt.Sprintf("Liability: %s over %s shares\n", note.Liability.StringFixed(2), note.TotalShares.StringFixed(2)))
	}
	if note.Reason != "" {
		builder.WriteString(fmt.Sprintf("Reason: %s\n", note.Reason))
	}
	if len(note.Channels) > 0 {
		builder.WriteString(fmt.Sprintf("Channels: %s\n", strings.Join(note.Channels, ",")))
	}
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var (
	_ Notifier = (*TelegramNotifier)(nil)
	_ Notifier = (*LogNotifier)(nil)
	_ Notifier = Multi(nil)
)

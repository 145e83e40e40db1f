package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

func closedGate() Notification {
	return Notification{
		Kind:        KindGateClosed,
		At:          time.Now(),
		PoolID:      common.HexToHash("0x01"),
		AssetID:     common.HexToHash("0x02"),
		NAV:         decimal.NewFromInt(1),
		Reserve:     decimal.NewFromInt(1),
		Liability:   decimal.NewFromInt(40),
		TotalShares: decimal.NewFromInt(40),
		Reason:      "reserve below liability",
	}
}

func TestTelegramNotifierSuccess(t *testing.T) {
	received := make(map[string]string)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "sendMessage") {
			t.Fatalf("路径应包含 sendMessage, 实际 %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Fatalf("解析请求体失败: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), closedGate()); err != nil {
		t.Fatalf("Telegram Notify 应成功: %v", err)
	}

	if received["chat_id"] != "chat" {
		t.Fatalf("chat_id 不正确: %#v", received)
	}
	if !strings.Contains(received["text"], "SYSTEM PAUSED") || !strings.Contains(received["text"], "reserve below liability") {
		t.Fatalf("text 内容不正确: %q", received["text"])
	}
}

func TestTelegramNotifierError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{"ok": false})
	}))
	defer srv.Close()

	notifier := NewTelegramNotifier("token", "chat", srv.URL, time.Second, testLogger())
	if err := notifier.Notify(context.Background(), closedGate()); err == nil {
		t.Fatal("ok=false 应报错")
	}
}

func TestRenderUpkeepFailure(t *testing.T) {
	note := Notification{Kind: KindUpkeepFailed, At: time.Now(), Reason: "provider down"}
	text := renderMessage(note)
	if !strings.Contains(text, "scheduled update failed") || strings.Contains(text, "Liability") {
		t.Fatalf("unexpected message %q", text)
	}
}

type failingNotifier struct{}

func (failingNotifier) Notify(context.Context, Notification) error { return errors.New("down") }

func TestMultiCollectsErrors(t *testing.T) {
	m := Multi{NewLogNotifier(testLogger()), failingNotifier{}}
	if err := m.Notify(context.Background(), closedGate()); err == nil {
		t.Fatal("expected aggregated error")
	}
	if err := (Multi{NewLogNotifier(testLogger())}).Notify(context.Background(), closedGate()); err != nil {
		t.Fatalf("log notifier should not fail: %v", err)
	}
}

func testLogger() zerolog.Logger {
	return zerolog.Nop()
}

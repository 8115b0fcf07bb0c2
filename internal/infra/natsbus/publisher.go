package natsbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jinford/teardown/internal/core/job"
)

// DefaultSubjectPrefix はイベントのサブジェクト接頭辞
const DefaultSubjectPrefix = "teardown.jobs"

// Publisher はジョブの状態遷移イベントを NATS へ送る
type Publisher struct {
	nc     *nats.Conn
	prefix string
	logger *slog.Logger
}

// Connect は NATS に接続して Publisher を作成する
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("teardown"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATSとの接続が切断", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATSに再接続", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &Publisher{nc: nc, prefix: normalizePrefix(prefix), logger: logger}, nil
}

func normalizePrefix(prefix string) string {
	prefix = strings.Trim(strings.TrimSpace(prefix), ".")
	if prefix == "" {
		return DefaultSubjectPrefix
	}
	return prefix
}

// Subject は状態に対応するサブジェクトを返す
func Subject(prefix string, status job.Status) string {
	return normalizePrefix(prefix) + "." + string(status)
}

// Publish はイベントを `<prefix>.<status>` に JSON で送る
func (p *Publisher) Publish(ctx context.Context, e job.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.nc.Publish(Subject(p.prefix, e.Status), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Subscribe は全状態のイベントを受け取る。受信できないメッセージはログに残して捨てる
func (p *Publisher) Subscribe(handler func(job.Event)) (*nats.Subscription, error) {
	return p.nc.Subscribe(p.prefix+".*", func(msg *nats.Msg) {
		var e job.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			p.logger.Warn("イベントのデコードに失敗", "subject", msg.Subject, "error", err)
			return
		}
		handler(e)
	})
}

// Close は送信待ちを流してから接続を閉じる
func (p *Publisher) Close() {
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}

var _ job.EventPublisher = (*Publisher)(nil)

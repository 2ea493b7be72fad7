// 包 events：查询观测事件与变更事件的发布端
// 背景：连接句柄注入而非全局持有；go-redis 自带连接池与重连，发布端只需
// 处理"未配置连接"这一可恢复状态，不把它当作错误。
package events

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"port-api/internal/geo"
	"port-api/internal/model"
)

type Publisher struct {
	rc             *redis.Client
	queriesChannel string
	eventsChannel  string
	log            *slog.Logger
}

func NewPublisher(rc *redis.Client, queriesChannel, eventsChannel string, log *slog.Logger) *Publisher {
	return &Publisher{rc: rc, queriesChannel: queriesChannel, eventsChannel: eventsChannel, log: log}
}

// QueryObserved：发布查询观测事件
// 约束：fire-and-forget，发布失败只记 debug，绝不影响查询结果
func (p *Publisher) QueryObserved(ctx context.Context, requestID string, c geo.Coordinate) {
	if p == nil || p.rc == nil {
		return
	}
	b, err := json.Marshal(model.QueryObserved{RequestID: requestID, Coordinate: c})
	if err != nil {
		return
	}
	if err := p.rc.Publish(ctx, p.queriesChannel, b).Err(); err != nil {
		p.log.Debug("query_observed_publish_failed", "err", err)
	}
}

// PortChanged：发布变更事件（导入工具等写路径使用）
func (p *Publisher) PortChanged(ctx context.Context, ev model.ChangeEvent) error {
	if p == nil || p.rc == nil {
		return nil
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.rc.Publish(ctx, p.eventsChannel, b).Err(); err != nil {
		p.log.Warn("port_changed_publish_failed", "type", string(ev.Type), "port_id", ev.PortID, "err", err)
		return err
	}
	return nil
}

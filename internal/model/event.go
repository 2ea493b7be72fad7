package model

import (
	"errors"
	"fmt"

	"port-api/internal/geo"
)

// 文档注释：变更事件（同步器消费）
// 背景：用封闭的事件类型集合替代任意动态负载；每类事件只携带自己需要的字段，
// 解码或校验失败按"记日志后丢弃"处理，不中断消费循环。
// 约束：按 PortID 分区有序、至少一次投递；处理方必须幂等。
type EventType string

const (
	EventCreated   EventType = "created"
	EventUpdated   EventType = "updated"
	EventDeleted   EventType = "deleted"
	EventRelocated EventType = "relocated"
)

type ChangeEvent struct {
	Type   EventType `json:"type"`
	PortID string    `json:"port_id"`
	// created/updated 携带完整快照
	Port *Port `json:"port,omitempty"`
	// relocated 携带新旧单元格；old_cell 缺失时按尽力而为处理
	OldCell string `json:"old_cell,omitempty"`
	NewCell string `json:"new_cell,omitempty"`
	// deleted 尽力携带所在单元格与坐标，用于反向清理
	Cell       string          `json:"cell,omitempty"`
	Coordinate *geo.Coordinate `json:"coordinate,omitempty"`
}

var errBadEvent = errors.New("bad change event")

// Validate：按事件类型校验必要字段
func (e *ChangeEvent) Validate() error {
	if e.PortID == "" {
		return fmt.Errorf("%w: missing port_id", errBadEvent)
	}
	switch e.Type {
	case EventCreated, EventUpdated:
		if e.Port == nil {
			return fmt.Errorf("%w: %s without port snapshot", errBadEvent, e.Type)
		}
		if err := e.Port.Coordinate.Validate(); err != nil {
			return fmt.Errorf("%w: %v", errBadEvent, err)
		}
	case EventRelocated:
		if e.NewCell == "" {
			return fmt.Errorf("%w: relocated without new_cell", errBadEvent)
		}
	case EventDeleted:
		// 仅需 PortID，其余字段可选
	default:
		return fmt.Errorf("%w: unknown type %q", errBadEvent, e.Type)
	}
	return nil
}

// QueryObserved：每次查询发布的观测事件（fire-and-forget）
type QueryObserved struct {
	RequestID  string         `json:"request_id"`
	Coordinate geo.Coordinate `json:"coordinate"`
}

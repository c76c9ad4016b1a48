// Package audit 审计事件下沉的内存与文件实现
package audit

import (
	"context"
	"sync"

	"github.com/wyfcoding/tradesim/internal/gateway/domain"
)

// MemorySink 内存审计记录器，回测结果分析与确定性测试使用
type MemorySink struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (s *MemorySink) Record(_ context.Context, event domain.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events 返回事件拷贝
func (s *MemorySink) Events() []domain.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.AuditEvent, len(s.events))
	copy(out, s.events)
	return out
}

// MultiSink 将事件扇出到多个下沉
type MultiSink struct {
	sinks []domain.Sink
}

func NewMultiSink(sinks ...domain.Sink) *MultiSink {
	return &MultiSink{sinks: sinks}
}

func (s *MultiSink) Record(ctx context.Context, event domain.AuditEvent) error {
	for _, sink := range s.sinks {
		if err := sink.Record(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

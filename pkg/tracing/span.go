package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/tokmz/wsroom"

// Span 属性键
const (
	AttrRoom        = attribute.Key("wsroom.room")
	AttrConnID      = attribute.Key("wsroom.conn_id")
	AttrPath        = attribute.Key("wsroom.path")
	AttrFrameType   = attribute.Key("wsroom.frame.type")
	AttrFrameSize   = attribute.Key("wsroom.frame.size")
	AttrDelivered   = attribute.Key("wsroom.delivered")
	AttrMessageType = attribute.Key("wsroom.message.type")
)

// StartSpan 用全局 Provider 启动 Span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// StartBroadcastSpan 房间广播
func StartBroadcastSpan(ctx context.Context, room, frameType string, size int) (context.Context, trace.Span) {
	return StartSpan(ctx, "room.broadcast", trace.WithAttributes(
		AttrRoom.String(room),
		AttrFrameType.String(frameType),
		AttrFrameSize.Int(size),
	))
}

// StartMessageSpan 入站消息分发
func StartMessageSpan(ctx context.Context, connID, msgType string) (context.Context, trace.Span) {
	return StartSpan(ctx, "message.dispatch",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			AttrConnID.String(connID),
			AttrMessageType.String(msgType),
		),
	)
}

func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// RecordError 记录错误并把 Span 状态置为 Error，err 为 nil 时不做任何事
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

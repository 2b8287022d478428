package ws

import (
	"github.com/google/uuid"
)

// generateConnID 生成连接 ID
func generateConnID() string {
	return uuid.NewString()
}

// generateRequestID 生成请求 ID
func generateRequestID() string {
	return "req_" + uuid.NewString()
}

// generateNodeID 生成节点 ID，用于跨节点总线识别自身消息
func generateNodeID() string {
	return "node_" + uuid.NewString()
}

package ws

import (
	json "github.com/goccy/go-json"
)

// Serializer 消息序列化
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer 默认 JSON 序列化（goccy/go-json）
type JSONSerializer struct{}

func (JSONSerializer) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONSerializer) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

var defaultSerializer Serializer = JSONSerializer{}

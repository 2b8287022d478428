package eventsink

import (
	"context"
	"time"

	json "github.com/goccy/go-json"
	"gorm.io/gorm"

	"github.com/tokmz/wsroom/pkg/orm"
	"github.com/tokmz/wsroom/pkg/ws"
)

// defaultQueryLimit 查询默认返回条数
const defaultQueryLimit = 100

// EventRecord 持久化的事件
type EventRecord struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	Type       string    `gorm:"column:event_type;size:64;index" json:"type"`
	Node       string    `gorm:"size:64;index" json:"node,omitempty"`
	ConnID     string    `gorm:"size:64;index" json:"conn_id,omitempty"`
	Room       string    `gorm:"size:255;index" json:"room,omitempty"`
	Path       string    `gorm:"size:255" json:"path,omitempty"`
	Data       string    `gorm:"type:text" json:"data,omitempty"`
	OccurredAt time.Time `gorm:"index" json:"occurred_at"`
}

// Query 事件查询条件，零值字段不参与过滤
type Query struct {
	Type   ws.EventType
	ConnID string
	Room   string
	Since  time.Time
	Limit  int
}

// GormExporter 将事件写入数据库
type GormExporter struct {
	db *gorm.DB
}

// NewGormExporter 创建导出器并迁移表结构
func NewGormExporter(db *gorm.DB) (*GormExporter, error) {
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, ErrConnectFailed.WithError(err)
	}
	return &GormExporter{db: db}, nil
}

func (g *GormExporter) Export(ctx context.Context, e ws.Event) error {
	rec := EventRecord{
		Type:       string(e.Type),
		Node:       e.Node,
		ConnID:     e.ConnID,
		Room:       e.Room,
		Path:       e.Path,
		OccurredAt: e.Time,
	}
	if len(e.Data) > 0 {
		data, err := json.Marshal(e.Data)
		if err != nil {
			return ErrEncodeFailed.WithError(err)
		}
		rec.Data = string(data)
	}
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now()
	}
	if err := g.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return ErrExportFailed.WithError(err)
	}
	return nil
}

// Recent 按时间倒序查询事件
func (g *GormExporter) Recent(ctx context.Context, q Query) ([]EventRecord, error) {
	tx := g.db.WithContext(ctx).Model(&EventRecord{})
	if q.Type != "" {
		tx = tx.Where("event_type = ?", string(q.Type))
	}
	if q.ConnID != "" {
		tx = tx.Where("conn_id = ?", q.ConnID)
	}
	if q.Room != "" {
		tx = tx.Where("room = ?", q.Room)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("occurred_at >= ?", q.Since)
	}
	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	var records []EventRecord
	if err := tx.Order("id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (g *GormExporter) Close() error {
	return orm.Close(g.db)
}

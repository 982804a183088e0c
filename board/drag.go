package board

import (
	"context"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"sticky-board/domain"
)

// Payload is what a dragged note carries to its drop target.
type Payload struct {
	ID     string        `json:"id"`
	Text   string        `json:"text"`
	Status domain.Status `json:"status"`
}

// EncodePayload serializes the drag payload for t.
func EncodePayload(t domain.Task) ([]byte, error) {
	return sonic.Marshal(Payload{ID: t.ID, Text: t.Text, Status: t.Status})
}

// ParsePayload decodes a drag payload. ok is false when raw is empty,
// not an object, or lacks an id.
func ParsePayload(raw []byte) (Payload, bool) {
	if len(raw) == 0 || !gjson.ValidBytes(raw) {
		return Payload{}, false
	}
	v := gjson.ParseBytes(raw)
	if !v.IsObject() {
		return Payload{}, false
	}
	p := Payload{
		ID:     v.Get("id").String(),
		Text:   v.Get("text").String(),
		Status: domain.Status(v.Get("status").String()),
	}
	if p.ID == "" {
		return Payload{}, false
	}
	return p, true
}

// Drop handles a note dropped on the target column. A note dropped on its
// own column, or a payload that cannot be read, changes nothing.
func (b *Board) Drop(ctx context.Context, raw []byte, target domain.Status) (bool, error) {
	p, ok := ParsePayload(raw)
	if !ok {
		b.log.WithFields(log.Fields{"target": target, "payload_bytes": len(raw)}).Warn("ignoring unreadable drag payload")
		return false, nil
	}
	if p.Status == target {
		return false, nil
	}
	if _, err := b.ChangeStatus(ctx, p.ID, target, domain.Head); err != nil {
		return false, err
	}
	return true, nil
}

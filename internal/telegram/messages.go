package telegram

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/goccy/go-json"
	"github.com/gotd/td/tg"

	"telegramdump/internal/models"
)

// MediaKind classifies a message attachment.
func MediaKind(media tg.MessageMediaClass) models.MediaKind {
	switch m := media.(type) {
	case nil, *tg.MessageMediaEmpty:
		return models.MediaNone
	case *tg.MessageMediaPhoto:
		return models.MediaPhoto
	case *tg.MessageMediaDocument:
		doc, ok := m.Document.(*tg.Document)
		if !ok {
			return models.MediaDocument
		}
		return documentKind(doc)
	default:
		return models.MediaOther
	}
}

func documentKind(doc *tg.Document) models.MediaKind {
	for _, attr := range doc.Attributes {
		switch attr.(type) {
		case *tg.DocumentAttributeVideo:
			return models.MediaVideo
		case *tg.DocumentAttributeAudio:
			return models.MediaAudio
		}
	}
	return models.MediaDocument
}

// typed prefixes the JSON snapshot with the TL type name, like "_": "message".
type typed[T any] struct {
	Type string
	Body T
}

func (t typed[T]) MarshalJSON() ([]byte, error) {
	body, err := json.Marshal(t.Body)
	if err != nil {
		return nil, err
	}
	head, err := json.Marshal(t.Type)
	if err != nil {
		return nil, err
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, errors.Errorf("unexpected snapshot %q", body)
	}
	out := make([]byte, 0, len(body)+len(head)+6)
	out = append(out, `{"_":`...)
	out = append(out, head...)
	if len(body) > 2 {
		out = append(out, ',')
	}
	return append(out, body[1:]...), nil
}

// convertMessage maps a history entry of dialogID to a RemoteMessage.
// Empty placeholders are skipped.
func convertMessage(dialogID int64, msg tg.MessageClass) (*models.RemoteMessage, bool, error) {
	switch m := msg.(type) {
	case *tg.Message:
		snapshot, err := json.Marshal(typed[*tg.Message]{Type: m.TypeName(), Body: m})
		if err != nil {
			return nil, false, errors.Wrapf(err, "snapshot message %d", m.ID)
		}
		text := m.Message
		return &models.RemoteMessage{
			ID:         m.ID,
			DialogID:   dialogID,
			Date:       time.Unix(int64(m.Date), 0).UTC(),
			Text:       &text,
			Kind:       MediaKind(m.Media),
			Snapshot:   snapshot,
			Attachment: m.Media,
		}, true, nil
	case *tg.MessageService:
		snapshot, err := json.Marshal(typed[*tg.MessageService]{Type: m.TypeName(), Body: m})
		if err != nil {
			return nil, false, errors.Wrapf(err, "snapshot message %d", m.ID)
		}
		return &models.RemoteMessage{
			ID:       m.ID,
			DialogID: dialogID,
			Date:     time.Unix(int64(m.Date), 0).UTC(),
			Kind:     models.MediaNone,
			Snapshot: snapshot,
		}, true, nil
	}
	return nil, false, nil
}

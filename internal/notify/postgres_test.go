package notify

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/atelier-lumen/portal/internal/model"
)

func TestDecodePayload(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"id": "7f2d9c1e-64f0-4f7a-9a3b-0c2f6f0f3a11",
		"sender_id": "0d4f3c2b-1a99-4f00-8e21-aaaaaaaaaaaa",
		"recipient_id": "1e5a4d3c-2b88-4e11-9f32-bbbbbbbbbbbb",
		"content": "Bonjour",
		"message_type": "text",
		"is_read": false,
		"created_at": "2026-08-30T10:00:00Z"
	}`)

	m, err := decodePayload(raw)
	if err != nil {
		t.Fatalf("decodePayload: %v", err)
	}
	if m.Content != "Bonjour" || m.Type != model.MessageTypeText || m.Read {
		t.Fatalf("bad message: %+v", m)
	}
	if m.CreatedAt.IsZero() || m.SenderID == uuid.Nil || m.RecipientID == uuid.Nil {
		t.Fatalf("missing fields: %+v", m)
	}

	if _, err := decodePayload([]byte(`{broken`)); err == nil {
		t.Fatalf("want error for malformed payload")
	}
}

func TestListener_SubscribeAndDispatch(t *testing.T) {
	t.Parallel()

	l := NewListener(nil, zap.NewNop())
	recipient := uuid.Must(uuid.NewV4())
	other := uuid.Must(uuid.NewV4())

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := l.Subscribe(ctx, recipient)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	m := model.Message{
		ID:          uuid.Must(uuid.NewV4()),
		SenderID:    other,
		RecipientID: recipient,
		Content:     "Bonjour",
		Type:        model.MessageTypeText,
		CreatedAt:   time.Now(),
	}
	l.dispatch(m)
	l.dispatch(model.Message{ID: uuid.Must(uuid.NewV4()), RecipientID: other})

	select {
	case got := <-ch:
		if got.ID != m.ID {
			t.Fatalf("wrong message: %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("message not delivered")
	}
	select {
	case got := <-ch:
		t.Fatalf("message for another recipient delivered: %+v", got)
	default:
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after cancel")
	}

	// dispatch after teardown must not panic or deliver
	l.dispatch(m)
}

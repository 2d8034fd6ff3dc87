package notify

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/atelier-lumen/portal/internal/model"
)

// Channel is the LISTEN/NOTIFY channel the messages insert trigger publishes on.
const Channel = "message_inserted"

// subBuffer bounds per-subscriber backlog; a subscriber that stalls past it
// loses events rather than stalling the listener.
const subBuffer = 16

// Listener implements Feed over PostgreSQL LISTEN/NOTIFY. A single dedicated
// connection receives all message inserts; Listener fans them out to
// per-recipient subscriptions.
type Listener struct {
	pool *pgxpool.Pool
	log  *zap.Logger

	mu   sync.Mutex
	subs map[uuid.UUID][]*subscription
}

type subscription struct {
	ch   chan model.Message
	done <-chan struct{}
}

// NewListener constructs a Listener over the given pool.
func NewListener(pool *pgxpool.Pool, log *zap.Logger) *Listener {
	return &Listener{pool: pool, log: log, subs: map[uuid.UUID][]*subscription{}}
}

// Run holds a dedicated connection and dispatches notifications until ctx
// ends. Intended to run in its own goroutine for the process lifetime.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}
	l.log.Info("listening for message inserts", zap.String("channel", Channel))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		m, err := decodePayload([]byte(n.Payload))
		if err != nil {
			l.log.Warn("bad notify payload", zap.Error(err))
			continue
		}
		l.dispatch(m)
	}
}

// Subscribe registers interest in messages addressed to recipient. The
// returned channel closes when ctx ends.
func (l *Listener) Subscribe(ctx context.Context, recipient uuid.UUID) (<-chan model.Message, error) {
	sub := &subscription{ch: make(chan model.Message, subBuffer), done: ctx.Done()}

	l.mu.Lock()
	l.subs[recipient] = append(l.subs[recipient], sub)
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		list := l.subs[recipient]
		for i, s := range list {
			if s == sub {
				l.subs[recipient] = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(l.subs[recipient]) == 0 {
			delete(l.subs, recipient)
		}
		l.mu.Unlock()
		close(sub.ch)
	}()

	return sub.ch, nil
}

func (l *Listener) dispatch(m model.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, sub := range l.subs[m.RecipientID] {
		select {
		case <-sub.done:
		case sub.ch <- m:
		default:
			l.log.Warn("subscriber backlog full, message dropped",
				zap.String("recipient", m.RecipientID.String()))
		}
	}
}

// payload mirrors the JSON the insert trigger builds with row_to_json.
type payload struct {
	ID          uuid.UUID `json:"id"`
	SenderID    uuid.UUID `json:"sender_id"`
	RecipientID uuid.UUID `json:"recipient_id"`
	Content     string    `json:"content"`
	Type        string    `json:"message_type"`
	Read        bool      `json:"is_read"`
	CreatedAt   time.Time `json:"created_at"`
}

func decodePayload(raw []byte) (model.Message, error) {
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return model.Message{}, err
	}
	return model.Message{
		ID:          p.ID,
		SenderID:    p.SenderID,
		RecipientID: p.RecipientID,
		Content:     p.Content,
		Type:        p.Type,
		Read:        p.Read,
		CreatedAt:   p.CreatedAt,
	}, nil
}

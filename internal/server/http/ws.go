package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/atelier-lumen/portal/internal/errs"
	"github.com/atelier-lumen/portal/internal/model"
	"github.com/atelier-lumen/portal/internal/service"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// the portal is served same-origin; the token check is the gate
		return true
	},
}

type inboundFrame struct {
	Op        string `json:"op"`
	ContactID string `json:"contact_id,omitempty"`
	Content   string `json:"content,omitempty"`
}

type contactDTO struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	AvatarURL    string    `json:"avatar_url,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	Online       bool      `json:"online"`
	Unread       int       `json:"unread"`
}

type messageDTO struct {
	ID          string    `json:"id"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Content     string    `json:"content"`
	Type        string    `json:"type"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
	SenderName  string    `json:"sender_name,omitempty"`
	SenderEmail string    `json:"sender_email,omitempty"`
}

// handleWS upgrades the connection and binds one conversation synchronizer to
// its lifetime: the contact list is pushed on connect, live updates stream as
// they arrive, and the client drives thread selection and sends over the same
// socket.
func (s *Server) handleWS(c *gin.Context) {
	user, ok := UserFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	ws, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the response
		return
	}

	conn := newWSConn(ws)
	conn.Start()

	conv := s.newSync(user, service.WithEventHandler(func(ev service.Event) {
		s.forwardEvent(conn, ev)
	}))
	defer func() {
		conv.Close()
		conn.Close(websocket.CloseNormalClosure, "session closed")
	}()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	contacts, err := conv.LoadContacts(ctx)
	if err != nil {
		s.log.Warn("ws contact load failed", zap.String("user", user.Email), zap.Error(err))
		sendFrame(conn, gin.H{"type": "error", "code": "internal", "error": "internal"})
		return
	}
	sendFrame(conn, gin.H{"type": "contacts", "contacts": toContactDTOs(contacts)})

	if err := conv.Start(ctx); err != nil {
		s.log.Warn("ws subscription failed", zap.String("user", user.Email), zap.Error(err))
		sendFrame(conn, gin.H{"type": "error", "code": "internal", "error": "internal"})
		return
	}

	ws.SetReadLimit(1 << 16)
	_ = ws.SetReadDeadline(time.Now().Add(readWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.Info("ws read ended", zap.String("user", user.Email), zap.Error(err))
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			sendFrame(conn, gin.H{"type": "error", "code": "bad_request", "error": "invalid payload"})
			continue
		}

		switch frame.Op {
		case "open":
			s.handleOpen(ctx, conn, conv, frame)
		case "send":
			s.handleSend(ctx, conn, conv, frame)
		default:
			sendFrame(conn, gin.H{"type": "error", "code": "bad_request", "error": "unknown op"})
		}
	}
}

func (s *Server) handleOpen(ctx context.Context, conn *wsConn, conv *service.Synchronizer, frame inboundFrame) {
	contactID, err := uuid.FromString(frame.ContactID)
	if err != nil {
		sendFrame(conn, gin.H{"type": "error", "code": "bad_request", "error": "invalid contact_id"})
		return
	}

	msgs, err := conv.OpenThread(ctx, contactID)
	if err != nil {
		// a superseded load lost a selection race; the winning load answers
		if errors.Is(err, errs.ErrSuperseded) {
			return
		}
		sendFrame(conn, gin.H{"type": "error", "code": wsCode(err), "error": publicError(err)})
		return
	}
	sendFrame(conn, gin.H{
		"type":       "thread",
		"contact_id": contactID.String(),
		"messages":   toMessageDTOs(msgs),
	})
}

func (s *Server) handleSend(ctx context.Context, conn *wsConn, conv *service.Synchronizer, frame inboundFrame) {
	contactID, err := uuid.FromString(frame.ContactID)
	if err != nil {
		sendFrame(conn, gin.H{"type": "error", "code": "bad_request", "error": "invalid contact_id"})
		return
	}

	m, err := conv.Send(ctx, contactID, frame.Content)
	if err != nil {
		sendFrame(conn, gin.H{"type": "error", "code": wsCode(err), "error": publicError(err)})
		return
	}
	sendFrame(conn, gin.H{"type": "message", "message": toMessageDTO(m)})
}

// forwardEvent turns a merged push into an outbound frame.
func (s *Server) forwardEvent(conn *wsConn, ev service.Event) {
	switch ev.Kind {
	case service.EventMessage:
		sendFrame(conn, gin.H{"type": "message", "message": toMessageDTO(ev.Message)})
	case service.EventUnread:
		sendFrame(conn, gin.H{
			"type":       "unread",
			"contact_id": ev.ContactID.String(),
			"unread":     ev.Unread,
		})
	}
}

func sendFrame(conn *wsConn, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

func wsCode(err error) string {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return "bad_request"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	default:
		return "internal"
	}
}

func toContactDTOs(in []model.Contact) []contactDTO {
	out := make([]contactDTO, 0, len(in))
	for _, c := range in {
		out = append(out, contactDTO{
			ID:           c.ID.String(),
			Name:         c.Name,
			Email:        c.Email,
			AvatarURL:    c.AvatarURL,
			LastActivity: c.LastActivity,
			Online:       c.Online,
			Unread:       c.Unread,
		})
	}
	return out
}

func toMessageDTOs(in []model.Message) []messageDTO {
	out := make([]messageDTO, 0, len(in))
	for _, m := range in {
		out = append(out, toMessageDTO(m))
	}
	return out
}

func toMessageDTO(m model.Message) messageDTO {
	return messageDTO{
		ID:          m.ID.String(),
		SenderID:    m.SenderID.String(),
		RecipientID: m.RecipientID.String(),
		Content:     m.Content,
		Type:        m.Type,
		Read:        m.Read,
		CreatedAt:   m.CreatedAt,
		SenderName:  m.SenderName,
		SenderEmail: m.SenderEmail,
	}
}

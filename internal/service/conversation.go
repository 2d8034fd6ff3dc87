package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/atelier-lumen/portal/internal/errs"
	"github.com/atelier-lumen/portal/internal/model"
	"github.com/atelier-lumen/portal/internal/notify"
	"github.com/atelier-lumen/portal/internal/repository"
)

// PresenceWindow is the inactivity threshold for the online indicator.
// A contact is online iff now-lastActivity is strictly below it.
const PresenceWindow = 5 * time.Minute

// unknownSender is the display fallback for messages whose sender is neither
// the current user nor a loaded contact.
const unknownSender = "Unknown user"

// SyncState is the lifecycle state of a mounted conversation view.
type SyncState int

const (
	StateIdle SyncState = iota
	StateContactsLoading
	StateContactsLoaded
	StateThreadLoading
	StateThreadLoaded
	StateUnmounted
)

func (s SyncState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateContactsLoading:
		return "contacts_loading"
	case StateContactsLoaded:
		return "contacts_loaded"
	case StateThreadLoading:
		return "thread_loading"
	case StateThreadLoaded:
		return "thread_loaded"
	case StateUnmounted:
		return "unmounted"
	default:
		return "unknown"
	}
}

// Synchronizer owns the contact list and the open message thread for one
// mounted conversation view of one user. Contacts and thread are rebuilt on
// load; the only incremental mutations are the optimistic send append and
// the live-push paths. All state is guarded by a mutex because load
// completions, send confirmations and feed events arrive on different
// goroutines.
type Synchronizer struct {
	user     model.AppUser
	admins   repository.AdminRepository
	clients  repository.ClientRepository
	messages repository.MessageRepository
	feed     notify.Feed
	log      *zap.Logger
	now      func() time.Time
	events   func(Event)

	mu         sync.Mutex
	state      SyncState
	contacts   []model.Contact
	thread     []model.Message
	open       uuid.UUID // selected contact, Nil when none
	generation uint64    // bumped on every selection; stale loads are discarded
	cancelFeed context.CancelFunc
}

// EventKind labels a live update produced by the push subscription.
type EventKind int

const (
	// EventMessage: a pushed message from the open contact was merged
	// into the thread.
	EventMessage EventKind = iota
	// EventUnread: a pushed message from a background contact moved that
	// contact's unread counter.
	EventUnread
)

// Event is a live update the owning view can render incrementally.
type Event struct {
	Kind      EventKind
	Message   model.Message // set for EventMessage
	ContactID uuid.UUID     // set for EventUnread
	Unread    int           // set for EventUnread
}

// SyncOption customizes a Synchronizer.
type SyncOption func(*Synchronizer)

// WithClock overrides the time source (presence derivation in tests).
func WithClock(now func() time.Time) SyncOption {
	return func(s *Synchronizer) { s.now = now }
}

// WithEventHandler registers a callback invoked for every merged push.
// Called outside the state lock.
func WithEventHandler(h func(Event)) SyncOption {
	return func(s *Synchronizer) { s.events = h }
}

// NewSynchronizer constructs a Synchronizer for the resolved user.
func NewSynchronizer(
	user model.AppUser,
	admins repository.AdminRepository,
	clients repository.ClientRepository,
	messages repository.MessageRepository,
	feed notify.Feed,
	log *zap.Logger,
	opts ...SyncOption,
) *Synchronizer {
	s := &Synchronizer{
		user:     user,
		admins:   admins,
		clients:  clients,
		messages: messages,
		feed:     feed,
		log:      log,
		now:      time.Now,
		state:    StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LoadContacts rebuilds the contact list: all non-archived clients for an
// admin, all admins for a client. Presence and unread counts are derived at
// load time; the unread count is one query per contact, an accepted cost for
// small contact lists. A load failure leaves the previous list untouched.
func (s *Synchronizer) LoadContacts(ctx context.Context) ([]model.Contact, error) {
	s.mu.Lock()
	if s.state == StateUnmounted {
		s.mu.Unlock()
		return nil, errors.New("conversation view unmounted")
	}
	prev := s.state
	prevContacts := copyContacts(s.contacts)
	s.state = StateContactsLoading
	s.mu.Unlock()

	contacts, err := s.fetchContacts(ctx)
	if err != nil {
		s.log.Warn("contact load failed, keeping previous list", zap.Error(err))
		s.mu.Lock()
		if s.state == StateContactsLoading {
			s.state = prev
		}
		s.mu.Unlock()
		return nil, err
	}

	for i := range contacts {
		n, err := s.messages.CountUnread(ctx, contacts[i].ID, s.user.ID)
		if err != nil {
			// a counter of 0 would understate; keep the last known value
			s.log.Warn("unread count failed, keeping previous value",
				zap.String("contact", contacts[i].ID.String()), zap.Error(err))
			if pc, ok := findContact(prevContacts, contacts[i].ID); ok {
				contacts[i].Unread = pc.Unread
			}
			continue
		}
		contacts[i].Unread = n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateUnmounted {
		return nil, errors.New("conversation view unmounted")
	}
	s.contacts = contacts
	s.state = StateContactsLoaded
	return copyContacts(contacts), nil
}

// OpenThread selects a contact and loads the full two-way thread, oldest
// first. Every unread message authored by the contact is marked read (one
// batched write, skipped when nothing is unread) and the contact's unread
// counter drops to zero. A completion that lost a selection race is
// discarded with ErrSuperseded and touches nothing.
func (s *Synchronizer) OpenThread(ctx context.Context, contactID uuid.UUID) ([]model.Message, error) {
	s.mu.Lock()
	if s.state == StateUnmounted {
		s.mu.Unlock()
		return nil, errors.New("conversation view unmounted")
	}
	if s.state == StateIdle || s.state == StateContactsLoading {
		s.mu.Unlock()
		return nil, errors.New("contacts not loaded yet")
	}
	contact, ok := findContact(s.contacts, contactID)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("select contact: %w", errs.ErrNotFound)
	}
	s.generation++
	gen := s.generation
	s.open = contactID
	s.state = StateThreadLoading
	s.mu.Unlock()

	msgs, err := s.messages.Thread(ctx, s.user.ID, contactID)
	if err != nil {
		s.log.Warn("thread load failed, keeping previous thread",
			zap.String("contact", contactID.String()), zap.Error(err))
		s.mu.Lock()
		if s.generation == gen && s.state == StateThreadLoading {
			s.state = StateContactsLoaded
		}
		s.mu.Unlock()
		return nil, err
	}

	var markIDs []uuid.UUID
	for i := range msgs {
		s.enrichSender(&msgs[i], contact)
		if msgs[i].SenderID == contactID && !msgs[i].Read {
			markIDs = append(markIDs, msgs[i].ID)
			msgs[i].Read = true
		}
	}

	s.mu.Lock()
	if s.state == StateUnmounted {
		s.mu.Unlock()
		return nil, errors.New("conversation view unmounted")
	}
	if s.generation != gen {
		s.mu.Unlock()
		return nil, errs.ErrSuperseded
	}
	s.thread = msgs
	s.state = StateThreadLoaded
	if i, ok := indexOfContact(s.contacts, contactID); ok {
		s.contacts[i].Unread = 0
	}
	s.mu.Unlock()

	// optimistic local reset; the write-back is fail-soft and not re-verified
	if len(markIDs) > 0 {
		if err := s.messages.MarkRead(ctx, markIDs); err != nil {
			s.log.Warn("mark-read write failed", zap.Error(err))
		}
	}
	return copyMessages(msgs), nil
}

// Send validates, writes and optimistically appends a text message. The
// append happens only after the write resolves, so the row is
// server-confirmed; sender display info is attached locally, not from the
// write response. A failed write mutates nothing.
func (s *Synchronizer) Send(ctx context.Context, contactID uuid.UUID, text string) (model.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return model.Message{}, fmt.Errorf("%w: empty message", errs.ErrValidation)
	}
	id, err := uuid.NewV4()
	if err != nil {
		return model.Message{}, err
	}

	m := model.Message{
		ID:          id,
		SenderID:    s.user.ID,
		RecipientID: contactID,
		Content:     text,
		Type:        model.MessageTypeText,
	}
	if err := s.messages.Create(ctx, &m); err != nil {
		s.log.Warn("send failed", zap.String("contact", contactID.String()), zap.Error(err))
		return model.Message{}, err
	}

	m.SenderName = s.user.Name
	m.SenderEmail = s.user.Email

	s.mu.Lock()
	if s.state != StateUnmounted && s.open == contactID && !containsMessage(s.thread, m.ID) {
		s.thread = append(s.thread, m)
	}
	s.mu.Unlock()
	return m, nil
}

// Start opens the standing subscription for messages addressed to the user
// and consumes it until the view is closed or ctx ends. Must be called after
// the first LoadContacts so pushed messages can be attributed to contacts.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateUnmounted {
		s.mu.Unlock()
		return errors.New("conversation view unmounted")
	}
	if s.cancelFeed != nil {
		s.mu.Unlock()
		return errors.New("subscription already running")
	}
	feedCtx, cancel := context.WithCancel(ctx)
	s.cancelFeed = cancel
	s.mu.Unlock()

	ch, err := s.feed.Subscribe(feedCtx, s.user.ID)
	if err != nil {
		cancel()
		s.mu.Lock()
		s.cancelFeed = nil
		s.mu.Unlock()
		return err
	}

	go func() {
		for m := range ch {
			s.handlePush(feedCtx, m)
		}
	}()
	return nil
}

// Close is the deterministic teardown: terminal state, subscription
// cancelled. Idempotent.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.state == StateUnmounted {
		s.mu.Unlock()
		return
	}
	s.state = StateUnmounted
	cancel := s.cancelFeed
	s.cancelFeed = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// State returns the current lifecycle state.
func (s *Synchronizer) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Contacts returns a copy of the current contact list.
func (s *Synchronizer) Contacts() []model.Contact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyContacts(s.contacts)
}

// Thread returns a copy of the open thread.
func (s *Synchronizer) Thread() []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyMessages(s.thread)
}

// handlePush merges one live-pushed message. From the open contact it is
// appended and marked read immediately; from anyone else only that contact's
// unread counter moves — no thread fetch for a backgrounded contact.
func (s *Synchronizer) handlePush(ctx context.Context, m model.Message) {
	s.mu.Lock()
	if s.state == StateUnmounted {
		s.mu.Unlock()
		return
	}

	if s.open != uuid.Nil && m.SenderID == s.open {
		if containsMessage(s.thread, m.ID) {
			s.mu.Unlock()
			return
		}
		if contact, ok := findContact(s.contacts, m.SenderID); ok {
			s.enrichSender(&m, contact)
		} else {
			m.SenderName = unknownSender
		}
		m.Read = true
		s.thread = append(s.thread, m)
		s.mu.Unlock()

		if err := s.messages.MarkRead(ctx, []uuid.UUID{m.ID}); err != nil {
			s.log.Warn("mark-read write failed for pushed message", zap.Error(err))
		}
		if s.events != nil {
			s.events(Event{Kind: EventMessage, Message: m})
		}
		return
	}

	if i, ok := indexOfContact(s.contacts, m.SenderID); ok {
		s.contacts[i].Unread++
		unread := s.contacts[i].Unread
		s.mu.Unlock()
		if s.events != nil {
			s.events(Event{Kind: EventUnread, ContactID: m.SenderID, Unread: unread})
		}
		return
	}
	s.mu.Unlock()
	s.log.Warn("pushed message from unknown sender dropped",
		zap.String("sender", m.SenderID.String()))
}

// fetchContacts builds the role-scoped contact set with derived presence.
func (s *Synchronizer) fetchContacts(ctx context.Context) ([]model.Contact, error) {
	now := s.now()
	switch s.user.Role {
	case model.RoleAdmin:
		clients, err := s.clients.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]model.Contact, 0, len(clients))
		for _, c := range clients {
			out = append(out, model.Contact{
				ID:           c.ID,
				Name:         c.Name,
				Email:        c.Email,
				AvatarURL:    c.AvatarURL,
				LastActivity: c.LastSeen,
				Online:       online(now, c.LastSeen),
			})
		}
		return out, nil
	case model.RoleClient:
		admins, err := s.admins.List(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]model.Contact, 0, len(admins))
		for _, a := range admins {
			out = append(out, model.Contact{
				ID:           a.ID,
				Name:         a.Name,
				Email:        a.Email,
				LastActivity: a.LastLogin,
				Online:       online(now, a.LastLogin),
			})
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown role %q", s.user.Role)
	}
}

// enrichSender attaches display info: own messages carry the user's
// identity, the contact's messages the contact's, anything else a placeholder.
func (s *Synchronizer) enrichSender(m *model.Message, contact model.Contact) {
	switch m.SenderID {
	case s.user.ID:
		m.SenderName = s.user.Name
		m.SenderEmail = s.user.Email
	case contact.ID:
		m.SenderName = contact.Name
		m.SenderEmail = contact.Email
	default:
		m.SenderName = unknownSender
	}
}

// online applies the strict presence threshold: exactly PresenceWindow ago
// is offline.
func online(now, lastActivity time.Time) bool {
	return now.Sub(lastActivity) < PresenceWindow
}

func findContact(list []model.Contact, id uuid.UUID) (model.Contact, bool) {
	for _, c := range list {
		if c.ID == id {
			return c, true
		}
	}
	return model.Contact{}, false
}

func indexOfContact(list []model.Contact, id uuid.UUID) (int, bool) {
	for i := range list {
		if list[i].ID == id {
			return i, true
		}
	}
	return 0, false
}

func containsMessage(list []model.Message, id uuid.UUID) bool {
	for i := range list {
		if list[i].ID == id {
			return true
		}
	}
	return false
}

func copyContacts(in []model.Contact) []model.Contact {
	out := make([]model.Contact, len(in))
	copy(out, in)
	return out
}

func copyMessages(in []model.Message) []model.Message {
	out := make([]model.Message, len(in))
	copy(out, in)
	return out
}

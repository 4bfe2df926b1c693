package assistant

import (
	"sync"
	"time"

	"github.com/cloudwego/eino/components/model"

	"foliochat/internal/models"
	"foliochat/internal/service/ai"
)

// Session is one chat widget conversation with its own endpoint configuration.
type Session struct {
	id        string
	locale    string
	messages  Messages
	store     *ConfigStore
	createdAt time.Time
	now       func() time.Time

	mu           sync.Mutex
	conversation []models.Turn
	status       models.ConnectionStatus
	diagnostic   string
	loading      bool
	updatedAt    time.Time
	lastActive   time.Time
	closed       bool
	subscribers  map[int]chan models.Snapshot
	nextSub      int

	chatModel    model.BaseChatModel
	chatModelGen uint64
}

func newSession(id, locale string, cfg models.EndpointConfig, now func() time.Time) *Session {
	created := now().UTC()
	msgs := MessagesFor(locale)
	return &Session{
		id:        id,
		locale:    locale,
		messages:  msgs,
		store:     NewConfigStore(cfg),
		createdAt: created,
		now:       now,
		conversation: []models.Turn{
			{Role: models.RoleAssistant, Content: msgs.Greeting, Timestamp: created},
		},
		status:      models.StatusUnknown,
		updatedAt:   created,
		lastActive:  created,
		subscribers: make(map[int]chan models.Snapshot),
	}
}

func (s *Session) ID() string { return s.id }

func (s *Session) Locale() string { return s.locale }

// Config returns the current endpoint configuration.
func (s *Session) Config() models.EndpointConfig {
	cfg, _ := s.store.Current()
	return cfg
}

// Conversation returns a copy of all turns in order.
func (s *Session) Conversation() []models.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Turn(nil), s.conversation...)
}

func (s *Session) Snapshot() models.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() models.Snapshot {
	cfg, _ := s.store.Current()
	return models.Snapshot{
		ID:           s.id,
		Locale:       s.locale,
		Conversation: append([]models.Turn(nil), s.conversation...),
		Config:       cfg,
		Status:       s.status,
		Loading:      s.loading,
		Diagnostic:   s.diagnostic,
		CanSend:      !s.loading && s.status != models.StatusError,
		CreatedAt:    s.createdAt,
		UpdatedAt:    s.updatedAt,
	}
}

// Subscribe returns a channel that always holds the most recent snapshot not yet read.
// The channel is closed by cancel or when the session is removed.
func (s *Session) Subscribe() (<-chan models.Snapshot, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan models.Snapshot, 1)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	ch <- s.snapshotLocked()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(sub)
			}
		})
	}
}

// changedLocked stamps the session and notifies subscribers; latest snapshot wins.
func (s *Session) changedLocked() {
	s.updatedAt = s.now().UTC()
	if len(s.subscribers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.subscribers {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (s *Session) appendLocked(role models.Role, content string) models.Turn {
	turn := models.Turn{Role: role, Content: content, Timestamp: s.now().UTC()}
	s.conversation = append(s.conversation, turn)
	return turn
}

func (s *Session) touch() {
	s.mu.Lock()
	s.lastActive = s.now().UTC()
	s.mu.Unlock()
}

// idleSince reports whether the session has been inactive since before cutoff. A session
// with an attached subscriber is being watched and never idle.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.loading && len(s.subscribers) == 0 && s.lastActive.Before(cutoff)
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subscribers {
		delete(s.subscribers, id)
		close(ch)
	}
}

// beginSubmit moves the session into Submitting. history excludes the new user turn.
func (s *Session) beginSubmit(text string, policy ai.ContextPolicy) (userTurn models.Turn, history []models.Turn, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return models.Turn{}, nil, ErrSessionNotFound
	}
	if s.loading {
		return models.Turn{}, nil, ErrSubmissionInFlight
	}
	history = append([]models.Turn(nil), policy.Window(s.conversation)...)
	userTurn = s.appendLocked(models.RoleUser, text)
	s.loading = true
	s.diagnostic = ""
	s.lastActive = s.now().UTC()
	s.changedLocked()
	return userTurn, history, nil
}

// finishSubmit is the single terminal transition of a submission.
func (s *Session) finishSubmit(cfg models.EndpointConfig, text string, genErr error) (models.Turn, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var turn models.Turn
	if genErr != nil {
		turn = s.appendLocked(models.RoleAssistant, s.messages.fallbackTurn(cfg))
		s.diagnostic = s.messages.Diagnostic(genErr)
	} else {
		turn = s.appendLocked(models.RoleAssistant, text)
	}
	s.loading = false
	s.lastActive = s.now().UTC()
	s.changedLocked()
	return turn, s.diagnostic
}

// replaceConfig swaps the configuration and resets the derived status.
func (s *Session) replaceConfig(cfg models.EndpointConfig) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSessionNotFound
	}
	generation := s.store.Replace(cfg)
	s.appendLocked(models.RoleAssistant, s.messages.configUpdatedTurn(cfg))
	s.diagnostic = ""
	s.status = models.StatusUnknown
	s.lastActive = s.now().UTC()
	s.changedLocked()
	return generation, nil
}

// applyProbe records a probe outcome unless the configuration changed meanwhile.
func (s *Session) applyProbe(generation uint64, probeErr error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.store.IsCurrent(generation) {
		return false
	}
	if probeErr != nil {
		s.status = models.StatusError
		s.diagnostic = s.messages.Diagnostic(probeErr)
	} else {
		s.status = models.StatusConnected
		s.diagnostic = ""
	}
	s.changedLocked()
	return true
}

func (s *Session) cachedModel(generation uint64) model.BaseChatModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chatModel != nil && s.chatModelGen == generation {
		return s.chatModel
	}
	return nil
}

func (s *Session) cacheModel(generation uint64, chatModel model.BaseChatModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chatModel = chatModel
	s.chatModelGen = generation
}

// Package conversation runs the voice agent session: the state machine
// that sequences listening, processing and speaking, the turn history and
// its persistence.
//
// A [Manager] is the single writer of the history. Every mutation happens
// under its mutex, and a user/agent turn pair is appended together or not
// at all. Observers follow changes through [Manager.Subscribe].
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/figuro/voice/internal/contextstore"
	"github.com/figuro/voice/internal/observe"
	"github.com/figuro/voice/internal/speech"
	"github.com/figuro/voice/pkg/types"
)

// WelcomeText seeds an empty history.
const WelcomeText = "Xin chào! Tôi là trợ lý ảo của Figuro. Tôi có thể giúp bạn tìm sản phẩm, kiểm tra đơn hàng, hoặc tư vấn về mô hình figure. Bạn cần hỗ trợ gì?"

// DefaultGoodbyeDelay is how long a session stays open after a goodbye.
const DefaultGoodbyeDelay = 2 * time.Second

// ErrBusy is returned by Submit and StartListening while the session is
// processing or speaking.
var ErrBusy = errors.New("conversation: busy")

// errEmptyResult marks a pipeline run that produced nothing usable.
var errEmptyResult = errors.New("conversation: empty pipeline result")

// Processor turns an utterance into a result. *pipeline.Pipeline
// satisfies it.
type Processor interface {
	Process(ctx context.Context, u types.Utterance) types.VoiceResult
}

// Speech is the device side of a session. *speech.Adapter satisfies it.
type Speech interface {
	StartListening(ctx context.Context, onResult func(string), onError func(error), lang types.Language) error
	StopListening()
	Speak(ctx context.Context, text string, lang types.Language, rate float64) error
	StopSpeaking()
	PlayAudio(ctx context.Context, url string) error
}

// Event is delivered to subscribers after every change.
type Event struct {
	State      State
	Visible    bool
	Transcript string
	Result     *types.VoiceResult
	Err        error
}

// Snapshot is a copy of the session as seen by a UI.
type Snapshot struct {
	State      State
	Visible    bool
	Language   types.Language
	SessionID  string
	Transcript string
	Result     *types.VoiceResult
	Err        error
	Turns      []types.ConversationTurn
}

// Manager owns one conversation session. It is safe for concurrent use.
type Manager struct {
	proc   Processor
	speech Speech

	store        contextstore.Store
	mirror       Mirror
	userID       string
	voiceOutput  bool
	rate         float64
	goodbyeDelay time.Duration
	metrics      *observe.Metrics
	log          *slog.Logger
	now          func() time.Time

	mu         sync.Mutex
	state      State
	visible    bool
	loaded     bool
	lang       types.Language
	sessionID  string
	turns      []types.ConversationTurn
	transcript string
	result     *types.VoiceResult
	err        error
	goodbye    *time.Timer
	closes     uint64
	subs       map[chan Event]struct{}

	saveMu sync.Mutex
}

// Option configures a [Manager].
type Option func(*Manager)

// WithStore enables the remote conversation context.
func WithStore(s contextstore.Store, userID string) Option {
	return func(m *Manager) {
		m.store = s
		m.userID = contextstore.UserOrAnonymous(userID)
	}
}

// WithMirror sets the local history mirror. Default [NoopMirror].
func WithMirror(mi Mirror) Option {
	return func(m *Manager) { m.mirror = mi }
}

// WithLanguage sets the initial language. Default vi-VN.
func WithLanguage(l types.Language) Option {
	return func(m *Manager) {
		if l.Valid() {
			m.lang = l
		}
	}
}

// WithVoiceOutput enables or disables spoken replies. Default enabled.
func WithVoiceOutput(enabled bool) Option {
	return func(m *Manager) { m.voiceOutput = enabled }
}

// WithVoiceSpeed sets the speaking rate for synthesized replies. Default 1.0.
func WithVoiceSpeed(rate float64) Option {
	return func(m *Manager) { m.rate = rate }
}

// WithGoodbyeDelay sets how long after a goodbye the session closes.
// Zero or negative disables the automatic close.
func WithGoodbyeDelay(d time.Duration) Option {
	return func(m *Manager) { m.goodbyeDelay = d }
}

// WithMetrics sets the metrics sink. Default observe.DefaultMetrics().
func WithMetrics(mt *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithLogger sets the logger. Default slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock overrides time.Now for turn timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New returns a closed, idle Manager.
func New(proc Processor, sp Speech, opts ...Option) *Manager {
	m := &Manager{
		proc:         proc,
		speech:       sp,
		mirror:       NoopMirror{},
		userID:       contextstore.AnonymousUser,
		voiceOutput:  true,
		rate:         1.0,
		goodbyeDelay: DefaultGoodbyeDelay,
		log:          slog.Default(),
		now:          time.Now,
		lang:         types.DefaultLanguage,
		subs:         make(map[chan Event]struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Subscribe returns a channel receiving an [Event] after every change and
// a function that unsubscribes and closes it. Events are dropped when the
// channel buffer is full.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, max(buffer, 1))
	m.mu.Lock()
	m.subs[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, ch)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// emit publishes the current state. Must be called with m.mu held.
func (m *Manager) emit() {
	ev := Event{State: m.state, Visible: m.visible, Transcript: m.transcript, Result: m.result, Err: m.err}
	for ch := range m.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// setState must be called with m.mu held. Disallowed transitions are
// logged and ignored.
func (m *Manager) setState(to State) bool {
	if m.state == to {
		return true
	}
	if !CanTransition(m.state, to) {
		m.log.Warn("conversation: invalid transition", "from", m.state.String(), "to", to.String())
		return false
	}
	m.state = to
	return true
}

// Open makes the session visible. The first Open loads the history from
// the remote store, then the local mirror, and seeds the welcome turn when
// both are empty. It clears any error, transcript and last result.
func (m *Manager) Open(ctx context.Context) {
	m.mu.Lock()
	if !m.visible {
		m.metrics.ActiveSessions.Add(ctx, 1)
	}
	m.visible = true
	m.err = nil
	m.transcript = ""
	m.result = nil
	if m.state == StateError {
		m.setState(StateIdle)
	}
	if m.goodbye != nil {
		m.goodbye.Stop()
		m.goodbye = nil
	}
	needLoad := !m.loaded
	m.loaded = true
	m.emit()
	m.mu.Unlock()

	if needLoad {
		m.load(ctx)
	}
}

func (m *Manager) load(ctx context.Context) {
	var (
		sessionID string
		turns     []types.ConversationTurn
	)
	if m.store != nil {
		c, err := m.store.GetContext(ctx, m.userID, "")
		m.metrics.RecordStoreOp(ctx, "get_context", err)
		if err != nil {
			m.log.Warn("conversation: load remote context", "err", err)
		} else {
			sessionID = c.SessionID
			turns = turnsFromEntries(c.Context.ConversationHistory)
		}
	}
	if len(turns) == 0 {
		local, err := m.mirror.Load()
		if err != nil {
			m.log.Warn("conversation: load local mirror", "err", err)
		}
		turns = local
	}
	seeded := false
	if len(turns) == 0 {
		turns = []types.ConversationTurn{{
			ID:        uuid.NewString(),
			Role:      types.RoleAgent,
			Text:      WelcomeText,
			Timestamp: m.now().UTC(),
		}}
		seeded = true
	}

	m.mu.Lock()
	m.sessionID = sessionID
	// Turns appended while loading stay after the loaded history.
	m.turns = append(turns, m.turns...)
	snapshot := slices.Clone(m.turns)
	m.emit()
	m.mu.Unlock()

	if seeded {
		m.save(snapshot)
	}
}

// turnsFromEntries expands stored exchanges into user/agent turn pairs.
func turnsFromEntries(entries []contextstore.Entry) []types.ConversationTurn {
	turns := make([]types.ConversationTurn, 0, 2*len(entries))
	for _, e := range entries {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		if e.UserInput != "" {
			turns = append(turns, types.ConversationTurn{
				ID: id, Role: types.RoleUser, Text: e.UserInput, Timestamp: e.Timestamp,
				Intent: e.Intent, Entities: e.Entities,
			})
		}
		if e.AgentResponse != "" {
			turns = append(turns, types.ConversationTurn{
				ID: id + "-agent", Role: types.RoleAgent, Text: e.AgentResponse, Timestamp: e.Timestamp,
				Intent: e.Intent,
			})
		}
	}
	return turns
}

// Close hides the session and stops listening and speaking.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.visible {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	m.visible = false
	m.closes++
	if m.state == StateListening || m.state == StateSpeaking {
		m.setState(StateIdle)
	}
	m.emit()
	m.mu.Unlock()

	m.speech.StopListening()
	m.speech.StopSpeaking()
}

// Toggle opens a closed session and closes an open one.
func (m *Manager) Toggle(ctx context.Context) {
	m.mu.Lock()
	visible := m.visible
	m.mu.Unlock()
	if visible {
		m.Close()
		return
	}
	m.Open(ctx)
}

// Submit processes one utterance. It is accepted while idle, listening or
// after an error (which it acknowledges); otherwise it returns [ErrBusy].
// On success the user and agent turns are appended and persisted, and the
// reply is voiced before Submit returns.
func (m *Manager) Submit(ctx context.Context, text string, source types.Source) (types.VoiceResult, error) {
	m.mu.Lock()
	switch m.state {
	case StateIdle, StateListening:
	case StateError:
		m.setState(StateIdle)
	default:
		m.mu.Unlock()
		return types.VoiceResult{}, ErrBusy
	}
	wasListening := m.state == StateListening
	m.setState(StateProcessing)
	m.transcript = text
	m.err = nil
	lang := m.lang
	closes := m.closes
	m.emit()
	m.mu.Unlock()

	if wasListening {
		m.speech.StopListening()
	}

	ctx, span := observe.StartSpan(ctx, "conversation.submit",
		trace.WithAttributes(attribute.String("figuro.source", string(source))))

	res, err := m.process(ctx, types.Utterance{Text: text, Language: lang, Source: source})
	observe.EndSpan(span, err)
	if err != nil {
		m.mu.Lock()
		m.err = err
		m.setState(StateError)
		m.emit()
		m.mu.Unlock()
		return types.VoiceResult{}, err
	}

	now := m.now().UTC()
	user := types.ConversationTurn{
		ID: uuid.NewString(), Role: types.RoleUser, Text: text, Timestamp: now,
		Intent: res.Intent, Entities: res.Entities,
	}
	agent := types.ConversationTurn{
		ID: uuid.NewString(), Role: types.RoleAgent, Text: res.ResponseText, Timestamp: now,
		Intent: res.Intent, RecommendedItems: res.ProductRecommendations,
	}

	m.mu.Lock()
	m.turns = append(m.turns, user, agent)
	m.result = &res
	sessionID := m.sessionID
	snapshot := slices.Clone(m.turns)
	// A Close while processing keeps the reply but silences it.
	speak := m.voiceOutput && res.ResponseText != "" && m.closes == closes
	if speak {
		m.setState(StateSpeaking)
	} else {
		m.setState(StateIdle)
	}
	m.emit()
	m.mu.Unlock()

	m.metrics.RecordTurn(ctx, string(types.RoleUser))
	m.metrics.RecordTurn(ctx, string(types.RoleAgent))
	m.appendRemote(ctx, sessionID, user.ID, text, res)
	m.save(snapshot)

	if speak {
		m.voice(ctx, res, lang)
		m.mu.Lock()
		if m.state == StateSpeaking {
			m.setState(StateIdle)
			m.emit()
		}
		m.mu.Unlock()
	}

	if res.Intent == types.IntentGoodbye && m.goodbyeDelay > 0 {
		m.mu.Lock()
		if m.goodbye != nil {
			m.goodbye.Stop()
		}
		m.goodbye = time.AfterFunc(m.goodbyeDelay, m.Close)
		m.mu.Unlock()
	}
	return res, nil
}

// process runs the processor, turning a panic or an empty result into an
// error.
func (m *Manager) process(ctx context.Context, u types.Utterance) (res types.VoiceResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("conversation: processor panicked", "panic", r)
			err = fmt.Errorf("conversation: failed to process input: %v", r)
		}
	}()
	res = m.proc.Process(ctx, u)
	if res.Intent == "" || res.ResponseText == "" {
		return types.VoiceResult{}, errEmptyResult
	}
	return res, nil
}

func (m *Manager) appendRemote(ctx context.Context, sessionID, id, text string, res types.VoiceResult) {
	if m.store == nil || sessionID == "" {
		return
	}
	err := m.store.AppendTurn(ctx, m.userID, sessionID, contextstore.Entry{
		ID:            id,
		UserInput:     text,
		AgentResponse: res.ResponseText,
		Intent:        res.Intent,
		Entities:      res.Entities,
	})
	m.metrics.RecordStoreOp(ctx, "append_turn", err)
	if err != nil {
		m.log.Warn("conversation: save remote context", "session_id", sessionID, "err", err)
	}
}

func (m *Manager) save(turns []types.ConversationTurn) {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()
	if err := m.mirror.Save(turns); err != nil {
		m.log.Warn("conversation: save local mirror", "err", err)
	}
}

// voice plays the remote clip, falling back to synthesized speech.
func (m *Manager) voice(ctx context.Context, res types.VoiceResult, lang types.Language) {
	if res.AudioURL != "" {
		err := m.speech.PlayAudio(ctx, res.AudioURL)
		if err == nil {
			return
		}
		m.log.Debug("conversation: audio playback failed, speaking text", "err", err)
	}
	m.mu.Lock()
	rate := m.rate
	m.mu.Unlock()
	if err := m.speech.Speak(ctx, res.ResponseText, lang, rate); err != nil {
		m.log.Debug("conversation: speak", "err", err)
	}
}

// StartListening begins a voice capture. It returns
// [speech.ErrAlreadyListening] while a capture is running. The transcript
// is submitted automatically; a recognition error moves the session to the
// error state.
func (m *Manager) StartListening(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateListening:
		m.mu.Unlock()
		return speech.ErrAlreadyListening
	case StateError:
		m.setState(StateIdle)
	case StateIdle:
	default:
		m.mu.Unlock()
		return ErrBusy
	}
	m.setState(StateListening)
	m.transcript = ""
	m.err = nil
	lang := m.lang
	m.emit()
	m.mu.Unlock()

	err := m.speech.StartListening(ctx, func(text string) {
		m.mu.Lock()
		listening := m.state == StateListening
		m.mu.Unlock()
		if !listening {
			return
		}
		_, _ = m.Submit(ctx, text, types.SourceVoice)
	}, m.failListening, lang)
	if err != nil {
		m.failListening(err)
		return err
	}
	return nil
}

func (m *Manager) failListening(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateListening {
		return
	}
	m.err = err
	m.setState(StateError)
	m.emit()
}

// StopListening cancels a capture in progress. It is a no-op otherwise.
func (m *Manager) StopListening() {
	m.mu.Lock()
	if m.state != StateListening {
		m.mu.Unlock()
		return
	}
	m.setState(StateIdle)
	m.emit()
	m.mu.Unlock()
	m.speech.StopListening()
}

// StopSpeaking interrupts the spoken reply.
func (m *Manager) StopSpeaking() {
	m.speech.StopSpeaking()
	m.mu.Lock()
	if m.state == StateSpeaking {
		m.setState(StateIdle)
		m.emit()
	}
	m.mu.Unlock()
}

// ClearError acknowledges an error and returns to idle.
func (m *Manager) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateError && m.err == nil {
		return
	}
	m.err = nil
	if m.state == StateError {
		m.setState(StateIdle)
	}
	m.emit()
}

// SetLanguage switches the recognition and reply language. Unsupported
// languages are ignored.
func (m *Manager) SetLanguage(l types.Language) bool {
	if !l.Valid() {
		return false
	}
	m.mu.Lock()
	m.lang = l
	m.mu.Unlock()
	return true
}

// SetVoiceSpeed changes the speaking rate used from the next reply on.
func (m *Manager) SetVoiceSpeed(rate float64) {
	m.mu.Lock()
	m.rate = rate
	m.mu.Unlock()
}

// SetVoiceOutput turns spoken replies on or off.
func (m *Manager) SetVoiceOutput(enabled bool) {
	m.mu.Lock()
	m.voiceOutput = enabled
	m.mu.Unlock()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := Snapshot{
		State:      m.state,
		Visible:    m.visible,
		Language:   m.lang,
		SessionID:  m.sessionID,
		Transcript: m.transcript,
		Err:        m.err,
		Turns:      slices.Clone(m.turns),
	}
	if m.result != nil {
		r := *m.result
		s.Result = &r
	}
	return s
}

// FirstUse reports whether the first-use hint should be shown, and records
// that it has been.
func (m *Manager) FirstUse() bool {
	if m.mirror.Seen() {
		return false
	}
	if err := m.mirror.MarkSeen(); err != nil {
		m.log.Warn("conversation: mark seen", "err", err)
	}
	return true
}

package dialogue

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lexiqai/dialogue-gateway/internal/audio"
	"github.com/lexiqai/dialogue-gateway/internal/failure"
	"github.com/lexiqai/dialogue-gateway/internal/observability"
	"github.com/rs/zerolog"
)

// DefaultFallbackMessage is delivered when the text stage fails
const DefaultFallbackMessage = "...I'm not sure what to say."

// Options configures an Orchestrator
type Options struct {
	FallbackMessage   string
	DefaultVoice      string
	DefaultSampleRate int
}

// Orchestrator runs questions through text generation, speech synthesis and decoding,
// delivering exactly one Result per accepted question.
type Orchestrator struct {
	generator    Generator
	decoder      *audio.Decoder
	fallback     string
	defaultVoice string
	logger       zerolog.Logger

	mu           sync.RWMutex
	sessions     map[string]*Session
	shuttingDown bool

	wg sync.WaitGroup
}

// NewOrchestrator creates an orchestrator sharing generator and decoder across sessions
func NewOrchestrator(generator Generator, opts Options) *Orchestrator {
	fallback := opts.FallbackMessage
	if fallback == "" {
		fallback = DefaultFallbackMessage
	}

	return &Orchestrator{
		generator:    generator,
		decoder:      audio.NewDecoder(opts.DefaultSampleRate),
		fallback:     fallback,
		defaultVoice: opts.DefaultVoice,
		logger:       observability.WithComponent("dialogue"),
		sessions:     make(map[string]*Session),
	}
}

// OpenSession starts a conversation bound to voice. deliver receives every result.
func (o *Orchestrator) OpenSession(voice string, deliver DeliveryFunc) *Session {
	return o.OpenSessionWithID(uuid.New().String(), "", voice, deliver)
}

// OpenSessionWithID starts a conversation with caller-supplied identifiers
func (o *Orchestrator) OpenSessionWithID(sessionID, correlationID, voice string, deliver DeliveryFunc) *Session {
	if voice == "" {
		voice = o.defaultVoice
	}
	if deliver == nil {
		deliver = func(Result) {}
	}

	s := &Session{
		id:       sessionID,
		voice:    voice,
		deliver:  deliver,
		logger:   observability.WithSession(o.logger, sessionID, correlationID),
		openedAt: time.Now(),
		state:    StateIdle,
	}

	o.mu.Lock()
	if o.shuttingDown {
		o.mu.Unlock()
		// Sessions opened during shutdown are born closed and reject every question
		s.markClosed()
		s.logger.Warn().Msg("Session opened during shutdown")
		return s
	}
	o.sessions[sessionID] = s
	o.mu.Unlock()

	observability.RecordSessionStart()
	s.logger.Info().Str("voice", voice).Msg("Conversation session opened")
	return s
}

// Session looks up an open session by ID
func (o *Orchestrator) Session(sessionID string) (*Session, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[sessionID]
	return s, ok
}

// ActiveSessions returns the number of open sessions
func (o *Orchestrator) ActiveSessions() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.sessions)
}

// AskQuestion starts one question on session and returns immediately.
// Empty questions, busy or closed sessions and questions asked during
// shutdown are rejected with an input failure and produce no delivery.
func (o *Orchestrator) AskQuestion(session *Session, persona, question string) error {
	if strings.TrimSpace(question) == "" {
		observability.RecordRejected()
		return failure.Input(ErrEmptyQuestion)
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Holding mu orders wg.Add before Shutdown's Wait
	o.mu.RLock()
	var token uint64
	err := ErrShuttingDown
	if !o.shuttingDown {
		token, err = session.begin(cancel)
	}
	if err != nil {
		o.mu.RUnlock()
		cancel()
		observability.RecordRejected()
		session.logger.Debug().Err(err).Msg("Question rejected")
		return failure.Input(err)
	}
	o.wg.Add(1)
	o.mu.RUnlock()

	prompt := BuildPrompt(persona, question)
	metrics := observability.NewQuestionMetrics(session.id)

	session.logger.Info().Uint64("question", token).Msg("Question accepted")
	session.logger.Debug().Str("question_text", question).Uint64("question", token).Msg("Question text")

	go func() {
		defer o.wg.Done()
		defer cancel()
		o.run(ctx, session, token, prompt, metrics)
	}()
	return nil
}

// Cancel abandons the session's in-flight question, suppressing its delivery.
// The session stays open and may be asked again. It reports whether anything was cancelled.
func (o *Orchestrator) Cancel(session *Session) bool {
	if !session.abandon() {
		return false
	}
	observability.NewQuestionMetrics(session.id).RecordOutcome(observability.OutcomeCancelled)
	session.logger.Info().Msg("In-flight question cancelled")
	return true
}

// CloseSession abandons any in-flight question and discards the session
func (o *Orchestrator) CloseSession(session *Session) {
	o.Cancel(session)
	if !session.markClosed() {
		return
	}

	o.mu.Lock()
	delete(o.sessions, session.id)
	o.mu.Unlock()

	observability.RecordSessionEnd(session.openedAt)
	session.logger.Info().Msg("Conversation session closed")
}

// Shutdown closes every session and waits for in-flight questions to unwind.
// Once it starts, new sessions are closed on open and new questions are rejected.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.shuttingDown = true
	sessions := make([]*Session, 0, len(o.sessions))
	for _, s := range o.sessions {
		sessions = append(sessions, s)
	}
	o.mu.Unlock()

	for _, s := range sessions {
		o.CloseSession(s)
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run executes both stages sequentially for one question
func (o *Orchestrator) run(ctx context.Context, s *Session, token uint64, prompt string, metrics *observability.Metrics) {
	// Text stage
	metrics.RecordStageStart(string(failure.StageText))
	text, err := o.generator.GenerateText(ctx, prompt)
	text = StripQuotes(text)
	if err == nil && text == "" {
		err = failure.Structural(failure.StageText, "empty reply")
	}
	metrics.RecordStageEnd(string(failure.StageText), err == nil)

	if err != nil {
		if o.stale(s, token) {
			return
		}
		o.recordFailure(s, metrics, failure.StageText, err)
		o.deliver(s, token, metrics, Result{Text: o.fallback}, observability.OutcomeFallback)
		return
	}

	if !s.setPending(token, text) {
		return
	}

	// Speech stage
	metrics.RecordStageStart(string(failure.StageSpeech))
	payload, err := o.generator.GenerateSpeech(ctx, text, s.voice)
	if err == nil && payload == nil {
		err = failure.Structural(failure.StageSpeech, "no audio")
	}
	metrics.RecordStageEnd(string(failure.StageSpeech), err == nil)

	pending, ok := s.takePending(token)
	if !ok {
		return
	}

	if err != nil {
		o.recordFailure(s, metrics, failure.StageSpeech, err)
		o.deliver(s, token, metrics, Result{Text: pending}, observability.OutcomeTextOnly)
		return
	}

	// Decode
	metrics.RecordStageStart(string(failure.StageDecode))
	decoded, err := o.decoder.Decode(*payload)
	metrics.RecordStageEnd(string(failure.StageDecode), err == nil)
	if err != nil {
		o.recordFailure(s, metrics, failure.StageDecode, err)
		o.deliver(s, token, metrics, Result{Text: pending}, observability.OutcomeTextOnly)
		return
	}

	o.deliver(s, token, metrics, Result{Text: pending, Audio: decoded}, observability.OutcomeFull)
}

// stale reports whether token no longer identifies the session's current question
func (o *Orchestrator) stale(s *Session, token uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != token
}

// deliver hands result to the session exactly once, unless the question was abandoned
func (o *Orchestrator) deliver(s *Session, token uint64, metrics *observability.Metrics, result Result, outcome string) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	if !s.finish(token) {
		s.logger.Debug().Uint64("question", token).Msg("Discarding result for abandoned question")
		return
	}

	metrics.RecordOutcome(outcome)
	event := s.logger.Info().
		Uint64("question", token).
		Str("outcome", outcome).
		Int("text_length", len(result.Text))
	if result.Audio != nil {
		metrics.RecordAudio(result.Audio.Duration(), len(result.Audio.Samples)*2)
		event = event.
			Int("sample_rate", result.Audio.SampleRate).
			Dur("audio_duration", result.Audio.Duration()).
			Float64("audio_rms", audio.CalculateRMS(result.Audio.Samples))
	}
	event.Msg("Dialogue ready")

	s.deliver(result)
}

func (o *Orchestrator) recordFailure(s *Session, metrics *observability.Metrics, stage failure.Stage, err error) {
	kind := failure.KindOf(err)
	if kind == "" {
		kind = failure.KindTransport
	}
	metrics.RecordError(string(kind), string(stage))
	s.logger.Warn().
		Err(err).
		Str("stage", string(stage)).
		Str("kind", string(kind)).
		Msg("Pipeline stage failed")
}

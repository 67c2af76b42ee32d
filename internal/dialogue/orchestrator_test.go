package dialogue

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/dialogue-gateway/internal/audio"
	"github.com/lexiqai/dialogue-gateway/internal/failure"
	"github.com/lexiqai/dialogue-gateway/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
)

// fakeGenerator lets each test script both stages
type fakeGenerator struct {
	textFn   func(ctx context.Context, prompt string) (string, error)
	speechFn func(ctx context.Context, text, voice string) (*audio.Payload, error)

	mu      sync.Mutex
	prompts []string
	texts   []string
	voices  []string
}

func (f *fakeGenerator) GenerateText(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.mu.Unlock()
	return f.textFn(ctx, prompt)
}

func (f *fakeGenerator) GenerateSpeech(ctx context.Context, text, voice string) (*audio.Payload, error) {
	f.mu.Lock()
	f.texts = append(f.texts, text)
	f.voices = append(f.voices, voice)
	f.mu.Unlock()
	return f.speechFn(ctx, text, voice)
}

func (f *fakeGenerator) speechCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func replyWith(text string) func(context.Context, string) (string, error) {
	return func(context.Context, string) (string, error) { return text, nil }
}

func speakWith(payload *audio.Payload) func(context.Context, string, string) (*audio.Payload, error) {
	return func(context.Context, string, string) (*audio.Payload, error) { return payload, nil }
}

func pcmPayload(samples []int16) *audio.Payload {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return &audio.Payload{
		MIMEType: "audio/L16;rate=24000",
		Data:     base64.StdEncoding.EncodeToString(buf),
	}
}

// collector records deliveries
type collector struct {
	ch chan Result
}

func newCollector() *collector {
	return &collector{ch: make(chan Result, 8)}
}

func (c *collector) deliver(r Result) {
	c.ch <- r
}

func (c *collector) next(t *testing.T) Result {
	t.Helper()
	select {
	case r := <-c.ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for delivery")
	}
	return Result{}
}

func (c *collector) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case r := <-c.ch:
		t.Errorf("Expected no delivery, got %+v", r)
	case <-time.After(wait):
	}
}

func newTestOrchestrator(gen Generator) *Orchestrator {
	return NewOrchestrator(gen, Options{DefaultVoice: "Kore", DefaultSampleRate: 24000})
}

func TestAskQuestion_FullSuccess(t *testing.T) {
	gen := &fakeGenerator{
		textFn:   replyWith("Leave."),
		speechFn: speakWith(pcmPayload([]int16{0, 16384, -16384, 32767})),
	}
	o := newTestOrchestrator(gen)
	c := newCollector()
	s := o.OpenSession("Charon", c.deliver)

	if err := o.AskQuestion(s, "You are a ferryman.", "Where are we going?"); err != nil {
		t.Fatalf("AskQuestion() failed: %v", err)
	}

	r := c.next(t)
	if r.Text != "Leave." {
		t.Errorf("Expected text 'Leave.', got '%s'", r.Text)
	}
	if !r.HasAudio() {
		t.Fatal("Expected audio")
	}
	if r.Audio.SampleRate != 24000 {
		t.Errorf("Expected sample rate 24000, got %d", r.Audio.SampleRate)
	}

	expected := []float32{0.0, 0.5, -0.5, 32767.0 / 32768.0}
	if len(r.Audio.Samples) != len(expected) {
		t.Fatalf("Expected %d samples, got %d", len(expected), len(r.Audio.Samples))
	}
	for i, v := range expected {
		if math.Abs(float64(r.Audio.Samples[i]-v)) > 1e-6 {
			t.Errorf("Sample %d: expected %f, got %f", i, v, r.Audio.Samples[i])
		}
	}

	if gen.prompts[0] != "You are a ferryman.\n\nPlayer: \"Where are we going?\"\n\nCharacter:" {
		t.Errorf("Unexpected prompt %q", gen.prompts[0])
	}
	if gen.voices[0] != "Charon" {
		t.Errorf("Expected voice 'Charon', got '%s'", gen.voices[0])
	}

	c.expectNone(t, 50*time.Millisecond)
	waitForState(t, s, StateIdle)
}

func TestAskQuestion_TextFailure(t *testing.T) {
	gen := &fakeGenerator{
		textFn: func(context.Context, string) (string, error) {
			return "", failure.HTTPStatus(failure.StageText, 500)
		},
		speechFn: speakWith(pcmPayload([]int16{1})),
	}
	o := newTestOrchestrator(gen)
	c := newCollector()
	s := o.OpenSession("", c.deliver)

	if err := o.AskQuestion(s, "persona", "hello?"); err != nil {
		t.Fatalf("AskQuestion() failed: %v", err)
	}

	r := c.next(t)
	if r.Text != "...I'm not sure what to say." {
		t.Errorf("Expected fallback text, got '%s'", r.Text)
	}
	if r.HasAudio() {
		t.Error("Expected no audio on text failure")
	}
	if gen.speechCalls() != 0 {
		t.Error("Expected speech stage to be skipped after text failure")
	}
	c.expectNone(t, 50*time.Millisecond)
}

func TestAskQuestion_PartialSuccess(t *testing.T) {
	tests := []struct {
		name     string
		speechFn func(context.Context, string, string) (*audio.Payload, error)
	}{
		{"speech transport failure", func(context.Context, string, string) (*audio.Payload, error) {
			return nil, failure.Transport(failure.StageSpeech, "request failed", errors.New("connection reset"))
		}},
		{"speech structural failure", func(context.Context, string, string) (*audio.Payload, error) {
			return nil, failure.Structural(failure.StageSpeech, "no audio")
		}},
		{"decode failure", speakWith(&audio.Payload{MIMEType: "audio/L16;rate=24000", Data: "!!not base64!!"})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{textFn: replyWith("Leave this place."), speechFn: tt.speechFn}
			o := newTestOrchestrator(gen)
			c := newCollector()
			s := o.OpenSession("Kore", c.deliver)

			if err := o.AskQuestion(s, "persona", "hi"); err != nil {
				t.Fatalf("AskQuestion() failed: %v", err)
			}

			r := c.next(t)
			if r.Text != "Leave this place." {
				t.Errorf("Expected text 'Leave this place.', got '%s'", r.Text)
			}
			if r.HasAudio() {
				t.Error("Expected no audio")
			}
			c.expectNone(t, 50*time.Millisecond)
		})
	}
}

// outcomeCount reads the questions counter for outcome from the default registry
func outcomeCount(t *testing.T, outcome string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != "dialogue_gateway_questions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() == "outcome" && label.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func TestAskQuestion_DecodeFailureIsTextOnly(t *testing.T) {
	gen := &fakeGenerator{
		textFn:   replyWith("Leave this place."),
		speechFn: speakWith(&audio.Payload{MIMEType: "audio/L16;rate=24000", Data: "!!not base64!!"}),
	}
	o := newTestOrchestrator(gen)
	c := newCollector()
	s := o.OpenSession("Kore", c.deliver)

	textOnly := outcomeCount(t, observability.OutcomeTextOnly)
	full := outcomeCount(t, observability.OutcomeFull)

	if err := o.AskQuestion(s, "persona", "hi"); err != nil {
		t.Fatalf("AskQuestion() failed: %v", err)
	}

	r := c.next(t)
	if r.Text != "Leave this place." || r.HasAudio() {
		t.Errorf("Expected text-only delivery, got %+v", r)
	}
	if s.Busy() {
		t.Error("Expected session not to be busy after delivery")
	}
	if s.State() != StateIdle {
		t.Errorf("Expected state idle, got %s", s.State())
	}
	if got := outcomeCount(t, observability.OutcomeTextOnly) - textOnly; got != 1 {
		t.Errorf("Expected 1 text_only outcome, got %v", got)
	}
	if got := outcomeCount(t, observability.OutcomeFull) - full; got != 0 {
		t.Errorf("Expected no full outcome, got %v", got)
	}

	// The session accepts the next question
	gen.speechFn = speakWith(pcmPayload([]int16{1, 2}))
	if err := o.AskQuestion(s, "persona", "again?"); err != nil {
		t.Fatalf("Expected session to accept another question, got %v", err)
	}
	if r := c.next(t); !r.HasAudio() {
		t.Error("Expected audio on the second question")
	}
}

func TestShutdown_RejectsNewWork(t *testing.T) {
	gen := &fakeGenerator{textFn: replyWith("hi"), speechFn: speakWith(pcmPayload([]int16{1}))}
	o := newTestOrchestrator(gen)
	c := newCollector()
	existing := o.OpenSession("Kore", c.deliver)

	if err := o.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}

	if err := o.AskQuestion(existing, "persona", "hello?"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown, got %v", err)
	}

	late := o.OpenSession("Kore", c.deliver)
	if !late.Closed() {
		t.Error("Expected session opened during shutdown to be closed")
	}
	if err := o.AskQuestion(late, "persona", "hello?"); !errors.Is(err, ErrShuttingDown) {
		t.Errorf("Expected ErrShuttingDown, got %v", err)
	}
	if o.ActiveSessions() != 0 {
		t.Errorf("Expected no active sessions, got %d", o.ActiveSessions())
	}
	c.expectNone(t, 50*time.Millisecond)
}

func TestAskQuestion_StripsQuotes(t *testing.T) {
	gen := &fakeGenerator{textFn: replyWith(`"Hello"`), speechFn: speakWith(pcmPayload(nil))}
	o := newTestOrchestrator(gen)
	c := newCollector()
	s := o.OpenSession("Kore", c.deliver)

	if err := o.AskQuestion(s, "persona", "hi"); err != nil {
		t.Fatalf("AskQuestion() failed: %v", err)
	}

	r := c.next(t)
	if r.Text != "Hello" {
		t.Errorf("Expected 'Hello', got '%s'", r.Text)
	}
	if gen.texts[0] != "Hello" {
		t.Errorf("Expected speech to receive stripped text, got '%s'", gen.texts[0])
	}
}

func TestAskQuestion_EmptyReplyFallsBack(t *testing.T) {
	gen := &fakeGenerator{textFn: replyWith(""), speechFn: speakWith(pcmPayload(nil))}
	o := newTestOrchestrator(gen)
	c := newCollector()
	s := o.OpenSession("Kore", c.deliver)

	if err := o.AskQuestion(s, "persona", "hi"); err != nil {
		t.Fatalf("AskQuestion() failed: %v", err)
	}

	if r := c.next(t); r.Text != DefaultFallbackMessage {
		t.Errorf("Expected fallback text, got '%s'", r.Text)
	}
	if gen.speechCalls() != 0 {
		t.Error("Expected no speech call for an empty reply")
	}
}

func TestAskQuestion_EmptyQuestion(t *testing.T) {
	gen := &fakeGenerator{textFn: replyWith("x"), speechFn: speakWith(pcmPayload(nil))}
	o := newTestOrchestrator(gen)
	c := newCollector()
	s := o.OpenSession("Kore", c.deliver)

	for _, q := range []string{"", "   "} {
		err := o.AskQuestion(s, "persona", q)
		if !errors.Is(err, ErrEmptyQuestion) {
			t.Errorf("Expected ErrEmptyQuestion for %q, got %v", q, err)
		}
		if failure.StageOf(err) != failure.StageInput {
			t.Errorf("Expected input stage, got %s", failure.StageOf(err))
		}
	}

	c.expectNone(t, 50*time.Millisecond)
	if s.State() != StateIdle {
		t.Errorf("Expected Idle, got %s", s.State())
	}
}

func TestAskQuestion_BusyRejected(t *testing.T) {
	release := make(chan struct{})
	gen := &fakeGenerator{
		textFn: func(ctx context.Context, prompt string) (string, error) {
			<-release
			return "First answer.", nil
		},
		speechFn: speakWith(pcmPayload([]int16{100})),
	}
	o := newTestOrchestrator(gen)
	c := newCollector()
	s := o.OpenSession("Kore", c.deliver)

	if err := o.AskQuestion(s, "persona", "first"); err != nil {
		t.Fatalf("AskQuestion() failed: %v", err)
	}
	if s.State() != StateTextPending {
		t.Errorf("Expected TextPending, got %s", s.State())
	}

	err := o.AskQuestion(s, "persona", "second")
	if !errors.Is(err, ErrSessionBusy) {
		t.Errorf("Expected ErrSessionBusy, got %v", err)
	}

	close(release)

	r := c.next(t)
	if r.Text != "First answer." {
		t.Errorf("Expected in-flight question to be unaffected, got '%s'", r.Text)
	}
	c.expectNone(t, 50*time.Millisecond)

	gen.mu.Lock()
	prompts := len(gen.prompts)
	gen.mu.Unlock()
	if prompts != 1 {
		t.Errorf("Expected 1 text call, got %d", prompts)
	}
}

func TestAskQuestion_SessionReusable(t *testing.T) {
	gen := &fakeGenerator{textFn: replyWith("Again."), speechFn: speakWith(pcmPayload([]int16{1, 2}))}
	o := newTestOrchestrator(gen)
	c := newCollector()
	s := o.OpenSession("Kore", c.deliver)

	for i := 0; i < 3; i++ {
		if err := o.AskQuestion(s, "persona", "again?"); err != nil {
			t.Fatalf("AskQuestion() #%d failed: %v", i, err)
		}
		c.next(t)
		waitForState(t, s, StateIdle)
	}
}

func TestCancel_AfterTextBeforeSpeech(t *testing.T) {
	speechStarted := make(chan struct{})
	gen := &fakeGenerator{
		textFn: replyWith("Leave."),
		speechFn: func(ctx context.Context, text, voice string) (*audio.Payload, error) {
			close(speechStarted)
			<-ctx.Done()
			// A late result arriving after cancellation must still be discarded
			return pcmPayload([]int16{1}), nil
		},
	}
	o := newTestOrchestrator(gen)
	c := newCollector()
	s := o.OpenSession("Kore", c.deliver)

	if err := o.AskQuestion(s, "persona", "hi"); err != nil {
		t.Fatalf("AskQuestion() failed: %v", err)
	}

	<-speechStarted
	if s.State() != StateSpeechPending {
		t.Errorf("Expected SpeechPending, got %s", s.State())
	}

	o.CloseSession(s)

	c.expectNone(t, 100*time.Millisecond)
	if !s.Closed() {
		t.Error("Expected session to be closed")
	}
	if _, ok := o.Session(s.ID()); ok {
		t.Error("Expected session to be removed")
	}
	if err := o.AskQuestion(s, "persona", "hello?"); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("Expected ErrSessionClosed, got %v", err)
	}
}

func TestCancel_DuringTextStage(t *testing.T) {
	textStarted := make(chan struct{})
	gen := &fakeGenerator{
		textFn: func(ctx context.Context, prompt string) (string, error) {
			close(textStarted)
			<-ctx.Done()
			return "", failure.Transport(failure.StageText, "request failed", ctx.Err())
		},
		speechFn: speakWith(pcmPayload(nil)),
	}
	o := newTestOrchestrator(gen)
	c := newCollector()
	s := o.OpenSession("Kore", c.deliver)

	if err := o.AskQuestion(s, "persona", "hi"); err != nil {
		t.Fatalf("AskQuestion() failed: %v", err)
	}
	<-textStarted

	if !o.Cancel(s) {
		t.Error("Expected Cancel to report an abandoned question")
	}
	if s.State() != StateCancelled {
		t.Errorf("Expected Cancelled, got %s", s.State())
	}

	c.expectNone(t, 100*time.Millisecond)
	if gen.speechCalls() != 0 {
		t.Error("Expected speech stage not to start after cancellation")
	}
}

func TestCancel_SessionReusableAfterCancel(t *testing.T) {
	first := true
	var mu sync.Mutex
	blocked := make(chan struct{})
	gen := &fakeGenerator{
		textFn: func(ctx context.Context, prompt string) (string, error) {
			mu.Lock()
			isFirst := first
			first = false
			mu.Unlock()
			if isFirst {
				close(blocked)
				<-ctx.Done()
				return "Stale reply.", nil
			}
			return "Fresh reply.", nil
		},
		speechFn: func(ctx context.Context, text, voice string) (*audio.Payload, error) {
			return nil, failure.HTTPStatus(failure.StageSpeech, 503)
		},
	}
	o := newTestOrchestrator(gen)
	c := newCollector()
	s := o.OpenSession("Kore", c.deliver)

	if err := o.AskQuestion(s, "persona", "one"); err != nil {
		t.Fatalf("AskQuestion() failed: %v", err)
	}
	<-blocked
	o.Cancel(s)

	if err := o.AskQuestion(s, "persona", "two"); err != nil {
		t.Fatalf("Expected cancelled session to accept a new question, got %v", err)
	}

	r := c.next(t)
	if r.Text != "Fresh reply." {
		t.Errorf("Expected 'Fresh reply.', got '%s'", r.Text)
	}
	c.expectNone(t, 100*time.Millisecond)
}

func TestCancel_IdleSession(t *testing.T) {
	o := newTestOrchestrator(&fakeGenerator{})
	s := o.OpenSession("Kore", nil)

	if o.Cancel(s) {
		t.Error("Expected Cancel on idle session to report false")
	}
	if s.State() != StateIdle {
		t.Errorf("Expected Idle, got %s", s.State())
	}
}

func TestSessions_Independent(t *testing.T) {
	release := make(chan struct{})
	gen := &fakeGenerator{
		textFn: func(ctx context.Context, prompt string) (string, error) {
			if prompt == BuildPrompt("slow", "q") {
				<-release
				return "Slow.", nil
			}
			return "Fast.", nil
		},
		speechFn: func(ctx context.Context, text, voice string) (*audio.Payload, error) {
			return nil, failure.Structural(failure.StageSpeech, "no audio")
		},
	}
	o := newTestOrchestrator(gen)

	slow, fast := newCollector(), newCollector()
	s1 := o.OpenSession("Kore", slow.deliver)
	s2 := o.OpenSession("Puck", fast.deliver)

	if err := o.AskQuestion(s1, "slow", "q"); err != nil {
		t.Fatalf("AskQuestion() failed: %v", err)
	}
	if err := o.AskQuestion(s2, "fast", "q"); err != nil {
		t.Fatalf("AskQuestion() failed: %v", err)
	}

	if r := fast.next(t); r.Text != "Fast." {
		t.Errorf("Expected 'Fast.', got '%s'", r.Text)
	}
	close(release)
	if r := slow.next(t); r.Text != "Slow." {
		t.Errorf("Expected 'Slow.', got '%s'", r.Text)
	}

	if o.ActiveSessions() != 2 {
		t.Errorf("Expected 2 active sessions, got %d", o.ActiveSessions())
	}
}

func TestExactlyOneDelivery(t *testing.T) {
	outcomes := []func(context.Context, string, string) (*audio.Payload, error){
		speakWith(pcmPayload([]int16{5, 6})),
		speakWith(&audio.Payload{Data: "%%%"}),
		func(context.Context, string, string) (*audio.Payload, error) { return nil, errors.New("boom") },
	}

	gen := &fakeGenerator{textFn: replyWith("ok")}
	var idx int
	var mu sync.Mutex
	gen.speechFn = func(ctx context.Context, text, voice string) (*audio.Payload, error) {
		mu.Lock()
		fn := outcomes[idx%len(outcomes)]
		idx++
		mu.Unlock()
		return fn(ctx, text, voice)
	}

	o := newTestOrchestrator(gen)
	c := newCollector()
	s := o.OpenSession("Kore", c.deliver)

	const questions = 9
	for i := 0; i < questions; i++ {
		if err := o.AskQuestion(s, "persona", "again"); err != nil {
			t.Fatalf("AskQuestion() #%d failed: %v", i, err)
		}
		c.next(t)
		waitForState(t, s, StateIdle)
	}
	c.expectNone(t, 50*time.Millisecond)
}

func TestAskQuestion_FromInsideDelivery(t *testing.T) {
	gen := &fakeGenerator{textFn: replyWith("ok"), speechFn: speakWith(pcmPayload([]int16{1}))}
	o := newTestOrchestrator(gen)

	results := make(chan Result, 4)
	var s *Session
	var asked bool
	s = o.OpenSession("Kore", func(r Result) {
		results <- r
		if !asked {
			asked = true
			if err := o.AskQuestion(s, "persona", "follow-up"); err != nil {
				t.Errorf("Expected follow-up to be accepted inside delivery, got %v", err)
			}
		}
	})

	if err := o.AskQuestion(s, "persona", "first"); err != nil {
		t.Fatalf("AskQuestion() failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-results:
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for delivery %d", i+1)
		}
	}
}

func TestShutdown(t *testing.T) {
	started := make(chan struct{})
	gen := &fakeGenerator{
		textFn: func(ctx context.Context, prompt string) (string, error) {
			close(started)
			<-ctx.Done()
			return "", ctx.Err()
		},
		speechFn: speakWith(pcmPayload(nil)),
	}
	o := newTestOrchestrator(gen)
	c := newCollector()
	s := o.OpenSession("Kore", c.deliver)

	if err := o.AskQuestion(s, "persona", "hi"); err != nil {
		t.Fatalf("AskQuestion() failed: %v", err)
	}
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := o.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown() failed: %v", err)
	}

	if o.ActiveSessions() != 0 {
		t.Errorf("Expected no sessions after shutdown, got %d", o.ActiveSessions())
	}
	c.expectNone(t, 50*time.Millisecond)
}

func TestOpenSession_DefaultVoice(t *testing.T) {
	o := newTestOrchestrator(&fakeGenerator{})
	s := o.OpenSession("", nil)

	if s.Voice() != "Kore" {
		t.Errorf("Expected default voice 'Kore', got '%s'", s.Voice())
	}
	if s.ID() == "" {
		t.Error("Expected generated session ID")
	}
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateIdle, "idle"},
		{StateTextPending, "text_pending"},
		{StateSpeechPending, "speech_pending"},
		{StateCancelled, "cancelled"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("Expected '%s', got '%s'", tt.expected, got)
		}
	}
}

func waitForState(t *testing.T, s *Session, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("Expected state %s, got %s", want, s.State())
}

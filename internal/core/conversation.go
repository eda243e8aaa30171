package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"diagnosure/pkg"
)

const (
	cmdDone    = "done"
	cmdAnalyze = "analyze"
)

// Analyzer turns a structured symptom request into a diagnosis batch.
type Analyzer interface {
	Analyze(ctx context.Context, apiKey string, req pkg.AnalysisRequest) ([]pkg.DiagnosisCandidate, error)
}

// Turn is the outcome of one patient message.  Replies are the bot messages
// emitted for it, in order.
type Turn struct {
	Replies            []pkg.Message            `json:"replies"`
	Stage              pkg.Stage                `json:"stage"`
	FollowUp           pkg.FollowUpStep         `json:"follow_up"`
	CredentialRequired bool                     `json:"credential_required,omitempty"`
	Diagnoses          []pkg.DiagnosisCandidate `json:"diagnoses,omitempty"`
}

// Snapshot is a read-only view of a conversation.
type Snapshot struct {
	Stage     pkg.Stage                `json:"stage"`
	FollowUp  pkg.FollowUpStep         `json:"follow_up"`
	Analyzing bool                     `json:"analyzing"`
	Symptoms  []pkg.SymptomEntry       `json:"symptoms"`
	Intake    pkg.IntakeContext        `json:"intake"`
	Diagnoses []pkg.DiagnosisCandidate `json:"diagnoses"`
	Messages  []pkg.Message            `json:"messages"`
}

// Conversation is the intake state machine of one session.  Messages are
// processed one at a time; only the oracle call runs outside the lock.
type Conversation struct {
	mu         sync.Mutex
	sessionID  string
	stage      pkg.Stage
	step       pkg.FollowUpStep
	analyzing  bool
	epoch      int
	store      *SymptomStore
	diagnoses  []pkg.DiagnosisCandidate
	transcript []pkg.Message
	credential string

	oracle Analyzer
	rng    *rand.Rand
	now    func() time.Time
	log    *logrus.Logger
}

// NewConversation returns a conversation in the greeting stage.
func NewConversation(sessionID string, oracle Analyzer, credential string, logger *logrus.Logger) *Conversation {
	return &Conversation{
		sessionID:  sessionID,
		stage:      pkg.StageGreeting,
		step:       pkg.StepMedications,
		store:      NewSymptomStore(),
		credential: credential,
		oracle:     oracle,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		now:        time.Now,
		log:        logger,
	}
}

// Start greets the patient and enters collection.  It is a no-op returning
// an empty turn once any message exists.
func (c *Conversation) Start(name string) *Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &Turn{}
	if len(c.transcript) == 0 {
		c.greet(t, name)
	}
	return c.finish(t)
}

func (c *Conversation) greet(t *Turn, name string) {
	if name == "" {
		name = "there"
	}
	c.reply(t, fmt.Sprintf(GreetingTemplate, name))
	c.stage = pkg.StageCollecting
}

// SetCredential replaces the oracle API key used by analyze.
func (c *Conversation) SetCredential(key string) {
	c.mu.Lock()
	c.credential = key
	c.mu.Unlock()
}

// Handle processes one patient message.  The returned turn always carries the
// replies to show, also when err is non-nil.
func (c *Conversation) Handle(ctx context.Context, text string) (*Turn, error) {
	text = strings.TrimSpace(text)
	cmd := strings.ToLower(text)
	t := &Turn{}

	c.mu.Lock()
	if text == "" {
		defer c.mu.Unlock()
		return c.finish(t), ErrEmptyMessage
	}
	if c.stage == pkg.StageGreeting {
		c.greet(t, "")
	}
	c.record(pkg.RolePatient, text)
	if cmd == cmdAnalyze && c.stage == pkg.StageFollowUp && !c.analyzing {
		return c.analyze(ctx, t)
	}
	defer c.mu.Unlock()

	var err error
	switch {
	case c.analyzing && cmd == cmdAnalyze:
		c.reply(t, AnalysisBusyMessage)
		err = ErrAnalysisInProgress
	case c.analyzing:
		c.reply(t, WaitForAnalysisMessage)
	case cmd == cmdDone:
		err = c.done(t)
	case c.stage == pkg.StageCollecting && cmd == cmdAnalyze:
		c.reply(t, AnalyzeTooEarly)
	case c.stage == pkg.StageCollecting:
		c.store.Add(text)
		c.reply(t, c.acknowledge(cmd))
	case c.stage == pkg.StageFollowUp:
		c.answer(t, text)
	default:
		c.reply(t, CompleteReply)
	}
	return c.finish(t), err
}

func (c *Conversation) done(t *Turn) error {
	switch c.stage {
	case pkg.StageCollecting:
		if c.store.Len() == 0 {
			c.reply(t, NoSymptomsMessage)
			return ErrNoSymptomsRecorded
		}
		c.stage = pkg.StageFollowUp
		c.step = pkg.StepMedications
		c.reply(t, FollowUpIntro)
		c.reply(t, MedicationsQuestion)
	case pkg.StageFollowUp:
		c.reply(t, FollowUpDoneReminder)
		c.prompt(t)
	default:
		c.reply(t, CompleteReply)
	}
	return nil
}

// answer consumes a follow-up reply for the current cursor step.  Once the
// cursor is complete extra messages are kept as additional information.
func (c *Conversation) answer(t *Turn, text string) {
	if c.step == pkg.StepComplete {
		c.store.Answer(pkg.StepComplete, text)
		c.reply(t, AdditionalInfoAck)
		return
	}
	c.store.Answer(c.step, text)
	c.step = c.step.Next()
	c.reply(t, FollowUpAck)
	c.prompt(t)
}

// prompt asks the question for the current cursor step.
func (c *Conversation) prompt(t *Turn) {
	switch c.step {
	case pkg.StepMedications:
		c.reply(t, MedicationsQuestion)
	case pkg.StepDuration:
		c.reply(t, DurationQuestion)
	case pkg.StepConditions:
		c.reply(t, ConditionsQuestion)
	default:
		c.reply(t, ReadyToAnalyze)
	}
}

// analyze is entered with c.mu held and returns with it released.
func (c *Conversation) analyze(ctx context.Context, t *Turn) (*Turn, error) {
	c.analyzing = true
	epoch := c.epoch
	req := c.store.Request()
	key := c.credential
	c.reply(t, AnalyzingMessage)
	c.mu.Unlock()

	batch, err := c.oracle.Analyze(ctx, key, req)

	c.mu.Lock()
	defer c.mu.Unlock()
	if epoch != c.epoch {
		// reset while the oracle call was outstanding
		return c.finish(&Turn{}), ErrSessionNotFound
	}
	c.analyzing = false
	if err == nil && len(batch) == 0 {
		err = fmt.Errorf("%w: analyzer returned no diagnoses", ErrOracleResponseInvalid)
	}
	logger := c.log.WithFields(logrus.Fields{"session_id": c.sessionID, "symptoms": len(req.Symptoms)})
	if err != nil {
		logger.WithError(err).Warn("Analysis failed")
		c.reply(t, replyFor(err))
		t.CredentialRequired = errors.Is(err, ErrCredentialMissing)
		return c.finish(t), err
	}

	c.diagnoses = batch
	c.stage = pkg.StageComplete
	c.reply(t, AnalysisComplete)
	t.Diagnoses = c.copyDiagnoses()
	logger.WithField("top", batch[0].Condition).Info("Analysis complete")
	return c.finish(t), nil
}

func (c *Conversation) acknowledge(lower string) string {
	switch {
	case strings.Contains(lower, "pain") || strings.Contains(lower, "hurt"):
		return AckPain
	case strings.Contains(lower, "fever") || strings.Contains(lower, "temperature"):
		return AckFever
	case strings.Contains(lower, "headache"):
		return AckHeadache
	case strings.Contains(lower, "cough"):
		return AckCough
	}
	return genericAcks[c.rng.Intn(len(genericAcks))]
}

func (c *Conversation) reply(t *Turn, content string) {
	t.Replies = append(t.Replies, c.record(pkg.RoleBot, content))
}

func (c *Conversation) record(role pkg.MessageRole, content string) pkg.Message {
	m := pkg.Message{
		ID:        uuid.NewString(),
		SessionID: c.sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: c.now(),
	}
	c.transcript = append(c.transcript, m)
	return m
}

func (c *Conversation) finish(t *Turn) *Turn {
	t.Stage = c.stage
	t.FollowUp = c.step
	return t
}

func (c *Conversation) copyDiagnoses() []pkg.DiagnosisCandidate {
	out := make([]pkg.DiagnosisCandidate, len(c.diagnoses))
	copy(out, c.diagnoses)
	return out
}

// Diagnoses returns the latest batch, empty before the first analysis.
func (c *Conversation) Diagnoses() []pkg.DiagnosisCandidate {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.copyDiagnoses()
}

// Symptoms returns the recorded symptom texts in order.
func (c *Conversation) Symptoms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Texts()
}

// Snapshot returns a copy of the full conversation state.
func (c *Conversation) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	msgs := make([]pkg.Message, len(c.transcript))
	copy(msgs, c.transcript)
	return Snapshot{
		Stage:     c.stage,
		FollowUp:  c.step,
		Analyzing: c.analyzing,
		Symptoms:  c.store.Entries(),
		Intake:    c.store.Intake(),
		Diagnoses: c.copyDiagnoses(),
		Messages:  msgs,
	}
}

// Reset discards collected data and returns to the greeting stage.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epoch++
	c.analyzing = false
	c.store.Clear()
	c.diagnoses = nil
	c.transcript = nil
	c.stage = pkg.StageGreeting
	c.step = pkg.StepMedications
}

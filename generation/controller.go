package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alphadose/haxmap"
	"github.com/casualjim/chatwire/events"
	"github.com/casualjim/chatwire/ledger"
	"github.com/casualjim/chatwire/messages"
	"github.com/casualjim/chatwire/pkg/chaterr"
	"github.com/casualjim/chatwire/pkg/slogx"
	"github.com/casualjim/chatwire/provider"
	"github.com/casualjim/chatwire/stream"
	"github.com/casualjim/chatwire/transport"
	"github.com/fogfish/opts"
)

// ErrorPrefix starts every error written into a conversation.
const ErrorPrefix = "Error: "

// Prompt is what the user sends.
type Prompt struct {
	Content string
	Images  []messages.ImageRef
	// Params overrides the controller's default params.
	Params *provider.Params
	// Target overrides the conversation's provider and model, and becomes the
	// conversation's target when the send is accepted.
	Target provider.Target
}

// Controller runs generation sessions against a ledger.
type Controller struct {
	ledger       *ledger.Ledger
	builder      *provider.Builder
	transport    transport.Transport
	availability provider.Availability
	recorder     events.Recorder
	params       provider.Params

	sessions *haxmap.Map[string, *Session]
	// typing maps conversation ids to the model shown as typing.
	typing *haxmap.Map[string, string]
}

var (
	// WithAvailability sets the resolver consulted before every send. Defaults to provider.Always.
	WithAvailability = opts.ForName[Controller, provider.Availability]("availability")
	// WithRecorder sets the recorder for typing and session events.
	WithRecorder = opts.ForName[Controller, events.Recorder]("recorder")
	// WithDefaultParams sets the params used when a prompt carries none.
	WithDefaultParams = opts.ForName[Controller, provider.Params]("params")
)

// NewController creates a controller writing to l.
func NewController(l *ledger.Ledger, builder *provider.Builder, t transport.Transport, options ...opts.Option[Controller]) *Controller {
	c := &Controller{
		ledger:       l,
		builder:      builder,
		transport:    t,
		availability: provider.Always,
		recorder:     events.Discard,
		params:       provider.DefaultParams(),
		sessions:     haxmap.New[string, *Session](),
		typing:       haxmap.New[string, string](),
	}
	if err := opts.Apply(c, options); err != nil {
		panic(err)
	}
	return c
}

// Ledger returns the ledger the controller writes to.
func (c *Controller) Ledger() *ledger.Ledger {
	return c.ledger
}

// Send appends prompt as a user message and starts generating the reply. ctx
// bounds the whole generation, not just the call.
func (c *Controller) Send(ctx context.Context, conversationID string, prompt Prompt) (*Session, error) {
	return c.dispatch(ctx, conversationID, prompt, nil)
}

// EditAndResend replaces a user message: the message and everything after it
// are removed and content is sent in its place, with the original images. A
// running session is canceled first.
func (c *Controller) EditAndResend(ctx context.Context, conversationID, messageID, content string) (*Session, error) {
	msg, ok := c.ledger.Message(conversationID, messageID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrMessageNotFound, messageID)
	}
	if msg.Role != messages.RoleUser {
		return nil, chaterr.Validation("edit and resend", "message %s is not a user message", messageID)
	}
	if err := c.stopAndWait(ctx, conversationID, ErrCanceled); err != nil {
		return nil, err
	}

	prompt := Prompt{Content: content, Images: msg.ImageRefs}
	return c.dispatch(ctx, conversationID, prompt, func(ctx context.Context) error {
		_, err := c.ledger.DeleteFrom(ctx, conversationID, messageID)
		return err
	})
}

// Regenerate resends the last user message, dropping the replies after it.
func (c *Controller) Regenerate(ctx context.Context, conversationID string) (*Session, error) {
	msgs, err := c.ledger.Messages(conversationID)
	if err != nil {
		return nil, err
	}
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == messages.RoleUser {
			return c.EditAndResend(ctx, conversationID, msgs[i].ID, msgs[i].Content)
		}
	}
	return nil, chaterr.Validation("regenerate", "conversation %s has no user message", conversationID)
}

// Cancel stops the conversation's session, keeping the reply text that
// already arrived. It reports whether a session was running.
func (c *Controller) Cancel(conversationID string) bool {
	s, ok := c.sessions.Get(conversationID)
	if !ok {
		return false
	}
	return s.stop(ErrCanceled)
}

// DeleteConversation discards the conversation's session, if any, and then
// the conversation.
func (c *Controller) DeleteConversation(ctx context.Context, conversationID string) error {
	if err := c.stopAndWait(ctx, conversationID, ErrTargetRemoved); err != nil {
		return err
	}
	return c.ledger.DeleteConversation(ctx, conversationID)
}

// State returns the phase of the conversation's session, Idle when none runs.
func (c *Controller) State(conversationID string) State {
	if s, ok := c.sessions.Get(conversationID); ok {
		return s.State()
	}
	return Idle
}

// Session returns the conversation's running session.
func (c *Controller) Session(conversationID string) (*Session, bool) {
	return c.sessions.Get(conversationID)
}

// Typing returns the model shown as typing in the conversation.
func (c *Controller) Typing(conversationID string) (string, bool) {
	return c.typing.Get(conversationID)
}

func (c *Controller) stopAndWait(ctx context.Context, conversationID string, cause error) error {
	s, ok := c.sessions.Get(conversationID)
	if !ok {
		return nil
	}
	s.stop(cause)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// dispatch admits a session, checks everything that can fail without the
// network, runs prepare, appends the user message and starts the session.
func (c *Controller) dispatch(ctx context.Context, conversationID string, prompt Prompt, prepare func(context.Context) error) (*Session, error) {
	s := newSession(conversationID)
	if _, loaded := c.sessions.GetOrCompute(conversationID, func() *Session { return s }); loaded {
		return nil, chaterr.Busy("send", conversationID)
	}

	target, params, err := c.preflight(ctx, conversationID, prompt)
	if err != nil {
		c.release(s)
		return nil, err
	}
	s.Target = target

	if prepare != nil {
		if err := prepare(ctx); err != nil {
			c.release(s)
			return nil, err
		}
	}
	if !prompt.Target.IsZero() {
		if err := c.ledger.SetTarget(ctx, conversationID, target.ProviderID, target.ModelID); err != nil {
			c.release(s)
			return nil, err
		}
	}
	promptID, err := c.ledger.Append(ctx, conversationID, messages.User(prompt.Content, prompt.Images...))
	if err != nil {
		c.release(s)
		return nil, err
	}
	s.promptID = promptID

	slog.DebugContext(ctx, "generation accepted",
		slogx.LoggerName("generation"),
		slogx.Conversation(conversationID),
		slogx.Session(s.ID),
		slogx.Target(target.ProviderID, target.ModelID),
	)

	c.setTyping(ctx, conversationID, target.ModelID)
	s.mu.Lock()
	c.transition(ctx, s, Dispatching, nil)
	s.mu.Unlock()

	runCtx, cancel := context.WithCancelCause(ctx)
	s.setCancel(cancel)
	go c.run(runCtx, cancel, s, params)
	return s, nil
}

func (c *Controller) preflight(ctx context.Context, conversationID string, prompt Prompt) (provider.Target, provider.Params, error) {
	conv, ok := c.ledger.Conversation(conversationID)
	if !ok {
		return provider.Target{}, provider.Params{}, fmt.Errorf("%w: %s", ledger.ErrConversationNotFound, conversationID)
	}
	if strings.TrimSpace(prompt.Content) == "" && len(prompt.Images) == 0 {
		return provider.Target{}, provider.Params{}, chaterr.Validation("send", "message is empty")
	}

	target := prompt.Target
	if target.IsZero() {
		target = provider.Target{ProviderID: conv.ProviderID, ModelID: conv.ModelID}
	}
	params := c.params
	if prompt.Params != nil {
		params = *prompt.Params
	}

	if err := params.Validate(); err != nil {
		return target, params, err
	}
	if _, err := c.builder.Resolve(target); err != nil {
		return target, params, err
	}
	if !c.availability.IsAvailable(ctx, target.ProviderID, target.ModelID) {
		return target, params, chaterr.Availability("send", "%s is not available", target)
	}
	return target, params, nil
}

func (c *Controller) run(ctx context.Context, cancel context.CancelCauseFunc, s *Session, params provider.Params) {
	err := c.generate(ctx, s, params)
	cancel(nil)
	c.settle(context.WithoutCancel(ctx), s, err)
}

func (c *Controller) generate(ctx context.Context, s *Session, params provider.Params) error {
	if s.isStopped() {
		return context.Cause(ctx)
	}
	history, err := c.ledger.Messages(s.ConversationID)
	if err != nil {
		return ErrTargetRemoved
	}
	req, err := c.builder.Build(history, s.Target, params)
	if err != nil {
		return err
	}
	body, err := c.transport.Do(ctx, req)
	if err != nil {
		return err
	}
	defer body.Close()

	var src stream.Source
	if req.Stream {
		src = stream.NewDecoder(body, req.Format)
	} else {
		src = stream.Whole(body, req.Format)
	}

	deltas := stream.Pipe(ctx, src)
	for {
		select {
		case delta, ok := <-deltas:
			if !ok {
				return context.Cause(ctx)
			}
			if delta.Failed() {
				if delta.Err != nil {
					return delta.Err
				}
				return errors.New(delta.ErrorMessage)
			}
			if err := c.apply(ctx, s, delta.Text); err != nil {
				return err
			}
			if delta.Final {
				return nil
			}

		case <-ctx.Done():
			// the body is closed on return, which unblocks the decoder
			return context.Cause(ctx)
		}
	}
}

// apply writes one chunk of reply text. The first chunk creates the reply.
func (c *Controller) apply(ctx context.Context, s *Session, text string) error {
	if text == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return s.cause
	}

	if s.messageID == "" {
		if !c.promptKept(s) {
			return ErrTargetRemoved
		}
		id, err := c.ledger.Append(ctx, s.ConversationID, messages.Assistant(text, s.Target.ModelID))
		if err != nil {
			return ErrTargetRemoved
		}
		s.messageID = id
		c.clearTyping(ctx, s.ConversationID)
		c.transition(ctx, s, Streaming, nil)
	} else if !c.ledger.Accumulate(ctx, s.ConversationID, s.messageID, text) {
		return ErrTargetRemoved
	}
	s.accumulated += len(text)
	return nil
}

// settle decides what the outcome of a session leaves in the conversation.
func (c *Controller) settle(ctx context.Context, s *Session, err error) {
	s.mu.Lock()
	switch {
	case s.stopped:
		err = s.cause
	case errors.Is(err, ErrTargetRemoved):
		slog.DebugContext(ctx, "generation target removed",
			slogx.LoggerName("generation"),
			slogx.Conversation(s.ConversationID),
			slogx.Session(s.ID),
		)
	case errors.Is(err, context.Canceled):
		err = ErrCanceled
	case err != nil:
		c.transition(ctx, s, Errored, err)
		c.surface(ctx, s, err)
	default:
		c.transition(ctx, s, Completing, nil)
	}
	if s.messageID != "" && !errors.Is(err, ErrTargetRemoved) {
		_ = c.ledger.Touch(ctx, s.ConversationID)
	}
	s.mu.Unlock()

	c.finish(ctx, s, err)
}

// surface writes err into the conversation: as the reply when nothing arrived
// yet, as a note after the partial reply otherwise. Caller holds s.mu.
func (c *Controller) surface(ctx context.Context, s *Session, err error) {
	msg := chaterr.Message(err)
	slog.ErrorContext(ctx, "generation failed",
		slogx.LoggerName("generation"),
		slogx.Conversation(s.ConversationID),
		slogx.Session(s.ID),
		slogx.Target(s.Target.ProviderID, s.Target.ModelID),
		slog.String("kind", chaterr.KindOf(err).String()),
		slogx.Error(err),
	)

	if s.messageID == "" {
		if !c.promptKept(s) {
			return
		}
		id, appendErr := c.ledger.Append(ctx, s.ConversationID, messages.Assistant(ErrorPrefix+msg, s.Target.ModelID))
		if appendErr == nil {
			s.messageID = id
		}
		return
	}
	c.ledger.Accumulate(ctx, s.ConversationID, s.messageID, "\n\n"+ErrorPrefix+msg)
}

// promptKept reports whether the message s replies to is still in the
// conversation. Caller holds s.mu.
func (c *Controller) promptKept(s *Session) bool {
	_, ok := c.ledger.Message(s.ConversationID, s.promptID)
	return ok
}

func (c *Controller) finish(ctx context.Context, s *Session, err error) {
	c.clearTyping(ctx, s.ConversationID)

	s.mu.Lock()
	s.err = err
	c.transition(ctx, s, Idle, err)
	s.mu.Unlock()

	c.release(s)
}

// release frees the conversation for the next send.
func (c *Controller) release(s *Session) {
	if current, ok := c.sessions.Get(s.ConversationID); ok && current == s {
		c.sessions.Del(s.ConversationID)
	}
	close(s.done)
}

// transition moves s to another state. Caller holds s.mu.
func (c *Controller) transition(ctx context.Context, s *Session, to State, err error) {
	from := s.state
	s.state = to

	e := events.Generation{
		ConversationID: s.ConversationID,
		SessionID:      s.ID,
		From:           from.String(),
		To:             to.String(),
		Timestamp:      events.Now(),
	}
	if err != nil {
		e.Error = chaterr.Message(err)
	}
	c.recorder.Record(ctx, e)
}

func (c *Controller) setTyping(ctx context.Context, conversationID, modelID string) {
	c.typing.Set(conversationID, modelID)
	c.recorder.Record(ctx, events.Typing{
		ConversationID: conversationID,
		ModelID:        modelID,
		Active:         true,
		Timestamp:      events.Now(),
	})
}

func (c *Controller) clearTyping(ctx context.Context, conversationID string) {
	modelID, ok := c.typing.Get(conversationID)
	if !ok {
		return
	}
	c.typing.Del(conversationID)
	c.recorder.Record(ctx, events.Typing{
		ConversationID: conversationID,
		ModelID:        modelID,
		Active:         false,
		Timestamp:      events.Now(),
	})
}

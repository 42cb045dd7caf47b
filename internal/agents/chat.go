package agents

import (
	"context"
	"fmt"
	"strings"
	"time"

	"foreman/internal/agent"
	"foreman/internal/agent/convstore"
	"foreman/internal/event"
	"foreman/internal/logging"
	"foreman/internal/planner"
)

// chatHistoryLimit caps the turns replayed into a completion prompt.
const chatHistoryLimit = 20

// ChatAgent handles free-form user messages. It keeps multi-turn state in the
// conversation store and phrases replies through the completion backend. A
// message that starts a task-creation exchange walks a small slot-filling
// flow; everything else gets a direct conversational reply.
type ChatAgent struct {
	agent.Base

	completer planner.Completer
	sessions  *convstore.Store
	logger    logging.Logger
}

func NewChatAgent(completer planner.Completer, sessions *convstore.Store, logger logging.Logger) *ChatAgent {
	desc := agent.NewDescriptor("chat_agent")
	desc.Description = "conversational interface for task coordination"
	desc.Capabilities = []string{"conversation"}
	desc.HandledEvents = []event.Type{event.TypeUserMessage}
	return &ChatAgent{
		Base:      agent.NewBase(desc),
		completer: completer,
		sessions:  sessions,
		logger:    logging.OrNop(logger),
	}
}

func (a *ChatAgent) Validate(ctx context.Context, actx *agent.Context) error {
	if actx == nil || actx.Event == nil {
		return fmt.Errorf("chat agent requires an event")
	}
	if actx.Event.PayloadString("text") == "" {
		return fmt.Errorf("user message carries no text")
	}
	return nil
}

func (a *ChatAgent) Execute(ctx context.Context, actx *agent.Context) (*agent.Result, error) {
	e := actx.Event
	text := e.PayloadString("text")
	userID := e.PayloadString("user_id")

	result := agent.NewResult(a.Desc.Name)
	result.EventID = e.ID

	session := a.resolveSession(actx, userID, text)
	result.SetOutput("conversation_id", session.ConversationID)

	a.sessions.Update(session.ConversationID, func(s *convstore.Session) {
		s.History = append(s.History, agent.Message{Role: "user", Content: text, Timestamp: time.Now().UTC()})
	})

	var reply string
	if session.Intent == "create_task" {
		reply = a.advanceTaskCreation(session, text, result)
	} else {
		reply = a.converse(ctx, session, text)
	}

	a.sessions.Update(session.ConversationID, func(s *convstore.Session) {
		s.History = append(s.History, agent.Message{Role: "assistant", Content: reply, Timestamp: time.Now().UTC()})
	})

	result.Success = true
	result.Message = reply
	result.Complete()
	return result, nil
}

// resolveSession reuses the session named by the context, otherwise starts a
// fresh one, detecting a task-creation intent from the opening message.
func (a *ChatAgent) resolveSession(actx *agent.Context, userID, text string) *convstore.Session {
	if actx.ConversationID != "" {
		if session := a.sessions.Get(actx.ConversationID); session != nil {
			return session
		}
	}
	intent := ""
	if wantsTaskCreation(text) {
		intent = "create_task"
	}
	session := a.sessions.Begin(userID, intent)
	actx.ConversationID = session.ConversationID
	return session
}

func wantsTaskCreation(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, "create a task") ||
		strings.Contains(lower, "new task") ||
		strings.HasPrefix(lower, "add task")
}

// advanceTaskCreation fills the title and description slots across turns.
// Once both are present it emits a task.created follow-up and closes the
// conversation.
func (a *ChatAgent) advanceTaskCreation(session *convstore.Session, text string, result *agent.Result) string {
	if session.State["title"] == nil {
		title := extractTitle(text)
		if title == "" && len(session.History) > 1 {
			// Already asked; a bare reply is the title.
			title = strings.TrimSpace(text)
		}
		if title == "" {
			return "Sure, I can set that up. What should the task be called?"
		}
		a.sessions.Update(session.ConversationID, func(s *convstore.Session) { s.State["title"] = title })
		session.State["title"] = title
	}
	title, _ := session.State["title"].(string)

	if session.State["description"] == nil {
		if session.State["asked_description"] == nil {
			a.sessions.Update(session.ConversationID, func(s *convstore.Session) { s.State["asked_description"] = true })
			return fmt.Sprintf("Got it, %q. Anything I should note in the description?", title)
		}
		// The next turn after asking becomes the description.
		a.sessions.Update(session.ConversationID, func(s *convstore.Session) { s.State["description"] = text })
		session.State["description"] = text
	}
	description, _ := session.State["description"].(string)

	follow := event.New(event.TypeTaskCreated, a.Desc.Name,
		event.WithPayload(map[string]any{
			"title":       title,
			"description": description,
			"creator_id":  session.UserID,
		}))
	result.AddFollowUp(follow)
	result.SetOutput("task_title", title)

	a.sessions.Clear(session.ConversationID)
	return fmt.Sprintf("Done, I created the task %q.", title)
}

// extractTitle pulls a quoted or trailing title out of a task-creation
// message. Returns "" when the message only expresses the intent.
func extractTitle(text string) string {
	if start := strings.Index(text, "\""); start >= 0 {
		if end := strings.Index(text[start+1:], "\""); end > 0 {
			return text[start+1 : start+1+end]
		}
	}
	for _, marker := range []string{"task called ", "task named "} {
		if idx := strings.Index(strings.ToLower(text), marker); idx >= 0 {
			title := strings.TrimSpace(text[idx+len(marker):])
			if title != "" {
				return strings.TrimRight(title, ".!")
			}
		}
	}
	return ""
}

func (a *ChatAgent) converse(ctx context.Context, session *convstore.Session, text string) string {
	if a.completer == nil {
		return "I can help you coordinate tasks. Try asking me to create a task."
	}
	var b strings.Builder
	b.WriteString("You are a concise task-coordination assistant. Continue the conversation.\n\n")
	history := session.History
	if n := len(history); n > 0 {
		// The current message is already in the history; it is rendered
		// separately as the final turn.
		history = history[:n-1]
	}
	if len(history) > chatHistoryLimit {
		history = history[len(history)-chatHistoryLimit:]
	}
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&b, "user: %s\nassistant:", text)

	reply, err := a.completer.Complete(ctx, b.String())
	if err != nil {
		a.logger.Warn("chat: completion for conversation %s failed: %v", session.ConversationID, err)
		return "I could not reach my language backend just now; please try again shortly."
	}
	return strings.TrimSpace(reply)
}

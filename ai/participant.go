// Package ai implements the chat server's AI participant: the decision
// whether an incoming message warrants an AI reply, and the bounded
// worker pool that generates replies without blocking the chat path.
package ai

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hrygo/parley/ai/llm"
	"github.com/hrygo/parley/internal/profile"
	"github.com/hrygo/parley/server/metrics"
	"github.com/hrygo/parley/store"
)

const defaultSystemPrompt = `You are the resident AI assistant of a group chat server. ` +
	`Recent messages appear as "name: text" lines; answer the last one. ` +
	`Reply concisely, in the language the user writes in. 用户用中文提问时请用中文回答。`

// Replier posts a generated reply into a group as the AI user. The group
// engine implements it; the indirection keeps this package free of the
// server internals.
type Replier interface {
	PostAIReply(ctx context.Context, groupID int32, content string) error
}

type replyJob struct {
	groupID   int32
	messageID int32
	senderID  int32
	content   string
}

// Participant watches persisted chat messages and replies as the AI user
// when the trigger rules say so. Reply generation runs on a fixed worker
// pool fed by a bounded queue; when the queue is full the job is dropped
// with a log line rather than backpressuring the sender.
type Participant struct {
	profile *profile.Profile
	store   *store.Store
	svc     llm.Service
	replier Replier
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	jobs   chan replyJob
	wg     sync.WaitGroup
	once   sync.Once
}

// NewParticipant starts the reply workers immediately.
func NewParticipant(p *profile.Profile, st *store.Store, svc llm.Service, replier Replier, m *metrics.Metrics) *Participant {
	workers := p.AIWorkers
	if workers <= 0 {
		workers = 2
	}
	queueSize := p.AIQueueSize
	if queueSize <= 0 {
		queueSize = 32
	}

	ctx, cancel := context.WithCancel(context.Background())
	pa := &Participant{
		profile: p,
		store:   st,
		svc:     svc,
		replier: replier,
		metrics: m,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(chan replyJob, queueSize),
	}
	for i := 0; i < workers; i++ {
		pa.wg.Add(1)
		go func() {
			defer pa.wg.Done()
			for job := range pa.jobs {
				pa.reply(job)
			}
		}()
	}
	return pa
}

// Warmup pings the LLM backend once so the first real reply is not paying
// for connection setup.
func (p *Participant) Warmup(ctx context.Context) {
	p.svc.Warmup(ctx)
}

// Observe is called by the chat handler after a message has been
// persisted and broadcast. It never blocks: the reply decision is a few
// cheap checks plus at most one membership lookup, and the generation
// itself is queued.
func (p *Participant) Observe(ctx context.Context, msg *store.Message, group *store.ChatGroup) {
	if msg.SenderID == store.AIUserID {
		return
	}
	if !p.shouldReply(ctx, msg, group) {
		return
	}

	job := replyJob{
		groupID:   msg.GroupID,
		messageID: msg.ID,
		senderID:  msg.SenderID,
		content:   msg.Content,
	}
	select {
	case p.jobs <- job:
	default:
		slog.Warn("AI: reply queue full, dropping job",
			"group_id", job.groupID,
			"message_id", job.messageID,
		)
		p.metrics.RecordAIReply(metrics.AIOutcomeDroppedFull)
	}
}

// shouldReply applies the trigger rules to the sanitized content. Each
// clause can be switched off in the profile.
func (p *Participant) shouldReply(ctx context.Context, msg *store.Message, group *store.ChatGroup) bool {
	if p.profile.AITriggerPrivate && group.IsPrivate {
		isMember, err := p.store.IsMember(ctx, group.ID, store.AIUserID)
		if err != nil {
			slog.Error("AI: membership check failed", "group_id", group.ID, "error", err)
		} else if isMember {
			return true
		}
	}

	content := strings.ToLower(msg.Content)
	if p.profile.AITriggerMention && strings.Contains(content, "@ai") {
		return true
	}
	if p.profile.AITriggerKeywords {
		for _, keyword := range p.profile.AIKeywords {
			if keyword != "" && strings.Contains(content, strings.ToLower(keyword)) {
				return true
			}
		}
	}
	return false
}

func (p *Participant) reply(job replyJob) {
	history := p.rollingContext(job)
	prompt := p.profile.AISystemPrompt
	if prompt == "" {
		prompt = defaultSystemPrompt
	}
	messages := llm.FormatMessages(prompt, p.attributed(job.senderID, job.content), history)

	start := time.Now()
	text, err := p.svc.Chat(p.ctx, messages)
	p.metrics.RecordLLMLatency(time.Since(start))
	if err != nil {
		// Drop on backend failure; nothing is sent to the group.
		slog.Error("AI: reply generation failed",
			"group_id", job.groupID,
			"message_id", job.messageID,
			"error", err,
		)
		p.metrics.RecordAIReply(metrics.AIOutcomeFailed)
		return
	}
	text = strings.TrimSpace(text)
	if text == "" {
		slog.Warn("AI: empty reply, dropping", "group_id", job.groupID)
		p.metrics.RecordAIReply(metrics.AIOutcomeFailed)
		return
	}

	if err := p.replier.PostAIReply(p.ctx, job.groupID, text); err != nil {
		slog.Error("AI: failed to post reply", "group_id", job.groupID, "error", err)
		p.metrics.RecordAIReply(metrics.AIOutcomeFailed)
		return
	}
	p.metrics.RecordAIReply(metrics.AIOutcomeSent)
}

// rollingContext returns the last N group messages, oldest first, minus
// the triggering message itself and system notices.
func (p *Participant) rollingContext(job replyJob) []llm.Message {
	window := p.profile.AIContextWindow
	if window <= 0 {
		return nil
	}
	recent, err := p.store.ListRecentMessages(p.ctx, job.groupID, window)
	if err != nil {
		slog.Error("AI: failed to load context", "group_id", job.groupID, "error", err)
		return nil
	}

	var history []llm.Message
	for _, m := range recent {
		if m.ID == job.messageID || m.Kind == store.MessageKindSystem {
			continue
		}
		if m.SenderID == store.AIUserID {
			history = append(history, llm.AssistantMessage(m.Content))
			continue
		}
		history = append(history, llm.UserMessage(p.attributed(m.SenderID, m.Content)))
	}
	return history
}

// attributed prefixes content with the sender's username so the model can
// tell the speakers apart.
func (p *Participant) attributed(senderID int32, content string) string {
	user, err := p.store.GetUser(p.ctx, senderID)
	if err != nil || user == nil {
		return content
	}
	return fmt.Sprintf("%s: %s", user.Username, content)
}

// Shutdown stops accepting jobs and waits for in-flight replies. When the
// context expires first, in-flight LLM calls are cancelled.
func (p *Participant) Shutdown(ctx context.Context) {
	p.once.Do(func() { close(p.jobs) })

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		p.cancel()
		<-done
	}
	p.cancel()
}

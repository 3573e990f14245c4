// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package chat orchestrates a conversation turn.
//
// A turn is: persist the user's message, create an assistant placeholder,
// stream the completion into it, then seal the placeholder with the final
// text. The controller owns turn lifecycle (single-flight, retry,
// cancellation); the completion client and the session store are injected.
package chat

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/traychat/traychat/internal/api"
	"github.com/traychat/traychat/internal/config"
	"github.com/traychat/traychat/internal/model"
)

// Retry policy for transient completion failures. Retries happen only
// before the first chunk arrives; once content is flowing, a failure ends
// the turn with whatever streamed.
const (
	maxAttempts = 3
	backoffBase = 500 * time.Millisecond
	backoffCap  = 10 * time.Second
)

// ErrTurnInFlight indicates a send was attempted while a turn is running.
var ErrTurnInFlight = errors.New("a turn is already in progress")

// ErrEmptyInput indicates the user input was empty or whitespace.
var ErrEmptyInput = errors.New("empty input")

// Completer is the controller's view of the completion client.
type Completer interface {
	CompleteStream(ctx context.Context, messages []api.ChatMessage, opts api.Options, onChunk api.ChunkHandler) (string, error)
}

// History is the controller's view of the session store.
type History interface {
	ActiveSessionID() string
	CreateSession(seed string) (*model.Session, error)
	AppendMessage(msg *model.Message) error
	UpdateLastMessageContent(content string) error
	SealLastMessage(finalContent string) error
	RecentMessages(sessionID string, limit int) []*model.Message
}

// Controller runs conversation turns.
type Controller struct {
	client  Completer
	history History

	cfgMu sync.RWMutex
	cfg   *config.Config

	turnMu   sync.Mutex
	inFlight bool
	cancel   context.CancelFunc
}

// NewController creates a controller with the given collaborators.
func NewController(client Completer, history History, cfg *config.Config) *Controller {
	return &Controller{
		client:  client,
		history: history,
		cfg:     cfg,
	}
}

// UpdateConfig swaps the active configuration. Affects the next turn; a
// turn already in flight keeps the parameters it started with.
func (c *Controller) UpdateConfig(cfg *config.Config) {
	c.cfgMu.Lock()
	c.cfg = cfg
	c.cfgMu.Unlock()
}

// InFlight reports whether a turn is currently running.
func (c *Controller) InFlight() bool {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	return c.inFlight
}

// Cancel stops the current turn, if any. The partial reply streamed so far
// is kept and sealed.
func (c *Controller) Cancel() {
	c.turnMu.Lock()
	cancel := c.cancel
	c.turnMu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Send runs one conversation turn and blocks until it finishes. Returns
// the final assistant text. Only one turn runs at a time; a second Send
// while one is in flight returns ErrTurnInFlight.
//
// On cancellation the partial reply is sealed and returned along with
// context.Canceled. On a terminal error the placeholder is sealed with
// whatever streamed (possibly nothing) and the error is returned; callers
// render it with api.UserMessage.
func (c *Controller) Send(ctx context.Context, input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", ErrEmptyInput
	}

	turnCtx, err := c.beginTurn(ctx)
	if err != nil {
		return "", err
	}
	defer c.endTurn()

	chatCfg := c.chatConfig()

	// Lazy session creation: the first message opens the session and
	// seeds its title.
	sessionID := c.history.ActiveSessionID()
	if sessionID == "" {
		session, err := c.history.CreateSession(input)
		if err != nil {
			return "", err
		}
		sessionID = session.ID
	}

	if err := c.history.AppendMessage(model.NewUserMessage(sessionID, input)); err != nil {
		return "", err
	}

	window := c.requestWindow(sessionID, chatCfg.ContextWindow)

	if err := c.history.AppendMessage(model.NewAssistantPlaceholder(sessionID)); err != nil {
		return "", err
	}

	final, err := c.streamWithRetry(turnCtx, window, api.Options{
		Model:       chatCfg.Model,
		Temperature: chatCfg.Temperature,
		MaxTokens:   chatCfg.MaxTokens,
	})

	// Seal regardless of outcome: the placeholder keeps whatever
	// streamed, and late chunks from a cancelled stream are dropped.
	if sealErr := c.history.SealLastMessage(final); sealErr != nil {
		log.Printf("chat: failed to seal reply: %v", sealErr)
	}

	return final, err
}

// beginTurn claims the single-flight slot and derives a cancellable turn
// context.
func (c *Controller) beginTurn(ctx context.Context) (context.Context, error) {
	c.turnMu.Lock()
	defer c.turnMu.Unlock()
	if c.inFlight {
		return nil, ErrTurnInFlight
	}
	turnCtx, cancel := context.WithCancel(ctx)
	c.inFlight = true
	c.cancel = cancel
	return turnCtx, nil
}

func (c *Controller) endTurn() {
	c.turnMu.Lock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.inFlight = false
	c.turnMu.Unlock()
}

func (c *Controller) chatConfig() config.ChatConfig {
	c.cfgMu.RLock()
	defer c.cfgMu.RUnlock()
	return c.cfg.Chat
}

// requestWindow converts the session's most recent messages into request
// form. The window is taken before the placeholder is appended, so it ends
// with the user's new message.
func (c *Controller) requestWindow(sessionID string, limit int) []api.ChatMessage {
	recent := c.history.RecentMessages(sessionID, limit)
	window := make([]api.ChatMessage, 0, len(recent))
	for _, msg := range recent {
		if msg.Role == model.RoleAssistant && msg.Content == "" {
			continue
		}
		window = append(window, api.ChatMessage{
			Role:    msg.Role.String(),
			Content: msg.Content,
		})
	}
	return window
}

// streamWithRetry streams the completion into the placeholder, retrying
// transient failures with exponential backoff as long as nothing has
// streamed yet.
func (c *Controller) streamWithRetry(ctx context.Context, window []api.ChatMessage, opts api.Options) (string, error) {
	var accumulated strings.Builder

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			log.Printf("chat: retrying turn (attempt %d/%d)", attempt+1, maxAttempts)
		}

		chunkSeen := false
		final, err := c.client.CompleteStream(ctx, window, opts, func(fragment string) {
			chunkSeen = true
			accumulated.WriteString(fragment)
			if updErr := c.history.UpdateLastMessageContent(accumulated.String()); updErr != nil {
				log.Printf("chat: failed to update streaming reply: %v", updErr)
			}
		})
		if err == nil {
			return final, nil
		}

		// A reply that has started streaming is never restarted; a
		// retry would duplicate or contradict visible content.
		if chunkSeen || !api.IsRetryable(err) || attempt == maxAttempts-1 {
			return strings.TrimSpace(accumulated.String()), err
		}

		if waitErr := sleepBackoff(ctx, attempt, err); waitErr != nil {
			return strings.TrimSpace(accumulated.String()), waitErr
		}
	}

	// Unreachable; the loop always returns.
	return strings.TrimSpace(accumulated.String()), nil
}

// sleepBackoff waits out the backoff for the given attempt, honoring a
// server-provided Retry-After when it is longer.
func sleepBackoff(ctx context.Context, attempt int, cause error) error {
	delay := backoffBase << uint(attempt)
	if delay > backoffCap {
		delay = backoffCap
	}

	var rateErr *api.RateLimitError
	if errors.As(cause, &rateErr) && rateErr.RetryAfter > delay {
		delay = rateErr.RetryAfter
		if delay > backoffCap {
			delay = backoffCap
		}
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

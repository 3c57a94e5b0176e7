package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/conversation-service/internal/metrics"
	"github.com/chirino/conversation-service/internal/model"
	registrychat "github.com/chirino/conversation-service/internal/registry/chat"
	registrystore "github.com/chirino/conversation-service/internal/registry/store"
	registryvector "github.com/chirino/conversation-service/internal/registry/vector"
)

// NoMatchAnswer is returned, without calling the chat model, when no
// conversation is similar enough to the question.
const NoMatchAnswer = "I could not find any conversations matching your question in the selected date range."

const systemPrompt = `You answer questions about recorded customer conversations.
Use only the conversation summaries provided in the context. Answer in the first person.
Cite conversation ids when you refer to a conversation.
If the summaries do not contain the answer, say that it was not found. Never invent details.`

// Answer is the result of a question.
type Answer struct {
	Question string                           `json:"question"`
	Answer   string                           `json:"answer"`
	Matches  []registryvector.SimilarityMatch `json:"matches"`
	Model    string                           `json:"model,omitempty"`
}

// AnswerOptions tunes retrieval and generation.
type AnswerOptions struct {
	Threshold   float64
	MatchLimit  int
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// QueryAnswerer answers free-form questions from the conversation summaries
// most similar to the question.
type QueryAnswerer struct {
	index *EmbeddingIndex
	chat  registrychat.ChatCompleter
	opts  AnswerOptions
}

// NewQueryAnswerer creates a QueryAnswerer.
func NewQueryAnswerer(index *EmbeddingIndex, chat registrychat.ChatCompleter, opts AnswerOptions) *QueryAnswerer {
	if opts.MatchLimit <= 0 {
		opts.MatchLimit = 10
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 600
	}
	return &QueryAnswerer{index: index, chat: chat, opts: opts}
}

// Ask answers question using conversations within dateRange. Embedding,
// search and chat failures are DependencyUnavailableError; exceeding the
// configured timeout is a TimeoutError.
func (a *QueryAnswerer) Ask(ctx context.Context, question string, dateRange model.DateRange) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, &registrystore.ValidationError{Field: "question", Message: "must not be empty"}
	}
	if err := registrystore.ValidateDateRange(dateRange); err != nil {
		return nil, err
	}

	if a.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.opts.Timeout)
		defer cancel()
	}

	answer, err := a.ask(ctx, question, dateRange)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = &TimeoutError{Op: "ask", After: a.opts.Timeout}
		}
		metrics.ObserveAsk("error")
		log.Error("Answerer: ask failed", "err", err)
		return nil, err
	}
	if len(answer.Matches) == 0 {
		metrics.ObserveAsk("no_match")
	} else {
		metrics.ObserveAsk("answered")
	}
	return answer, nil
}

func (a *QueryAnswerer) ask(ctx context.Context, question string, dateRange model.DateRange) (*Answer, error) {
	vec, err := a.index.Embed(ctx, question)
	if err != nil {
		return nil, err
	}
	matches, err := a.index.Search(ctx, vec, dateRange, a.opts.MatchLimit, a.opts.Threshold)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return &Answer{Question: question, Answer: NoMatchAnswer, Matches: []registryvector.SimilarityMatch{}}, nil
	}

	if a.chat == nil {
		return nil, &DependencyUnavailableError{Service: "chat", Err: registrychat.ErrDisabled}
	}
	reply, err := a.chat.Complete(ctx, registrychat.Request{
		System:      systemPrompt,
		User:        BuildPrompt(question, matches),
		Temperature: a.opts.Temperature,
		MaxTokens:   a.opts.MaxTokens,
	})
	if err != nil {
		return nil, &DependencyUnavailableError{Service: "chat", Err: err}
	}
	log.Debug("Answerer: answered", "matches", len(matches), "model", a.chat.ModelName())
	return &Answer{Question: question, Answer: reply, Matches: matches, Model: a.chat.ModelName()}, nil
}

// BuildPrompt renders the context block, best match first, followed by the question.
func BuildPrompt(question string, matches []registryvector.SimilarityMatch) string {
	var b strings.Builder
	b.WriteString("Conversation summaries:\n\n")
	for _, m := range matches {
		summary := strings.TrimSpace(m.Summary)
		if summary == "" {
			summary = "(no summary)"
		}
		fmt.Fprintf(&b, "[%s] similarity %.3f\n%s\n\n", m.ExternalID, m.Score, summary)
	}
	b.WriteString("Question: ")
	b.WriteString(question)
	return b.String()
}

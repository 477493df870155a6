// Package chat turns free-text chat messages into query executions and
// meta-commands, and formats the results as chat replies.
package chat

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-sqlbot/pkg/definitions"
	"github.com/ekaya-inc/ekaya-sqlbot/pkg/models"
)

var (
	mentionPattern    = regexp.MustCompile(`<@[A-Z0-9]+>`)
	helpPattern       = regexp.MustCompile(`(?i)^help\s*$`)
	listPattern       = regexp.MustCompile(`(?i)^(queries|query)\s*$`)
	clearCachePattern = regexp.MustCompile(`(?i)^clear\s+cache\s+(.+)$`)
	reloadPattern     = regexp.MustCompile(`(?i)^reload\s+(queries|query)\s*$`)
)

// Results recorded through Metrics.
const (
	ResultHelp        = "help"
	ResultMeta        = "meta"
	ResultQuery       = "query"
	ResultRateLimited = "rate_limited"
	ResultUnmatched   = "unmatched"
)

// Definitions is the loader surface the chat handler needs.
type Definitions interface {
	GetByID(id string) (*models.QueryDefinition, bool)
	GetByTrigger(text string) (definitions.Entry, bool)
	GetAll() []definitions.Entry
	Reload() (definitions.ReloadStats, error)
}

// Runner executes queries and manages their cached results.
type Runner interface {
	Execute(ctx context.Context, def *models.QueryDefinition, params map[string]string, ec models.ExecutionContext) *models.QueryResult
	ClearCache(queryName string) int
	ClearAllCache() int
}

// Metrics counts handled messages.
type Metrics interface {
	ObserveChatMessage(result string)
}

// Message is one inbound chat message.
type Message struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
}

// Reply is the text sent back to the user.
type Reply struct {
	Text string `json:"text"`
}

// Deps contains the handler's collaborators. Limiter, Metrics and
// AfterReload are optional.
type Deps struct {
	Definitions Definitions
	Runner      Runner
	Limiter     *RateLimiter
	Metrics     Metrics
	AfterReload func()
	Logger      *zap.Logger
}

// Handler dispatches chat messages.
type Handler struct {
	deps   Deps
	logger *zap.Logger
}

// NewHandler creates a chat handler.
func NewHandler(deps Deps) *Handler {
	return &Handler{
		deps:   deps,
		logger: deps.Logger.Named("chat"),
	}
}

// Handle answers one message. The bool is false when nothing matched; the
// reply then carries the help text.
func (h *Handler) Handle(ctx context.Context, msg Message) (Reply, bool) {
	text := strings.TrimSpace(mentionPattern.ReplaceAllString(msg.Text, ""))

	switch {
	case helpPattern.MatchString(text):
		h.observe(ResultHelp)
		return Reply{Text: h.Help()}, true
	case listPattern.MatchString(text):
		h.observe(ResultMeta)
		return Reply{Text: h.listQueries()}, true
	case reloadPattern.MatchString(text):
		h.observe(ResultMeta)
		return Reply{Text: h.reload()}, true
	}
	if m := clearCachePattern.FindStringSubmatch(text); m != nil {
		h.observe(ResultMeta)
		return Reply{Text: h.clearCache(strings.TrimSpace(m[1]))}, true
	}

	entry, ok := h.deps.Definitions.GetByTrigger(text)
	if !ok {
		h.observe(ResultUnmatched)
		return Reply{Text: h.Help()}, false
	}
	return h.runQuery(ctx, msg.UserID, entry), true
}

func (h *Handler) runQuery(ctx context.Context, userID string, entry definitions.Entry) Reply {
	def := entry.Definition

	remaining := entry.Args
	if remaining == "" && len(def.RequiredParameters()) > 0 {
		h.observe(ResultQuery)
		return Reply{Text: strings.TrimSpace(def.Description)}
	}

	if h.deps.Limiter != nil {
		if allowed, wait := h.deps.Limiter.Check(userID); !allowed {
			h.observe(ResultRateLimited)
			return Reply{Text: fmt.Sprintf("Please wait %s before running another query.", countOf(wait, "second"))}
		}
	}

	tokens := strings.Fields(remaining)
	params := make(map[string]string, len(def.Parameters))
	for i, p := range def.Parameters {
		if i < len(tokens) {
			params[p.Name] = tokens[i]
		}
	}

	ec := models.NewExecutionContext(models.InterfaceChat, userID)
	h.logger.Info("Chat query",
		zap.String("query_id", entry.ID),
		zap.String("correlation_id", ec.CorrelationID),
		zap.String("user_id", userID))

	result := h.deps.Runner.Execute(ctx, def, params, ec)
	h.observe(ResultQuery)
	return Reply{Text: FormatResult(def, params, result)}
}

// Help lists the meta-commands followed by every trigger.
func (h *Handler) Help() string {
	lines := []string{
		"Available commands:",
		"- `queries` - List all available SQL queries",
		"- `clear cache <query|all>` - Clear query result cache",
		"- `reload queries` - Reload query definitions",
	}
	return strings.Join(append(lines, h.triggerLines()...), "\n")
}

func (h *Handler) listQueries() string {
	lines := h.triggerLines()
	if len(lines) == 0 {
		return "No queries available."
	}
	return "Available queries:\n\n" + strings.Join(lines, "\n")
}

func (h *Handler) triggerLines() []string {
	entries := h.deps.Definitions.GetAll()
	definitions.SortByTrigger(entries)

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- `%s` - %s", e.Definition.Trigger, e.Definition.ShortDescription()))
	}
	return lines
}

func (h *Handler) clearCache(target string) string {
	if strings.EqualFold(target, "all") {
		n := h.deps.Runner.ClearAllCache()
		return fmt.Sprintf("Cache cleared: all queries (%s)", countOf(n, "entry"))
	}

	def, ok := h.deps.Definitions.GetByID(target)
	if !ok {
		entry, found := h.deps.Definitions.GetByTrigger(target)
		if !found {
			return "Unknown query: " + target
		}
		def = entry.Definition
	}

	n := h.deps.Runner.ClearCache(def.Name)
	return fmt.Sprintf("Cache cleared for: %s (%s)", def.Name, countOf(n, "entry"))
}

func (h *Handler) reload() string {
	stats, err := h.deps.Definitions.Reload()
	if err != nil {
		h.logger.Error("Query reload failed", zap.Error(err))
		return "Failed to reload queries: " + err.Error()
	}
	if h.deps.AfterReload != nil {
		h.deps.AfterReload()
	}

	h.logger.Info("Query definitions reloaded",
		zap.Int("before", stats.Before),
		zap.Int("after", stats.After))

	var change string
	switch {
	case stats.After > stats.Before:
		change = fmt.Sprintf("%d new", stats.After-stats.Before)
	case stats.After < stats.Before:
		change = fmt.Sprintf("%d removed", stats.Before-stats.After)
	default:
		change = "no changes"
	}
	return fmt.Sprintf("Queries reloaded: %s loaded (%s)", countOf(stats.After, "query"), change)
}

func (h *Handler) observe(result string) {
	if h.deps.Metrics != nil {
		h.deps.Metrics.ObserveChatMessage(result)
	}
}

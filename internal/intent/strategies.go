package intent

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kalambet/dialogo/internal/catalog"
	"github.com/kalambet/dialogo/internal/engine"
	"github.com/kalambet/dialogo/internal/ordinal"
)

// guardStrategy short-circuits empty input and input without any letter or digit.
type guardStrategy struct {
	confidence float64
}

func (guardStrategy) Stage() Stage { return StageGuard }

func (g guardStrategy) TryClassify(_ context.Context, message string, _ Hints) (Result, bool) {
	if strings.IndexFunc(message, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) >= 0 {
		return Result{}, false
	}
	return fallbackResult(g.confidence, ""), true
}

var (
	greetWords   = []string{"ciao", "hello", "hi", "hey", "buongiorno", "buonasera", "salve", "good morning"}
	helpWords    = []string{"help", "aiuto", "cosa puoi fare", "what can you do", "comandi", "commands"}
	confirmWords = []string{
		"si", "sì", "yes", "y", "ok", "okay", "certo", "sure", "yes please", "sì grazie", "si grazie",
		"dettagli", "details", "mostra dettagli", "show details", "mostrami i dettagli", "va bene",
	}
	declineWords = []string{"no", "n", "no grazie", "no thanks", "nope", "non serve", "lascia stare", "niente"}
)

// heuristicStrategy resolves the most frequent, unambiguous inputs without
// calling the classifier. Confirmations, declines and bare numbers are only
// meaningful when the previous answer left details to show.
type heuristicStrategy struct {
	catalog    *catalog.Catalog
	confidence float64
}

func (heuristicStrategy) Stage() Stage { return StageHeuristic }

func (h heuristicStrategy) TryClassify(_ context.Context, message string, hints Hints) (Result, bool) {
	norm := catalog.Normalize(message)
	hit := func(id catalog.IntentID, slots map[string]string) (Result, bool) {
		if !h.catalog.Has(id) {
			return Result{}, false
		}
		if slots == nil {
			slots = map[string]string{}
		}
		return Result{Intent: id, Slots: slots, Confidence: h.confidence}, true
	}

	switch {
	case slices.Contains(greetWords, norm):
		return hit("greet", nil)
	case slices.Contains(helpWords, norm):
		return hit("help", nil)
	}

	if !hints.HasDetailContext {
		return Result{}, false
	}
	switch {
	case slices.Contains(confirmWords, norm):
		return hit("confirm_show_details", nil)
	case slices.Contains(declineWords, norm):
		return hit("decline_show_details", nil)
	}
	if n, ok := ordinal.Bare(message); ok && n > 0 {
		return hit("confirm_show_details", map[string]string{"choice": strconv.Itoa(n)})
	}
	return Result{}, false
}

// resultCache holds classifier results keyed by normalized message and
// detail-context flag.
type resultCache struct {
	lru *lru.Cache[string, Result]
}

func newResultCache(size int) (*resultCache, error) {
	c, err := lru.New[string, Result](size)
	if err != nil {
		return nil, fmt.Errorf("creating router cache: %w", err)
	}
	return &resultCache{lru: c}, nil
}

func cacheKey(message string, hints Hints) string {
	return catalog.Normalize(message) + "|" + strconv.FormatBool(hints.HasDetailContext)
}

func (c *resultCache) Get(key string) (Result, bool) {
	res, ok := c.lru.Get(key)
	if !ok {
		return Result{}, false
	}
	return res.clone(), true
}

func (c *resultCache) Add(key string, res Result) {
	c.lru.Add(key, res.clone())
}

func (c *resultCache) Len() int { return c.lru.Len() }

type cacheStrategy struct {
	cache *resultCache
}

func (cacheStrategy) Stage() Stage { return StageCache }

func (s cacheStrategy) TryClassify(_ context.Context, message string, hints Hints) (Result, bool) {
	return s.cache.Get(cacheKey(message, hints))
}

// classifierReply is the JSON contract of the classification call.
type classifierReply struct {
	Intent             string         `json:"intent"`
	Slots              map[string]any `json:"slots"`
	NeedsClarification any            `json:"needs_clarification"`
	Confidence         any            `json:"confidence"`
	Reasoning          string         `json:"reasoning"`
}

// llmStrategy asks the classifier model. It always answers: failures become
// fallback results, which are not cached.
type llmStrategy struct {
	catalog    *catalog.Catalog
	classifier engine.Querier
	slots      *SlotExtractor
	cache      *resultCache
	timeout    time.Duration
	defConf    float64
}

func (*llmStrategy) Stage() Stage { return StageLLM }

func (s *llmStrategy) TryClassify(ctx context.Context, message string, hints Hints) (Result, bool) {
	if s.classifier == nil {
		return fallbackResult(0, "no classifier configured"), true
	}
	known := s.slots.Extract(message)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	raw, err := s.classifier.Query(ctx, BuildPrompt(s.catalog, message, hints, known), engine.ChatOptions{Temperature: 0, JSON: true})
	if err != nil {
		slog.Warn("intent classification call failed", "error", err)
		return fallbackResult(0, "classifier call failed: "+err.Error()), true
	}

	var reply classifierReply
	if err := engine.DecodeJSONReply(raw, &reply); err != nil {
		slog.Warn("failed to parse classifier reply", "error", err, "response", raw)
		return fallbackResult(0, "malformed classifier output: "+err.Error()), true
	}
	id := catalog.IntentID(strings.TrimSpace(reply.Intent))
	if id == "" || !s.catalog.Has(id) {
		slog.Warn("classifier returned unknown intent", "intent", reply.Intent)
		return fallbackResult(0, fmt.Sprintf("classifier returned unknown intent %q", reply.Intent)), true
	}

	res := Result{
		Intent:             id,
		Slots:              s.slots.Merge(reply.Slots, known),
		NeedsClarification: reply.NeedsClarification == true,
		Confidence:         clampConfidence(reply.Confidence, s.defConf),
		Reasoning:          reply.Reasoning,
	}
	res = validate(s.catalog, res)
	s.cache.Add(cacheKey(message, hints), res)
	return res, true
}

func clampConfidence(v any, def float64) float64 {
	f, ok := v.(float64)
	if !ok {
		return def
	}
	return min(max(f, 0), 1)
}

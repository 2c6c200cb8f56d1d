package oracle

import (
	"context"
	"time"

	"github.com/tidwall/gjson"

	"flowgate/internal/config"
	"flowgate/internal/logger"
	"flowgate/internal/types"
)

// ModelCaller abstracts the chat endpoint so tests can stub the model.
type ModelCaller interface {
	CallWithMessages(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// ChatEvaluator implements Evaluator over an OpenAI-compatible endpoint. One
// model call covers the whole batch.
type ChatEvaluator struct {
	client ModelCaller
	now    func() time.Time
}

func NewChatEvaluator(cfg config.OracleConfig) *ChatEvaluator {
	return &ChatEvaluator{
		client: &ChatClient{
			BaseURL:    cfg.APIURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			Timeout:    time.Duration(cfg.TimeoutSeconds) * time.Second,
			MaxRetries: cfg.MaxRetries,
		},
		now: time.Now,
	}
}

// NewChatEvaluatorWithCaller wires a custom model caller, used by tests.
func NewChatEvaluatorWithCaller(caller ModelCaller, now func() time.Time) *ChatEvaluator {
	if now == nil {
		now = time.Now
	}
	return &ChatEvaluator{client: caller, now: now}
}

// Evaluate scores all candidates in one call. The whole call failing returns
// an error; the scheduler decides the batch-level fallout. A per-element
// failure is confined to that signal's Recommendation.Err.
func (e *ChatEvaluator) Evaluate(ctx context.Context, batch Batch) ([]Recommendation, error) {
	if len(batch.Candidates) == 0 {
		return nil, nil
	}
	raw, err := e.client.CallWithMessages(ctx, evaluateSystemPrompt, buildEvaluatePrompt(batch, e.now()))
	if err != nil {
		return nil, &OracleError{Reason: "model call failed", Err: err}
	}

	arr, err := extractArray(raw)
	if err != nil {
		return nil, &OracleError{Reason: err.Error(), Err: err}
	}

	// Index valid elements by signal id; invalid elements are dropped here
	// and surface per-signal below.
	bySignal := make(map[string]Recommendation)
	gjson.Parse(arr).ForEach(func(_, el gjson.Result) bool {
		if err := validateElement(el, recommendationSchema); err != nil {
			logger.Warnf("oracle: dropping invalid response element: %v", err)
			return true
		}
		rec := Recommendation{
			SignalID:   el.Get("signal_id").String(),
			Conviction: int(el.Get("conviction").Int()),
			Thesis:     el.Get("thesis").String(),
		}
		bySignal[rec.SignalID] = rec
		return true
	})

	out := make([]Recommendation, 0, len(batch.Candidates))
	for _, sig := range batch.Candidates {
		if rec, ok := bySignal[sig.ID]; ok {
			out = append(out, rec)
			continue
		}
		out = append(out, Recommendation{
			SignalID: sig.ID,
			Err:      &OracleError{SignalID: sig.ID, Reason: "no valid response element"},
		})
	}
	return out, nil
}

// ReviewPositions re-evaluates open positions in one call. Positions missing
// a valid element are omitted; the exit rules treat a missing review as
// no new information.
func (e *ChatEvaluator) ReviewPositions(ctx context.Context, positions []types.Position, market types.MarketContext, risk types.PortfolioRiskState) ([]PositionReview, error) {
	if len(positions) == 0 {
		return nil, nil
	}
	raw, err := e.client.CallWithMessages(ctx, reviewSystemPrompt, buildReviewPrompt(positions, market, risk, e.now()))
	if err != nil {
		return nil, &OracleError{Reason: "model call failed", Err: err}
	}
	arr, err := extractArray(raw)
	if err != nil {
		return nil, &OracleError{Reason: err.Error(), Err: err}
	}

	known := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		known[p.ContractSymbol] = struct{}{}
	}
	out := make([]PositionReview, 0, len(positions))
	gjson.Parse(arr).ForEach(func(_, el gjson.Result) bool {
		if err := validateElement(el, reviewSchema); err != nil {
			logger.Warnf("oracle: dropping invalid review element: %v", err)
			return true
		}
		symbol := el.Get("contract_symbol").String()
		if _, ok := known[symbol]; !ok {
			logger.Warnf("oracle: review references unknown contract %s", symbol)
			return true
		}
		out = append(out, PositionReview{
			ContractSymbol: symbol,
			Conviction:     int(el.Get("conviction").Int()),
			ThesisIntact:   el.Get("thesis_intact").Bool(),
			Note:           el.Get("note").String(),
		})
		return true
	})
	return out, nil
}

package quality

import (
	"bytes"
	"encoding/json"
)

// Strategy applies a source-specific adjustment to the base score. It
// receives the decoded JSON body and returns a signed delta.
type Strategy func(body any) int

// Scorer rates a single raw response body 0-100 by completeness plus
// source-specific heuristics. Scoring is deterministic and knows nothing
// about circuit or health state.
type Scorer struct {
	strategies map[string]Strategy
}

// NewScorer creates a scorer with the default source strategies.
func NewScorer() *Scorer {
	return &Scorer{strategies: defaultStrategies()}
}

// RegisterStrategy installs (or replaces) the adjustment for a source.
func (s *Scorer) RegisterStrategy(source string, strategy Strategy) {
	s.strategies[source] = strategy
}

// Score rates body for the named source, clamped to [0, 100].
func (s *Scorer) Score(body []byte, source string) int {
	score := 100

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return clamp(score - 50)
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		// Unparseable bodies are as good as absent.
		return clamp(score - 50)
	}

	if obj, ok := decoded.(map[string]any); ok {
		score -= objectPenalty(obj)
	}

	if strategy, ok := s.strategies[source]; ok {
		score += strategy(decoded)
	}

	return clamp(score)
}

// objectPenalty charges sparse objects: empty objects, objects with very few
// fields, and objects dominated by null/empty-string values.
func objectPenalty(obj map[string]any) int {
	penalty := 0
	if len(obj) == 0 {
		// Zero fields trips both the empty and the sparse charge.
		return 30 + 15
	}
	if len(obj) < 3 {
		penalty += 15
	}

	empty := 0
	for _, v := range obj {
		if v == nil {
			empty++
			continue
		}
		if s, ok := v.(string); ok && s == "" {
			empty++
		}
	}
	penalty += int(20 * float64(empty) / float64(len(obj)))

	return penalty
}

func defaultStrategies() map[string]Strategy {
	return map[string]Strategy{
		// Music metadata: a useful response carries release groups.
		"musicbrainz": expectArrayField("releases"),
		// Encyclopedia summaries: the extract text is the payload.
		"wikipedia": func(body any) int {
			obj, ok := body.(map[string]any)
			if !ok {
				return 0
			}
			if s, ok := obj["extract"].(string); ok && s != "" {
				return 10
			}
			return -15
		},
		// Lexical sources answer with a top-level array of matches.
		"datamuse": expectArray(),
		"wordnik":  expectArray(),
	}
}

// expectArrayField rewards a non-empty array under the named key and
// penalizes its absence.
func expectArrayField(key string) Strategy {
	return func(body any) int {
		obj, ok := body.(map[string]any)
		if !ok {
			return 0
		}
		if arr, ok := obj[key].([]any); ok && len(arr) > 0 {
			return 10
		}
		return -20
	}
}

// expectArray rewards a non-empty top-level array body.
func expectArray() Strategy {
	return func(body any) int {
		arr, ok := body.([]any)
		if !ok {
			return 0
		}
		if len(arr) > 0 {
			return 10
		}
		return -20
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

package quality

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScore_EmptyBody(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 50, s.Score(nil, "unknown"))
	assert.Equal(t, 50, s.Score([]byte("  "), "unknown"))
	assert.Equal(t, 50, s.Score([]byte("null"), "unknown"))
	assert.Equal(t, 50, s.Score([]byte("{not json"), "unknown"))
}

func TestScore_EmptyObject(t *testing.T) {
	s := NewScorer()
	// -30 empty object, -15 fewer than 3 fields.
	assert.Equal(t, 55, s.Score([]byte(`{}`), "unknown"))
}

func TestScore_EmptyObjectPenaltiesAccumulate(t *testing.T) {
	s := NewScorer()

	// An empty object is charged the sparse-object penalty on top of the
	// empty one, so it scores strictly worse than any object with fields.
	empty := s.Score([]byte(`{}`), "unknown")
	sparse := s.Score([]byte(`{"a":1}`), "unknown")
	assert.Less(t, empty, sparse)
	assert.Equal(t, 55, empty)
}

func TestScore_FewFields(t *testing.T) {
	s := NewScorer()
	assert.Equal(t, 85, s.Score([]byte(`{"a":1,"b":2}`), "unknown"))
	assert.Equal(t, 100, s.Score([]byte(`{"a":1,"b":2,"c":3}`), "unknown"))
}

func TestScore_NullAndEmptyFieldsPenalty(t *testing.T) {
	s := NewScorer()

	// 2 of 4 fields empty: -int(20*0.5) = -10.
	body := []byte(`{"a":1,"b":null,"c":"","d":"x"}`)
	assert.Equal(t, 90, s.Score(body, "unknown"))

	// All fields empty: the full -20.
	body = []byte(`{"a":null,"b":null,"c":"","d":null}`)
	assert.Equal(t, 80, s.Score(body, "unknown"))
}

func TestScore_MusicbrainzStrategy(t *testing.T) {
	s := NewScorer()

	withReleases := []byte(`{"title":"x","artist":"y","releases":[{"id":"1"}]}`)
	assert.Equal(t, 100, s.Score(withReleases, "musicbrainz")) // 100 + 10 clamped

	noReleases := []byte(`{"title":"x","artist":"y","releases":[]}`)
	assert.Equal(t, 80, s.Score(noReleases, "musicbrainz"))
}

func TestScore_WikipediaStrategy(t *testing.T) {
	s := NewScorer()

	withExtract := []byte(`{"title":"Go","pageid":1,"extract":"Go is a language"}`)
	assert.Equal(t, 100, s.Score(withExtract, "wikipedia"))

	emptyExtract := []byte(`{"title":"Go","pageid":1,"extract":""}`)
	// 1 of 3 fields empty: -int(20/3) = -6, then -15 strategy.
	assert.Equal(t, 79, s.Score(emptyExtract, "wikipedia"))
}

func TestScore_ArraySources(t *testing.T) {
	s := NewScorer()

	assert.Equal(t, 100, s.Score([]byte(`[{"word":"cat"}]`), "datamuse"))
	assert.Equal(t, 80, s.Score([]byte(`[]`), "datamuse"))
	assert.Equal(t, 100, s.Score([]byte(`[{"word":"cat"}]`), "wordnik"))
}

func TestScore_Deterministic(t *testing.T) {
	s := NewScorer()
	body := []byte(`{"a":1,"b":null}`)
	first := s.Score(body, "unknown")
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, s.Score(body, "unknown"))
	}
}

func TestScore_ClampedToRange(t *testing.T) {
	s := NewScorer()
	s.RegisterStrategy("greedy", func(body any) int { return 500 })
	s.RegisterStrategy("harsh", func(body any) int { return -500 })

	body := []byte(`{"a":1,"b":2,"c":3}`)
	assert.Equal(t, 100, s.Score(body, "greedy"))
	assert.Equal(t, 0, s.Score(body, "harsh"))
}

package intent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	response string
	err      error
	called   bool
}

func (s *stubLLM) Complete(ctx context.Context, prompt string) (string, error) {
	s.called = true
	return s.response, s.err
}

func TestClassifyPatternFastPath(t *testing.T) {
	stub := &stubLLM{response: `{"intent":"discussion","confidence":0.9}`}
	c := NewClassifier(stub, 0)

	res, err := c.Classify(context.Background(), "Please create a ticket for the login bug", Context{})
	require.NoError(t, err)
	assert.Equal(t, IntentTicket, res.Intent)
	assert.Equal(t, 1.0, res.Confidence)
	assert.False(t, stub.called, "pattern match must not reach the model")
}

func TestClassifyNegationVetoesPattern(t *testing.T) {
	stub := &stubLLM{response: `{"intent":"discussion","confidence":0.9,"reason":"chatting"}`}
	c := NewClassifier(stub, 0)

	res, err := c.Classify(context.Background(), "don't create a ticket for this, just noting it", Context{})
	require.NoError(t, err)
	assert.True(t, stub.called, "negated trigger should fall through to the model")
	assert.Equal(t, IntentDiscussion, res.Intent)
}

func TestClassifyLLMFallback(t *testing.T) {
	stub := &stubLLM{response: "```json\n{\"intent\": \"review\", \"confidence\": 0.82, \"reason\": \"asks for recap\"}\n```"}
	c := NewClassifier(stub, 0)

	res, err := c.Classify(context.Background(), "could you pull together what we agreed on here?", Context{})
	require.NoError(t, err)
	assert.Equal(t, IntentReview, res.Intent)
	assert.InDelta(t, 0.82, res.Confidence, 0.001)
}

func TestClassifyLowConfidenceBecomesAmbiguous(t *testing.T) {
	stub := &stubLLM{response: `{"intent":"ticket","confidence":0.4}`}
	c := NewClassifier(stub, 0.65)

	res, err := c.Classify(context.Background(), "hmm maybe we should do something about that", Context{})
	require.NoError(t, err)
	assert.Equal(t, IntentAmbiguous, res.Intent, "low confidence must never resolve to a concrete intent")
}

func TestClassifyModelFailureIsAmbiguousNotError(t *testing.T) {
	stub := &stubLLM{err: errors.New("invalid api key")}
	c := NewClassifier(stub, 0)

	res, err := c.Classify(context.Background(), "what do you think about microservices?", Context{})
	require.NoError(t, err)
	assert.Equal(t, IntentAmbiguous, res.Intent)
}

func TestClassifyUnknownLabelIsAmbiguous(t *testing.T) {
	stub := &stubLLM{response: `{"intent":"banana","confidence":0.99}`}
	c := NewClassifier(stub, 0)

	res, err := c.Classify(context.Background(), "something odd", Context{})
	require.NoError(t, err)
	assert.Equal(t, IntentAmbiguous, res.Intent)
}

func TestClassifyNoModelConfigured(t *testing.T) {
	c := NewClassifier(nil, 0)

	res, err := c.Classify(context.Background(), "what do you think?", Context{})
	require.NoError(t, err)
	assert.Equal(t, IntentAmbiguous, res.Intent)
}

package scopegate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threadscribe/internal/intent"
	"github.com/threadscribe/internal/session"
	"github.com/threadscribe/internal/workflow"
)

func TestPresentChoicePausesSession(t *testing.T) {
	g := New()
	sess := session.New("t1", "chan-1", "thr-1")

	resp := g.PresentChoice(sess)
	require.NotNil(t, resp)
	assert.Len(t, resp.Options, 3)
	assert.Equal(t, workflow.StepScopeGate, sess.Step)
	assert.Equal(t, workflow.PendingScopeChoice, sess.Pending)
	assert.Equal(t, sess.UIVersion, resp.UIVersion)
}

func TestResolveReviewWithRemember(t *testing.T) {
	g := New()
	sess := session.New("t1", "chan-1", "thr-1")
	g.PresentChoice(sess)

	got, err := g.Resolve(sess, workflow.ActionChooseReview, true)
	require.NoError(t, err)
	assert.Equal(t, intent.IntentReview, got)
	assert.Equal(t, workflow.PendingNone, sess.Pending)
	assert.Equal(t, string(intent.IntentReview), sess.ActiveDefaultIntent(time.Now()))
}

func TestResolveWithoutRememberLeavesNoDefault(t *testing.T) {
	g := New()
	sess := session.New("t1", "chan-1", "thr-1")
	g.PresentChoice(sess)

	got, err := g.Resolve(sess, workflow.ActionChooseTicket, false)
	require.NoError(t, err)
	assert.Equal(t, intent.IntentTicket, got)
	assert.Empty(t, sess.ActiveDefaultIntent(time.Now()))
}

func TestDismissNeverRemembers(t *testing.T) {
	g := New()
	sess := session.New("t1", "chan-1", "thr-1")
	g.PresentChoice(sess)

	got, err := g.Resolve(sess, workflow.ActionDismiss, true)
	require.NoError(t, err)
	assert.Equal(t, intent.IntentDiscussion, got)
	assert.Empty(t, sess.ActiveDefaultIntent(time.Now()))
}

func TestRememberedIntentExpires(t *testing.T) {
	g := NewWithTTL(time.Minute)
	sess := session.New("t1", "chan-1", "thr-1")
	g.PresentChoice(sess)

	_, err := g.Resolve(sess, workflow.ActionChooseReview, true)
	require.NoError(t, err)

	assert.NotEmpty(t, sess.ActiveDefaultIntent(time.Now()))
	assert.Empty(t, sess.ActiveDefaultIntent(time.Now().Add(2*time.Minute)))
}

func TestForgetClearsMemoryEarly(t *testing.T) {
	g := New()
	sess := session.New("t1", "chan-1", "thr-1")
	g.PresentChoice(sess)
	_, err := g.Resolve(sess, workflow.ActionChooseReview, true)
	require.NoError(t, err)

	g.Forget(sess)
	assert.Empty(t, sess.ActiveDefaultIntent(time.Now()))
}

func TestResolveUnknownChoice(t *testing.T) {
	g := New()
	sess := session.New("t1", "chan-1", "thr-1")
	g.PresentChoice(sess)

	_, err := g.Resolve(sess, "something_else", false)
	assert.Error(t, err)
}

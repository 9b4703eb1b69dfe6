package workerauth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefactory/orchestrator/pkg/workerauth"
)

func TestIssueAndValidate(t *testing.T) {
	issuer := workerauth.NewIssuer(time.Hour, nil)
	token, err := issuer.Issue("worker-1", "item-1")
	require.NoError(t, err)

	got, err := issuer.Validate(token.Value)
	require.NoError(t, err)
	assert.Equal(t, "worker-1", got.WorkerID)
	assert.Equal(t, "item-1", got.WorkItemID)
}

func TestValidate_UnknownToken(t *testing.T) {
	issuer := workerauth.NewIssuer(time.Hour, nil)
	_, err := issuer.Validate("nonexistent")
	assert.Error(t, err)
}

func TestIssue_ReplacesPriorTokenForSameWorker(t *testing.T) {
	issuer := workerauth.NewIssuer(time.Hour, nil)
	first, err := issuer.Issue("worker-1", "item-1")
	require.NoError(t, err)

	second, err := issuer.Issue("worker-1", "item-1")
	require.NoError(t, err)

	_, err = issuer.Validate(first.Value)
	assert.Error(t, err, "issuing a new token invalidates the old one")

	_, err = issuer.Validate(second.Value)
	assert.NoError(t, err)
}

func TestValidate_ExpiredToken(t *testing.T) {
	clock := time.Now()
	issuer := workerauth.NewIssuer(time.Minute, func() time.Time { return clock })
	token, err := issuer.Issue("worker-1", "item-1")
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	_, err = issuer.Validate(token.Value)
	assert.Error(t, err)
}

func TestRevoke(t *testing.T) {
	issuer := workerauth.NewIssuer(time.Hour, nil)
	token, err := issuer.Issue("worker-1", "item-1")
	require.NoError(t, err)

	issuer.Revoke("worker-1")
	_, err = issuer.Validate(token.Value)
	assert.Error(t, err)
}

func TestSweep_RemovesOnlyExpired(t *testing.T) {
	clock := time.Now()
	issuer := workerauth.NewIssuer(time.Minute, func() time.Time { return clock })
	_, err := issuer.Issue("worker-1", "item-1")
	require.NoError(t, err)

	clock = clock.Add(2 * time.Minute)
	_, err = issuer.Issue("worker-2", "item-2")
	require.NoError(t, err)

	removed := issuer.Sweep()
	assert.Equal(t, 1, removed)
}

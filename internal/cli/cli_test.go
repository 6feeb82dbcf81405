package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example.com/carevisits/internal/app"
	"example.com/carevisits/internal/config"
	"example.com/carevisits/internal/domain"
	"example.com/carevisits/internal/offline"
	"example.com/carevisits/internal/persistence/memory"
	authlib "example.com/carevisits/libs/auth"
)

var testConfig = config.Config{
	JWTSecret:       "test-secret",
	JWTIssuer:       "care.identity",
	SyncConcurrency: 2,
}

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	repo := memory.NewStore()
	now := time.Now().UTC()
	for _, v := range []domain.Visit{
		{ID: "visit-1", ClientID: "client-1", StaffID: "staff-1", ScheduledStart: now, ScheduledEnd: now.Add(time.Hour), Status: domain.VisitScheduled},
		{ID: "visit-2", ClientID: "client-2", StaffID: "staff-2", ScheduledStart: now, ScheduledEnd: now.Add(time.Hour), Status: domain.VisitScheduled},
	} {
		repo.SeedVisit(v)
	}
	return app.New(repo, testConfig, log.New(io.Discard, "", 0))
}

func execute(t *testing.T, a *app.App, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand(testConfig, func(context.Context) (*app.App, error) { return a, nil })
	cmd.SetOut(buf)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func submitCheckIn(t *testing.T, a *app.App, staffID, visitID string, at time.Time) domain.OfflineRecord {
	t.Helper()
	rec, err := a.Records.Accept(context.Background(), offline.AcceptInput{
		StaffID:         staffID,
		Type:            domain.RecordCheckIn,
		Payload:         json.RawMessage(`{"visit_id":"` + visitID + `"}`),
		DeviceTimestamp: at,
	})
	require.NoError(t, err)
	return rec
}

func TestSyncSingleStaff(t *testing.T) {
	a := newTestApp(t)
	submitCheckIn(t, a, "staff-1", "visit-1", time.Now().UTC().Add(-5*time.Minute))

	out, err := execute(t, a, "sync", "--staff", "staff-1")
	require.NoError(t, err)
	assert.Contains(t, out, "staff staff-1: 1 synced, 0 failed, 0 to review")

	visit, err := a.Visits.GetVisit(context.Background(), "visit-1")
	require.NoError(t, err)
	assert.Equal(t, domain.VisitInProgress, visit.Status)
}

func TestSyncAllJSON(t *testing.T) {
	a := newTestApp(t)
	submitCheckIn(t, a, "staff-1", "visit-1", time.Now().UTC().Add(-5*time.Minute))
	submitCheckIn(t, a, "staff-2", "visit-2", time.Now().UTC().Add(-5*time.Minute))

	out, err := execute(t, a, "sync", "--all", "--format", "json")
	require.NoError(t, err)

	var results []offline.SyncResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 2)
	for _, res := range results {
		assert.Equal(t, 1, res.SyncedCount)
	}

	out, err = execute(t, a, "sync", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending records.")
}

func TestSyncRequiresTarget(t *testing.T) {
	a := newTestApp(t)

	_, err := execute(t, a, "sync")
	require.Error(t, err)

	_, err = execute(t, a, "sync", "--staff", "staff-1", "--all")
	require.Error(t, err)
}

func TestReviewListAndResolve(t *testing.T) {
	a := newTestApp(t)
	_, err := a.Visits.StartVisit(context.Background(), "visit-1", "staff-1", nil)
	require.NoError(t, err)
	rec := submitCheckIn(t, a, "staff-1", "visit-1", time.Now().UTC().Add(-20*time.Minute))

	out, err := execute(t, a, "sync", "--staff", "staff-1")
	require.NoError(t, err)
	assert.Contains(t, out, "1 to review")
	assert.Contains(t, out, "conflict "+rec.ID+" (overlap)")

	out, err = execute(t, a, "review", "list")
	require.NoError(t, err)
	assert.Contains(t, out, rec.ID)
	assert.Contains(t, out, "overlap on actualStart")

	out, err = execute(t, a, "review", "list", "--format", "json")
	require.NoError(t, err)
	var page struct {
		Items []domain.OfflineRecord `json:"items"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &page))
	require.Len(t, page.Items, 1)

	out, err = execute(t, a, "review", "resolve", rec.ID, "--reviewer", "supervisor-1", "--notes", "kept live clock-in")
	require.NoError(t, err)
	assert.Equal(t, "resolved "+rec.ID+" (resolved)\n", out)

	_, err = execute(t, a, "review", "resolve", rec.ID, "--reviewer", "supervisor-1")
	require.ErrorIs(t, err, domain.ErrInvalidState)

	out, err = execute(t, a, "review", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No records awaiting review.")
}

func TestReviewListRejectsBadCursor(t *testing.T) {
	a := newTestApp(t)

	_, err := execute(t, a, "review", "list", "--cursor", "!!!")
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestTokenRoundTrip(t *testing.T) {
	out, err := execute(t, nil, "token", "--subject", "supervisor-1", "--role", "reviewer")
	require.NoError(t, err)

	claims, err := authlib.Parse(strings.TrimSpace(out), authlib.Config{Secret: testConfig.JWTSecret, Issuer: testConfig.JWTIssuer})
	require.NoError(t, err)
	assert.Equal(t, "supervisor-1", claims.Subject)
	assert.Contains(t, claims.Scopes, "offline:review")
	assert.NotContains(t, claims.Scopes, "offline:write")

	_, err = execute(t, nil, "token", "--subject", "x", "--role", "admin")
	require.ErrorContains(t, err, "unknown role")
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, nil, "token", "--subject", "x", "--format", "yaml")
	require.ErrorContains(t, err, "invalid format")
}

package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tangled.sh/tangled.sh/runner/notifier"
	"tangled.sh/tangled.sh/runner/spindle/models"
	"tangled.sh/tangled.sh/runner/workflow"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Make(filepath.Join(t.TempDir(), "spindle.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRunLifecycle(t *testing.T) {
	d := newTestDB(t)
	n := notifier.New()
	ch := n.Subscribe()
	defer n.Unsubscribe(ch)

	id := models.RunId{Workflow: "ci", Rkey: models.TID()}
	ev := workflow.Event{Kind: "push", Ref: "refs/heads/main", Actor: "alice"}

	require.NoError(t, d.CreateRun(id, ev, n))
	select {
	case <-ch:
	default:
		t.Fatal("expected a notification")
	}

	run, err := d.GetRun(id.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindPending, run.Status)
	assert.Equal(t, ev, run.Event)
	assert.Equal(t, id, run.Id)
	assert.Nil(t, run.Result)
	assert.True(t, run.StartedAt.IsZero())

	require.NoError(t, d.MarkRunRunning(id, n))
	run, err = d.GetRun(id.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindRunning, run.Status)
	assert.False(t, run.StartedAt.IsZero())

	result := &models.RunResult{
		Workflow: "ci",
		Status:   models.StatusKindFailure,
		Jobs:     []models.JobResult{{Name: "build", Status: models.StatusKindFailure, FailedStep: "test"}},
	}
	require.NoError(t, d.FinishRun(id, result, nil, n))

	run, err = d.GetRun(id.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindFailure, run.Status)
	assert.Equal(t, 1, run.ExitCode)
	require.NotNil(t, run.Result)
	assert.Equal(t, "test", run.Result.Jobs[0].FailedStep)
	assert.Equal(t, id, run.Result.Id)
}

func TestFinishRunWithError(t *testing.T) {
	d := newTestDB(t)
	id := models.RunId{Workflow: "ci", Rkey: models.TID()}

	require.NoError(t, d.CreateRun(id, workflow.Event{Kind: "manual"}, nil))
	require.NoError(t, d.FinishRun(id, nil, errors.New("no secrets"), nil))

	run, err := d.GetRun(id.String())
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindFailure, run.Status)
	assert.Equal(t, "no secrets", run.Error)
}

func TestCreateRunTwice(t *testing.T) {
	d := newTestDB(t)
	id := models.NewRunId("ci")

	require.NoError(t, d.CreateRun(id, workflow.Event{Kind: "manual", Actor: "alice"}, nil))
	require.NoError(t, d.CreateRun(id, workflow.Event{Kind: "manual", Actor: "bob"}, nil))

	run, err := d.GetRun(id.String())
	require.NoError(t, err)
	assert.Equal(t, "alice", run.Event.Actor)
}

func TestGetRunNotFound(t *testing.T) {
	d := newTestDB(t)
	_, err := d.GetRun("nope")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestListRuns(t *testing.T) {
	d := newTestDB(t)

	var ids []models.RunId
	for range 3 {
		id := models.NewRunId("ci")
		ids = append(ids, id)
		require.NoError(t, d.CreateRun(id, workflow.Event{Kind: "manual"}, nil))
	}

	runs, err := d.ListRuns(2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, ids[2], runs[0].Id)
	assert.Equal(t, ids[1], runs[1].Id)
}

func TestStatusEvents(t *testing.T) {
	d := newTestDB(t)
	id := models.RunId{Workflow: "ci", Rkey: models.TID()}
	other := models.RunId{Workflow: "ci", Rkey: models.TID()}

	base := time.Now()
	for i, s := range []models.StatusKind{models.StatusKindPending, models.StatusKindRunning, models.StatusKindSuccess} {
		require.NoError(t, d.CreateStatusEvent(models.StatusEvent{
			Run:       id.String(),
			Workflow:  "ci",
			Job:       "build",
			Status:    s,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}, nil))
	}
	require.NoError(t, d.CreateStatusEvent(models.StatusEvent{
		Run:       id.String(),
		Workflow:  "ci",
		Job:       "build",
		Step:      "compile",
		Status:    models.StatusKindSuccess,
		CreatedAt: base.Add(1500 * time.Microsecond),
	}, nil))
	require.NoError(t, d.CreateStatusEvent(models.StatusEvent{
		Run:       other.String(),
		Workflow:  "ci",
		Job:       "build",
		Status:    models.StatusKindPending,
		CreatedAt: base.Add(10 * time.Millisecond),
	}, nil))

	status, err := d.GetStatus(id, "build")
	require.NoError(t, err)
	assert.Equal(t, models.StatusKindSuccess, status.Status)

	evts, err := d.GetRunEvents(id)
	require.NoError(t, err)
	require.Len(t, evts, 4)
	assert.Equal(t, models.StatusKindPending, evts[0].Status)
	assert.Equal(t, "compile", evts[3].Step)

	all, err := d.GetEvents(0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, EventKindStep, all[3].Kind)

	after, err := d.GetEvents(all[2].Id)
	require.NoError(t, err)
	assert.Len(t, after, 2)
}

func TestEventsCursorFollowsCommitOrder(t *testing.T) {
	d := newTestDB(t)
	id := models.NewRunId("ci")
	t1 := time.Now()
	t2 := t1.Add(time.Second)

	// job b stamped its event later but committed first
	require.NoError(t, d.CreateStatusEvent(models.StatusEvent{Run: id.String(), Job: "b", Status: models.StatusKindRunning, CreatedAt: t2}, nil))

	page, err := d.GetEvents(0)
	require.NoError(t, err)
	require.Len(t, page, 1)
	cursor := page[0].Id

	require.NoError(t, d.CreateStatusEvent(models.StatusEvent{Run: id.String(), Job: "a", Status: models.StatusKindRunning, CreatedAt: t1}, nil))

	page, err = d.GetEvents(cursor)
	require.NoError(t, err)
	require.Len(t, page, 1)

	var ev models.StatusEvent
	require.NoError(t, json.Unmarshal([]byte(page[0].EventJson), &ev))
	assert.Equal(t, "a", ev.Job)
	assert.Greater(t, page[0].Id, cursor)
}

func TestEventsPaging(t *testing.T) {
	d := newTestDB(t)
	id := models.NewRunId("ci")

	for i := range eventsPageSize + 5 {
		require.NoError(t, d.CreateStatusEvent(models.StatusEvent{
			Run:    id.String(),
			Job:    fmt.Sprintf("job-%d", i),
			Status: models.StatusKindPending,
		}, nil))
	}

	first, err := d.GetEvents(0)
	require.NoError(t, err)
	require.Len(t, first, eventsPageSize)

	rest, err := d.GetEvents(first[len(first)-1].Id)
	require.NoError(t, err)
	assert.Len(t, rest, 5)
}

func TestMakeReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spindle.db")

	d, err := Make(path)
	require.NoError(t, err)
	id := models.NewRunId("ci")
	require.NoError(t, d.CreateRun(id, workflow.Event{Kind: "manual"}, nil))
	require.NoError(t, d.Close())

	d, err = Make(path)
	require.NoError(t, err)
	defer d.Close()

	var version int
	require.NoError(t, d.QueryRow(`pragma user_version`).Scan(&version))
	assert.Equal(t, len(migrations), version)

	_, err = d.GetRun(id.String())
	assert.NoError(t, err)
}

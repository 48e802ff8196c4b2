package workflowstate

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/devflowd/internal/faults"
	"github.com/fyrsmithlabs/devflowd/internal/logging"
)

func newTestStore(t *testing.T) (*Store, *logging.TestLogger) {
	t.Helper()
	tl := logging.NewTestLogger()
	store, err := NewStore(t.TempDir(), tl.Logger)
	require.NoError(t, err)
	return store, tl
}

func TestNew(t *testing.T) {
	state, err := New("7f2a9c1b")
	require.NoError(t, err)
	assert.Equal(t, "7f2a9c1b", state.WorkflowID)

	_, err = New("")
	require.Error(t, err)
	var verr *faults.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, FieldWorkflowID, verr.Field)
}

func TestState_Update(t *testing.T) {
	ctx := context.Background()
	tl := logging.NewTestLogger()

	state, err := New("7f2a9c1b")
	require.NoError(t, err)

	err = state.Update(ctx, tl.Logger, map[string]string{
		FieldIssueRef:   "42",
		FieldBranchName: "feature/issue-42-auth",
		"model_used":    "sonnet",
	})
	require.NoError(t, err)

	assert.Equal(t, "42", state.IssueRef)
	assert.Equal(t, "feature/issue-42-auth", state.BranchName)
	tl.AssertLogged(t, zapcore.WarnLevel, "dropping unknown state key")
	tl.AssertField(t, "dropping unknown state key", "key", "model_used")
}

func TestState_UpdateRejectsWorkflowID(t *testing.T) {
	state, err := New("7f2a9c1b")
	require.NoError(t, err)

	err = state.Update(context.Background(), nil, map[string]string{
		FieldWorkflowID: "other",
	})
	require.Error(t, err)
	assert.Equal(t, "7f2a9c1b", state.WorkflowID)
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	state, err := New("7f2a9c1b")
	require.NoError(t, err)
	state.IssueRef = "42"
	state.PlanPath = "specs/issue-42-plan.md"
	state.IssueClass = "feature"

	require.NoError(t, store.Save(ctx, state, "planner"))

	loaded, found, err := store.Load(ctx, "7f2a9c1b")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, state, loaded)
}

func TestStore_LoadAbsent(t *testing.T) {
	store, _ := newTestStore(t)

	state, found, err := store.Load(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, state)
}

func TestStore_LoadCorrupt(t *testing.T) {
	ctx := context.Background()
	store, tl := newTestStore(t)

	dir := filepath.Dir(store.Path("7f2a9c1b"))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(store.Path("7f2a9c1b"), []byte("{truncated"), 0o644))

	state, found, err := store.Load(ctx, "7f2a9c1b")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, state)
	tl.AssertLogged(t, zapcore.WarnLevel, "corrupt workflow state")
}

func TestStore_LoadEmptyID(t *testing.T) {
	store, _ := newTestStore(t)

	_, _, err := store.Load(context.Background(), "")
	require.Error(t, err)
	var verr *faults.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestStore_LoadOrNew(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	// Fresh workflow: a new document, nothing persisted yet.
	state, err := store.LoadOrNew(ctx, "7f2a9c1b")
	require.NoError(t, err)
	assert.Equal(t, "7f2a9c1b", state.WorkflowID)
	assert.Empty(t, state.IssueRef)

	state.IssueRef = "42"
	require.NoError(t, store.Save(ctx, state, "planner"))

	// Second phase sees the first phase's checkpoint.
	again, err := store.LoadOrNew(ctx, "7f2a9c1b")
	require.NoError(t, err)
	assert.Equal(t, "42", again.IssueRef)
}

func TestStore_SaveRejectsInvalid(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.Save(context.Background(), &State{}, "planner")
	require.Error(t, err)
	var serr *faults.StateError
	assert.ErrorAs(t, err, &serr)
}

func TestSerializeDeserialize(t *testing.T) {
	state, err := New("7f2a9c1b")
	require.NoError(t, err)
	state.BranchName = "feature/issue-42-auth"

	var buf bytes.Buffer
	require.NoError(t, state.Serialize(&buf))

	decoded, err := Deserialize(&buf)
	require.NoError(t, err)
	assert.Equal(t, state, decoded)
}

func TestDeserialize_DropsUnknownFields(t *testing.T) {
	doc := `{"workflow_id":"7f2a9c1b","issue_reference":"42","model_used":"opus"}`

	state, err := Deserialize(bytes.NewReader([]byte(doc)))
	require.NoError(t, err)
	assert.Equal(t, "7f2a9c1b", state.WorkflowID)
	assert.Equal(t, "42", state.IssueRef)

	// Round-tripping must not resurrect the dropped field.
	var buf bytes.Buffer
	require.NoError(t, state.Serialize(&buf))
	assert.NotContains(t, buf.String(), "model_used")
}

func TestDeserialize_MissingWorkflowID(t *testing.T) {
	_, err := Deserialize(bytes.NewReader([]byte(`{"issue_reference":"42"}`)))
	require.Error(t, err)
}

package queue

import (
	"context"
	"encoding/json"
	"testing"

	"qms/branch-queue/internal/models"
	"qms/branch-queue/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveOperator(t *testing.T) {
	cases := []struct {
		name    string
		code    string
		wantErr bool
	}{
		{"Admin Teller 1", "A", false},
		{"Admin Teller 2", "A", false},
		{"Admin VIP", "B", false},
		{"Admin Customer Service", "C", false},
		{"Admin Customere Service", "C", false},
		{"Branch Manager", "", true},
		{"admin teller", "", true},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			counter, err := ResolveOperator(tt.name)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrUnrecognizedOperator)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.code, counter.Code)
		})
	}
}

func TestOperatorKey(t *testing.T) {
	assert.Equal(t, "admin_teller_1", OperatorKey("Admin Teller 1"))
	assert.Equal(t, "admin_customer_service", OperatorKey(" Admin Customer Service "))
}

func TestNewWorkflowRejectsUnknownOperator(t *testing.T) {
	_, err := NewWorkflow(newTestStore(), "Security Guard", WorkflowOptions{})
	require.ErrorIs(t, err, ErrUnrecognizedOperator)
}

func TestCallNextSelectsOldestWaitingOfOwnCounter(t *testing.T) {
	st := newTestStore()
	seedTicket(t, st, "B", "B001", models.StatusWaiting)
	seedTicket(t, st, "A", "A001", models.StatusCalled)
	a2 := seedTicket(t, st, "A", "A002", models.StatusWaiting)
	a3 := seedTicket(t, st, "A", "A003", models.StatusWaiting)

	wf, err := NewWorkflow(st, "Admin Teller 1", WorkflowOptions{})
	require.NoError(t, err)
	ctx := context.Background()

	first, err := wf.CallNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, a2.TicketID, first.TicketID)
	assert.Equal(t, models.StatusCalled, loadTicket(t, st, a2.TicketID).Status)

	second, err := wf.CallNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, a3.TicketID, second.TicketID)

	_, err = wf.CallNext(ctx)
	require.ErrorIs(t, err, ErrNoneAvailable)

	held, ok := wf.Current()
	require.True(t, ok)
	assert.Equal(t, a3.TicketID, held.TicketID)
}

func TestCallNextWritesProjections(t *testing.T) {
	st := newTestStore()
	seedTicket(t, st, "C", "C001", models.StatusWaiting)
	wf, err := NewWorkflow(st, "Admin Customer Service", WorkflowOptions{})
	require.NoError(t, err)

	_, err = wf.CallNext(context.Background())
	require.NoError(t, err)

	for _, key := range []string{"admin_customer_service", models.NowServingKey} {
		doc, err := st.Get(context.Background(), store.ServingProjections, key)
		require.NoError(t, err, key)
		projection, err := models.DecodeProjection(doc)
		require.NoError(t, err)
		assert.Equal(t, "C001", projection.TicketNumber)
		assert.Equal(t, "Admin Customer Service", projection.CounterLabel)
		assert.False(t, projection.CalledAt.IsZero())
	}
}

func TestCallNextWithEmptyQueueWritesNothing(t *testing.T) {
	st := newTestStore()
	seedTicket(t, st, "A", "A001", models.StatusWaiting)
	wf, err := NewWorkflow(st, "Admin VIP", WorkflowOptions{})
	require.NoError(t, err)

	_, err = wf.CallNext(context.Background())
	require.ErrorIs(t, err, ErrNoneAvailable)

	docs, err := st.QueryOnce(context.Background(), store.ServingProjections, store.Query{})
	require.NoError(t, err)
	assert.Empty(t, docs)
	_, ok := wf.Current()
	assert.False(t, ok)
}

func TestFinishRecordsCompletion(t *testing.T) {
	st := newTestStore()
	ticket := seedTicket(t, st, "A", "A001", models.StatusWaiting)
	wf, err := NewWorkflow(st, "Admin Teller 2", WorkflowOptions{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = wf.CallNext(ctx)
	require.NoError(t, err)

	record, err := wf.Finish(ctx, FinishInput{CustomerName: " Budi ", Category: models.CategoryDeposit, Note: "cash"})
	require.NoError(t, err)
	assert.Equal(t, "A001", record.TicketNumber)
	assert.Equal(t, "Budi", record.CustomerName)
	assert.Equal(t, "Admin Teller 2", record.CounterLabel)
	assert.False(t, record.CompletedAt.IsZero())

	assert.Equal(t, models.StatusFinished, loadTicket(t, st, ticket.TicketID).Status)

	docs, err := st.QueryOnce(ctx, store.CompletionRecords, store.Query{})
	require.NoError(t, err)
	records, err := models.DecodeCompletions(docs)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A001", records[0].TicketNumber)

	_, ok := wf.Current()
	assert.False(t, ok)

	doc, err := st.Get(ctx, store.ServingProjections, "admin_teller_2")
	require.NoError(t, err)
	projection, err := models.DecodeProjection(doc)
	require.NoError(t, err)
	assert.Equal(t, "A001", projection.TicketNumber)
}

func TestFinishValidation(t *testing.T) {
	st := newTestStore()
	ticket := seedTicket(t, st, "A", "A001", models.StatusWaiting)
	wf, err := NewWorkflow(st, "Admin Teller 1", WorkflowOptions{})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = wf.CallNext(ctx)
	require.NoError(t, err)

	cases := []FinishInput{
		{CustomerName: "", Category: models.CategoryCard},
		{CustomerName: "   ", Category: models.CategoryCard},
		{CustomerName: "Sari", Category: "Insurance"},
		{CustomerName: "Sari", Category: ""},
	}
	for _, input := range cases {
		_, err := wf.Finish(ctx, input)
		require.ErrorIs(t, err, ErrValidation)
	}

	docs, err := st.QueryOnce(ctx, store.CompletionRecords, store.Query{})
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, models.StatusCalled, loadTicket(t, st, ticket.TicketID).Status)
	_, ok := wf.Current()
	assert.True(t, ok)
}

func TestCloseDeletesTicket(t *testing.T) {
	st := newTestStore()
	ticket := seedTicket(t, st, "B", "B001", models.StatusWaiting)
	wf, err := NewWorkflow(st, "Admin VIP", WorkflowOptions{})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = wf.CallNext(ctx)
	require.NoError(t, err)

	closed, err := wf.Close(ctx)
	require.NoError(t, err)
	assert.Equal(t, ticket.TicketID, closed.TicketID)

	_, err = st.Get(ctx, store.Tickets, ticket.TicketID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, ok := wf.Current()
	assert.False(t, ok)
}

func TestActionsWithoutHeldTicket(t *testing.T) {
	wf, err := NewWorkflow(newTestStore(), "Admin Teller 1", WorkflowOptions{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = wf.Finish(ctx, FinishInput{CustomerName: "Sari", Category: models.CategoryCard})
	require.ErrorIs(t, err, ErrNoCurrentTicket)
	_, err = wf.Close(ctx)
	require.ErrorIs(t, err, ErrNoCurrentTicket)
	_, err = wf.Recall(ctx)
	require.ErrorIs(t, err, ErrNoCurrentTicket)
}

func TestRecallNotifiesWithoutWriting(t *testing.T) {
	st := newTestStore()
	ticket := seedTicket(t, st, "A", "A001", models.StatusWaiting)
	notifier := &recordingNotifier{}
	wf, err := NewWorkflow(st, "Admin Teller 1", WorkflowOptions{Notifier: notifier})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = wf.CallNext(ctx)
	require.NoError(t, err)

	before, err := st.Get(ctx, store.Tickets, ticket.TicketID)
	require.NoError(t, err)

	recalled, err := wf.Recall(ctx)
	require.NoError(t, err)
	assert.Equal(t, "A001", recalled.TicketNumber)
	require.Len(t, notifier.recall, 1)
	assert.Equal(t, "A001", notifier.recall[0].TicketNumber)
	assert.Equal(t, "Admin Teller 1", notifier.recall[0].CounterLabel)

	after, err := st.Get(ctx, store.Tickets, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
	assert.JSONEq(t, string(before.Data), string(after.Data))
}

func TestCallNextStoresCallerOnTicket(t *testing.T) {
	st := newTestStore()
	ticket := seedTicket(t, st, "A", "A001", models.StatusWaiting)
	wf, err := NewWorkflow(st, "Admin Teller 1", WorkflowOptions{})
	require.NoError(t, err)
	_, err = wf.CallNext(context.Background())
	require.NoError(t, err)

	doc, err := st.Get(context.Background(), store.Tickets, ticket.TicketID)
	require.NoError(t, err)
	var fields map[string]any
	require.NoError(t, json.Unmarshal(doc.Data, &fields))
	assert.Equal(t, "Admin Teller 1", fields[models.FieldCalledBy])
	assert.Equal(t, models.StatusCalled, fields[models.FieldStatus])
}

func TestCallNextHoldsTicketWhenProjectionWriteFails(t *testing.T) {
	st := &failingStore{DocStore: newTestStore(), failSet: store.ServingProjections}
	ticket := seedTicket(t, st, "A", "A001", models.StatusWaiting)
	wf, err := NewWorkflow(st, "Admin Teller 1", WorkflowOptions{})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = wf.CallNext(ctx)
	require.ErrorIs(t, err, errConnReset)

	held, ok := wf.Current()
	require.True(t, ok)
	assert.Equal(t, ticket.TicketID, held.TicketID)
	assert.Equal(t, models.StatusCalled, loadTicket(t, st, ticket.TicketID).Status)

	_, err = wf.Finish(ctx, FinishInput{CustomerName: "Sari", Category: models.CategoryCard})
	require.NoError(t, err)
	assert.Equal(t, models.StatusFinished, loadTicket(t, st, ticket.TicketID).Status)
}

func TestFinishRetryWritesOneCompletionRecord(t *testing.T) {
	st := &failingStore{DocStore: newTestStore(), failUpdate: models.StatusFinished}
	ticket := seedTicket(t, st, "A", "A001", models.StatusWaiting)
	wf, err := NewWorkflow(st, "Admin Teller 1", WorkflowOptions{})
	require.NoError(t, err)
	ctx := context.Background()
	_, err = wf.CallNext(ctx)
	require.NoError(t, err)

	_, err = wf.Finish(ctx, FinishInput{CustomerName: "Sari", Category: models.CategoryCard})
	require.ErrorIs(t, err, errConnReset)
	_, ok := wf.Current()
	require.True(t, ok)

	first, err := st.QueryOnce(ctx, store.CompletionRecords, store.Query{})
	require.NoError(t, err)
	require.Len(t, first, 1)

	record, err := wf.Finish(ctx, FinishInput{CustomerName: "Sari Dewi", Category: models.CategoryLoan})
	require.NoError(t, err)
	assert.Equal(t, first[0].ID, record.RecordID)
	assert.Equal(t, models.StatusFinished, loadTicket(t, st, ticket.TicketID).Status)

	docs, err := st.QueryOnce(ctx, store.CompletionRecords, store.Query{})
	require.NoError(t, err)
	records, err := models.DecodeCompletions(docs)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "A001", records[0].TicketNumber)
	assert.Equal(t, "Sari Dewi", records[0].CustomerName)
	assert.Equal(t, models.CategoryLoan, records[0].Category)
}

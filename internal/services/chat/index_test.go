package chat

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modelChat "salon_backend/internal/models/chat"
	"salon_backend/internal/store"
)

func TestListConversations_UnreadBeforeAndAfterMarkSeen(t *testing.T) {
	st := newCountingStore(t)
	staffSession := newSession(t, modelChat.BranchCustomerChannel, staff, st)
	customerSession := newSession(t, modelChat.BranchCustomerChannel.Reverse(), customer, st)
	ctx := context.Background()

	send(t, customerSession, staff.GroupID, "one")
	send(t, customerSession, staff.GroupID, "two")
	send(t, customerSession, staff.GroupID, "three")
	send(t, staffSession, customer.ID, "reply")

	list, err := staffSession.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, customer.ID, list[0].CounterpartyID)
	assert.Equal(t, "Bob", list[0].CounterpartyDisplayName)
	assert.Equal(t, 3, list[0].UnreadCount)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "reply", list[0].LastMessage.BodyText())

	n, err := staffSession.MarkConversationSeen(ctx, customer.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	list, err = staffSession.ListConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, list[0].UnreadCount)

	total, err := staffSession.UnreadTotal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

func TestListConversations_HardDeleteExcludedSoftDeleteCounted(t *testing.T) {
	st := newCountingStore(t)
	staffSession := newSession(t, modelChat.BranchCustomerChannel, staff, st)
	customerSession := newSession(t, modelChat.BranchCustomerChannel.Reverse(), customer, st)
	ctx := context.Background()

	first := send(t, customerSession, staff.GroupID, "first")
	hidden := send(t, customerSession, staff.GroupID, "hidden by staff")
	last := send(t, customerSession, staff.GroupID, "deleted for everyone")

	require.NoError(t, customerSession.DeleteForEveryone(ctx, last.ID, true))
	require.NoError(t, staffSession.DeleteForMe(ctx, hidden.ID))

	list, err := staffSession.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].UnreadCount, "удалённое для всех не считается, скрытое у себя - считается")
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, hidden.ID, list[0].LastMessage.ID)
	assert.NotEqual(t, first.ID, list[0].LastMessage.ID)
}

func TestListConversations_SortAndStale(t *testing.T) {
	st := newCountingStore(t)
	dir := NewStaticDirectory(map[string][]modelChat.Counterparty{
		staff.GroupID: {
			{ID: "cust-b", DisplayName: "Bella"},
			{ID: "cust-a", DisplayName: "Alex"},
			{ID: "cust-1", DisplayName: "Bob"},
			{ID: "cust-2", DisplayName: "Carl"},
		},
	})
	s, err := NewSession(modelChat.BranchCustomerChannel, staff, st, dir, Config{}, nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	send(t, s, "cust-1", "older")
	send(t, s, "cust-2", "newer")

	list, err := s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 4)

	var order []string
	for _, c := range list {
		order = append(order, c.CounterpartyID)
		assert.False(t, c.Stale)
	}
	assert.Equal(t, []string{"cust-2", "cust-1", "cust-a", "cust-b"}, order)

	// хранилище недоступно: ошибка не пробрасывается, записи помечаются Stale
	st.mu.Lock()
	st.failQuery[modelChat.PartitionCustomerToBranch] = store.ErrUnavailable
	st.mu.Unlock()

	list, err = s.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 4)
	for _, c := range list {
		assert.True(t, c.Stale)
		if c.CounterpartyID == "cust-2" {
			require.NotNil(t, c.LastMessage, "прежние значения сохраняются")
			assert.Equal(t, "newer", c.LastMessage.BodyText())
		}
	}
}

func TestSummarize_UnreadByStatusChannel(t *testing.T) {
	inbound := []modelChat.Message{
		{ID: "1", SenderID: "admin", DeliveryStatus: modelChat.StatusSeen},
		{ID: "2", SenderID: "admin", DeliveryStatus: modelChat.StatusDelivered, SeenBy: modelChat.NewStringSet("viewer")},
		{ID: "3", SenderID: "admin", DeliveryStatus: modelChat.StatusSent, HardDeleted: true},
	}

	_, unread := Summarize(modelChat.BranchSuperAdminChannel, "viewer", nil, inbound)
	assert.Equal(t, 1, unread)

	_, unread = Summarize(modelChat.BranchCustomerChannel, "viewer", nil, inbound)
	assert.Equal(t, 1, unread, "по seenBy непрочитано только первое")
}

func TestStoreDirectory_CustomerSideFindsBranches(t *testing.T) {
	st := newCountingStore(t)
	staffSession := newSession(t, modelChat.BranchCustomerChannel, staff, st)
	send(t, staffSession, customer.ID, "welcome")

	dir := NewStoreDirectory(st)
	cps, err := dir.Counterparties(context.Background(), modelChat.BranchCustomerChannel.Reverse(), customer)
	require.NoError(t, err)
	require.Len(t, cps, 1)
	assert.Equal(t, staff.GroupID, cps[0].ID)
	assert.Equal(t, staff.GroupName, cps[0].DisplayName)
}

func TestListConversations_PreviewCarriesNoAttachmentBytes(t *testing.T) {
	st := newCountingStore(t)
	staffSession := newSession(t, modelChat.BranchCustomerChannel, staff, st)
	ctx := context.Background()

	_, err := staffSession.Send(ctx, SendInput{
		CounterpartyID: customer.ID,
		Attachment:     &modelChat.Attachment{Name: "price.pdf", MimeType: "application/pdf", Data: make([]byte, 4096)},
	})
	require.NoError(t, err)

	list, err := staffSession.ListConversations(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	last := list[0].LastMessage
	require.NotNil(t, last)
	require.NotNil(t, last.Attachment)
	assert.Equal(t, "price.pdf", last.Attachment.Name)
	assert.Equal(t, "application/pdf", last.Attachment.MimeType)
	assert.Empty(t, last.Attachment.Data)

	raw, err := json.Marshal(list)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), `"data"`)

	msgs, err := staffSession.Messages(ctx, customer.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Len(t, msgs[0].Attachment.Data, 4096, "в самой переписке вложение целиком")
}

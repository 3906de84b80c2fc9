package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	modelChat "salon_backend/internal/models/chat"
	"salon_backend/internal/store"
	"salon_backend/pkg/apperrors"
)

func TestService_SessionPicksChannelSideByRole(t *testing.T) {
	svc := NewService(newCountingStore(t), nil, Config{}, nil, nil)

	s, err := svc.Session(modelChat.BranchCustomerChannel.Name, staff)
	require.NoError(t, err)
	assert.Equal(t, modelChat.PartitionBranchToCustomer, s.Channel().OutboundPartition)

	s, err = svc.Session(modelChat.BranchCustomerChannel.Name, customer)
	require.NoError(t, err)
	assert.Equal(t, modelChat.PartitionCustomerToBranch, s.Channel().OutboundPartition)

	again, err := svc.Session(modelChat.BranchCustomerChannel.Name, customer)
	require.NoError(t, err)
	assert.Same(t, s, again, "сессия участника переиспользуется")
}

func TestService_SessionRejectsForeignRole(t *testing.T) {
	svc := NewService(newCountingStore(t), nil, Config{}, nil, nil)

	_, err := svc.Session(modelChat.BranchSuperAdminChannel.Name, customer)
	assert.True(t, apperrors.HasCode(err, apperrors.CodeForbidden))

	_, err = svc.Session("unknown", staff)
	assert.Error(t, err)

	noGroup := staff
	noGroup.GroupID = ""
	_, err = svc.Session(modelChat.BranchCustomerChannel.Name, noGroup)
	assert.ErrorIs(t, err, apperrors.ErrNoSender)
}

func TestSession_MessagesSnapshotAdvancesDelivered(t *testing.T) {
	st := newCountingStore(t)
	staffSession := newSession(t, modelChat.BranchCustomerChannel, staff, st)
	customerSession := newSession(t, modelChat.BranchCustomerChannel.Reverse(), customer, st)

	sent := send(t, staffSession, customer.ID, "Hi")
	send(t, customerSession, staff.GroupID, "Hello back")

	msgs, err := customerSession.Messages(context.Background(), staff.GroupID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Hi", msgs[0].BodyText())
	assert.Equal(t, modelChat.StreamInbound, msgs[0].StreamOrigin)
	assert.Equal(t, modelChat.StreamOutbound, msgs[1].StreamOrigin)

	require.Eventually(t, func() bool {
		got, err := st.Query(context.Background(), modelChat.PartitionBranchToCustomer, store.Filter{IDs: []string{sent.ID}})
		return err == nil && len(got) == 1 && got[0].DeliveryStatus == modelChat.StatusDelivered
	}, 2*time.Second, 10*time.Millisecond)
}

func TestService_IdleSessionsAreEvicted(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(newCountingStore(t), nil, Config{
		SessionIdleTTL: time.Hour,
		Now:            func() time.Time { return now },
	}, nil, nil)

	first, err := svc.Session(modelChat.BranchCustomerChannel.Name, customer)
	require.NoError(t, err)

	now = now.Add(2 * time.Hour)
	_, err = svc.Session(modelChat.BranchCustomerChannel.Name, staff)
	require.NoError(t, err)
	assert.Equal(t, 1, svc.Sessions(), "сессия клиента простаивала дольше TTL")

	again, err := svc.Session(modelChat.BranchCustomerChannel.Name, customer)
	require.NoError(t, err)
	assert.NotSame(t, first, again)
}

func TestService_RenamedViewerSignsWithNewName(t *testing.T) {
	svc := NewService(newCountingStore(t), nil, Config{}, nil, nil)
	ctx := context.Background()

	s, err := svc.Session(modelChat.BranchCustomerChannel.Name, staff)
	require.NoError(t, err)
	m, err := s.Send(ctx, SendInput{CounterpartyID: customer.ID, Body: "hi"})
	require.NoError(t, err)
	assert.Equal(t, staff.DisplayName, m.SenderDisplayName)

	renamed := staff
	renamed.DisplayName = "Anna K."
	renamed.GroupName = "Central Plaza"
	s, err = svc.Session(modelChat.BranchCustomerChannel.Name, renamed)
	require.NoError(t, err)
	m, err = s.Send(ctx, SendInput{CounterpartyID: customer.ID, Body: "hi again"})
	require.NoError(t, err)
	assert.Equal(t, "Anna K.", m.SenderDisplayName)
	assert.Equal(t, "Central Plaza", m.CounterpartyGroupName)
}

package app

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"salon_backend/internal/config"
	"salon_backend/internal/dto"
	"salon_backend/internal/middleware"
	modelChat "salon_backend/internal/models/chat"
	"salon_backend/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	staff = modelChat.Identity{
		ID: "staff-1", DisplayName: "Anna", Role: modelChat.RoleBranchAdmin,
		GroupID: "branch-1", GroupName: "Central",
	}
	customer = modelChat.Identity{ID: "cust-1", DisplayName: "Bob", Role: modelChat.RoleCustomer}
	admin    = modelChat.Identity{ID: "root", DisplayName: "Root", Role: modelChat.RoleSuperAdmin}
)

type errorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newTestApp(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)
	for _, key := range []string{"DATABASE_URL", "DATABASE_DRIVER", "AMQP_URL", "SERVER_PORT", "CHAT_MAX_ATTACHMENT_BYTES"} {
		t.Setenv(key, "")
	}

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "memory", cfg.Database.Driver)
	cfg.RateLimit.Burst = 1000

	a, err := New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	srv := httptest.NewServer(a.Router())
	t.Cleanup(func() {
		a.Close()
		srv.Close()
	})
	return srv
}

func identityHeaders(h http.Header, ident modelChat.Identity) {
	h.Set(middleware.HeaderUserID, ident.ID)
	h.Set(middleware.HeaderUserName, ident.DisplayName)
	h.Set(middleware.HeaderUserRole, string(ident.Role))
	if ident.GroupID != "" {
		h.Set(middleware.HeaderGroupID, ident.GroupID)
		h.Set(middleware.HeaderGroupName, ident.GroupName)
	}
}

func call(t *testing.T, srv *httptest.Server, method, path string, ident *modelChat.Identity, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if ident != nil {
		identityHeaders(req.Header, *ident)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		_ = json.NewDecoder(resp.Body).Decode(out)
	}
	return resp.StatusCode
}

const chatPath = "/api/v1/chat/branch_customer"

func TestHTTP_SendListSeenFlow(t *testing.T) {
	srv := newTestApp(t)

	var sent modelChat.Message
	code := call(t, srv, http.MethodPost, chatPath+"/conversations/branch-1/messages", &customer,
		dto.SendMessageRequest{Body: "  Hi there  "}, &sent)
	require.Equal(t, http.StatusCreated, code)
	assert.Equal(t, "Hi there", sent.BodyText(), "текст обрезается по краям")
	assert.Equal(t, modelChat.PartitionCustomerToBranch, sent.Partition)
	assert.Equal(t, modelChat.StatusSent, sent.DeliveryStatus)

	var list dto.ConversationListResponse
	code = call(t, srv, http.MethodGet, chatPath+"/conversations", &staff, nil, &list)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, customer.ID, list.Conversations[0].CounterpartyID)
	assert.Equal(t, "Bob", list.Conversations[0].CounterpartyDisplayName)
	assert.Equal(t, 1, list.Conversations[0].UnreadCount)
	assert.Equal(t, 1, list.UnreadTotal)

	var seen dto.MarkSeenResponse
	code = call(t, srv, http.MethodPost, chatPath+"/conversations/cust-1/seen", &staff, nil, &seen)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 1, seen.Marked)

	var unread dto.UnreadResponse
	code = call(t, srv, http.MethodGet, chatPath+"/unread", &staff, nil, &unread)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 0, unread.Unread)

	var msgs dto.MessagesResponse
	code = call(t, srv, http.MethodGet, chatPath+"/conversations/branch-1/messages", &customer, nil, &msgs)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, msgs.Messages, 1)
	assert.Equal(t, modelChat.StatusSeen, msgs.Messages[0].DeliveryStatus)
	assert.True(t, msgs.Messages[0].SeenBy.Contains(staff.ID))
}

func TestHTTP_EditAndDelete(t *testing.T) {
	srv := newTestApp(t)

	var sent modelChat.Message
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, chatPath+"/conversations/cust-1/messages", &staff,
		dto.SendMessageRequest{Body: "Your booking is at 5"}, &sent))

	var errResp errorBody
	code := call(t, srv, http.MethodPatch, chatPath+"/messages/"+sent.ID, &customer,
		dto.EditMessageRequest{Body: "hacked"}, &errResp)
	assert.Equal(t, http.StatusForbidden, code, "чужое сообщение править нельзя")

	code = call(t, srv, http.MethodPatch, chatPath+"/messages/"+sent.ID, &staff,
		dto.EditMessageRequest{Body: "Your booking is at 6"}, nil)
	assert.Equal(t, http.StatusNoContent, code)

	code = call(t, srv, http.MethodDelete, chatPath+"/messages/"+sent.ID, &staff, nil, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", errResp.Error.Code)

	code = call(t, srv, http.MethodPost, chatPath+"/messages/"+sent.ID+"/hide", &customer, nil, nil)
	assert.Equal(t, http.StatusNoContent, code)

	var msgs dto.MessagesResponse
	call(t, srv, http.MethodGet, chatPath+"/conversations/branch-1/messages", &customer, nil, &msgs)
	assert.Empty(t, msgs.Messages, "скрытое сообщение не видно клиенту")
	call(t, srv, http.MethodGet, chatPath+"/conversations/cust-1/messages", &staff, nil, &msgs)
	require.Len(t, msgs.Messages, 1, "но видно филиалу")
	assert.True(t, msgs.Messages[0].Edited)

	code = call(t, srv, http.MethodDelete, chatPath+"/messages/"+sent.ID+"?confirm=true", &staff, nil, nil)
	assert.Equal(t, http.StatusNoContent, code)
	call(t, srv, http.MethodGet, chatPath+"/conversations/cust-1/messages", &staff, nil, &msgs)
	assert.Empty(t, msgs.Messages)
}

func TestHTTP_EditToEmptyBodyFollowsAttachment(t *testing.T) {
	srv := newTestApp(t)

	photo := base64.StdEncoding.EncodeToString([]byte("jpeg"))
	var withPhoto modelChat.Message
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, chatPath+"/conversations/cust-1/messages", &staff,
		dto.SendMessageRequest{Body: "Our new room", Attachment: &dto.AttachmentInput{Name: "room.jpg", MimeType: "image/jpeg", Data: photo}}, &withPhoto))

	code := call(t, srv, http.MethodPatch, chatPath+"/messages/"+withPhoto.ID, &staff, dto.EditMessageRequest{Body: ""}, nil)
	assert.Equal(t, http.StatusNoContent, code, "у сообщения с вложением текст можно убрать")

	var textOnly modelChat.Message
	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, chatPath+"/conversations/cust-1/messages", &staff,
		dto.SendMessageRequest{Body: "plain"}, &textOnly))

	var errResp errorBody
	code = call(t, srv, http.MethodPatch, chatPath+"/messages/"+textOnly.ID, &staff, dto.EditMessageRequest{Body: "  "}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", errResp.Error.Code)
}

func TestHTTP_ValidationAndAccess(t *testing.T) {
	srv := newTestApp(t)

	var errResp errorBody
	code := call(t, srv, http.MethodGet, chatPath+"/conversations", nil, nil, &errResp)
	assert.Equal(t, http.StatusUnauthorized, code)

	code = call(t, srv, http.MethodGet, chatPath+"/conversations", &admin, nil, &errResp)
	assert.Equal(t, http.StatusForbidden, code, "у супер-админа нет стороны в клиентском канале")

	code = call(t, srv, http.MethodPost, chatPath+"/conversations/cust-1/messages", &staff,
		dto.SendMessageRequest{Body: "   "}, &errResp)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "VALIDATION_FAILED", errResp.Error.Code)

	big := base64.StdEncoding.EncodeToString(make([]byte, 1<<20+1))
	code = call(t, srv, http.MethodPost, chatPath+"/conversations/cust-1/messages", &staff,
		dto.SendMessageRequest{Attachment: &dto.AttachmentInput{Name: "a.bin", MimeType: "application/octet-stream", Data: big}}, &errResp)
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)

	code = call(t, srv, http.MethodPost, "/api/v1/chat/branch_super_admin/conversations/branch-1/messages", &admin,
		dto.SendMessageRequest{Body: "Monthly report?"}, nil)
	assert.Equal(t, http.StatusCreated, code)

	var unread dto.UnreadResponse
	call(t, srv, http.MethodGet, "/api/v1/chat/branch_super_admin/unread", &staff, nil, &unread)
	assert.Equal(t, 1, unread.Unread)
}

func TestHTTP_MetricsAndHealth(t *testing.T) {
	srv := newTestApp(t)

	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, chatPath+"/conversations/cust-1/messages", &staff,
		dto.SendMessageRequest{Body: "hello"}, nil))

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `salon_chat_messages_sent_total{channel="branch_customer"} 1`)

	var health map[string]any
	assert.Equal(t, http.StatusOK, call(t, srv, http.MethodGet, "/healthz", nil, nil, &health))
	assert.Equal(t, "ok", health["status"])
}

func dialWS(t *testing.T, srv *httptest.Server, ident modelChat.Identity) *websocket.Conn {
	t.Helper()
	h := http.Header{}
	identityHeaders(h, ident)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat/branch_customer"
	conn, resp, err := websocket.DefaultDialer.Dial(url, h)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil читает кадры, пока cond не вернёт true.
func readUntil(t *testing.T, conn *websocket.Conn, cond func(frame map[string]json.RawMessage) bool) map[string]json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	for {
		var frame map[string]json.RawMessage
		require.NoError(t, conn.ReadJSON(&frame))
		if cond(frame) {
			return frame
		}
	}
}

func frameType(frame map[string]json.RawMessage) string {
	var s string
	_ = json.Unmarshal(frame["type"], &s)
	return s
}

func TestWS_OpenSendReceive(t *testing.T) {
	srv := newTestApp(t)

	staffConn := dialWS(t, srv, staff)
	customerConn := dialWS(t, srv, customer)

	require.NoError(t, customerConn.WriteJSON(ws.IncomingWSMessage{
		Action: ws.ActionOpen, RequestID: "1", Data: json.RawMessage(`{"counterparty_id":"branch-1"}`),
	}))
	readUntil(t, customerConn, func(f map[string]json.RawMessage) bool { return frameType(f) == ws.TypeAck })

	require.NoError(t, staffConn.WriteJSON(ws.IncomingWSMessage{
		Action: ws.ActionSend, RequestID: "s1", Data: json.RawMessage(`{"counterparty_id":"cust-1","body":"Welcome!"}`),
	}))
	ack := readUntil(t, staffConn, func(f map[string]json.RawMessage) bool { return frameType(f) == ws.TypeAck })
	assert.JSONEq(t, `"s1"`, string(ack["request_id"]))

	frame := readUntil(t, customerConn, func(f map[string]json.RawMessage) bool {
		if frameType(f) != ws.TypeMessages {
			return false
		}
		var msgs []modelChat.Message
		_ = json.Unmarshal(f["data"], &msgs)
		return len(msgs) == 1 && msgs[0].DeliveryStatus == modelChat.StatusDelivered
	})
	var msgs []modelChat.Message
	require.NoError(t, json.Unmarshal(frame["data"], &msgs))
	assert.Equal(t, "Welcome!", msgs[0].BodyText())
	assert.Equal(t, modelChat.StreamInbound, msgs[0].StreamOrigin)

	require.NoError(t, customerConn.WriteJSON(ws.IncomingWSMessage{Action: "dance", RequestID: "x"}))
	errFrame := readUntil(t, customerConn, func(f map[string]json.RawMessage) bool { return frameType(f) == ws.TypeError })
	assert.JSONEq(t, `"x"`, string(errFrame["request_id"]))
	assert.Contains(t, string(errFrame["error"]), `"INVALID_OPERATION"`)
}

func TestWS_ConversationsPushedAfterHTTPSend(t *testing.T) {
	srv := newTestApp(t)
	staffConn := dialWS(t, srv, staff)
	require.Eventually(t, func() bool {
		var health map[string]any
		call(t, srv, http.MethodGet, "/healthz", nil, nil, &health)
		return health["ws_clients"] == float64(1)
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, http.StatusCreated, call(t, srv, http.MethodPost, chatPath+"/conversations/cust-1/messages", &staff,
		dto.SendMessageRequest{Body: "Your booking is confirmed"}, nil))

	frame := readUntil(t, staffConn, func(f map[string]json.RawMessage) bool { return frameType(f) == ws.TypeConversations })
	var list []modelChat.Conversation
	require.NoError(t, json.Unmarshal(frame["data"], &list))
	require.Len(t, list, 1)
	assert.Equal(t, "cust-1", list[0].CounterpartyID)
	require.NotNil(t, list[0].LastMessage)
	assert.Equal(t, "Your booking is confirmed", list[0].LastMessage.BodyText())
}

func TestHTTP_UnknownRouteIsJSONNotFound(t *testing.T) {
	srv := newTestApp(t)

	var body errorBody
	assert.Equal(t, http.StatusNotFound, call(t, srv, http.MethodGet, "/api/v2/nothing", nil, nil, &body))
	assert.Equal(t, "NOT_FOUND", body.Error.Code)
}

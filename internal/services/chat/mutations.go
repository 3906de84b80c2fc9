package chat

import (
	"context"
	"strings"
	"sync"
	"unicode/utf8"

	modelChat "salon_backend/internal/models/chat"
	"salon_backend/internal/store"
	"salon_backend/pkg/apperrors"
)

const replySnippetRunes = 200

type SendInput struct {
	CounterpartyID string
	Body           string
	Attachment     *modelChat.Attachment
	// ReplyTo - цитируемое сообщение; если не задано, ищется по ReplyToID.
	ReplyTo   *modelChat.Message
	ReplyToID string
}

// Composer - черновик ввода. Единственное локальное состояние клиента:
// сообщения приходят только из подписок.
type Composer struct {
	mu    sync.Mutex
	draft SendInput
}

func NewComposer(counterpartyID string) *Composer {
	return &Composer{draft: SendInput{CounterpartyID: counterpartyID}}
}

func (c *Composer) SetBody(body string) {
	c.mu.Lock()
	c.draft.Body = body
	c.mu.Unlock()
}

func (c *Composer) Attach(a *modelChat.Attachment) {
	c.mu.Lock()
	c.draft.Attachment = a
	c.mu.Unlock()
}

func (c *Composer) ReplyTo(m *modelChat.Message) {
	c.mu.Lock()
	c.draft.ReplyTo = m
	c.mu.Unlock()
}

func (c *Composer) Draft() SendInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// take забирает черновик и очищает поле ввода, оставляя собеседника.
func (c *Composer) take() SendInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := c.draft
	c.draft = SendInput{CounterpartyID: d.CounterpartyID}
	return d
}

// restore возвращает черновик, если пользователь ещё ничего не набрал заново.
func (c *Composer) restore(d SendInput) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draft.Body == "" && c.draft.Attachment == nil && c.draft.ReplyTo == nil {
		c.draft = d
	}
}

// SendDraft отправляет черновик; при любой ошибке черновик восстанавливается.
func (s *Session) SendDraft(ctx context.Context, c *Composer) (modelChat.Message, error) {
	draft := c.take()
	msg, err := s.Send(ctx, draft)
	if err != nil {
		c.restore(draft)
		return modelChat.Message{}, err
	}
	return msg, nil
}

// Send проверяет ввод и создаёт сообщение в исходящем разделе.
// Ошибки валидации возвращаются до обращения к хранилищу.
func (s *Session) Send(ctx context.Context, in SendInput) (modelChat.Message, error) {
	if s.viewer.ID == "" || (s.channel.OwnerIsGroup && s.viewer.GroupID == "") {
		return modelChat.Message{}, apperrors.ErrNoSender
	}
	counterpartyID := strings.TrimSpace(in.CounterpartyID)
	if counterpartyID == "" {
		return modelChat.Message{}, apperrors.ErrNoCounterparty
	}
	body := strings.TrimSpace(in.Body)
	hasAttachment := in.Attachment != nil && in.Attachment.Size() > 0
	if body == "" && !hasAttachment {
		return modelChat.Message{}, apperrors.ErrEmptyMessage
	}
	if hasAttachment && in.Attachment.Size() > s.cfg.MaxAttachmentBytes {
		return modelChat.Message{}, apperrors.ErrAttachmentTooLarge
	}

	msg := s.newMessage(counterpartyID)
	if body != "" {
		msg.Body = &body
	}
	if hasAttachment {
		a := *in.Attachment
		msg.Attachment = &a
	}

	quoted := in.ReplyTo
	if quoted == nil && in.ReplyToID != "" {
		found, _, err := s.findMessage(ctx, in.ReplyToID)
		if err != nil {
			return modelChat.Message{}, err
		}
		quoted = &found
	}
	if quoted != nil {
		msg.ReplyTo = replySnapshot(*quoted)
	}

	_, known := s.index.Get(counterpartyID)

	created, err := s.store.Create(ctx, s.channel.OutboundPartition, msg)
	if err != nil {
		s.log.Warn("send failed", "counterparty_id", counterpartyID, "error", err)
		return modelChat.Message{}, mapStoreError(err)
	}
	s.metrics.MessageSent(s.channel.Name)

	if !known {
		// первая переписка с этим собеседником: индекс пересчитывается явно
		_, _ = s.ListConversations(ctx)
	}
	return created, nil
}

func (s *Session) newMessage(counterpartyID string) modelChat.Message {
	m := modelChat.Message{
		Partition:         s.channel.OutboundPartition,
		SenderID:          s.viewer.ID,
		SenderDisplayName: s.viewer.DisplayName,
		SenderRole:        s.viewer.Role,
		DeliveryStatus:    modelChat.StatusSent,
	}
	if m.SenderRole == "" {
		m.SenderRole = s.channel.OwnerRole
	}
	if s.channel.OwnerIsGroup {
		m.CounterpartyGroupID = s.viewer.GroupID
		m.CounterpartyGroupName = s.viewer.GroupName
		m.TargetParticipantID = counterpartyID
		return m
	}
	m.CounterpartyGroupID = counterpartyID
	if conv, ok := s.index.Get(counterpartyID); ok {
		m.CounterpartyGroupName = conv.CounterpartyDisplayName
	}
	return m
}

func replySnapshot(m modelChat.Message) *modelChat.ReplyRef {
	ref := &modelChat.ReplyRef{
		ID:            m.ID,
		SnippetBody:   truncateRunes(m.BodyText(), replySnippetRunes),
		SnippetSender: m.SenderDisplayName,
	}
	if m.Attachment != nil {
		ref.SnippetAttachmentRef = m.Attachment.Name
	}
	return ref
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// findMessage ищет сообщение в обоих разделах канала, в пределах видимости зрителя.
func (s *Session) findMessage(ctx context.Context, id string) (modelChat.Message, modelChat.StreamOrigin, error) {
	for _, origin := range []modelChat.StreamOrigin{modelChat.StreamOutbound, modelChat.StreamInbound} {
		partition := s.channel.OutboundPartition
		if origin == modelChat.StreamInbound {
			partition = s.channel.InboundPartition
		}
		msgs, err := s.store.Query(ctx, partition, store.Filter{IDs: []string{id}})
		if err != nil {
			return modelChat.Message{}, "", mapStoreError(err)
		}
		for _, m := range msgs {
			if m.ID == id && s.visible(m, origin) {
				m.StreamOrigin = origin
				return m, origin, nil
			}
		}
	}
	return modelChat.Message{}, "", apperrors.ErrMessageNotFound
}

func (s *Session) visible(m modelChat.Message, origin modelChat.StreamOrigin) bool {
	if s.channel.OwnerIsGroup {
		return m.CounterpartyGroupID == s.viewer.GroupID
	}
	if origin == modelChat.StreamOutbound {
		return m.SenderID == s.viewer.ID
	}
	return m.TargetParticipantID == s.viewer.ID
}

// Edit меняет текст своего сообщения. NotFound возвращается вызывающему.
func (s *Session) Edit(ctx context.Context, messageID, newBody string) error {
	m, origin, err := s.findMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if origin != modelChat.StreamOutbound || m.SenderID != s.viewer.ID {
		return apperrors.ErrNotMessageSender
	}
	if m.HardDeleted {
		return apperrors.ErrMessageDeleted
	}
	body := strings.TrimSpace(newBody)
	if body == "" && (m.Attachment == nil || m.Attachment.Size() == 0) {
		return apperrors.ErrEmptyMessage
	}

	edited := true
	now := s.cfg.Now().UTC()
	err = s.store.Patch(ctx, m.Partition, m.ID, store.Patch{Body: &body, Edited: &edited, EditedAt: &now})
	if err != nil {
		s.log.Warn("edit failed", "message_id", messageID, "error", err)
		return mapStoreError(err)
	}
	return nil
}

// DeleteForMe скрывает сообщение только для зрителя.
// Уже удалённое сообщение считается успехом.
func (s *Session) DeleteForMe(ctx context.Context, messageID string) error {
	m, _, err := s.findMessage(ctx, messageID)
	if apperrors.Is(err, apperrors.ErrMessageNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	err = s.store.Patch(ctx, m.Partition, m.ID, store.Patch{AddSoftDeletedFor: []string{s.viewer.ID}})
	if err != nil && !apperrors.Is(err, store.ErrNotFound) {
		return mapStoreError(err)
	}
	return nil
}

// DeleteForEveryone физически удаляет своё сообщение. Необратимо, поэтому
// без confirmed=true хранилище не вызывается.
func (s *Session) DeleteForEveryone(ctx context.Context, messageID string, confirmed bool) error {
	if !confirmed {
		return apperrors.ErrConfirmationRequired
	}
	m, origin, err := s.findMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if origin != modelChat.StreamOutbound || m.SenderID != s.viewer.ID {
		return apperrors.ErrNotMessageSender
	}

	err = s.store.Delete(ctx, m.Partition, m.ID)
	if err != nil && !apperrors.Is(err, store.ErrNotFound) {
		s.log.Warn("delete for everyone failed", "message_id", messageID, "error", err)
		return mapStoreError(err)
	}
	return nil
}

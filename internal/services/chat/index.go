package chat

import (
	"context"
	"sort"
	"sync"

	modelChat "salon_backend/internal/models/chat"
	"salon_backend/internal/store"
)

// Directory - внешний справочник собеседников владельца.
type Directory interface {
	Counterparties(ctx context.Context, ch modelChat.Channel, viewer modelChat.Identity) ([]modelChat.Counterparty, error)
}

// StaticDirectory - фиксированный список собеседников по ключу владельца
// (ID группы или участника, см. Channel.OwnerKey).
type StaticDirectory struct {
	mu      sync.RWMutex
	byOwner map[string][]modelChat.Counterparty
}

func NewStaticDirectory(byOwner map[string][]modelChat.Counterparty) *StaticDirectory {
	d := &StaticDirectory{byOwner: make(map[string][]modelChat.Counterparty)}
	for owner, list := range byOwner {
		d.byOwner[owner] = append([]modelChat.Counterparty(nil), list...)
	}
	return d
}

func (d *StaticDirectory) Add(ownerKey string, cp modelChat.Counterparty) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.byOwner[ownerKey] {
		if existing.ID == cp.ID {
			return
		}
	}
	d.byOwner[ownerKey] = append(d.byOwner[ownerKey], cp)
}

func (d *StaticDirectory) Counterparties(_ context.Context, ch modelChat.Channel, viewer modelChat.Identity) ([]modelChat.Counterparty, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]modelChat.Counterparty(nil), d.byOwner[ch.OwnerKey(viewer)]...), nil
}

// StoreDirectory находит собеседников по уже существующим сообщениям
// в обоих разделах канала.
type StoreDirectory struct {
	store store.MessageStore
}

func NewStoreDirectory(st store.MessageStore) *StoreDirectory {
	return &StoreDirectory{store: st}
}

func (d *StoreDirectory) Counterparties(ctx context.Context, ch modelChat.Channel, viewer modelChat.Identity) ([]modelChat.Counterparty, error) {
	var outFilter, inFilter store.Filter
	if ch.OwnerIsGroup {
		outFilter = store.Filter{GroupID: viewer.GroupID}
		inFilter = store.Filter{GroupID: viewer.GroupID}
	} else {
		outFilter = store.Filter{SenderID: viewer.ID}
		inFilter = store.Filter{TargetParticipantID: viewer.ID}
	}

	outbound, err := d.store.Query(ctx, ch.OutboundPartition, outFilter)
	if err != nil {
		return nil, err
	}
	inbound, err := d.store.Query(ctx, ch.InboundPartition, inFilter)
	if err != nil {
		return nil, err
	}

	names := make(map[string]string)
	var order []string
	remember := func(id, name string) {
		if id == "" {
			return
		}
		if _, ok := names[id]; !ok {
			order = append(order, id)
			names[id] = ""
		}
		if name != "" && names[id] == "" {
			names[id] = name
		}
	}

	if ch.OwnerIsGroup {
		// имя собеседника есть только в его собственных сообщениях
		for _, m := range inbound {
			remember(m.SenderID, m.SenderDisplayName)
		}
		for _, m := range outbound {
			remember(m.TargetParticipantID, "")
		}
	} else {
		for _, part := range [][]modelChat.Message{outbound, inbound} {
			for _, m := range part {
				remember(m.CounterpartyGroupID, m.CounterpartyGroupName)
			}
		}
	}

	out := make([]modelChat.Counterparty, 0, len(order))
	for _, id := range order {
		name := names[id]
		if name == "" {
			name = id
		}
		out = append(out, modelChat.Counterparty{ID: id, DisplayName: name})
	}
	return out, nil
}

// Index - снимок списка переписок владельца. Пересчитывается целиком при
// ListConversations; живьём обновляется только открытая переписка.
type Index struct {
	channel  modelChat.Channel
	viewerID string

	mu      sync.RWMutex
	entries map[string]modelChat.Conversation
}

func NewIndex(ch modelChat.Channel, viewerID string) *Index {
	return &Index{
		channel:  ch,
		viewerID: viewerID,
		entries:  make(map[string]modelChat.Conversation),
	}
}

// Summarize считает последнее сообщение и число непрочитанных по обоим
// разделам. Скрытые зрителем сообщения учитываются: "удалить у себя"
// не влияет на счётчики.
func Summarize(ch modelChat.Channel, viewerID string, outbound, inbound []modelChat.Message) (*modelChat.Message, int) {
	visible := make([]modelChat.Message, 0, len(outbound)+len(inbound))
	unread := 0
	for _, m := range outbound {
		if !m.HardDeleted {
			visible = append(visible, m)
		}
	}
	for _, m := range inbound {
		if m.HardDeleted {
			continue
		}
		visible = append(visible, m)
		if m.SenderID != viewerID && ch.IsUnread(m, viewerID) {
			unread++
		}
	}
	return preview(modelChat.Latest(visible)), unread
}

// preview - копия последнего сообщения для списка переписок: от вложения
// остаются имя и тип, байты не хранятся в индексе.
func preview(m *modelChat.Message) *modelChat.Message {
	if m == nil || m.Attachment == nil {
		return m
	}
	out := *m
	out.Attachment = &modelChat.Attachment{Name: m.Attachment.Name, MimeType: m.Attachment.MimeType}
	return &out
}

func (ix *Index) Get(counterpartyID string) (modelChat.Conversation, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	c, ok := ix.entries[counterpartyID]
	return c, ok
}

// Replace заменяет весь снимок результатами пересчёта.
func (ix *Index) Replace(list []modelChat.Conversation) {
	entries := make(map[string]modelChat.Conversation, len(list))
	for _, c := range list {
		entries[c.CounterpartyID] = c
	}
	ix.mu.Lock()
	ix.entries = entries
	ix.mu.Unlock()
}

// Apply обновляет запись открытой переписки по свежим снимкам разделов.
func (ix *Index) Apply(counterpartyID string, outbound, inbound []modelChat.Message) {
	last, unread := Summarize(ix.channel, ix.viewerID, outbound, inbound)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	entry, ok := ix.entries[counterpartyID]
	if !ok {
		entry = modelChat.Conversation{CounterpartyID: counterpartyID, CounterpartyDisplayName: counterpartyID}
	}
	entry.LastMessage = last
	entry.UnreadCount = unread
	entry.Stale = false
	ix.entries[counterpartyID] = entry
}

// Snapshot - отсортированная копия: свежие сверху, пустые в конце,
// при равенстве по имени собеседника.
func (ix *Index) Snapshot() []modelChat.Conversation {
	ix.mu.RLock()
	out := make([]modelChat.Conversation, 0, len(ix.entries))
	for _, c := range ix.entries {
		out = append(out, c)
	}
	ix.mu.RUnlock()

	SortConversations(out)
	return out
}

func SortConversations(list []modelChat.Conversation) {
	sort.SliceStable(list, func(i, j int) bool {
		a, b := list[i], list[j]
		switch {
		case a.LastMessage != nil && b.LastMessage == nil:
			return true
		case a.LastMessage == nil && b.LastMessage != nil:
			return false
		case a.LastMessage != nil && b.LastMessage != nil && !a.LastMessage.CreatedAt.Equal(b.LastMessage.CreatedAt):
			return a.LastMessage.CreatedAt.After(b.LastMessage.CreatedAt)
		}
		if a.CounterpartyDisplayName != b.CounterpartyDisplayName {
			return a.CounterpartyDisplayName < b.CounterpartyDisplayName
		}
		return a.CounterpartyID < b.CounterpartyID
	})
}

package chat

// Conversation - производная сводка по одному собеседнику. Не хранится.
type Conversation struct {
	CounterpartyID          string   `json:"counterparty_id"`
	CounterpartyDisplayName string   `json:"counterparty_display_name"`
	LastMessage             *Message `json:"last_message,omitempty"`
	UnreadCount             int      `json:"unread_count"`
	// Stale выставляется, если последний пересчёт по собеседнику не удался.
	Stale bool `json:"stale,omitempty"`
}

// Counterparty - собеседник из внешнего справочника (филиал, клиент, админ).
type Counterparty struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
}

// Identity - текущий участник. Передаётся явно, без глобальных синглтонов.
type Identity struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"display_name"`
	Role        SenderRole `json:"role"`
	// GroupID / GroupName заполняются для сотрудников филиала.
	GroupID   string `json:"group_id,omitempty"`
	GroupName string `json:"group_name,omitempty"`
}

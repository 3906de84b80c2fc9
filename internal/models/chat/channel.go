package chat

import "fmt"

type UnreadRule int

const (
	// UnreadBySeenBy - непрочитано, пока зритель не попал в SeenBy.
	UnreadBySeenBy UnreadRule = iota
	// UnreadByStatus - для каналов с одним получателем: статус != seen.
	UnreadByStatus
)

// Channel параметризует одну сторону двухканальной переписки.
// Одна и та же пара разделов описывает обе стороны: Reverse меняет их местами.
type Channel struct {
	Name              string
	OwnerRole         SenderRole
	CounterpartyRole  SenderRole
	OutboundPartition string
	InboundPartition  string
	// OwnerIsGroup - владелец является группой (филиалом), собеседники - отдельные участники.
	OwnerIsGroup bool
	Unread       UnreadRule
}

const (
	PartitionBranchToCustomer   = "branch_customer_outbound"
	PartitionCustomerToBranch   = "branch_customer_inbound"
	PartitionBranchToSuperAdmin = "branch_admin_outbound"
	PartitionSuperAdminToBranch = "branch_admin_inbound"
)

// BranchCustomerChannel - чат филиала с клиентами (сторона филиала).
var BranchCustomerChannel = Channel{
	Name:              "branch_customer",
	OwnerRole:         RoleBranchAdmin,
	CounterpartyRole:  RoleCustomer,
	OutboundPartition: PartitionBranchToCustomer,
	InboundPartition:  PartitionCustomerToBranch,
	OwnerIsGroup:      true,
	Unread:            UnreadBySeenBy,
}

// BranchSuperAdminChannel - чат филиала с супер-админом (сторона филиала).
var BranchSuperAdminChannel = Channel{
	Name:              "branch_super_admin",
	OwnerRole:         RoleBranchAdmin,
	CounterpartyRole:  RoleSuperAdmin,
	OutboundPartition: PartitionBranchToSuperAdmin,
	InboundPartition:  PartitionSuperAdminToBranch,
	OwnerIsGroup:      true,
	Unread:            UnreadByStatus,
}

// Reverse возвращает тот же канал со стороны собеседника.
func (c Channel) Reverse() Channel {
	return Channel{
		Name:              c.Name,
		OwnerRole:         c.CounterpartyRole,
		CounterpartyRole:  c.OwnerRole,
		OutboundPartition: c.InboundPartition,
		InboundPartition:  c.OutboundPartition,
		OwnerIsGroup:      !c.OwnerIsGroup,
		Unread:            c.Unread,
	}
}

func (c Channel) Validate() error {
	if c.OutboundPartition == "" || c.InboundPartition == "" {
		return fmt.Errorf("channel %q: both partitions are required", c.Name)
	}
	if c.OutboundPartition == c.InboundPartition {
		return fmt.Errorf("channel %q: outbound and inbound partitions must differ", c.Name)
	}
	if !c.OwnerRole.Valid() || !c.CounterpartyRole.Valid() {
		return fmt.Errorf("channel %q: unknown participant role", c.Name)
	}
	return nil
}

// OwnerKey - чей это список переписок: группа (филиал) или сам участник.
func (c Channel) OwnerKey(viewer Identity) string {
	if c.OwnerIsGroup {
		return viewer.GroupID
	}
	return viewer.ID
}

// IsUnread применяет правило непрочитанности канала к входящему сообщению.
func (c Channel) IsUnread(m Message, viewerID string) bool {
	if m.HardDeleted {
		return false
	}
	if c.Unread == UnreadByStatus {
		return m.DeliveryStatus != StatusSeen
	}
	return !m.SeenBy.Contains(viewerID)
}

// ChannelsByName - каналы со стороны филиала.
var ChannelsByName = map[string]Channel{
	BranchCustomerChannel.Name:   BranchCustomerChannel,
	BranchSuperAdminChannel.Name: BranchSuperAdminChannel,
}

// ResolveChannel выбирает сторону канала по роли участника.
func ResolveChannel(name string, role SenderRole) (Channel, bool) {
	ch, ok := ChannelsByName[name]
	if !ok {
		return Channel{}, false
	}
	switch role {
	case ch.OwnerRole:
		return ch, true
	case ch.CounterpartyRole:
		return ch.Reverse(), true
	}
	return Channel{}, false
}

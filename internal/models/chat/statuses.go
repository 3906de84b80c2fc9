package chat

type StreamOrigin string
type SenderRole string
type DeliveryStatus string

const (
	StreamOutbound StreamOrigin = "outbound"
	StreamInbound  StreamOrigin = "inbound"

	RoleCustomer    SenderRole = "customer"
	RoleBranchAdmin SenderRole = "branch_admin"
	RoleSuperAdmin  SenderRole = "super_admin"

	StatusSent      DeliveryStatus = "sent"
	StatusDelivered DeliveryStatus = "delivered"
	StatusSeen      DeliveryStatus = "seen"
)

// Rank задаёт порядок статусов доставки: sent < delivered < seen.
// Неизвестный статус имеет ранг 0 и никогда не побеждает известный.
func (s DeliveryStatus) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusSeen:
		return 3
	}
	return 0
}

func (s DeliveryStatus) Valid() bool {
	return s.Rank() > 0
}

func (r SenderRole) Valid() bool {
	switch r {
	case RoleCustomer, RoleBranchAdmin, RoleSuperAdmin:
		return true
	}
	return false
}

package chat

import (
	modelChat "salon_backend/internal/models/chat"
	"salon_backend/internal/store"
)

// AdvanceToDelivered: sent -> delivered, только для наблюдателя, который не автор.
// Второй результат false означает no-op: патч не нужен.
func AdvanceToDelivered(m modelChat.Message, observerID string) (store.Patch, bool) {
	if observerID == "" || m.SenderID == observerID || m.HardDeleted {
		return store.Patch{}, false
	}
	if m.DeliveryStatus != modelChat.StatusSent {
		return store.Patch{}, false
	}
	status := modelChat.StatusDelivered
	return store.Patch{AdvanceStatus: &status}, true
}

// AdvanceToSeen переводит в seen и добавляет наблюдателя в SeenBy.
// Патч идемпотентен: статус повышается только вверх, SeenBy объединяется.
func AdvanceToSeen(m modelChat.Message, observerID string) (store.Patch, bool) {
	if observerID == "" || m.SenderID == observerID || m.HardDeleted {
		return store.Patch{}, false
	}
	if m.DeliveryStatus == modelChat.StatusSeen && m.SeenBy.Contains(observerID) {
		return store.Patch{}, false
	}
	status := modelChat.StatusSeen
	return store.Patch{AdvanceStatus: &status, AddSeenBy: []string{observerID}}, true
}

// Apply - локальное применение патча с той же семантикой, что и у хранилища.
func Apply(m modelChat.Message, p store.Patch) modelChat.Message {
	return p.ApplyTo(m)
}

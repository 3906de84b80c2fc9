package validator

import (
	"log"

	modelChat "salon_backend/internal/models/chat"

	"github.com/go-playground/validator/v10"
)

// registerCustomRules регистрирует кастомные правила на основе моделей чата.
func registerCustomRules(v *validator.Validate) {
	mustRegister := func(tag string, fn validator.Func) {
		if err := v.RegisterValidation(tag, fn); err != nil {
			log.Fatalf("failed to register custom validation tag '%s': %v", tag, err)
		}
	}

	// 'is-sender-role': роль участника чата
	mustRegister("is-sender-role", validateSenderRole)

	// 'is-delivery-status': sent / delivered / seen
	mustRegister("is-delivery-status", validateDeliveryStatus)

	// 'is-partition': один из известных разделов хранилища
	mustRegister("is-partition", validatePartition)
}

func validateSenderRole(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return modelChat.SenderRole(value).Valid()
}

func validateDeliveryStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true
	}
	return modelChat.DeliveryStatus(value).Valid()
}

func validatePartition(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "",
		modelChat.PartitionBranchToCustomer,
		modelChat.PartitionCustomerToBranch,
		modelChat.PartitionBranchToSuperAdmin,
		modelChat.PartitionSuperAdminToBranch:
		return true
	}
	return false
}

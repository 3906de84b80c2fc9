package apperrors

import (
	"net/http"
)

// ErrNotFound - фабрика для "не найдено" (404), оборачивает ошибку хранилища.
func ErrNotFound(err error) *AppError {
	return Wrap(err, CodeNotFound, "resource", "Resource not found", http.StatusNotFound)
}

// ErrStoreUnavailable - хранилище сообщений временно недоступно (503).
func ErrStoreUnavailable(err error) *AppError {
	return Wrap(err, CodeStoreUnavailable, "store", "Message store is temporarily unavailable", http.StatusServiceUnavailable)
}

// ErrPermissionDenied - хранилище отклонило операцию по правам (403).
func ErrPermissionDenied(err error) *AppError {
	return Wrap(err, CodePermissionDenied, "store", "Operation rejected by the message store", http.StatusForbidden)
}

// ErrInvalidOperation - фабрика для невалидных операций (400)
func ErrInvalidOperation(domain, message string) *AppError {
	return New(CodeInvalidOperation, domain, message, http.StatusBadRequest)
}

// --- Chat ---

// ErrEmptyMessage - нет ни текста, ни вложения.
var ErrEmptyMessage = New(
	CodeValidationFailed,
	"chat",
	"Message must have a body or an attachment",
	http.StatusBadRequest,
)

// ErrNoCounterparty - собеседник не выбран.
var ErrNoCounterparty = New(
	CodeValidationFailed,
	"chat",
	"Counterparty is not selected",
	http.StatusBadRequest,
)

// ErrNoSender - не удалось определить отправителя.
var ErrNoSender = New(
	CodeValidationFailed,
	"chat",
	"Sender identity is not resolved",
	http.StatusBadRequest,
)

// ErrAttachmentTooLarge - вложение больше допустимого размера.
var ErrAttachmentTooLarge = New(
	CodeValidationFailed,
	"chat",
	"Attachment size exceeds the allowed limit",
	http.StatusRequestEntityTooLarge, // 413
)

// ErrNotMessageSender - менять и удалять у всех может только автор.
var ErrNotMessageSender = New(
	CodeForbidden,
	"chat",
	"Only the sender can modify this message",
	http.StatusForbidden,
)

// ErrMessageDeleted - сообщение удалено для всех.
var ErrMessageDeleted = New(
	CodeInvalidOperation,
	"chat",
	"Message has been deleted",
	http.StatusConflict,
)

// ErrConfirmationRequired - удаление для всех необратимо и требует подтверждения.
var ErrConfirmationRequired = New(
	CodeValidationFailed,
	"chat",
	"Deleting for everyone must be confirmed",
	http.StatusBadRequest,
)

// ErrMessageNotFound - сообщение не найдено.
var ErrMessageNotFound = New(
	CodeNotFound,
	"chat",
	"Message not found",
	http.StatusNotFound,
)

// ErrRateLimited - слишком много запросов от одного участника.
var ErrRateLimited = New(
	CodeRateLimited,
	"request",
	"Too many requests",
	http.StatusTooManyRequests,
)

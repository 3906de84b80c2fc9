package handlers

// AppHandlers содержит все хэндлеры приложения.
type AppHandlers struct {
	ChatHandler *ChatHandler
	WSHandler   *WSHandler
}

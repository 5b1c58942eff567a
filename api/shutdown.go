// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown объединяет логику корректного завершения компонентов.
type GracefulShutdown interface {
	// Shutdown останавливает внутренние циклы, уничтожает оставшиеся
	// ресурсы и освобождает память. Возвращает ошибку при неудаче.
	Shutdown() error
}

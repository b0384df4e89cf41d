package assignqueue

import (
	"errors"
	"net/http"
)

var (
	// ErrQueueFull é devolvido de forma síncrona por Submit.
	ErrQueueFull    = errors.New("assignqueue: queue is full")
	// ErrQueueTimeout indica que o pedido venceu antes de executar.
	ErrQueueTimeout = errors.New("assignqueue: request expired in queue")
	// ErrQueueCleared indica que a fila foi esvaziada por Clear.
	ErrQueueCleared = errors.New("assignqueue: queue cleared by system")
	ErrQueueClosed  = errors.New("assignqueue: queue is closed")
)

// StatusFor traduz erros da fila para status HTTP.
// Retorna 0 para erros da própria operação: quem decide é o handler de negócio.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrQueueFull), errors.Is(err, ErrQueueClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrQueueTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrQueueCleared):
		return http.StatusConflict
	default:
		return 0
	}
}

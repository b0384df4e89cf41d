// Package assignqueue serializa operações sujeitas a corrida por (usuário, tenant).
//
// Cada par tem uma fila FIFO limitada e no máximo um worker. Pedidos vencidos
// (mais velhos que o timeout) são rejeitados sem executar, tanto quando chegam
// à cabeça da fila quanto pela limpeza periódica. Falhas da operação voltam
// inalteradas apenas para o chamador daquele pedido.
//
// Erros da própria fila: ErrQueueFull (síncrono, em Submit), ErrQueueTimeout,
// ErrQueueCleared e ErrQueueClosed. StatusFor traduz para HTTP.
package assignqueue

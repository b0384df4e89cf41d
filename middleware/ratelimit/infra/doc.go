// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - TenantStore: janela fixa por (tenant, operação) com janitor
//   - MemoryStatsStore / RedisStatsStore / PrometheusStatsStore: estatísticas das decisões
package infra

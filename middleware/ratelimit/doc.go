// Package ratelimit fornece adapters HTTP (net/http) para o rate limit por tenant.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (validação + decisão allow/deny + retry-after) sem net/http
//   - infra: implementações concretas (janela fixa por tenant, stats), detalhes de infraestrutura
//   - ratelimit (este pacote): middleware HTTP + extração de identidade + tradução para status/headers
//
// Fluxo no gateway:
//
//   1) Extrai a identidade (tenant, usuário) do contexto autenticado
//   2) Escolhe a política da rota (chave da operação, limite, janela)
//   3) Chama a camada application para obter a decisão
//   4) Se bloqueado, responde 429 com Retry-After derivado do fim da janela
//   5) Se permitido, chama o próximo handler
//
// O estado é só em memória: não sobrevive a restart nem é compartilhado entre réplicas.
package ratelimit

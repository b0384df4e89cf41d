// Package application contém os casos de uso (regras de aplicação) para o rate limit
// por tenant.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: TenantService.Decide(identity, policy) retorna uma Decision
// (allow/deny + remaining + reset + retry-after).
package application

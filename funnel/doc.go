// Package funnel é o lado de produto da atribuição "recurso -> funil".
//
// A operação em si (Assigner) não se protege contra corrida; o Handler
// passa toda atribuição pela assignqueue do par (usuário, tenant).
package funnel

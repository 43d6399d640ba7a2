package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var operationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vault_operations_total",
	Help: "Vault operations by name and outcome status.",
}, []string{"operation", "status"})

var operationWarnings = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "vault_operation_warnings_total",
	Help: "Operations that completed with a warning, such as an accrual replay with a diverging amount.",
}, []string{"operation"})

var sweepTransitions = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vault_sweep_transitions_total",
	Help: "Status rows moved forward by expiry sweeps.",
})

var creditedAmount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "vault_credited_total",
	Help: "Total amount credited to locked balances by accruals and reward deliveries.",
})

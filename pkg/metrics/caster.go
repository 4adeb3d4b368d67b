package metrics

import (
	"github.com/2rtk/ntripcaster/pkg/caster"
)

// NewCasterObserver creates a Prometheus-backed caster.Observer.
//
// Returns nil if metrics are not enabled (InitRegistry not called);
// the caster treats a nil observer as "collection off".
func NewCasterObserver() caster.Observer {
	if !IsEnabled() || newPrometheusCasterObserver == nil {
		return nil
	}
	return newPrometheusCasterObserver()
}

// newPrometheusCasterObserver is registered by
// pkg/metrics/prometheus/caster.go during init. The indirection keeps
// this package free of a prometheus import in the disabled path.
var newPrometheusCasterObserver func() caster.Observer

// RegisterCasterObserverConstructor wires the Prometheus constructor.
func RegisterCasterObserverConstructor(constructor func() caster.Observer) {
	newPrometheusCasterObserver = constructor
}

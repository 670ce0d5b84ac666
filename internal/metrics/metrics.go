package metrics

// Copyright (c) Cloud Custos Authors.
// Licensed under the Apache License 2.0.

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"
)

// Emitter emits different types of metrics
type Emitter interface {
	AddCounter(metricName string, value float64, labels map[string]string)
	EmitGauge(metricName string, value float64, labels map[string]string)
}

type PrometheusEmitter struct {
	mutex    sync.Mutex
	gauges   map[string]*prometheus.GaugeVec
	counters map[string]*prometheus.CounterVec
	registry prometheus.Registerer
}

var _ Emitter = &PrometheusEmitter{}

func NewPrometheusEmitter(r prometheus.Registerer) *PrometheusEmitter {
	return &PrometheusEmitter{
		gauges:   make(map[string]*prometheus.GaugeVec),
		counters: make(map[string]*prometheus.CounterVec),
		registry: r,
	}
}

func (pe *PrometheusEmitter) EmitGauge(name string, value float64, labels map[string]string) {
	pe.mutex.Lock()
	defer pe.mutex.Unlock()
	vec, exists := pe.gauges[name]
	if !exists {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name}, lo.Keys(labels))
		pe.registry.MustRegister(vec)
		pe.gauges[name] = vec
	}
	vec.With(labels).Set(value)
}

func (pe *PrometheusEmitter) AddCounter(name string, value float64, labels map[string]string) {
	pe.mutex.Lock()
	defer pe.mutex.Unlock()
	vec, exists := pe.counters[name]
	if !exists {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: name}, lo.Keys(labels))
		pe.registry.MustRegister(vec)
		pe.counters[name] = vec
	}
	vec.With(labels).Add(value)
}

// NoopEmitter discards every metric. Used by tests and CLI commands.
type NoopEmitter struct{}

var _ Emitter = NoopEmitter{}

func (NoopEmitter) AddCounter(string, float64, map[string]string) {}

func (NoopEmitter) EmitGauge(string, float64, map[string]string) {}

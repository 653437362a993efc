package middleware

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vango-dev/pagewire/pkg/dispatch"
	"github.com/vango-dev/pagewire/pkg/pagetest"
	"github.com/vango-dev/pagewire/pkg/ui"
)

func clickPage(h ui.Handler) (*ui.Page, *ui.Component) {
	page := ui.NewPage()
	btn := ui.New("button", ui.WithText("go"), ui.Handle("click", h))
	_ = page.Add(btn)
	return page, btn
}

func TestPrometheusRecordsOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg))
	h := pagetest.New(t, dispatch.WithMiddleware(m.Middleware()))

	page, btn := clickPage(func(context.Context, *ui.Event) (ui.Result, error) {
		return ui.Update, nil
	})
	id := h.Register(page)
	conn := h.Connect(id)

	for i := 0; i < 3; i++ {
		_, err := h.Click(conn, id, btn.ID())
		require.NoError(t, err)
	}
	_, err := h.Click(conn, 9999, btn.ID())
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("connect", "connect")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("event", "rebuild")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("event", "no_page")))
	assert.Equal(t, 2, testutil.CollectAndCount(m.eventDuration))
	assert.Equal(t, 0, testutil.CollectAndCount(m.handlerFailures))
}

func TestPrometheusRecordsHandlerFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg))
	h := pagetest.New(t, dispatch.WithMiddleware(m.Middleware()))

	page, btn := clickPage(func(context.Context, *ui.Event) (ui.Result, error) {
		return ui.Update, errors.New("boom")
	})
	id := h.Register(page)
	conn := h.Connect(id)

	outcome, err := h.Click(conn, id, btn.ID())
	require.Error(t, err)
	assert.Equal(t, dispatch.OutcomeHandlerFailed, outcome)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.handlerFailures.WithLabelValues("click", "false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsTotal.WithLabelValues("event", "handler_failed")))
}

func TestPrometheusCountsPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(WithRegistry(reg))
	h := pagetest.New(t, dispatch.WithMiddleware(m.Middleware()))

	page, btn := clickPage(func(context.Context, *ui.Event) (ui.Result, error) {
		panic("kaboom")
	})
	id := h.Register(page)
	conn := h.Connect(id)

	_, err := h.Click(conn, id, btn.ID())
	require.Error(t, err)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.handlerFailures.WithLabelValues("click", "true")))
}

func TestNewMetricsReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	a := NewMetrics(WithRegistry(reg))
	b := NewMetrics(WithRegistry(reg))

	assert.Same(t, a.eventsTotal, b.eventsTotal)
	assert.NotPanics(t, func() { Prometheus(WithRegistry(reg)) })
}

func TestRegistryCollector(t *testing.T) {
	h := pagetest.New(t)
	page, _ := clickPage(func(context.Context, *ui.Event) (ui.Result, error) { return ui.Update, nil })
	id := h.Register(page)
	h.Connect(id)
	h.Connect(id)

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewRegistryCollector(h.Registry, WithNamespace("app")))

	expected := `
# HELP app_pages Pages currently registered
# TYPE app_pages gauge
app_pages 1
# HELP app_transports Open push transports across all pages
# TYPE app_transports gauge
app_transports 2
`
	err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "app_pages", "app_transports")
	assert.NoError(t, err)

	h.Registry.Forget(id)
	assert.Equal(t, 1.0, gather(t, reg, "app_pages_forgotten_total"))
	assert.Equal(t, 0.0, gather(t, reg, "app_pages"))
}

func gather(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		m := f.GetMetric()[0]
		if g := m.GetGauge(); g != nil {
			return g.GetValue()
		}
		return m.GetCounter().GetValue()
	}
	t.Fatalf("metric %s not gathered", name)
	return 0
}

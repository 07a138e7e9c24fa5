// internal/metrics/collector.go
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tamzrod/noah-poller/internal/poller"
	"github.com/tamzrod/noah-poller/internal/snapshot"
	"github.com/tamzrod/noah-poller/internal/status"
)

const namespace = "noah"

// Source is what the collector reads at scrape time. *poller.Poller
// satisfies it.
type Source interface {
	DeviceID() string
	Latest() (snapshot.DeviceSnapshot, bool)
	Status() status.Snapshot
}

type gauge struct {
	desc  *prometheus.Desc
	value func(s snapshot.DeviceSnapshot) float64
}

// optionalGauge is exported only when the device reported the value.
type optionalGauge struct {
	desc  *prometheus.Desc
	value func(s snapshot.DeviceSnapshot) (float64, bool)
}

func present(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

// Collector implements prometheus.Collector over the pollers' latest
// snapshots and health. Values are read at scrape time, never cached here.
// It also subscribes to failure notifications to count them by kind.
type Collector struct {
	mu      sync.RWMutex
	sources []Source

	gauges   []gauge
	optional []optionalGauge

	info                *prometheus.Desc
	pollSuccess         *prometheus.Desc
	consecutiveFailures *prometheus.Desc
	secondsInError      *prometheus.Desc
	lastSuccess         *prometheus.Desc

	notifications *prometheus.CounterVec
}

var _ prometheus.Collector = (*Collector)(nil)
var _ poller.Subscriber = (*Collector)(nil)

func deviceDesc(name, help string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, []string{"device"}, nil)
}

// NewCollector creates a collector with no sources.
func NewCollector() *Collector {
	return &Collector{
		gauges: []gauge{
			{deviceDesc("battery_state_of_charge_percent", "Battery state of charge in percent"),
				func(s snapshot.DeviceSnapshot) float64 { return s.Battery.StateOfCharge }},
			{deviceDesc("battery_voltage_volts", "Battery voltage in volts"),
				func(s snapshot.DeviceSnapshot) float64 { return s.Battery.Voltage }},
			{deviceDesc("battery_current_amperes", "Battery current in amperes"),
				func(s snapshot.DeviceSnapshot) float64 { return s.Battery.Current }},
			{deviceDesc("battery_power_watts", "Battery power in watts (positive=charging, negative=discharging)"),
				func(s snapshot.DeviceSnapshot) float64 { return s.Battery.Power }},
			{deviceDesc("battery_temperature_celsius", "Battery temperature in degrees Celsius"),
				func(s snapshot.DeviceSnapshot) float64 { return s.Battery.Temperature }},
			{deviceDesc("solar_power_watts", "Solar production in watts"),
				func(s snapshot.DeviceSnapshot) float64 { return s.Solar.Power }},
			{deviceDesc("solar_energy_today_kwh", "Solar energy produced today in kWh"),
				func(s snapshot.DeviceSnapshot) float64 { return s.Solar.EnergyToday }},
			{deviceDesc("solar_energy_total_kwh", "Lifetime solar energy in kWh"),
				func(s snapshot.DeviceSnapshot) float64 { return s.Solar.EnergyTotal }},
			{deviceDesc("grid_power_watts", "Grid power in watts (positive=import, negative=export)"),
				func(s snapshot.DeviceSnapshot) float64 { return s.Grid.Power }},
			{deviceDesc("grid_voltage_volts", "Grid voltage in volts"),
				func(s snapshot.DeviceSnapshot) float64 { return s.Grid.Voltage }},
			{deviceDesc("grid_frequency_hertz", "Grid frequency in hertz"),
				func(s snapshot.DeviceSnapshot) float64 { return s.Grid.Frequency }},
			{deviceDesc("grid_exported_today_kwh", "Energy exported to the grid today in kWh"),
				func(s snapshot.DeviceSnapshot) float64 { return s.Grid.EnergyExportedToday }},
			{deviceDesc("grid_exported_total_kwh", "Lifetime energy exported to the grid in kWh"),
				func(s snapshot.DeviceSnapshot) float64 { return s.Grid.EnergyExportedTotal }},
			{deviceDesc("load_power_watts", "Derived household load in watts"),
				func(s snapshot.DeviceSnapshot) float64 { return s.Load.Power }},
			{deviceDesc("self_sufficiency_percent", "Share of load not served by grid import"),
				func(s snapshot.DeviceSnapshot) float64 { return s.Load.SelfSufficiency }},
		},
		optional: []optionalGauge{
			{deviceDesc("battery_state_of_health_percent", "Battery state of health in percent"),
				func(s snapshot.DeviceSnapshot) (float64, bool) { return present(s.Battery.StateOfHealth) }},
			{deviceDesc("battery_capacity_kwh", "Usable battery capacity in kWh"),
				func(s snapshot.DeviceSnapshot) (float64, bool) { return present(s.Battery.Capacity) }},
			{deviceDesc("battery_charged_today_kwh", "Energy charged into the battery today in kWh"),
				func(s snapshot.DeviceSnapshot) (float64, bool) { return present(s.Battery.EnergyChargedToday) }},
			{deviceDesc("battery_discharged_today_kwh", "Energy discharged from the battery today in kWh"),
				func(s snapshot.DeviceSnapshot) (float64, bool) { return present(s.Battery.EnergyDischargedToday) }},
			{deviceDesc("solar_voltage_volts", "PV input voltage in volts"),
				func(s snapshot.DeviceSnapshot) (float64, bool) { return present(s.Solar.Voltage) }},
			{deviceDesc("solar_current_amperes", "PV input current in amperes"),
				func(s snapshot.DeviceSnapshot) (float64, bool) { return present(s.Solar.Current) }},
			{deviceDesc("grid_imported_today_kwh", "Energy imported from the grid today in kWh"),
				func(s snapshot.DeviceSnapshot) (float64, bool) { return present(s.Grid.EnergyImportedToday) }},
			{deviceDesc("grid_imported_total_kwh", "Lifetime energy imported from the grid in kWh"),
				func(s snapshot.DeviceSnapshot) (float64, bool) { return present(s.Grid.EnergyImportedTotal) }},
			{deviceDesc("grid_connected", "Whether the device is connected to the grid (1=yes, 0=no)"),
				func(s snapshot.DeviceSnapshot) (float64, bool) {
					if s.Grid.Connected == nil {
						return 0, false
					}
					if *s.Grid.Connected {
						return 1, true
					}
					return 0, true
				}},
			{deviceDesc("load_energy_today_kwh", "Energy consumed by the load today in kWh"),
				func(s snapshot.DeviceSnapshot) (float64, bool) { return present(s.Load.EnergyToday) }},
			{deviceDesc("load_energy_total_kwh", "Lifetime energy consumed by the load in kWh"),
				func(s snapshot.DeviceSnapshot) (float64, bool) { return present(s.Load.EnergyTotal) }},
		},
		info: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "info"),
			"Device information",
			[]string{"device", "status", "work_mode", "battery_status", "firmware"},
			nil,
		),
		pollSuccess:         deviceDesc("poll_success", "Whether the last poll succeeded (1=yes, 0=no)"),
		consecutiveFailures: deviceDesc("consecutive_failures", "Consecutive failed polls"),
		secondsInError:      deviceDesc("seconds_in_error", "Seconds since the current failure streak began"),
		lastSuccess:         deviceDesc("last_success_timestamp_seconds", "Unix time of the last successful poll"),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failure_notifications_total",
			Help:      "Failure notifications published, by kind.",
		}, []string{"device", "kind"}),
	}
}

// Add registers a device to be scraped.
func (c *Collector) Add(src Source) {
	c.mu.Lock()
	c.sources = append(c.sources, src)
	c.mu.Unlock()
}

// ---- poller.Subscriber ----

// OnSnapshot is a no-op: snapshots are read from the source at scrape time.
func (c *Collector) OnSnapshot(snapshot.DeviceSnapshot) {}

func (c *Collector) OnFailure(n poller.Notification) {
	c.notifications.WithLabelValues(n.DeviceID, n.Kind.String()).Inc()
}

// ---- prometheus.Collector ----

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, g := range c.gauges {
		ch <- g.desc
	}
	for _, g := range c.optional {
		ch <- g.desc
	}
	ch <- c.info
	ch <- c.pollSuccess
	ch <- c.consecutiveFailures
	ch <- c.secondsInError
	ch <- c.lastSuccess
	c.notifications.Describe(ch)
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	sources := append([]Source(nil), c.sources...)
	c.mu.RUnlock()

	for _, src := range sources {
		c.collectDevice(src, ch)
	}
	c.notifications.Collect(ch)
}

func (c *Collector) collectDevice(src Source, ch chan<- prometheus.Metric) {
	id := src.DeviceID()
	st := src.Status()

	success := 0.0
	if st.Health == status.HealthOK {
		success = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.pollSuccess, prometheus.GaugeValue, success, id)
	ch <- prometheus.MustNewConstMetric(c.consecutiveFailures, prometheus.GaugeValue, float64(st.ConsecutiveFailures), id)
	ch <- prometheus.MustNewConstMetric(c.secondsInError, prometheus.GaugeValue, float64(st.SecondsInError), id)

	// no reading yet: health only
	s, ok := src.Latest()
	if !ok {
		return
	}

	ch <- prometheus.MustNewConstMetric(c.lastSuccess, prometheus.GaugeValue, float64(st.LastSuccess.Unix()), id)
	for _, g := range c.gauges {
		ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, g.value(s), id)
	}
	for _, g := range c.optional {
		if v, ok := g.value(s); ok {
			ch <- prometheus.MustNewConstMetric(g.desc, prometheus.GaugeValue, v, id)
		}
	}
	ch <- prometheus.MustNewConstMetric(c.info, prometheus.GaugeValue, 1,
		id, s.System.Status.String(), s.System.WorkMode.String(), s.Battery.Status.String(), s.System.FirmwareVersion)
}

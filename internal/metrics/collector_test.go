// internal/metrics/collector_test.go
package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tamzrod/noah-poller/internal/failure"
	"github.com/tamzrod/noah-poller/internal/poller"
	"github.com/tamzrod/noah-poller/internal/snapshot"
	"github.com/tamzrod/noah-poller/internal/status"
)

type fakeSource struct {
	id     string
	latest *snapshot.DeviceSnapshot
	st     status.Snapshot
}

func (f fakeSource) DeviceID() string { return f.id }

func (f fakeSource) Latest() (snapshot.DeviceSnapshot, bool) {
	if f.latest == nil {
		return snapshot.DeviceSnapshot{}, false
	}
	return *f.latest, true
}

func (f fakeSource) Status() status.Snapshot { return f.st }

func healthy(id string) fakeSource {
	s := snapshot.DeviceSnapshot{DeviceID: id}
	s.Battery.StateOfCharge = 45
	s.Battery.Power = -120
	s.Solar.Power = 300
	s.Load = snapshot.DeriveLoad(300, -120, 0)
	s.System.FirmwareVersion = "11.10.09.08"
	s.System.Status = snapshot.SystemOnline

	return fakeSource{
		id:     id,
		latest: &s,
		st: status.Snapshot{
			DeviceID:    id,
			Health:      status.HealthOK,
			LastSuccess: time.Unix(1780315200, 0),
		},
	}
}

func TestCollector_Describe(t *testing.T) {
	c := NewCollector()
	ch := make(chan *prometheus.Desc, 64)
	c.Describe(ch)
	close(ch)

	count := 0
	for range ch {
		count++
	}
	// 15 snapshot gauges + 11 optional + info + 4 health + notification counter
	if count != 32 {
		t.Fatalf("Describe() sent %d descriptors, want 32", count)
	}
}

func TestCollector_HealthyDevice(t *testing.T) {
	c := NewCollector()
	c.Add(healthy("noah-1"))

	// 15 snapshot gauges + info + 4 health; optional values absent
	if n := testutil.CollectAndCount(c); n != 20 {
		t.Fatalf("CollectAndCount=%d want 20", n)
	}

	exp := `
# HELP noah_battery_state_of_charge_percent Battery state of charge in percent
# TYPE noah_battery_state_of_charge_percent gauge
noah_battery_state_of_charge_percent{device="noah-1"} 45
# HELP noah_load_power_watts Derived household load in watts
# TYPE noah_load_power_watts gauge
noah_load_power_watts{device="noah-1"} 420
# HELP noah_poll_success Whether the last poll succeeded (1=yes, 0=no)
# TYPE noah_poll_success gauge
noah_poll_success{device="noah-1"} 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(exp),
		"noah_battery_state_of_charge_percent", "noah_load_power_watts", "noah_poll_success")
	if err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestCollector_OptionalGaugesWhenReported(t *testing.T) {
	src := healthy("noah-1")
	imported, health := 1.25, 98.0
	connected := false
	src.latest.Grid.EnergyImportedToday = &imported
	src.latest.Battery.StateOfHealth = &health
	src.latest.Grid.Connected = &connected

	c := NewCollector()
	c.Add(src)

	if n := testutil.CollectAndCount(c); n != 23 {
		t.Fatalf("CollectAndCount=%d want 23", n)
	}

	exp := `
# HELP noah_battery_state_of_health_percent Battery state of health in percent
# TYPE noah_battery_state_of_health_percent gauge
noah_battery_state_of_health_percent{device="noah-1"} 98
# HELP noah_grid_connected Whether the device is connected to the grid (1=yes, 0=no)
# TYPE noah_grid_connected gauge
noah_grid_connected{device="noah-1"} 0
# HELP noah_grid_imported_today_kwh Energy imported from the grid today in kWh
# TYPE noah_grid_imported_today_kwh gauge
noah_grid_imported_today_kwh{device="noah-1"} 1.25
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(exp),
		"noah_battery_state_of_health_percent", "noah_grid_connected", "noah_grid_imported_today_kwh", "noah_load_energy_today_kwh"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestCollector_FailingDeviceWithoutReading(t *testing.T) {
	c := NewCollector()
	c.Add(fakeSource{
		id: "noah-2",
		st: status.Snapshot{
			DeviceID:            "noah-2",
			Health:              status.HealthError,
			ConsecutiveFailures: 3,
			SecondsInError:      90,
		},
	})

	// health only
	if n := testutil.CollectAndCount(c); n != 3 {
		t.Fatalf("CollectAndCount=%d want 3", n)
	}

	exp := `
# HELP noah_consecutive_failures Consecutive failed polls
# TYPE noah_consecutive_failures gauge
noah_consecutive_failures{device="noah-2"} 3
# HELP noah_poll_success Whether the last poll succeeded (1=yes, 0=no)
# TYPE noah_poll_success gauge
noah_poll_success{device="noah-2"} 0
`
	if err := testutil.CollectAndCompare(c, strings.NewReader(exp),
		"noah_consecutive_failures", "noah_poll_success"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestCollector_CountsNotifications(t *testing.T) {
	c := NewCollector()
	c.OnFailure(poller.Notification{DeviceID: "noah-1", Kind: failure.KindConnection, ConsecutiveCount: 3})
	c.OnFailure(poller.Notification{DeviceID: "noah-1", Kind: failure.KindConnection, ConsecutiveCount: 4})
	c.OnFailure(poller.Notification{DeviceID: "noah-1", Kind: failure.KindAuth, ConsecutiveCount: 1})

	if got := testutil.ToFloat64(c.notifications.WithLabelValues("noah-1", "connection")); got != 2 {
		t.Fatalf("connection notifications=%v want 2", got)
	}
	if got := testutil.ToFloat64(c.notifications.WithLabelValues("noah-1", "auth")); got != 1 {
		t.Fatalf("auth notifications=%v want 1", got)
	}
}

func TestCollector_Registers(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c := NewCollector()
	c.Add(healthy("noah-1"))
	c.Add(healthy("noah-2"))

	if err := reg.Register(c); err != nil {
		t.Fatalf("Register err=%v", err)
	}
	if _, err := reg.Gather(); err != nil {
		t.Fatalf("Gather err=%v", err)
	}
}

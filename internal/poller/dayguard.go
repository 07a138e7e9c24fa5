// internal/poller/dayguard.go
package poller

import (
	"time"

	"github.com/tamzrod/noah-poller/internal/failure"
	"github.com/tamzrod/noah-poller/internal/fieldmap"
	"github.com/tamzrod/noah-poller/internal/snapshot"
)

// dayGuard enforces that daily energy counters never decrease within one
// local calendar day. A decrease on a new day is a rollover.
type dayGuard struct {
	loc  *time.Location
	day  string
	last map[string]float64
}

func newDayGuard(loc *time.Location) dayGuard {
	if loc == nil {
		loc = time.Local
	}
	return dayGuard{loc: loc, last: map[string]float64{}}
}

// dailyFields is the check order of the daily counters.
var dailyFields = []string{
	fieldmap.SolarEnergyToday,
	fieldmap.GridExportedToday,
	fieldmap.GridImportedToday,
	fieldmap.LoadEnergyToday,
	fieldmap.BatteryChargedToday,
	fieldmap.BatteryDischargedToday,
}

// dailyCounters returns the counters s carries. Optional counters the
// device did not report are left out.
func dailyCounters(s snapshot.DeviceSnapshot) map[string]float64 {
	out := map[string]float64{
		fieldmap.SolarEnergyToday:  s.Solar.EnergyToday,
		fieldmap.GridExportedToday: s.Grid.EnergyExportedToday,
	}
	optional := map[string]*float64{
		fieldmap.GridImportedToday:      s.Grid.EnergyImportedToday,
		fieldmap.LoadEnergyToday:        s.Load.EnergyToday,
		fieldmap.BatteryChargedToday:    s.Battery.EnergyChargedToday,
		fieldmap.BatteryDischargedToday: s.Battery.EnergyDischargedToday,
	}
	for name, v := range optional {
		if v != nil {
			out[name] = *v
		}
	}
	return out
}

// check validates s against the previous accepted snapshot and, when it
// passes, makes s the new reference.
func (g *dayGuard) check(s snapshot.DeviceSnapshot) error {
	day := s.Timestamp.In(g.loc).Format(time.DateOnly)
	cur := dailyCounters(s)

	if day == g.day {
		for _, name := range dailyFields {
			v, reported := cur[name]
			if !reported {
				continue
			}
			if prev, ok := g.last[name]; ok && v < prev {
				return failure.Decode(name, "decreased from %g to %g within %s", prev, v, day)
			}
		}

		// a counter missing from one reading keeps its reference
		for name, prev := range g.last {
			if _, ok := cur[name]; !ok {
				cur[name] = prev
			}
		}
	}

	g.day = day
	g.last = cur
	return nil
}

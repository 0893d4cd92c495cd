// Package environment provides the per-step temperature and intervention
// inputs. Both are read-only once a step starts.
package environment

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/gocarina/gocsv"
)

// Record is the environmental state for one step. Intervention values are
// coverage times effectiveness, i.e. a per-encounter probability.
type Record struct {
	BloodmealSuccess float64
	ITN              float64 // kills a blood seeker on a bite attempt
	IRS              float64 // kills a female resting after a blood meal
	CarryingCapacity float64 // larval habitat capacity in biomass units
	Larvicide        float64 // extra hourly larval mortality
	OviTrap          float64 // captures a gravid at each laying attempt
}

// Feed yields the inputs of each step.
type Feed interface {
	Temperature(step int) float64
	Environment(step int) Record
}

// Profile is a Feed backed by per-step tables. Empty tables fall back to
// the constant values.
type Profile struct {
	temps   []float64
	records []Record

	temp   float64
	record Record
}

// Constant returns a profile with the same inputs every step.
func Constant(temp float64, rec Record) *Profile {
	return &Profile{temp: temp, record: rec}
}

// Temperature returns the temperature of step. Steps past the end of the
// table repeat the last value.
func (p *Profile) Temperature(step int) float64 {
	if len(p.temps) == 0 {
		return p.temp
	}
	return p.temps[min(max(step, 0), len(p.temps)-1)]
}

// Environment returns the environmental record of step.
func (p *Profile) Environment(step int) Record {
	if len(p.records) == 0 {
		return p.record
	}
	return p.records[min(max(step, 0), len(p.records)-1)]
}

// Steps returns the number of tabulated steps, 0 for a constant profile.
func (p *Profile) Steps() int {
	return max(len(p.temps), len(p.records))
}

// Load builds a profile from a temperature file and an intervention file.
// Either path may be empty, in which case the matching constant is used.
// Every file must hold at least steps entries.
func Load(tempPath, envPath string, steps int, temp float64, base Record) (*Profile, error) {
	p := Constant(temp, base)

	if tempPath != "" {
		f, err := os.Open(tempPath)
		if err != nil {
			return nil, fmt.Errorf("opening temperature file: %w", err)
		}
		defer f.Close()
		if p.temps, err = LoadTemperatures(f, steps); err != nil {
			return nil, fmt.Errorf("%s: %w", tempPath, err)
		}
	}

	if envPath != "" {
		f, err := os.Open(envPath)
		if err != nil {
			return nil, fmt.Errorf("opening intervention file: %w", err)
		}
		defer f.Close()
		if p.records, err = LoadInterventions(f, steps, base.CarryingCapacity); err != nil {
			return nil, fmt.Errorf("%s: %w", envPath, err)
		}
	}

	return p, nil
}

// LoadTemperatures reads steps whitespace separated temperatures.
func LoadTemperatures(r io.Reader, steps int) ([]float64, error) {
	sc := bufio.NewScanner(r)
	sc.Split(bufio.ScanWords)

	temps := make([]float64, 0, steps)
	for len(temps) < steps && sc.Scan() {
		v, err := strconv.ParseFloat(sc.Text(), 64)
		if err != nil {
			return nil, fmt.Errorf("temperature %d: %w", len(temps), err)
		}
		temps = append(temps, v)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading temperatures: %w", err)
	}
	if len(temps) < steps {
		return nil, fmt.Errorf("got %d temperatures, need %d", len(temps), steps)
	}
	return temps, nil
}

// interventionRow is one line of the intervention file: four
// coverage/effectiveness pairs followed by blood-meal success.
type interventionRow struct {
	IRSCoverage            float64 `csv:"irs_coverage"`
	IRSEffectiveness       float64 `csv:"irs_effectiveness"`
	ITNCoverage            float64 `csv:"itn_coverage"`
	ITNEffectiveness       float64 `csv:"itn_effectiveness"`
	LarvicideCoverage      float64 `csv:"larvicide_coverage"`
	LarvicideEffectiveness float64 `csv:"larvicide_effectiveness"`
	OviTrapCoverage        float64 `csv:"ovitrap_coverage"`
	OviTrapEffectiveness   float64 `csv:"ovitrap_effectiveness"`
	BloodmealSuccess       float64 `csv:"bloodmeal_success"`
}

const interventionFields = 9

func (row interventionRow) record(carryingCapacity float64) Record {
	return Record{
		BloodmealSuccess: row.BloodmealSuccess,
		IRS:              row.IRSCoverage * row.IRSEffectiveness,
		ITN:              row.ITNCoverage * row.ITNEffectiveness,
		Larvicide:        row.LarvicideCoverage * row.LarvicideEffectiveness,
		OviTrap:          row.OviTrapCoverage * row.OviTrapEffectiveness,
		CarryingCapacity: carryingCapacity,
	}
}

// LoadInterventions reads one comma separated intervention line per step.
// The file carries no capacity column, so every record gets
// carryingCapacity.
func LoadInterventions(r io.Reader, steps int, carryingCapacity float64) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = interventionFields
	cr.Comment = '#'

	var rows []interventionRow
	if err := gocsv.UnmarshalCSVWithoutHeaders(cr, &rows); err != nil {
		return nil, fmt.Errorf("parsing interventions: %w", err)
	}
	if len(rows) < steps {
		return nil, fmt.Errorf("got %d intervention lines, need %d", len(rows), steps)
	}

	records := make([]Record, steps)
	for i := range records {
		records[i] = rows[i].record(carryingCapacity)
	}
	return records, nil
}

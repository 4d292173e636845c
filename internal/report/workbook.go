// Package report exports calibration session snapshots to spreadsheet
// workbooks.
package report

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/calibration-cli/internal/model"
)

// Sheet names in the exported workbook.
const (
	SheetSummary      = "Summary"
	SheetDeviations   = "Deviations"
	SheetMeasurements = "Measurements"
)

// WriteWorkbook writes snap to an .xlsx file at path. The Deviations sheet
// holds only its header row when the session never reached a result.
func WriteWorkbook(snap model.SessionSnapshot, path string) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet(SheetSummary)
	if err != nil {
		return eris.Wrap(err, "report: add summary sheet")
	}
	writeSummary(summary, snap)

	devs, err := f.AddSheet(SheetDeviations)
	if err != nil {
		return eris.Wrap(err, "report: add deviations sheet")
	}
	writeDeviations(devs, snap.Result)

	meas, err := f.AddSheet(SheetMeasurements)
	if err != nil {
		return eris.Wrap(err, "report: add measurements sheet")
	}
	writeMeasurements(meas, snap.Measurements)

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func writeSummary(sheet *xlsx.Sheet, snap model.SessionSnapshot) {
	pair := func(k, v string) {
		row := sheet.AddRow()
		row.AddCell().SetString(k)
		row.AddCell().SetString(v)
	}

	pair("Session", snap.ID)
	pair("Equipment", snap.EquipmentID)
	pair("Class", string(snap.EquipmentClass))
	pair("State", string(snap.State))
	pair("Criteria version", snap.Criteria.Version)
	pair("Opened", snap.OpenedAt.UTC().Format(time.RFC3339))
	if snap.ClosedAt != nil {
		pair("Closed", snap.ClosedAt.UTC().Format(time.RFC3339))
	}
	if snap.AbortReason != "" {
		pair("Abort reason", snap.AbortReason)
	}
	if env := snap.Environmental; env != nil {
		pair("Temperature (C)", formatFloat(env.TemperatureC))
		pair("Humidity (%)", formatFloat(env.HumidityPct))
		if env.PressureHPa != nil {
			pair("Pressure (hPa)", formatFloat(*env.PressureHPa))
		}
		if env.Vibration != "" {
			pair("Vibration", string(env.Vibration))
		}
	}

	r := snap.Result
	if r == nil {
		return
	}
	pair("Verdict", string(r.Verdict))
	pair("Score", strconv.Itoa(r.Score))
	pair("Source", string(r.Source))
	pair("Confidence", formatFloat(r.Confidence))
	pair("Degraded", strconv.FormatBool(r.Degraded))
	if r.AdvisoryOverridden {
		pair("Advisory overridden", "true")
	}
	if r.Narrative != "" {
		pair("Narrative", r.Narrative)
	}
	if len(r.Recommendations) > 0 {
		pair("Recommendations", strings.Join(r.Recommendations, "\n"))
	}
}

func writeDeviations(sheet *xlsx.Sheet, r *model.ComplianceResult) {
	header(sheet, "Check", "Metric", "Observed", "Lower limit", "Limit", "Exceeded")
	if r == nil {
		return
	}
	for _, d := range r.Deviations {
		row := sheet.AddRow()
		row.AddCell().SetString(d.Check)
		row.AddCell().SetString(d.Metric)
		row.AddCell().SetFloat(d.Observed)
		if d.LowerLimit != nil {
			row.AddCell().SetFloat(*d.LowerLimit)
		} else {
			row.AddCell().SetString("")
		}
		row.AddCell().SetFloat(d.Limit)
		row.AddCell().SetBool(d.Exceeded)
	}
}

func writeMeasurements(sheet *xlsx.Sheet, m *model.Measurements) {
	header(sheet, "Set", "Index", "Reference", "Reading")
	if m == nil {
		return
	}
	for i, w := range m.Linearity.Weights {
		row := sheet.AddRow()
		row.AddCell().SetString(model.CheckLinearity)
		row.AddCell().SetInt(i + 1)
		row.AddCell().SetFloat(w)
		if i < len(m.Linearity.Readings) {
			row.AddCell().SetFloat(m.Linearity.Readings[i])
		}
	}
	for i, s := range m.Repeatability.Samples {
		row := sheet.AddRow()
		row.AddCell().SetString(model.CheckRepeatability)
		row.AddCell().SetInt(i + 1)
		row.AddCell().SetString("")
		row.AddCell().SetFloat(s)
	}
	row := sheet.AddRow()
	row.AddCell().SetString(model.CheckAccuracy)
	row.AddCell().SetInt(1)
	row.AddCell().SetFloat(m.Accuracy.Reference)
	row.AddCell().SetFloat(m.Accuracy.Measured)
}

func header(sheet *xlsx.Sheet, cols ...string) {
	row := sheet.AddRow()
	for _, c := range cols {
		row.AddCell().SetString(c)
	}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

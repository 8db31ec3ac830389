package jobs

// JobType identifies the unit of work a job carries. The set is closed:
// the planner only ever emits these types and the dispatcher only knows
// handlers for them.
type JobType string

const (
	// JobTypeProcessWeek derives optical vegetation indices for one ISO week.
	JobTypeProcessWeek JobType = "PROCESS_WEEK"

	// JobTypeProcessRadarWeek derives radar backscatter statistics for one ISO week.
	JobTypeProcessRadarWeek JobType = "PROCESS_RADAR_WEEK"

	// JobTypeProcessWeather ingests weather history over a full date range.
	JobTypeProcessWeather JobType = "PROCESS_WEATHER"

	// JobTypeProcessTopography derives static terrain attributes for an AOI.
	JobTypeProcessTopography JobType = "PROCESS_TOPOGRAPHY"

	// JobTypeAlertsWeek evaluates threshold alert rules for one ISO week.
	JobTypeAlertsWeek JobType = "ALERTS_WEEK"

	// JobTypeSignalsWeek runs opportunity signal detection for one ISO week.
	JobTypeSignalsWeek JobType = "SIGNALS_WEEK"

	// JobTypeForecastWeek produces an in-season forecast for one ISO week.
	JobTypeForecastWeek JobType = "FORECAST_WEEK"

	// JobTypeBackfill expands a date range into the per-week job graph.
	JobTypeBackfill JobType = "BACKFILL"
)

func (t JobType) String() string { return string(t) }

// ParseJobType converts a string to a JobType. An unrecognized value maps
// to the empty JobType, which no handler is registered for.
func ParseJobType(s string) JobType {
	switch JobType(s) {
	case JobTypeProcessWeek, JobTypeProcessRadarWeek, JobTypeProcessWeather,
		JobTypeProcessTopography, JobTypeAlertsWeek, JobTypeSignalsWeek,
		JobTypeForecastWeek, JobTypeBackfill:
		return JobType(s)
	default:
		return ""
	}
}

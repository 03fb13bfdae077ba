package topology

// Quality grades the usability of one substation's input data for one run.
// The level only moves up as defects are found.
type Quality int

const (
	// QualityClean means every table parsed without repair.
	QualityClean Quality = 0
	// QualityMinor marks defects corrected by a near fallback.
	QualityMinor Quality = 1
	// QualityCorrected marks significant defects corrected by a far fallback.
	QualityCorrected Quality = 2
	// QualityAbort means no usable graph can be built.
	QualityAbort Quality = 3
	// QualityHourError is reported by the solver when one hour fails to
	// converge. It never applies to the network as a whole.
	QualityHourError Quality = 4
)

// Raise returns the higher of the two levels.
func (q Quality) Raise(to Quality) Quality {
	if to > q {
		return to
	}
	return q
}

func (q Quality) String() string {
	switch q {
	case QualityClean:
		return "clean"
	case QualityMinor:
		return "minor"
	case QualityCorrected:
		return "corrected"
	case QualityAbort:
		return "abort"
	case QualityHourError:
		return "hour-error"
	}
	return "unknown"
}

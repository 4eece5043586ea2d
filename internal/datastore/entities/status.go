package entities

// Status titles, ordered from worst to best.
const (
	StatusFaulty = "Faulty"
	StatusMiddle = "Middle"
	StatusGood   = "Good"
)

// Confidence thresholds, inclusive upper bounds.
const (
	faultyMaxConfidence = 0.5
	middleMaxConfidence = 0.8
)

// Status is a lookup table for confidence-derived quality buckets.
type Status struct {
	ID    uint   `gorm:"primaryKey"`
	Title string `gorm:"size:30;uniqueIndex;not null"`
}

// TableName returns the table name for GORM.
func (Status) TableName() string {
	return "statuses"
}

// DefaultStatuses returns the status values to seed on initialization.
func DefaultStatuses() []Status {
	return []Status{
		{Title: StatusGood},
		{Title: StatusMiddle},
		{Title: StatusFaulty},
	}
}

// ClassifyConfidence maps a detection confidence to a status title.
func ClassifyConfidence(confidence float64) string {
	switch {
	case confidence <= faultyMaxConfidence:
		return StatusFaulty
	case confidence <= middleMaxConfidence:
		return StatusMiddle
	default:
		return StatusGood
	}
}

// WorstStatus returns the worst of the given status titles. An empty input is Good.
func WorstStatus(titles ...string) string {
	worst := StatusGood
	for _, title := range titles {
		switch title {
		case StatusFaulty:
			return StatusFaulty
		case StatusMiddle:
			worst = StatusMiddle
		}
	}
	return worst
}

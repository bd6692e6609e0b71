package models

import "time"

// Document is the raw body of one input source. Seq is the source's
// position among the run's arguments.
type Document struct {
	Source string
	Seq    int
	Body   []byte
}

// LoadResult holds the overall result of loading the input sources.
type LoadResult struct {
	Sources       []string
	StartTime     time.Time
	EndTime       time.Time
	DocumentCount int
	ItemCount     int
	ErrorCount    int
	FailedSources []string
	ErrorsByType  map[string]int
	RetryCount    int
	RequestCount  int
}

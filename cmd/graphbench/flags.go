package main

import "time"

// RunFlags Flag structs to decouple cobra from logic for testing.
type RunFlags struct {
	Vendor      string
	Dataset     string
	QueriesFile string
	Parallel    int
	MPS         int
	SimulateMs  int
	Endpoint    string
	ResultsDir  string
	Capacity    int
	Timeout     time.Duration
	Restore     bool
	Listen      string
	PID         int
	PIDFile     string
	PIDMatch    string
}

type AggregateFlags struct {
	ResultsDir string
	OutDir     string
}

type SuperviseFlags struct {
	Listen  string
	Dataset string
}

type TelemetryFlags struct {
	Addr        string
	Stream      string
	QueriesFile string
	Duration    time.Duration
}

type ReportFlags struct {
	ResultsDir string
	Vendor     string
	Markdown   bool
}

package app

// AppState represents the different views of the progress UI.
type AppState int

const (
	Running AppState = iota
	ShowSummary
	ShowError
	Exiting
)

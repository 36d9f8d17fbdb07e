package app

// AppState represents the different views/modes of the application.
type AppState int

const (
	Planning AppState = iota
	Decompiling
	Done
	ShowError
	Exiting
)

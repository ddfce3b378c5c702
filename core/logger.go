package core

// Logger reports messages to the console and, outside debug, to the error tracker.
// args may hold errors, map[string]interface{} extras and the acting profile.
type Logger interface {
	Debug(msg string, args ...interface{})
	Info(msg string, args ...interface{})
	Warn(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Fatal(msg string, args ...interface{})
}

// Person identifies the acting user in log reports.
type Person struct {
	ID       string
	Username string
	Email    string
}

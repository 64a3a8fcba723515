package logger

import (
	"go.uber.org/zap"
)

// New builds the process logger: JSON production output, or the console
// development config when development is true.
func New(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Must is New for process startup, panicking on failure.
func Must(development bool) *zap.Logger {
	l, err := New(development)
	if err != nil {
		panic(err)
	}
	return l
}

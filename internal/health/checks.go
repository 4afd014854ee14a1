package health

import (
	"context"
	"errors"

	"github.com/MrWong99/wavecast/internal/catalog"
)

// ErrNotRunning is reported by [Running] when the component is down.
var ErrNotRunning = errors.New("health: not running")

// Library fails when the track library is unreadable or empty.
func Library(snapshot func() ([]catalog.Track, error)) Checker {
	return Checker{
		Name: "library",
		Check: func(context.Context) error {
			_, err := snapshot()
			return err
		},
	}
}

// Running fails while ready reports false.
func Running(name string, ready func() bool) Checker {
	return Checker{
		Name: name,
		Check: func(context.Context) error {
			if !ready() {
				return ErrNotRunning
			}
			return nil
		},
	}
}

// Package hal binds the controller's collaborators to board hardware.
package hal

type Pull uint8

const (
	PullNone Pull = iota
	PullUp
	PullDown
)

// GPIOPin is one digital pin.
type GPIOPin interface {
	ConfigureInput(pull Pull) error
	ConfigureOutput(initial bool) error
	Set(level bool)
	Get() bool
	Toggle()
	Number() int
}

// PinFactory supplies GPIO pins by board number.
type PinFactory interface {
	ByNumber(n int) (GPIOPin, bool)
}

package source

import "fmt"

// DeliveryMode controls when a collection's sync is triggered.
type DeliveryMode string

const (
	// DeliveryManual fires only on an explicit trigger call.
	DeliveryManual DeliveryMode = "manual"
	// DeliveryAnchored fires on store change notifications once authorized.
	DeliveryAnchored DeliveryMode = "anchored"
	// DeliveryBackground behaves like DeliveryAnchored; the distinction is
	// the surrounding execution environment (it survives host suspension),
	// not core trigger logic.
	DeliveryBackground DeliveryMode = "background"
)

// StartMode controls whether a triggered delivery begins collecting on its
// own once authorization is known, or waits for a manual kick.
type StartMode string

const (
	StartManual    StartMode = "manual"
	StartAutomatic StartMode = "automatic"
)

// DeliverySetting is the full trigger configuration for one collection.
type DeliverySetting struct {
	Mode    DeliveryMode `json:"mode"`
	Start   StartMode    `json:"start"`
	Persist bool         `json:"persist"`
}

// Triggered reports whether change notifications may start a collection
// (anything other than manual-only delivery).
func (d DeliverySetting) Triggered() bool {
	return d.Mode == DeliveryAnchored || d.Mode == DeliveryBackground
}

// Validate rejects unknown modes. A manual delivery ignores Start.
func (d DeliverySetting) Validate() error {
	switch d.Mode {
	case DeliveryManual, DeliveryAnchored, DeliveryBackground:
	default:
		return fmt.Errorf("unknown delivery mode %q", d.Mode)
	}
	if d.Triggered() {
		switch d.Start {
		case StartManual, StartAutomatic:
		default:
			return fmt.Errorf("unknown start mode %q", d.Start)
		}
	}
	return nil
}

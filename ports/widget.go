package ports

import "github.com/apolo-dex/smartlink/core"

// WidgetHost exposes the mount points third-party widgets are injected into
type WidgetHost interface {
	MountPoint(id string) (MountPoint, bool)
}

// MountPoint is a container element on the host page
type MountPoint interface {
	Contains(elementID string) bool
	Append(el core.Element) error
	Children() []core.Element
}

// ReadyNotifier is implemented by hosts that can announce when a mount point exists
type ReadyNotifier interface {
	Ready(id string) <-chan struct{}
}

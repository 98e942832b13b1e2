package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes of the LibreTap MQTT namespace.
const (
	// TopicPrefixDevices is the base of every reader topic.
	// Scheme: devices/{device_id}/{operation}/{action}
	TopicPrefixDevices = "devices"

	// TopicPrefixService is the base for engine presence topics.
	TopicPrefixService = "libretap/service"
)

// Operation actions used in command topics.
const (
	ActionStart  = "start"
	ActionVerify = "verify"
	ActionCancel = "cancel"
)

// Device broadcast topic suffixes.
const (
	SuffixMode      = "mode"
	SuffixStatus    = "status"
	SuffixHeartbeat = "heartbeat"
	SuffixReset     = "reset"
	SuffixError     = "error"
)

// Topics provides builders for LibreTap MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	start := topics.AuthStart("lock-1")
//	// Returns: "devices/lock-1/auth/start"
type Topics struct{}

// Command returns the topic for an operation command to a reader.
//
// Example: devices/lock-1/read/cancel
func (Topics) Command(deviceID, operation, action string) string {
	return fmt.Sprintf("%s/%s/%s/%s", TopicPrefixDevices, deviceID, operation, action)
}

// AuthStart returns the topic that puts a reader into authentication mode.
func (t Topics) AuthStart(deviceID string) string {
	return t.Command(deviceID, "auth", ActionStart)
}

// AuthVerify returns the topic carrying the key for a detected tag.
func (t Topics) AuthVerify(deviceID string) string {
	return t.Command(deviceID, "auth", ActionVerify)
}

// AuthCancel returns the topic that aborts authentication.
func (t Topics) AuthCancel(deviceID string) string {
	return t.Command(deviceID, "auth", ActionCancel)
}

// RegisterStart returns the topic that starts tag registration.
func (t Topics) RegisterStart(deviceID string) string {
	return t.Command(deviceID, "register", ActionStart)
}

// RegisterCancel returns the topic that aborts tag registration.
func (t Topics) RegisterCancel(deviceID string) string {
	return t.Command(deviceID, "register", ActionCancel)
}

// ReadStart returns the topic that starts a block read.
func (t Topics) ReadStart(deviceID string) string {
	return t.Command(deviceID, "read", ActionStart)
}

// ReadCancel returns the topic that aborts a block read.
func (t Topics) ReadCancel(deviceID string) string {
	return t.Command(deviceID, "read", ActionCancel)
}

// Reset returns the topic that returns a reader to idle.
//
// Example: devices/lock-1/reset
func (Topics) Reset(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevices, deviceID, SuffixReset)
}

// DeviceStatus returns the retained status (and LWT) topic of a reader.
//
// Example: devices/lock-1/status
func (Topics) DeviceStatus(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevices, deviceID, SuffixStatus)
}

// DeviceMode returns the retained mode topic of a reader.
func (Topics) DeviceMode(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevices, deviceID, SuffixMode)
}

// DeviceHeartbeat returns the heartbeat topic of a reader.
func (Topics) DeviceHeartbeat(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevices, deviceID, SuffixHeartbeat)
}

// DeviceError returns the topic for errors not tied to an operation.
func (Topics) DeviceError(deviceID string) string {
	return fmt.Sprintf("%s/%s/%s", TopicPrefixDevices, deviceID, SuffixError)
}

// AllDevices returns the wildcard covering every reader topic.
func (Topics) AllDevices() string {
	return TopicPrefixDevices + "/#"
}

// ServiceStatus returns the retained presence topic of an engine instance.
//
// Example: libretap/service/libretap-engine/status
func (Topics) ServiceStatus(clientID string) string {
	return fmt.Sprintf("%s/%s/status", TopicPrefixService, clientID)
}

// ParseDeviceTopic splits a reader topic into its device ID and the
// remaining path ("auth/success", "status", ...).
// ok is false for topics outside the devices/ namespace.
func ParseDeviceTopic(topic string) (deviceID, rest string, ok bool) {
	after, found := strings.CutPrefix(topic, TopicPrefixDevices+"/")
	if !found {
		return "", "", false
	}
	deviceID, rest, _ = strings.Cut(after, "/")
	if deviceID == "" {
		return "", "", false
	}
	return deviceID, rest, true
}

// IsCommandTopic reports whether rest (as returned by ParseDeviceTopic)
// addresses a command only the engine publishes: a start, a verify or a reset.
// Cancel topics are shared with readers and are not included.
func IsCommandTopic(rest string) bool {
	if rest == SuffixReset {
		return true
	}
	_, action, found := strings.Cut(rest, "/")
	return found && (action == ActionStart || action == ActionVerify)
}

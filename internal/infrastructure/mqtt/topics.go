package mqtt

import "strings"

// DefaultPrefix is the topic root used when none is configured.
const DefaultPrefix = "devmgr"

// Command names accepted under <prefix>/command/.
const (
	CommandPower    = "power"
	CommandLoad     = "load"
	CommandUnload   = "unload"
	CommandLoadLeft = "load-left"
)

// Topics builds the device manager's MQTT topics under one prefix.
//
//	t := mqtt.NewTopics("site1/devmgr")
//	t.HostStatus("sample_host") // site1/devmgr/host/sample_host/status
//	t.Command("power")          // site1/devmgr/command/power
type Topics struct {
	Prefix string
}

// NewTopics returns a topic builder rooted at prefix. Surrounding slashes
// are trimmed; an empty prefix becomes DefaultPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{Prefix: prefix}
}

func (t Topics) join(parts ...string) string {
	prefix := t.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return prefix + "/" + strings.Join(parts, "/")
}

// SystemStatus is the retained online/offline topic of the manager itself,
// also used for the Last Will.
func (t Topics) SystemStatus() string { return t.join("system", "status") }

// Events carries every lifecycle event, not retained.
func (t Topics) Events() string { return t.join("events") }

// HostStatus is the retained status of one device host.
func (t Topics) HostStatus(hostName string) string { return t.join("host", hostName, "status") }

// DeviceStatus is the retained status of one device, keyed by "host:local".
func (t Topics) DeviceStatus(deviceID string) string { return t.join("device", deviceID, "status") }

// PowerState is the retained last broadcast power state.
func (t Topics) PowerState() string { return t.join("power", "state") }

// Command is where remote commands of the given name arrive.
func (t Topics) Command(name string) string { return t.join("command", name) }

// Reply is where the result of a command is published.
func (t Topics) Reply(name string) string { return t.join("reply", name) }

// AllCommands matches every command topic.
func (t Topics) AllCommands() string { return t.join("command", "+") }

// CommandName extracts the command name from a command topic. It reports
// false for topics outside <prefix>/command/.
func (t Topics) CommandName(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.join("command")+"/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

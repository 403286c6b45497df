// Package mqtt connects the device manager to an MQTT broker.
//
// The broker is the manager's remote surface: lifecycle events and retained
// host, device and power status are published under a configurable prefix,
// and operators send power and load commands to <prefix>/command/<name>.
//
// # Topics
//
//	<prefix>/system/status           retained online/offline (also the LWT)
//	<prefix>/events                  every lifecycle event
//	<prefix>/host/<name>/status      retained per-host status
//	<prefix>/device/<h:l>/status     retained per-device status
//	<prefix>/power/state             retained last power broadcast
//	<prefix>/command/<name>          inbound commands
//	<prefix>/reply/<name>            command results
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Publish(client.Topics().PowerState(), payload, 1, true)
//
// Subscriptions are restored after every reconnect. Handlers run with panic
// recovery; their errors are logged through SetLogger.
package mqtt

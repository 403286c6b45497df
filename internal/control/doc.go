// Package control accepts device manager commands over MQTT.
//
// Commands arrive on <prefix>/command/<name> as JSON and each produces one
// reply on <prefix>/reply/<name>:
//
//	power      {"id":"1","state":"suspend"}
//	load       {"id":"2","service":"lazy_service"}
//	unload     {"id":"3","service":"lazy_service"}
//	load-left  {"id":"4"}
//	status     {"id":"5"}
//
// A reply carries the request ID, ok, the stable numeric code from
// device.Code and, for status, a snapshot of every host.
package control

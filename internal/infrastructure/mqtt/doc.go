// Package mqtt provides MQTT client connectivity for the LibreTap engine.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Command publishing with QoS guarantees
//   - The devices/# subscription with wildcard support
//   - Last Will and Testament (LWT) for engine presence
//   - Connection health monitoring
//
// # Architecture
//
// Readers and the engine never talk directly. Every command and every event
// travels through the broker under the devices/{device_id}/ namespace:
//
//	Session Engine ↔ MQTT Broker ↔ NFC Readers
//
// The broker gives no request/response or cross-topic ordering guarantee and
// may redeliver messages; correlation lives in the engine package, not here.
//
// # Reconnection
//
// paho reconnects with exponential backoff. Subscriptions granted through
// Subscribe are tracked and restored on every reconnect; a topic the broker
// refuses again is logged at error level. Loss, each attempt and the restore
// are logged with the open Session count from SetOpenSessions. Open Sessions
// stay pending with their original deadlines throughout.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllDevices(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("Received: %s = %s", topic, payload)
//	        return nil
//	    })
//
//	client.Publish(mqtt.Topics{}.AuthStart("lock-1"), envelope, 1, false)
package mqtt

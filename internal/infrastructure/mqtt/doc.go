// Package mqtt provides MQTT client connectivity for the show node.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Blocking and fire-and-forget publishing
//   - Topic subscriptions with wildcard support, restored on reconnect
//   - Last Will and Testament (LWT) for offline detection
//
// # Architecture
//
// MQTT is the show's tag bus. Tags are retained values that external
// systems and other show nodes read and write; the tagbus package builds
// on this client to resolve fixture indirection, claim cues, sync cue
// entries between nodes and carry tag-backed universes.
//
//	Show node ↔ MQTT Broker ↔ Panels, automation, other show nodes
//
// # Topics
//
// See Topics for the hierarchy under graylogic/show.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllTags(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("tag %s = %s", topic, payload)
//	        return nil
//	    })
//
//	// Frames are sent from the render loop and must not block.
//	client.PublishAsync(mqtt.Topics{}.UniverseFrame("stage"), frame, 0, false)
package mqtt

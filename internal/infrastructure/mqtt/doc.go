// Package mqtt publishes dataset change notifications to an MQTT broker.
//
// The server announces its own availability on a retained status topic,
// with a Last Will and Testament so that subscribers notice crashes, and
// publishes one event per committed store change:
//
//	{prefix}/status            retained online/offline status
//	{prefix}/changes/{kind}    one JSON event per change
//
// Publishing is best effort. A broker outage never blocks or fails a
// store write; events raised while disconnected are dropped and logged.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	store.SetOnChange(func(c graphstore.Change) {
//	    client.PublishChange(mqtt.ChangeEvent{Kind: string(c.Kind), Graph: c.Graph, Quads: c.Quads})
//	})
package mqtt

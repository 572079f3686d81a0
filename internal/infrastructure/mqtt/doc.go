// Package mqtt connects vrpn-core to a broker. The supervisor announces
// itself on the system status topic (with a will message for crashes),
// publishes retained server state and optionally output lines, and takes
// remote commands. Paho reconnects on its own and subscriptions are
// restored each time.
//
// # Topics
//
//	vrpncore/system/status                   online/offline (retained, LWT)
//	vrpncore/server/{name}/status            lifecycle stats (retained)
//	vrpncore/server/{name}/output/{stream}   server output lines
//	vrpncore/server/{name}/command           start | stop | restart
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	payload, _ := json.Marshal(stats)
//	client.PublishRetained(mqtt.Topics{}.ServerStatus(stats.Name), payload)
package mqtt

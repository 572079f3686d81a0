// Package telemetry fans supervisor lifecycle events out to the run
// journal, MQTT, InfluxDB and live log viewers.
//
//	reporter := telemetry.New(telemetry.Config{
//	    ServerName: "tracker",
//	    Journal:    journal.NewSQLiteRepository(db.DB),
//	    Publisher:  mqttClient,
//	})
//	reporter.Bind(&serverCfg)
//
// A failing sink is logged and never affects the supervised server.
package telemetry

// Package config loads pagewire server settings from a file and the
// environment.
//
// The file is YAML (pagewire.yaml or pagewire.yml) or JSON (pagewire.json).
// Every key is optional:
//
//	address: ":8000"
//	secret_key: change-me
//	ajax_only: false
//	latency: 250ms
//	page_idle_timeout: 30m
//	channel:
//	  heartbeat_interval: 30s
//	  event_rate: 50
//	log:
//	  level: debug
//	  format: json
//
// Durations are Go duration strings or plain seconds. After the file,
// environment variables override individual settings: PAGEWIRE_ADDRESS,
// PAGEWIRE_SECRET_KEY, PAGEWIRE_AJAX_ONLY, PAGEWIRE_LATENCY,
// PAGEWIRE_LOG_LEVEL and so on.
//
// # Usage
//
//	cfg, err := config.Load(config.Find("."))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	app, err := server.New(cfg.Server(), server.WithLogger(cfg.Logger(os.Stderr)))
package config

// Package config loads katai server and CLI configuration.
//
// Configuration is read from katai.yaml (or .json/.toml) in the working
// directory, or from the file named by KATAI_CONFIG. Every key can be
// overridden from the environment with the KATAI_ prefix, with dots
// replaced by underscores (KATAI_CACHE_BACKEND=sqlite).
//
// # Configuration File Structure
//
//	log:
//	  level: info
//	  format: text
//	server:
//	  addr: ":7070"
//	cache:
//	  backend: sqlite
//	  prefix: katai
//	  codec: json
//	  sqlite:
//	    path: katai.db
//	metrics:
//	  enabled: true
//	stores:
//	  - name: todos
//	    cached: true
//	    initial:
//	      todos: []
//
// # Usage
//
//	cfg, err := config.Load("")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Println("Backend:", cfg.Cache.Backend)
package config

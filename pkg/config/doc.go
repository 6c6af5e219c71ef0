// Package config loads the pockitectd configuration.
//
// Values come from three layers, later ones winning:
//
//  1. Default(), which mirrors the behaviour of a fresh install
//  2. an optional YAML file given with --config
//  3. POCKITECT_* environment variables
//
// The result is validated with struct tags before use.
//
// # Example
//
//	provider:
//	  name: aws
//	  default_region: eu-west-1
//	  requests_per_second: 10
//	bus:
//	  backend: redis
//	  redis:
//	    addr: localhost:6379
//	registry:
//	  backend: sqlite
//	  path: /var/lib/pockitect/registry.db
//	workers: 5
//	confirm:
//	  terminate:
//	    base_delay: 5s
//	    factor: 1.5
//	    cap: 30s
//	    timeout: 15m
//	deletion:
//	  layer_pause: 2s
//	policy:
//	  dir: /etc/pockitect/policies
//	  watch: true
//	api:
//	  listen: 127.0.0.1:8088
//
// Recognised environment variables: POCKITECT_PROVIDER, POCKITECT_REGION,
// POCKITECT_BUS, POCKITECT_REDIS_ADDR (also selects the redis bus),
// POCKITECT_REDIS_PASSWORD, POCKITECT_REGISTRY_BACKEND,
// POCKITECT_REGISTRY_PATH, POCKITECT_CACHE_DIR, POCKITECT_PROJECTS_DIR,
// POCKITECT_POLICY_DIR, POCKITECT_API_LISTEN, POCKITECT_WORKERS,
// POCKITECT_SCAN_REGIONS (comma separated), POCKITECT_LOG_LEVEL and
// POCKITECT_LOG_FORMAT.
package config

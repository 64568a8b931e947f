package main

import "os"

// envInfo names the deployment environment shown by /api/IsAlive.
func envInfo() string {
	if v := os.Getenv("MIRRORDB_ENV_INFO"); v != "" {
		return v
	}
	host, err := os.Hostname()
	if err != nil {
		return ""
	}
	return host
}

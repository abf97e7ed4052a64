package config

import (
	"os"
	"strconv"
	"sync"
)

const dockerHostAlias = "host.docker.internal"

var (
	isDockerOnce   sync.Once
	isDockerResult bool
)

// IsRunningInDocker reports whether the engine runs inside a container.
// CYFM_IN_DOCKER overrides detection; otherwise /.dockerenv is checked.
// The result is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		if v, ok := os.LookupEnv("CYFM_IN_DOCKER"); ok {
			isDockerResult, _ = strconv.ParseBool(v)
			return
		}
		_, err := os.Stat("/.dockerenv")
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker rewrites loopback datasource hosts to the Docker host
// alias when running in a container, so catalog entries written for a
// developer machine keep working. Other hosts are returned unchanged.
func ResolveHostForDocker(host string) string {
	if !IsRunningInDocker() {
		return host
	}

	switch host {
	case "localhost", "127.0.0.1", "::1":
		return dockerHostAlias
	}
	return host
}

package main

import (
	"fmt"
	"strconv"
	"time"
)

// Environment variables that provide flag defaults. A .env file in the
// working directory is loaded into the environment first.
const (
	envLogLevel   = "SCRIPTBOX_LOG_LEVEL"
	envIsolation  = "SCRIPTBOX_ISOLATION"
	envFallback   = "SCRIPTBOX_FALLBACK"
	envPolicy     = "SCRIPTBOX_POLICY"
	envModuleRoot = "SCRIPTBOX_MODULE_ROOT"
	envCPUSeconds = "SCRIPTBOX_CPU_SECONDS"
	envMemoryMB   = "SCRIPTBOX_MEMORY_MB"
	envTimeout    = "SCRIPTBOX_TIMEOUT"
	envMaxOutput  = "SCRIPTBOX_MAX_OUTPUT_BYTES"
)

// envDefaults holds flag defaults read from the environment.
type envDefaults struct {
	logLevel   string
	isolation  string
	fallback   string
	policy     string
	moduleRoot string
	cpuSeconds int
	memoryMB   int
	timeout    time.Duration
	maxOutput  int64
}

func loadEnvDefaults(getenv func(string) string) (envDefaults, error) {
	d := envDefaults{
		logLevel:   "warn",
		isolation:  "auto",
		fallback:   "strict",
		policy:     getenv(envPolicy),
		moduleRoot: getenv(envModuleRoot),
	}
	if v := getenv(envLogLevel); v != "" {
		d.logLevel = v
	}
	if v := getenv(envIsolation); v != "" {
		d.isolation = v
	}
	if v := getenv(envFallback); v != "" {
		d.fallback = v
	}

	var err error
	if d.cpuSeconds, err = envInt(getenv, envCPUSeconds); err != nil {
		return d, err
	}
	if d.memoryMB, err = envInt(getenv, envMemoryMB); err != nil {
		return d, err
	}
	if v := getenv(envTimeout); v != "" {
		if d.timeout, err = time.ParseDuration(v); err != nil {
			return d, fmt.Errorf("%s: %w", envTimeout, err)
		}
	}
	if v := getenv(envMaxOutput); v != "" {
		if d.maxOutput, err = strconv.ParseInt(v, 10, 64); err != nil {
			return d, fmt.Errorf("%s: %w", envMaxOutput, err)
		}
	}
	return d, nil
}

func envInt(getenv func(string) string, key string) (int, error) {
	v := getenv(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

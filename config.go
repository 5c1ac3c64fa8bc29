/*
 * Copyright (c) 2024 yakumioto <yaku.mioto@gmail.com>
 * All rights reserved.
 */

package scoutslog

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// Environment variables consulted when a Config field is left empty.
const (
	EnvServiceName = "SCOUT_NAME"
	EnvEndpoint    = "SCOUT_LOGS_REPORTING_ENDPOINT"
	EnvIngestKey   = "SCOUT_LOGS_INGEST_KEY"
	EnvProtocol    = "SCOUT_LOGS_PROTOCOL"
)

const (
	DefaultServiceName = "unnamed-service"
	DefaultEndpoint    = "otlp.scoutotel.com:4317"

	// IngestKeyHeader carries the ingest key on every export request.
	IngestKeyHeader = "x-scout-key"
)

// Protocol selects the OTLP transport.
type Protocol string

const (
	ProtocolGRPC Protocol = "grpc"
	ProtocolHTTP Protocol = "http"
)

// ErrIngestKeyNotSet is returned when no ingest key is configured.
var ErrIngestKeyNotSet = errors.New("SCOUT_LOGS_INGEST_KEY is not set")

// LookupFunc looks up a configuration value by environment variable name.
type LookupFunc func(key string) (string, bool)

// Config describes where and how log records are exported.
// Empty fields are filled in by Resolve.
type Config struct {
	ServiceName string
	Endpoint    string
	IngestKey   string
	Protocol    Protocol

	// Insecure disables transport security, e.g. for a local collector.
	Insecure bool

	// Headers are sent in addition to the ingest key header.
	Headers map[string]string

	// Lookup replaces os.LookupEnv.
	Lookup LookupFunc
}

func (c Config) lookup(key string) string {
	lookup := c.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, _ := lookup(key)
	return strings.TrimSpace(v)
}

// ResolveServiceName returns ServiceName, falling back to SCOUT_NAME and then
// DefaultServiceName. Unlike Resolve it never fails.
func (c Config) ResolveServiceName() string {
	return firstNonEmpty(c.ServiceName, c.lookup(EnvServiceName), DefaultServiceName)
}

// Resolve fills empty fields from the environment and defaults.
// It fails with ErrIngestKeyNotSet when no ingest key can be found.
func (c Config) Resolve() (Config, error) {
	c.ServiceName = c.ResolveServiceName()
	c.Endpoint = firstNonEmpty(c.Endpoint, c.lookup(EnvEndpoint), DefaultEndpoint)

	if c.Protocol == "" {
		c.Protocol = Protocol(strings.ToLower(c.lookup(EnvProtocol)))
	}
	switch c.Protocol {
	case "":
		c.Protocol = ProtocolGRPC
	case ProtocolGRPC, ProtocolHTTP:
	default:
		return c, fmt.Errorf("unsupported protocol %q", c.Protocol)
	}

	c.IngestKey = firstNonEmpty(c.IngestKey, c.lookup(EnvIngestKey))
	if c.IngestKey == "" {
		return c, ErrIngestKeyNotSet
	}

	return c, nil
}

// headers returns the export headers including the ingest key.
func (c Config) headers() map[string]string {
	h := make(map[string]string, len(c.Headers)+1)
	for k, v := range c.Headers {
		h[k] = v
	}
	h[IngestKeyHeader] = c.IngestKey
	return h
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

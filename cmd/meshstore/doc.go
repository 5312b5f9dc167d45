// Package main provides the entry point for the meshstore binary.
//
// meshstore is a content-addressed local record store. It runs one-shot
// commands against a data directory (put, get, scan, compact, verify) and
// a long-running node with an admin HTTP server (serve).
package main

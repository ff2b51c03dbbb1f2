// Package api exposes the HTTP interface for the crawl service: crawl
// submission, task status polling, health, and Prometheus metrics.
package api

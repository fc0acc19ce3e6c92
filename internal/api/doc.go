// Package api serves the escrow daemon HTTP surface: the seller delivery
// webhook, admin queries, health checks and metrics.
package api

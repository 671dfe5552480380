// Package model defines shared data types used across the ordersync engine.
//
// Conventions:
//   - Order status values are the server's wire strings and are never invented
//     client-side; the client requests transitions, the server asserts them.
//   - Money amounts are float64 dollars, matching the server payloads.
//   - Timestamps are time.Time in UTC.
package model

// SPDX-FileCopyrightText: 2024 Softbridge, LLC
// SPDX-License-Identifier: AGPL-3.0-or-later

package warehouse

// Record is a denormalized, append-only copy of an event for offline
// querying. Loss under backpressure is acceptable.
type Record struct {
	ServerID string      `json:"server"`
	Sequence uint64      `json:"seq"`
	Kind     string      `json:"kind"`
	Time     int64       `json:"time"`
	Payload  interface{} `json:"payload"`
}

// Appender bulk-appends batches of records. There are no reads from
// this side of the system.
type Appender interface {
	Append(batch []Record) error
}

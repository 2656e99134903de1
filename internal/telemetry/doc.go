// Package telemetry publishes periodic sensor samples to the hub.
//
// Each sample is sent as {"temperature":t,"light":l} on the device's
// event topic under the shared publish lock, so it never interleaves with
// a reported-property patch. The send interval is re-read before every
// wait, which lets a twin update take effect on the next cycle. A failed
// publish drops the sample; the next interval sends a fresh one.
package telemetry

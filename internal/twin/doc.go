// Package twin keeps the node's reported properties in step with the
// cloud-held twin document.
//
// Three truths are reconciled here: the last desired-property version the
// node accepted, the targets it was asked to adopt, and the live state of
// the LED hardware. Desired documents arrive as a full document (response
// to the initial get) or as patches; each is applied through
// ApplyDesiredDocument. Hardware changes made outside a twin update are
// folded in with ApplyHardwareDeltas. Report serializes every dirty
// property into one reported-property patch and publishes it under the
// shared publish lock.
//
// Wire shape of a reported patch (envelope ack style):
//
//	{
//	  "telemetryInterval": {"ac":200,"av":7,"ad":"Success","value":30},
//	  "led_y": {"ac":200,"av":7,"ad":"Success","value":3},
//	  "led_r": "Off",
//	  "led_b": 2,
//	  "led_g": 1
//	}
//
// Red is reported as a string and blue and green as integers; cloud-side
// models depend on that asymmetry.
//
// Version handling: a patch is applied only if its version is newer than
// the recorded one. A full document always applies and resets the recorded
// version, since the hub may restart its numbering. Stale patches are
// ignored without touching state.
//
// Persisted state is tied to an identity (hub hostname and device id).
// Restore drops a snapshot saved under another identity.
package twin

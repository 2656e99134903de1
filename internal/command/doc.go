// Package command answers direct commands sent by the hub.
//
// A Dispatcher maps command names to handlers. Only "reboot" is
// implemented; every other name gets the fixed unsupported-command
// response with status 404. A Responder connects the dispatcher to the
// transport: it parses the request topic, dispatches, publishes the
// response on $iothub/methods/res/{status}/?$rid={rid} and records the
// exchange in the command log.
//
// Reboot payloads carry an ISO-8601 style delay, "PT5S" for five seconds,
// either as {"delay":"PT5S"} or as the bare JSON string "PT5S". The reset
// is scheduled once and cannot be cancelled.
package command

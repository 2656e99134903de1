package mqtt

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Topic prefixes of the hub and provisioning protocols.
const (
	// TopicPrefixMethods is the base for direct command topics.
	TopicPrefixMethods = "$iothub/methods"

	// TopicPrefixTwin is the base for twin (property) topics.
	TopicPrefixTwin = "$iothub/twin"

	// TopicPrefixProvisioning is the base for provisioning service topics.
	TopicPrefixProvisioning = "$dps/registrations"

	commandRequestPrefix  = TopicPrefixMethods + "/POST/"
	twinResponsePrefix    = TopicPrefixTwin + "/res/"
	desiredPatchPrefix    = TopicPrefixTwin + "/PATCH/properties/desired/"
	provisioningResPrefix = TopicPrefixProvisioning + "/res/"
)

// Topics provides builders for hub and provisioning MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	getTopic := topics.TwinGet("initial_get")
//	// Returns: "$iothub/twin/GET/?$rid=initial_get"
type Topics struct{}

// =============================================================================
// Hub Topics
// =============================================================================

// Telemetry returns the device-to-cloud telemetry topic.
//
// Example: devices/node-1/messages/events/
func (Topics) Telemetry(deviceID string) string {
	return fmt.Sprintf("devices/%s/messages/events/", deviceID)
}

// CommandsSubscribe returns the wildcard for all incoming commands.
func (Topics) CommandsSubscribe() string {
	return commandRequestPrefix + "#"
}

// CommandResponse returns the topic a command response is published on.
//
// Example: $iothub/methods/res/200/?$rid=7
func (Topics) CommandResponse(status int, requestID string) string {
	return fmt.Sprintf("%s/res/%d/?$rid=%s", TopicPrefixMethods, status, requestID)
}

// PropertyPatchSubscribe returns the wildcard for desired-property patches.
func (Topics) PropertyPatchSubscribe() string {
	return desiredPatchPrefix + "#"
}

// PropertyResponseSubscribe returns the wildcard for twin responses.
func (Topics) PropertyResponseSubscribe() string {
	return twinResponsePrefix + "#"
}

// TwinGet returns the topic requesting the full twin document.
//
// Example: $iothub/twin/GET/?$rid=initial_get
func (Topics) TwinGet(requestID string) string {
	return fmt.Sprintf("%s/GET/?$rid=%s", TopicPrefixTwin, requestID)
}

// ReportedPatch returns the topic for reported-property patches.
//
// Example: $iothub/twin/PATCH/properties/reported/?$rid=12
func (Topics) ReportedPatch(requestID string) string {
	return fmt.Sprintf("%s/PATCH/properties/reported/?$rid=%s", TopicPrefixTwin, requestID)
}

// HubUsername returns the MQTT username for a hub session.
func (Topics) HubUsername(hubHost, deviceID, apiVersion, modelID string) string {
	return fmt.Sprintf("%s/%s/?api-version=%s&model-id=%s",
		hubHost, deviceID, apiVersion, url.QueryEscape(modelID))
}

// =============================================================================
// Provisioning Topics
// =============================================================================

// ProvisioningSubscribe returns the wildcard for provisioning responses.
func (Topics) ProvisioningSubscribe() string {
	return provisioningResPrefix + "#"
}

// ProvisioningRegister returns the registration request topic.
//
// Example: $dps/registrations/PUT/iotdps-register/?$rid=1
func (Topics) ProvisioningRegister(requestID string) string {
	return fmt.Sprintf("%s/PUT/iotdps-register/?$rid=%s", TopicPrefixProvisioning, requestID)
}

// ProvisioningQueryStatus returns the operation status poll topic.
//
// Example: $dps/registrations/GET/iotdps-get-operationstatus/?$rid=2&operationId=4.abc
func (Topics) ProvisioningQueryStatus(requestID, operationID string) string {
	return fmt.Sprintf("%s/GET/iotdps-get-operationstatus/?$rid=%s&operationId=%s",
		TopicPrefixProvisioning, requestID, operationID)
}

// ProvisioningUsername returns the MQTT username for a provisioning session.
func (Topics) ProvisioningUsername(idScope, registrationID string) string {
	return fmt.Sprintf("%s/registrations/%s/api-version=2019-03-31", idScope, registrationID)
}

// =============================================================================
// Topic Parsers
// =============================================================================

// CommandRequest is the routing information carried by a command topic.
type CommandRequest struct {
	Name      string
	RequestID string
}

// ParseCommandTopic splits "$iothub/methods/POST/{name}/?$rid={rid}".
func ParseCommandTopic(topic string) (CommandRequest, error) {
	rest, ok := strings.CutPrefix(topic, commandRequestPrefix)
	if !ok {
		return CommandRequest{}, fmt.Errorf("%w: %q is not a command topic", ErrUnexpectedTopic, topic)
	}
	name, query, _ := strings.Cut(rest, "/?")
	if name == "" {
		return CommandRequest{}, fmt.Errorf("%w: command name missing in %q", ErrUnexpectedTopic, topic)
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return CommandRequest{}, fmt.Errorf("%w: %w", ErrUnexpectedTopic, err)
	}
	return CommandRequest{Name: name, RequestID: values.Get("$rid")}, nil
}

// TwinResponse is the routing information carried by a twin response topic.
type TwinResponse struct {
	Status    int
	RequestID string
	// Version is present on responses to reported patches.
	Version string
}

// ParseTwinResponseTopic splits "$iothub/twin/res/{status}/?$rid={rid}[&$version={v}]".
func ParseTwinResponseTopic(topic string) (TwinResponse, error) {
	rest, ok := strings.CutPrefix(topic, twinResponsePrefix)
	if !ok {
		return TwinResponse{}, fmt.Errorf("%w: %q is not a twin response topic", ErrUnexpectedTopic, topic)
	}
	statusStr, query, _ := strings.Cut(rest, "/?")
	status, err := strconv.Atoi(statusStr)
	if err != nil {
		return TwinResponse{}, fmt.Errorf("%w: bad status in %q", ErrUnexpectedTopic, topic)
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return TwinResponse{}, fmt.Errorf("%w: %w", ErrUnexpectedTopic, err)
	}
	return TwinResponse{
		Status:    status,
		RequestID: values.Get("$rid"),
		Version:   values.Get("$version"),
	}, nil
}

// ParseDesiredPatchTopic returns the version carried by a desired patch topic.
// The payload also carries the version; the topic copy is informational.
func ParseDesiredPatchTopic(topic string) (string, error) {
	rest, ok := strings.CutPrefix(topic, desiredPatchPrefix)
	if !ok {
		return "", fmt.Errorf("%w: %q is not a desired patch topic", ErrUnexpectedTopic, topic)
	}
	values, err := url.ParseQuery(strings.TrimPrefix(rest, "?"))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnexpectedTopic, err)
	}
	return values.Get("$version"), nil
}

// ProvisioningResponse is the routing information carried by a provisioning
// response topic.
type ProvisioningResponse struct {
	Status     int
	RequestID  string
	RetryAfter int // seconds; zero when absent
}

// ParseProvisioningTopic splits "$dps/registrations/res/{status}/?$rid={rid}[&retry-after={s}]".
func ParseProvisioningTopic(topic string) (ProvisioningResponse, error) {
	rest, ok := strings.CutPrefix(topic, provisioningResPrefix)
	if !ok {
		return ProvisioningResponse{}, fmt.Errorf("%w: %q is not a provisioning topic", ErrUnexpectedTopic, topic)
	}
	statusStr, query, _ := strings.Cut(rest, "/?")
	status, err := strconv.Atoi(statusStr)
	if err != nil {
		return ProvisioningResponse{}, fmt.Errorf("%w: bad status in %q", ErrUnexpectedTopic, topic)
	}
	values, err := url.ParseQuery(query)
	if err != nil {
		return ProvisioningResponse{}, fmt.Errorf("%w: %w", ErrUnexpectedTopic, err)
	}
	resp := ProvisioningResponse{Status: status, RequestID: values.Get("$rid")}
	if v := values.Get("retry-after"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			resp.RetryAfter = n
		}
	}
	return resp, nil
}

package shared

import "fmt"

// NATS subject layout for the message-bus bridge. Internal router events are
// republished under groundctl.events.<type>; critical events fan out to the
// alerts stream as well; inbound commands arrive on groundctl.commands.>.
const (
	SubjectPrefix = "groundctl"

	SubjectEvents    = "groundctl.events"
	SubjectEventsAll = "groundctl.events.>"

	SubjectAlerts    = "groundctl.alerts"
	SubjectAlertsAll = "groundctl.alerts.>"

	SubjectCommands    = "groundctl.commands"
	SubjectCommandsAll = "groundctl.commands.>"
)

// Stream names
const (
	StreamEvents   = "GROUNDCTL_EVENTS"
	StreamAlerts   = "GROUNDCTL_ALERTS"
	StreamCommands = "GROUNDCTL_COMMANDS"
)

// Consumer names
const (
	ConsumerCommandProcessor = "command-processor"
)

func EventSubject(eventType string) string {
	return fmt.Sprintf("%s.%s", SubjectEvents, eventType)
}

func AlertSubject(eventType string) string {
	return fmt.Sprintf("%s.%s", SubjectAlerts, eventType)
}

func CommandSubject(vehicleID string) string {
	return fmt.Sprintf("%s.%s", SubjectCommands, vehicleID)
}

package bus

import "github.com/nats-io/nats.go"

const (
	SubjectInstanceAssigned = "events.instance.assigned"
	SubjectInstanceReady    = "events.instance.ready"
	SubjectTicketIssued     = "events.ticket.issued"
	SubjectUserLogin        = "events.user.logged_in"
)

// Connect creates a NATS connection for message bus communication.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(url)
}

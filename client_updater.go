package awgseq

// Contains the client updater, which publishes JSON-encoded messages giving
// the latest awgseq state.

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// ClientUpdate carries the messages to be published on the status port.
type ClientUpdate struct {
	tag   string
	state interface{}
}

// RunClientUpdater forwards any message from its input channel to the ZMQ
// publisher socket to publish any information that clients need to know.
func RunClientUpdater(messages <-chan ClientUpdate, portstatus int, abort <-chan struct{}) {
	hostname := fmt.Sprintf("tcp://*:%d", portstatus)
	pubSocket, err := zmq.NewSocket(zmq.PUB)
	if err != nil {
		return
	}
	defer pubSocket.Close()
	if err = pubSocket.Bind(hostname); err != nil {
		return
	}

	for {
		select {
		case <-abort:
			return
		case update := <-messages:
			message, err := json.Marshal(update.state)
			if err != nil {
				ProblemLogger.Printf("could not marshal update %q: %v\n", update.tag, err)
				continue
			}
			UpdateLogger.Printf("%s %s\n", update.tag, message)
			if _, err := pubSocket.SendMessage(update.tag, message); err != nil {
				ProblemLogger.Printf("could not publish update %q: %v\n", update.tag, err)
			}
		}
	}
}

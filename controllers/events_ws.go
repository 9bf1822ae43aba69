package controller

import (
	"context"

	"github.com/gofiber/websocket/v2"
	"github.com/sirupsen/logrus"

	"voltcrm/utils"
)

// EventsController bridges the redis event channel to the UI over a
// websocket, so dashboards see pipeline progress without polling the store.
type EventsController struct {
	Notifier *utils.Notifier
	Logger   *logrus.Logger
}

func NewEventsController(notifier *utils.Notifier, logger *logrus.Logger) *EventsController {
	return &EventsController{Notifier: notifier, Logger: logger}
}

// HandleEventsWS relays every published event to the connected client until
// the client disconnects or the subscription closes. With redis disabled
// the event channel closes immediately and so does the socket.
func (ec *EventsController) HandleEventsWS(c *websocket.Conn) {
	defer c.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, unsubscribe := ec.Notifier.Subscribe(ctx)
	defer unsubscribe()

	// Drain client frames so close frames are processed; cancel the relay
	// when the client goes away.
	go func() {
		defer cancel()
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for event := range events {
		if err := c.WriteJSON(event); err != nil {
			ec.Logger.WithError(err).Debug("event relay write failed")
			return
		}
	}
}

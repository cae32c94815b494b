// A collection of event names and common methods used to handle the events,
// typically redirecting the handling to a service method via the registered
// handler functions/channels.
package event

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/ingesthub/ingesthub/pkg/logger"
)

var log = logger.Get("Event")

// Events emitted by the ingest engine which other, silo'd parts of the
// architecture may wish to observe (logging, cache invalidation, UI pushes).
// These notifications are strictly advisory: the engine never blocks on a
// consumer and delivery is at-most-once.
type (
	Event         string
	Payload       any
	HandlerMethod func(Event, Payload)

	HandlerChannel chan HandlerEvent
	HandlerEvent   struct {
		Event   Event
		Payload Payload
	}

	EventDispatcher interface {
		Dispatch(Event, Payload)
	}

	EventHandler interface {
		RegisterAsyncHandlerFunction(Event, HandlerMethod)
		RegisterHandlerFunction(Event, HandlerMethod)
		RegisterHandlerChannel(HandlerChannel, ...Event)
	}

	EventCoordinator interface {
		EventDispatcher
		EventHandler
	}

	eventHandler struct {
		fnHandlers   map[Event][]handlerMethod
		chanHandlers map[Event][]HandlerChannel
	}

	handlerMethod struct {
		handle HandlerMethod
		async  bool
	}
)

const (
	// IngestStartedEvent carries the uuid of the first package created by
	// a newly started ingest call.
	IngestStartedEvent Event = "ingest:started"

	// IngestCompleteEvent carries the uuid of the first package created by
	// an ingest call which has committed successfully.
	IngestCompleteEvent Event = "ingest:complete"

	// IngestFailedEvent carries the error which aborted an ingest call.
	IngestFailedEvent Event = "ingest:failed"

	// PackageSweptEvent carries the uuid of a package which the startup
	// recovery sweep transitioned from 'processing' to 'error'.
	PackageSweptEvent Event = "package:swept"
)

func New() EventCoordinator {
	return &eventHandler{
		fnHandlers:   make(map[Event][]handlerMethod),
		chanHandlers: make(map[Event][]HandlerChannel),
	}
}

// RegisterHandlerChannel takes an event type and a channel and will send Event
// messages on the channel any time a Dispatch for the provided event occurs.
// This method can be used multiple times for different events on the same
// channel.
//
// If the channel is BLOCKED when the event bus attempts to send the message on
// the handler channel, then the thread dispatching the event will also be
// BLOCKED. It is recommended to buffer the handler channels appropriately to
// avoid dispatcher-side blocking.
func (handler *eventHandler) RegisterHandlerChannel(handle HandlerChannel, events ...Event) {
	for _, event := range events {
		handler.chanHandlers[event] = append(handler.chanHandlers[event], handle)
	}
}

// RegisterHandlerFunction takes an event type and a handler method which will
// be stored and called with the payload for the event whenever it is
// dispatched. The handle provided should be guaranteed to return quickly, else
// other threads calling Dispatch on this event bus will be blocked.
func (handler *eventHandler) RegisterHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle, false})
}

// RegisterAsyncHandlerFunction accepts an Event and a HandlerMethod which will
// be stored and called inside of a goroutine when the event is handled.
func (handler *eventHandler) RegisterAsyncHandlerFunction(event Event, handle HandlerMethod) {
	handler.registerHandlerMethod(event, handlerMethod{handle, true})
}

func (handler *eventHandler) registerHandlerMethod(event Event, handle handlerMethod) {
	handler.fnHandlers[event] = append(handler.fnHandlers[event], handle)
}

// Dispatch takes an event type and a payload and delivers the payload to every
// handler registered for the event type provided. Note that this method WILL
// block if a synchronous handler function is blocking, or if channel handlers
// are blocked.
func (handler *eventHandler) Dispatch(event Event, payload Payload) {
	if err := handler.validatePayload(event, payload); err != nil {
		log.Emit(logger.ERROR, "Dispatch for event %v FAILED validation: %v\n", event, err)
		return
	}

	if handles, ok := handler.fnHandlers[event]; ok {
		for _, handle := range handles {
			if handle.async {
				go handle.handle(event, payload)
			} else {
				handle.handle(event, payload)
			}
		}
	}

	if handles, ok := handler.chanHandlers[event]; ok {
		payload := HandlerEvent{event, payload}
		for _, handle := range handles {
			handle <- payload
		}
	}
}

// validatePayload ensures the payload shape matches what consumers of the
// event expect to receive.
func (handler *eventHandler) validatePayload(event Event, payload Payload) error {
	switch event {
	case IngestStartedEvent, IngestCompleteEvent, PackageSweptEvent:
		if _, ok := payload.(uuid.UUID); !ok {
			return fmt.Errorf("event %s expects a uuid.UUID payload, got %T", event, payload)
		}
	case IngestFailedEvent:
		if _, ok := payload.(error); !ok {
			return fmt.Errorf("event %s expects an error payload, got %T", event, payload)
		}
	}

	return nil
}

package v1

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/loom/server/router/api/v1/chat"
	"github.com/hrygo/loom/store"
)

// streamSSE runs one chat turn and relays its events as server-sent events.
// Each event is flushed immediately so deltas reach the client as they
// arrive. Errors raised before the first event map to a plain HTTP status;
// after that the terminal error event already reached the client.
func (s *APIV1Service) streamSSE(c echo.Context, run func(emit chat.EmitFunc) error) error {
	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	started := false
	emit := func(event chat.Event) error {
		data, err := json.Marshal(event.Data)
		if err != nil {
			return errors.Wrap(err, "failed to encode event")
		}
		if !started {
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Name, data); err != nil {
			return errors.Wrap(err, "client connection lost")
		}
		w.Flush()
		return nil
	}

	err := run(emit)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrAborted):
		// The client disconnected mid-stream. Nothing left to tell it.
		return nil
	case !started:
		return httpError(err)
	default:
		// The terminal error event already went out on the open stream.
		return nil
	}
}

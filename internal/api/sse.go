package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/bbenst/langchain4j-aideepin-sub001/internal/stream"
	"github.com/bbenst/langchain4j-aideepin-sub001/pkg/models"
)

// KeepAliveInterval is how often an idle event stream sends a comment line.
var KeepAliveInterval = 15 * time.Second

// HeaderRuntimeUUID carries the instance of a streamed execution.
const HeaderRuntimeUUID = "X-Runtime-UUID"

// stream writes the subscription as server-sent events until the final
// event or until the client goes away. Leaving early drops the subscription
// and calls onLeave when set; otherwise the execution keeps running.
func (s *Server) stream(c echo.Context, runtimeUUID string, sub *stream.Subscription, onLeave func()) error {
	defer sub.Close()

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.Header().Set("X-Accel-Buffering", "no")
	res.Header().Set(HeaderRuntimeUUID, runtimeUUID)
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()
	done := c.Request().Context().Done()
	for {
		select {
		case <-done:
			s.logger.Debug("event stream client left", "runtime_uuid", runtimeUUID)
			if onLeave != nil {
				onLeave()
			}
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := writeEvent(res, ev); err != nil {
				s.logger.Debug("event stream write failed", "runtime_uuid", runtimeUUID, "error", err)
				return nil
			}
		case <-ticker.C:
			if _, err := fmt.Fprint(res, ": keep-alive\n\n"); err != nil {
				return nil
			}
			res.Flush()
		}
	}
}

func writeEvent(res *echo.Response, ev models.ExecutionEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "id: %d\nevent: %s\ndata: %s\n\n", ev.Seq, ev.Type, data); err != nil {
		return err
	}
	res.Flush()
	return nil
}

package response

import (
	"encoding/json"
	stderrors "errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aisgo/botrunner/errors"
	"github.com/aisgo/botrunner/logger"

	"github.com/gofiber/fiber/v3"
)

func doRequest(t *testing.T, app *fiber.App, path string) (int, Result) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil), fiber.TestConfig{Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	var got Result
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.StatusCode, got
}

func TestErrorBizError(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/err", func(c fiber.Ctx) error {
		return Error(c, errors.New(errors.ErrCodeInvalidArgument, "bad request"))
	})

	status, got := doRequest(t, app, "/err")
	if status != fiber.StatusBadRequest {
		t.Fatalf("unexpected status: got=%d want=%d", status, fiber.StatusBadRequest)
	}
	if got.Code != int(errors.ErrCodeInvalidArgument) || got.Msg != "bad request" {
		t.Fatalf("unexpected body: %+v", got)
	}
}

func TestErrorHidesInternalMessage(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/err", func(c fiber.Ctx) error {
		return Error(c, stderrors.New("dial tcp 10.0.0.5:5432: connection refused"))
	})

	status, got := doRequest(t, app, "/err")
	if status != fiber.StatusInternalServerError || got.Msg != "internal server error" {
		t.Fatalf("unexpected response: %d %+v", status, got)
	}
}

func TestUpstreamMapsToBadGateway(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/err", func(c fiber.Ctx) error {
		return Error(c, errors.Wrap(errors.ErrCodeUpstream, "telegram", stderrors.New("timeout")))
	})

	if status, _ := doRequest(t, app, "/err"); status != fiber.StatusBadGateway {
		t.Fatalf("unexpected status: %d", status)
	}
}

func TestPageDataCarriesTraceID(t *testing.T) {
	t.Parallel()

	app := fiber.New()
	app.Get("/list", func(c fiber.Ctx) error {
		c.SetContext(logger.ContextWithTraceID(c.Context(), "01TRACE"))
		return PageData(c, []string{"a", "b"}, 2, 1, 20)
	})

	status, got := doRequest(t, app, "/list")
	if status != fiber.StatusOK || got.TraceID != "01TRACE" {
		t.Fatalf("unexpected response: %d %+v", status, got)
	}
	page, ok := got.Data.(map[string]any)
	if !ok || page["total"] != float64(2) || page["page_size"] != float64(20) {
		t.Fatalf("unexpected page: %#v", got.Data)
	}
}

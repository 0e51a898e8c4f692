package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/i474232898/solar-resource-analyzer/internal/solar"
)

var validate = validator.New()

// Geocoder resolves a free-text address. ok is false when nothing matched.
type Geocoder interface {
	Geocode(ctx context.Context, address string) (solar.Coordinate, bool, error)
}

// Deps are the collaborators the routes need besides the service.
type Deps struct {
	Geocoder Geocoder
	// DefaultKeys are used for sources a request names without a key.
	DefaultKeys map[solar.Source]string
	// FetchTimeout bounds one session fetch across all providers.
	FetchTimeout time.Duration
	// GeocodeTimeout bounds one address lookup. Zero selects defaultGeocodeTimeout.
	GeocodeTimeout time.Duration
}

const defaultGeocodeTimeout = 10 * time.Second

type handler struct {
	service *solar.Service
	deps    Deps
	now     func() time.Time
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *solar.Service, deps Deps) {
	h := &handler{service: service, deps: deps, now: func() time.Time { return time.Now().UTC() }}

	v1 := app.Group("/api/v1")

	v1.Get("/providers", h.providers)
	v1.Post("/keys/validate", h.validateKey)
	v1.Get("/geocode", h.geocode)

	v1.Post("/sessions", h.createSession)
	v1.Get("/sessions/:id", h.getSession)
	v1.Post("/sessions/:id/fetch", h.fetch)
	v1.Get("/sessions/:id/metrics", h.metrics)
	v1.Get("/sessions/:id/comparison", h.comparison)
	v1.Get("/sessions/:id/export/report", h.exportReport)
	v1.Get("/sessions/:id/export/:source.:format", h.exportDataset)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, solar.ErrSessionNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, solar.ErrInvalidInput):
		return fiber.StatusBadRequest
	case errors.Is(err, solar.ErrAuth):
		return fiber.StatusUnauthorized
	case errors.Is(err, solar.ErrNoData):
		return fiber.StatusNotFound
	case errors.Is(err, solar.ErrRateLimited):
		return fiber.StatusTooManyRequests
	case errors.Is(err, solar.ErrTransport), errors.Is(err, solar.ErrMalformed):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func toFiberError(err error) error {
	return fiber.NewError(statusFor(err), err.Error())
}

func (h *handler) providers(c *fiber.Ctx) error {
	out := make([]fiber.Map, 0, len(solar.Sources))
	for _, src := range h.service.Sources() {
		p, _ := h.service.Provider(src)
		out = append(out, fiber.Map{
			"source":       src,
			"capabilities": p.Capabilities(),
			"has_key":      h.deps.DefaultKeys[src] != "",
		})
	}
	return c.JSON(fiber.Map{"providers": out})
}

type validateKeyBody struct {
	Source string `json:"source" validate:"required"`
	APIKey string `json:"api_key" validate:"required"`
}

func (h *handler) validateKey(c *fiber.Ctx) error {
	var body validateKeyBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	src, err := solar.ParseSource(body.Source)
	if err != nil {
		return toFiberError(err)
	}

	valid, err := h.service.ValidateKey(c.UserContext(), src, body.APIKey)
	if err != nil {
		return toFiberError(err)
	}
	return c.JSON(fiber.Map{"source": src, "valid": valid})
}

func (h *handler) geocode(c *fiber.Ctx) error {
	address := strings.TrimSpace(c.Query("address"))
	if address == "" {
		return fiber.NewError(fiber.StatusBadRequest, "address query parameter is required")
	}
	timeout := h.deps.GeocodeTimeout
	if timeout <= 0 {
		timeout = defaultGeocodeTimeout
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
	defer cancel()

	coord, found, err := h.lookup(ctx, address)
	if err != nil {
		return err
	}
	if !found {
		return fiber.NewError(fiber.StatusNotFound, "address not found")
	}
	return c.JSON(fiber.Map{"address": address, "lat": coord.Lat, "lon": coord.Lon})
}

func (h *handler) lookup(ctx context.Context, address string) (solar.Coordinate, bool, error) {
	if h.deps.Geocoder == nil {
		return solar.Coordinate{}, false, fiber.NewError(fiber.StatusServiceUnavailable, "geocoding is not configured")
	}
	coord, found, err := h.deps.Geocoder.Geocode(ctx, address)
	if err != nil {
		if errors.Is(err, solar.ErrInvalidInput) {
			return solar.Coordinate{}, false, toFiberError(err)
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return solar.Coordinate{}, false, fiber.NewError(fiber.StatusGatewayTimeout, "geocoding timed out")
		}
		return solar.Coordinate{}, false, fiber.NewError(fiber.StatusBadGateway, "geocoding failed: "+err.Error())
	}
	return coord, found, nil
}

func (h *handler) createSession(c *fiber.Ctx) error {
	sess := h.service.CreateSession()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"id": sess.ID})
}

func (h *handler) getSession(c *fiber.Ctx) error {
	sess, err := h.service.GetSession(c.Params("id"))
	if err != nil {
		return toFiberError(err)
	}
	return c.JSON(sess)
}

// fetchBody is the input of a session fetch. The coordinate comes from
// lat/lon, else from address, else the default location is used.
type fetchBody struct {
	Lat         *float64          `json:"lat" validate:"omitempty,gte=-90,lte=90"`
	Lon         *float64          `json:"lon" validate:"omitempty,gte=-180,lte=180"`
	Address     string            `json:"address"`
	Accuracy    string            `json:"accuracy" validate:"omitempty,oneof=low medium high"`
	Year        string            `json:"year"`
	Interval    string            `json:"interval"`
	Attributes  []string          `json:"attributes" validate:"dive,required"`
	AreaM2      float64           `json:"area_m2" validate:"gte=0"`
	Sources     []string          `json:"sources" validate:"dive,oneof=nrel google_solar nsrdb"`
	Keys        map[string]string `json:"keys"`
	ComparePair []string          `json:"compare_pair" validate:"omitempty,len=2,dive,oneof=nrel google_solar nsrdb"`
}

func (h *handler) fetch(c *fiber.Ctx) error {
	var body fetchBody
	if err := c.BodyParser(&body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(body); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	if (body.Lat == nil) != (body.Lon == nil) {
		return fiber.NewError(fiber.StatusBadRequest, "lat and lon must be given together")
	}

	keys, err := h.resolveKeys(body)
	if err != nil {
		return err
	}

	opts := solar.FetchOptions{
		Keys: keys,
		Params: solar.SessionParams{
			AreaM2:     body.AreaM2,
			Accuracy:   solar.Accuracy(body.Accuracy),
			Year:       body.Year,
			Interval:   body.Interval,
			Attributes: body.Attributes,
		},
	}
	if len(body.ComparePair) == 2 {
		opts.Params.ComparePair = [2]solar.Source{solar.Source(body.ComparePair[0]), solar.Source(body.ComparePair[1])}
	}

	ctx := c.UserContext()
	if h.deps.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.deps.FetchTimeout)
		defer cancel()
	}

	switch {
	case body.Lat != nil:
		opts.Coordinate = &solar.Coordinate{Lat: *body.Lat, Lon: *body.Lon}
	case strings.TrimSpace(body.Address) != "":
		coord, found, err := h.lookup(ctx, body.Address)
		if err != nil {
			return err
		}
		if !found {
			return fiber.NewError(fiber.StatusNotFound, "address not found")
		}
		opts.Coordinate = &coord
	}

	sess, err := h.service.FetchIntoSession(ctx, c.Params("id"), opts)
	if err != nil {
		return toFiberError(err)
	}
	return c.JSON(sess)
}

// resolveKeys merges the sources named in keys and sources, falling back to
// server-side keys.
func (h *handler) resolveKeys(body fetchBody) (map[solar.Source]string, error) {
	keys := make(map[solar.Source]string)
	for name, key := range body.Keys {
		src, err := solar.ParseSource(name)
		if err != nil {
			return nil, toFiberError(err)
		}
		keys[src] = strings.TrimSpace(key)
	}
	for _, name := range body.Sources {
		src := solar.Source(name)
		if _, ok := keys[src]; !ok {
			keys[src] = ""
		}
	}
	if len(keys) == 0 {
		return nil, fiber.NewError(fiber.StatusBadRequest, "at least one source is required")
	}
	for src, key := range keys {
		if key == "" {
			key = h.deps.DefaultKeys[src]
		}
		if key == "" {
			return nil, fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("no api key for source %s", src))
		}
		keys[src] = key
	}
	return keys, nil
}

func (h *handler) metrics(c *fiber.Ctx) error {
	src, err := solar.ParseSource(c.Query("source"))
	if err != nil {
		return toFiberError(err)
	}
	var panel solar.PanelParams
	for _, q := range []struct {
		name string
		dst  *float64
	}{
		{"area_m2", &panel.AreaM2},
		{"efficiency", &panel.Efficiency},
		{"watts_per_m2", &panel.WattsPerM2},
	} {
		if *q.dst, err = queryFloat(c, q.name); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
	}

	m, err := h.service.Metrics(c.Params("id"), src, panel)
	if err != nil {
		return toFiberError(err)
	}
	return c.JSON(m)
}

func (h *handler) comparison(c *fiber.Ctx) error {
	sess, err := h.service.GetSession(c.Params("id"))
	if err != nil {
		return toFiberError(err)
	}
	if sess.Comparison == nil {
		return fiber.NewError(fiber.StatusNotFound, "no comparison available; fetch the compared sources first")
	}
	return c.JSON(sess.Comparison)
}

func (h *handler) exportReport(c *fiber.Ctx) error {
	sess, err := h.service.GetSession(c.Params("id"))
	if err != nil {
		return toFiberError(err)
	}
	if len(sess.Datasets) == 0 {
		return fiber.NewError(fiber.StatusNotFound, "nothing to export; fetch data first")
	}

	now := h.now()
	var buf bytes.Buffer
	if err := solar.EncodeReport(&buf, sess.Report(now)); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to encode report")
	}
	c.Attachment(solar.ExportFileName("solar_analysis_report", "json", now))
	return c.Send(buf.Bytes())
}

func (h *handler) exportDataset(c *fiber.Ctx) error {
	src, err := solar.ParseSource(c.Params("source"))
	if err != nil {
		return toFiberError(err)
	}
	format := c.Params("format")
	if format != "json" && format != "csv" {
		return fiber.NewError(fiber.StatusBadRequest, "format must be json or csv")
	}

	sess, err := h.service.GetSession(c.Params("id"))
	if err != nil {
		return toFiberError(err)
	}
	ds, ok := sess.Datasets[src]
	if !ok {
		return fiber.NewError(fiber.StatusNotFound, fmt.Sprintf("no %s dataset in this session", src))
	}

	var buf bytes.Buffer
	if format == "json" {
		err = solar.EncodeDataset(&buf, ds)
	} else {
		err = solar.WriteMonthlyCSV(&buf, ds)
	}
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to encode dataset")
	}
	c.Attachment(solar.ExportFileName(string(src)+"_solar_data", format, h.now()))
	return c.Send(buf.Bytes())
}

// queryFloat returns 0 for an absent parameter.
func queryFloat(c *fiber.Ctx, name string) (float64, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("invalid %s: %q is not a finite number", name, v)
	}
	return f, nil
}

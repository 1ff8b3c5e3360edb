package inspect

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/born-ml/sapphire/internal/backend/accel"
)

// Device describes one accelerator device of a driver.
type Device struct {
	Ordinal int    `json:"ordinal"`
	Name    string `json:"name"`
	Driver  string `json:"driver"`
}

// Devices lists the devices of d. A nil driver has none.
func Devices(d accel.Driver) ([]Device, error) {
	if d == nil {
		return []Device{}, nil
	}
	out := make([]Device, 0, d.DeviceCount())
	for i := range d.DeviceCount() {
		name, err := d.DeviceName(i)
		if err != nil {
			return nil, err
		}
		out = append(out, Device{Ordinal: i, Name: name, Driver: d.Name()})
	}
	return out, nil
}

// Server exposes published snapshots over HTTP.
type Server struct {
	pub    *Publisher
	driver accel.Driver
}

// NewServer creates a Server reading from pub. driver may be nil.
func NewServer(pub *Publisher, driver accel.Driver) *Server {
	return &Server{pub: pub, driver: driver}
}

// Register mounts the inspection routes on e.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/snapshot", s.handleSnapshot)
	e.GET("/v1/tensors", s.handleTensors)
	e.GET("/v1/tensors/:key", s.handleTensor)
	e.GET("/v1/units", s.handleUnits)
	e.GET("/v1/resources", s.handleResources)
	e.GET("/v1/devices", s.handleDevices)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":    "ok",
		"published": s.pub.Latest() != nil,
	})
}

func (s *Server) handleSnapshot(c *echo.Context) error {
	snap, err := s.latest(c)
	if snap == nil {
		return err
	}
	body, err := Marshal(snap)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, body)
}

func (s *Server) handleTensors(c *echo.Context) error {
	snap, err := s.latest(c)
	if snap == nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"sequence": snap.Sequence,
		"tensors":  snap.Tensors,
	})
}

func (s *Server) handleTensor(c *echo.Context) error {
	snap, err := s.latest(c)
	if snap == nil {
		return err
	}
	key := c.Param("key")
	t, ok := snap.Tensor(key)
	if !ok {
		return writeError(c, http.StatusNotFound, "tensor "+key+" not found")
	}
	return c.JSON(http.StatusOK, t)
}

func (s *Server) handleUnits(c *echo.Context) error {
	snap, err := s.latest(c)
	if snap == nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"sequence": snap.Sequence,
		"units":    snap.Units,
	})
}

func (s *Server) handleResources(c *echo.Context) error {
	snap, err := s.latest(c)
	if snap == nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"sequence": snap.Sequence,
		"stats":    snap.Resources,
		"buffers":  snap.Buffers,
	})
}

func (s *Server) handleDevices(c *echo.Context) error {
	devices, err := Devices(s.driver)
	if err != nil {
		return writeError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"devices": devices})
}

// latest returns the current snapshot, or writes 503 and returns nil.
func (s *Server) latest(c *echo.Context) (*Snapshot, error) {
	snap := s.pub.Latest()
	if snap == nil {
		return nil, writeError(c, http.StatusServiceUnavailable, "no snapshot published yet")
	}
	return snap, nil
}

func writeError(c *echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]any{
		"error": map[string]any{
			"status":  status,
			"message": msg,
		},
	})
}

package dbus

import (
	"encoding/json"
	"fmt"

	godbus "github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/battesty/battesty/internal/engine"
	"github.com/battesty/battesty/internal/storage"
)

const (
	busName   = "org.battesty.Engine"
	objPath   = "/org/battesty/Engine"
	ifaceName = "org.battesty.Engine"

	maxRangeSeconds = 86400 * 365
)

const introspectXML = `
<node>
  <interface name="` + ifaceName + `">
    <method name="GetEstimate">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetCapacityProfile">
      <arg direction="out" type="s" name="json"/>
    </method>
    <method name="GetRateConfidence">
      <arg direction="out" type="d" name="confidence"/>
    </method>
    <method name="GetSessions">
      <arg direction="in" type="x" name="from_epoch"/>
      <arg direction="in" type="x" name="to_epoch"/>
      <arg direction="out" type="s" name="json"/>
    </method>
  </interface>
` + introspect.IntrospectDataString + `
</node>`

// Service exposes the estimation engine over D-Bus.
type Service struct {
	eng   *engine.Engine
	store *storage.DB
}

// NewService creates a new D-Bus service.
func NewService(eng *engine.Engine, store *storage.DB) *Service {
	return &Service{eng: eng, store: store}
}

// Export registers the service on the system bus.
func (s *Service) Export() (*godbus.Conn, error) {
	conn, err := godbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	conn.Export(s, objPath, ifaceName)
	conn.Export(introspect.Introspectable(introspectXML), objPath, "org.freedesktop.DBus.Introspectable")

	reply, err := conn.RequestName(busName, godbus.NameFlagDoNotQueue)
	if err != nil {
		return nil, fmt.Errorf("request name: %w", err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		return nil, fmt.Errorf("name %s already taken", busName)
	}

	return conn, nil
}

// GetEstimate returns the most recent time-remaining estimate as JSON,
// including its rendered display string.
func (s *Service) GetEstimate() (string, *godbus.Error) {
	est := s.eng.LastEstimate()
	result := map[string]any{
		"estimate": est,
		"display":  est.String(),
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}

// GetCapacityProfile returns the learned capacity profile as JSON.
func (s *Service) GetCapacityProfile() (string, *godbus.Error) {
	data, err := json.Marshal(s.eng.CapacityProfile())
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}

// GetRateConfidence returns the rate estimator's confidence in [0, 1).
func (s *Service) GetRateConfidence() (float64, *godbus.Error) {
	return s.eng.RateConfidence(), nil
}

// GetSessions returns stored sessions in a time range as JSON.
func (s *Service) GetSessions(fromEpoch, toEpoch int64) (string, *godbus.Error) {
	if err := validateRange(fromEpoch, toEpoch); err != nil {
		return "", err
	}
	sessions, err := s.store.SessionsInRange(fromEpoch, toEpoch)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	if sessions == nil {
		sessions = []engine.Session{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return "", godbus.MakeFailedError(err)
	}
	return string(data), nil
}

func validateRange(from, to int64) *godbus.Error {
	if from < 0 {
		return godbus.MakeFailedError(fmt.Errorf("from_epoch must be non-negative, got %d", from))
	}
	if to < from {
		return godbus.MakeFailedError(fmt.Errorf("to_epoch %d predates from_epoch %d", to, from))
	}
	if to-from > maxRangeSeconds {
		return godbus.MakeFailedError(fmt.Errorf("range must not exceed %d seconds", maxRangeSeconds))
	}
	return nil
}

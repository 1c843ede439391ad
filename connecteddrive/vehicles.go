package connecteddrive

import (
	"context"
	"net/http"
	"net/url"
	"regexp"
	"time"

	apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"
	"github.com/jrsteele09/go-connecteddrive/tagjson"
)

var vinPattern = regexp.MustCompile(`^[0-9A-HJ-NPR-Z]+$`)

// IsValidVin reports whether vin only uses VIN characters; I, O and Q are
// never part of a VIN.
func IsValidVin(vin string) bool {
	return vinPattern.MatchString(vin)
}

// VehicleSummary is one entry of the account's vehicle list.
type VehicleSummary struct {
	VIN            string `json:"vin"`
	Brand          string `json:"brand"`
	Model          string `json:"model"`
	Year           int    `json:"year,omitempty"`
	DriveTrain     string `json:"driveTrain,omitempty"`
	AppVehicleType string `json:"appVehicleType,omitempty"`
}

type vehicleListEntry struct {
	VIN            string `json:"vin"`
	AppVehicleType string `json:"appVehicleType"`
	Attributes     struct {
		Brand      string `json:"brand"`
		Model      string `json:"model"`
		Year       int    `json:"year"`
		DriveTrain string `json:"driveTrain"`
	} `json:"attributes"`
}

// GetCarList lists the vehicles mapped to the account.
func (c *Client) GetCarList(ctx context.Context) ([]VehicleSummary, error) {
	d, err := LookupDataType(DataVehicles)
	if err != nil {
		return nil, err
	}
	body, err := c.do(ctx, http.MethodGet, "", d.Path, d.Query(c.nowFunc()), "", nil)
	if err != nil {
		return nil, err
	}

	var entries []vehicleListEntry
	if err := tagjson.Unmarshal(body, &entries); err != nil {
		return nil, err
	}
	vehicles := make([]VehicleSummary, 0, len(entries))
	for _, e := range entries {
		vehicles = append(vehicles, VehicleSummary{
			VIN:            e.VIN,
			Brand:          e.Attributes.Brand,
			Model:          e.Attributes.Model,
			Year:           e.Attributes.Year,
			DriveTrain:     e.Attributes.DriveTrain,
			AppVehicleType: e.AppVehicleType,
		})
	}
	return vehicles, nil
}

// GetCarInfo fetches one data type for a vehicle. Retired data types fail
// with ErrUnsupportedService before any request is made.
func (c *Client) GetCarInfo(ctx context.Context, vin, dataType string) (any, error) {
	d, err := LookupDataType(dataType)
	if err != nil {
		return nil, err
	}
	if !IsValidVin(vin) {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidArgument, "invalid vin %q", vin)
	}
	headerVIN := ""
	if d.VINHeader {
		headerVIN = vin
	}
	body, err := c.do(ctx, http.MethodGet, "", d.Path, d.Query(c.nowFunc()), headerVIN, nil)
	if err != nil {
		return nil, err
	}
	return tagjson.Decode(body)
}

// RemoteServiceResult is the vendor's answer to a remote command. EventID and
// Body are empty when the command was acknowledged without a body.
type RemoteServiceResult struct {
	EventID string
	Body    any
}

// ExecuteRemoteService runs the command behind code (e.g. "RDL") with its
// default action. Unknown codes fail with ErrInvalidArgument without any
// network call.
func (c *Client) ExecuteRemoteService(ctx context.Context, vin, code string, payload any) (*RemoteServiceResult, error) {
	body, err := c.Execute(ctx, vin, code, "", payload)
	if err != nil {
		return nil, err
	}
	res := &RemoteServiceResult{Body: body}
	if m, ok := body.(map[string]any); ok {
		res.EventID, _ = m["eventId"].(string)
	}
	return res, nil
}

// Event statuses reported by RemoteServiceStatus.
const (
	EventPending   = "PENDING"
	EventExecuted  = "EXECUTED"
	EventError     = "ERROR"
	EventCancelled = "CANCELLED"
)

// EventStatus is the progress of a remote command.
type EventStatus struct {
	EventID string
	Status  string
	Body    any
}

// Done reports whether the command reached a final state.
func (s EventStatus) Done() bool {
	switch s.Status {
	case EventExecuted, EventError, EventCancelled:
		return true
	}
	return false
}

// RemoteServiceStatus polls the progress of a remote command once.
func (c *Client) RemoteServiceStatus(ctx context.Context, eventID string) (*EventStatus, error) {
	if eventID == "" {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidArgument, "event id is required")
	}
	body, err := c.do(ctx, http.MethodPost, "", eventStatusPath, url.Values{"eventId": {eventID}}, "", nil)
	if err != nil {
		return nil, err
	}
	decoded, err := tagjson.Decode(body)
	if err != nil {
		return nil, err
	}
	status := &EventStatus{EventID: eventID, Body: decoded}
	if m, ok := decoded.(map[string]any); ok {
		status.Status, _ = m["eventStatus"].(string)
	}
	return status, nil
}

// WaitForRemoteService polls RemoteServiceStatus every interval until the
// command is done or ctx ends.
func (c *Client) WaitForRemoteService(ctx context.Context, eventID string, interval time.Duration) (*EventStatus, error) {
	if interval <= 0 {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidArgument, "poll interval must be positive, got %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		status, err := c.RemoteServiceStatus(ctx, eventID)
		if err != nil {
			return nil, err
		}
		c.logger.Debug().Str("event", eventID).Str("status", status.Status).Msg("remote service status")
		if status.Done() {
			return status, nil
		}
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

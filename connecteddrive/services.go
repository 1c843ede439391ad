package connecteddrive

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "github.com/jrsteele09/go-connecteddrive/internal/errors"
)

// DataType describes a GET endpoint for vehicle data.
type DataType struct {
	Name      string
	Path      string
	VINHeader bool // the vin travels in the bmw-vin header
	query     func(now time.Time) url.Values
}

// Query renders the query parameters of the endpoint at now.
func (d DataType) Query(now time.Time) url.Values {
	if d.query == nil {
		return nil
	}
	return d.query(now)
}

// RemoteService describes a remote command.
type RemoteService struct {
	Code     string
	Name     string
	Path     string // {vin} is replaced by the vehicle's vin
	Action   string // sent as ?action= when set
	JSONBody bool   // the payload is sent as a JSON body
}

// URLPath renders the command path for vin.
func (r RemoteService) URLPath(vin string) string {
	return strings.ReplaceAll(r.Path, "{vin}", url.PathEscape(vin))
}

const (
	DataVehicles        = "vehicles"
	DataState           = "state"
	DataChargingProfile = "chargingprofile"
	DataTrips           = "trips"

	remoteCommandsPath = "/eadrax-vrccs/v3/presentation/remote-commands"
	eventStatusPath    = remoteCommandsPath + "/eventStatus"
)

var dataTypes = map[string]DataType{
	DataVehicles: {
		Name:  DataVehicles,
		Path:  "/eadrax-vcs/v4/vehicles",
		query: appTimeQuery,
	},
	DataState: {
		Name:      DataState,
		Path:      "/eadrax-vcs/v4/vehicles/state",
		VINHeader: true,
		query:     appTimeQuery,
	},
	DataChargingProfile: {
		Name:      DataChargingProfile,
		Path:      "/eadrax-crccs/v2/vehicles",
		VINHeader: true,
		query: func(time.Time) url.Values {
			return url.Values{
				"fields":                             {"charging-profile"},
				"has_charging_settings_capabilities": {"true"},
			}
		},
	},
	DataTrips: {
		Name:      DataTrips,
		Path:      "/eadrax-suscs/v1/vehicles/sustainability/widget",
		VINHeader: true,
	},
}

// appTimeQuery carries the caller's clock, which the vehicle endpoints require.
func appTimeQuery(now time.Time) url.Values {
	_, offset := now.Zone()
	return url.Values{
		"apptimezone": {strconv.Itoa(offset / 60)},
		"appDateTime": {strconv.FormatInt(now.UnixMilli(), 10)},
	}
}

// retiredDataTypes were served by endpoints the vendor has switched off.
var retiredDataTypes = map[string]bool{
	"dynamic":             true,
	"specs":               true,
	"navigation":          true,
	"efficiency":          true,
	"service":             true,
	"servicepartner":      true,
	"statistics/allTrips": true,
	"statistics/lastTrip": true,
	"destinations":        true,
	"status":              true,
}

var remoteServices = map[string]RemoteService{
	"RLF":     {Code: "RLF", Name: "light-flash", Path: remoteCommandsPath + "/{vin}/light-flash"},
	"RHB":     {Code: "RHB", Name: "horn-blow", Path: remoteCommandsPath + "/{vin}/horn-blow"},
	"RDL":     {Code: "RDL", Name: "door-lock", Path: remoteCommandsPath + "/{vin}/door-lock"},
	"RDU":     {Code: "RDU", Name: "door-unlock", Path: remoteCommandsPath + "/{vin}/door-unlock"},
	"RVF":     {Code: "RVF", Name: "vehicle-finder", Path: remoteCommandsPath + "/{vin}/vehicle-finder"},
	"RCN":     {Code: "RCN", Name: "climate-now", Path: remoteCommandsPath + "/{vin}/climate-now", Action: "START"},
	"RCNSTOP": {Code: "RCNSTOP", Name: "climate-now", Path: remoteCommandsPath + "/{vin}/climate-now", Action: "STOP"},

	"CHARGE_START":     {Code: "CHARGE_START", Name: "start-charging", Path: "/eadrax-crccs/v1/vehicles/{vin}/start-charging"},
	"CHARGE_STOP":      {Code: "CHARGE_STOP", Name: "stop-charging", Path: "/eadrax-crccs/v1/vehicles/{vin}/stop-charging"},
	"CHARGING_PROFILE": {Code: "CHARGING_PROFILE", Name: "charging-settings", Path: "/eadrax-crccs/v1/vehicles/{vin}/charging-settings", JSONBody: true},
}

// LookupDataType resolves a data type name. Retired names fail with
// ErrUnsupportedService, unknown ones with ErrInvalidArgument.
func LookupDataType(name string) (DataType, error) {
	if d, ok := dataTypes[name]; ok {
		return d, nil
	}
	if retiredDataTypes[name] {
		return DataType{}, fmt.Errorf("data type %q: %w", name, apperrors.ErrUnsupportedService)
	}
	return DataType{}, fmt.Errorf("unknown data type %q: %w", name, apperrors.ErrInvalidArgument)
}

// LookupRemoteService resolves a remote service code such as "RDL".
func LookupRemoteService(code string) (RemoteService, error) {
	if r, ok := remoteServices[strings.ToUpper(code)]; ok {
		return r, nil
	}
	return RemoteService{}, fmt.Errorf("unknown remote service %q: %w", code, apperrors.ErrInvalidArgument)
}

// DataTypeNames lists the supported data types.
func DataTypeNames() []string {
	return sortedKeys(dataTypes)
}

// RemoteServiceCodes lists the supported remote service codes.
func RemoteServiceCodes() []string {
	return sortedKeys(remoteServices)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

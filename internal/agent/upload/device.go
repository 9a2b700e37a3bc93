package upload

import (
	"context"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/contexter/internal/common"
	"github.com/dmitrijs2005/contexter/internal/netx"
	"github.com/dmitrijs2005/contexter/internal/shared"
)

// DeviceRegisterPath is the admin endpoint issuing device credentials.
const DeviceRegisterPath = "/api/devices/register"

// RegisterDevice asks the server for a new device id and secret. The
// admin token is only used for this call and never stored.
func RegisterDevice(ctx context.Context, c *http.Client, baseURL, adminToken, name string) (Credentials, error) {
	headers := map[string]string{common.AuthorizationHeaderName: common.BearerPrefix + adminToken}
	url := strings.TrimRight(baseURL, "/") + DeviceRegisterPath

	resp, err := netx.PostJSON(ctx, c, url, headers, shared.RegisterDeviceRequest{Name: name})
	if err != nil {
		return Credentials{}, &common.SyncError{Kind: common.KindTransient, Message: err.Error(), Err: err}
	}
	if !resp.OK() {
		return Credentials{}, classify(resp, 0)
	}

	var out shared.RegisterDeviceResponse
	if err := resp.Decode(&out); err != nil {
		return Credentials{}, &common.SyncError{Kind: common.KindTransient, Status: resp.StatusCode, Message: err.Error(), Err: err}
	}
	if out.DeviceID == "" || out.Secret == "" {
		return Credentials{}, &common.SyncError{Kind: common.KindTransient, Status: resp.StatusCode, Message: "empty credentials in response"}
	}
	return Credentials{DeviceID: out.DeviceID, Secret: out.Secret}, nil
}

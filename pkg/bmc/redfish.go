package bmc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Info is the learned-info struct acquired from either protocol
// during info acquisition.
type Info struct {
	Firmware         string
	ServiceVersion   string // Redfish-only: root service version
	PowerState       string
	SupportedResets  []string
	SupportedPower   []string
	LastRestartCause string // IPMI-only
}

// RedfishClient is a thin HTTP+JSON client against a BMC's Redfish
// root and Systems/Actions endpoints.
// It deliberately does not model the full Redfish schema — only the
// handful of fields the arbiter needs: service version for protocol
// discovery, power state and allowable reset values for command
// dispatch.
type RedfishClient struct {
	httpClient *http.Client
}

// NewRedfishClient creates a client with the given request timeout.
func NewRedfishClient(timeout time.Duration) *RedfishClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RedfishClient{httpClient: &http.Client{Timeout: timeout}}
}

type redfishRoot struct {
	RedfishVersion string `json:"RedfishVersion"`
}

type redfishSystem struct {
	PowerState string `json:"PowerState"`
	Actions    struct {
		ComputerSystemReset struct {
			AllowableValues []string `json:"ResetType@Redfish.AllowableValues"`
		} `json:"#ComputerSystem.Reset"`
	} `json:"Actions"`
	Manufacturer string `json:"Manufacturer"`
	BiosVersion  string `json:"BiosVersion"`
}

// ProbeRoot queries the Redfish service root, returning the advertised
// version used for protocol-discovery's minimum-version check.
func (c *RedfishClient) ProbeRoot(ctx context.Context, baseURL string) (string, error) {
	var root redfishRoot
	if err := c.getJSON(ctx, baseURL+"/redfish/v1/", &root); err != nil {
		return "", fmt.Errorf("bmc: redfish probe root: %w", err)
	}
	return root.RedfishVersion, nil
}

func (c *RedfishClient) getJSON(ctx context.Context, url string, out interface{}) error {
	return c.getJSONAuth(ctx, url, ExtraInfo{}, out)
}

func (c *RedfishClient) getJSONAuth(ctx context.Context, url string, extra ExtraInfo, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if extra.Username != "" {
		req.SetBasicAuth(extra.Username, extra.Secret)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Execute satisfies protocolClient for CommandOp dispatch against
// Redfish: bmc-info and power-status read /Systems/1, power-on/off/reset
// POST to the ComputerSystem.Reset action, and set-boot-device PATCHes
// the one-time boot override on /Systems/1.
func (c *RedfishClient) Execute(ctx context.Context, cmd Command, extra ExtraInfo) (Result, error) {
	base := fmt.Sprintf("https://%s", extra.IP)

	switch cmd.Op {
	case OpBMCInfo, OpPowerStatus:
		var sys redfishSystem
		if err := c.getJSONAuth(ctx, base+"/redfish/v1/Systems/1", extra, &sys); err != nil {
			return Result{}, fmt.Errorf("bmc: redfish %s: %w", cmd.Op, err)
		}
		return Result{Info: Info{
			Firmware:        sys.BiosVersion,
			PowerState:      sys.PowerState,
			SupportedResets: sys.Actions.ComputerSystemReset.AllowableValues,
		}}, nil

	case OpPowerOn:
		return Result{}, c.postJSON(ctx, base+resetAction, extra, map[string]string{"ResetType": "On"})
	case OpPowerOff:
		return Result{}, c.postJSON(ctx, base+resetAction, extra, map[string]string{"ResetType": "ForceOff"})
	case OpPowerReset:
		return Result{}, c.postJSON(ctx, base+resetAction, extra, map[string]string{"ResetType": "ForceRestart"})

	case OpSetBootDevice:
		device := cmd.Params["device"]
		if device == "" {
			device = "Pxe"
		}
		body := map[string]interface{}{
			"Boot": map[string]string{
				"BootSourceOverrideEnabled": "Once",
				"BootSourceOverrideTarget":  device,
			},
		}
		return Result{}, c.patchJSON(ctx, base+"/redfish/v1/Systems/1", extra, body)

	case OpRawGet:
		var raw map[string]interface{}
		if err := c.getJSON(ctx, base+cmd.Params["path"], &raw); err != nil {
			return Result{}, fmt.Errorf("bmc: redfish raw-get: %w", err)
		}
		return Result{}, nil

	default:
		return Result{}, fmt.Errorf("bmc: redfish: unsupported op %q", cmd.Op)
	}
}

const resetAction = "/redfish/v1/Systems/1/Actions/ComputerSystem.Reset"

func (c *RedfishClient) postJSON(ctx context.Context, url string, extra ExtraInfo, body interface{}) error {
	return c.writeJSON(ctx, http.MethodPost, url, extra, body)
}

func (c *RedfishClient) patchJSON(ctx context.Context, url string, extra ExtraInfo, body interface{}) error {
	return c.writeJSON(ctx, http.MethodPatch, url, extra, body)
}

func (c *RedfishClient) writeJSON(ctx context.Context, method, url string, extra ExtraInfo, body interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(extra.Username, extra.Secret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("bmc: redfish %s %s: status %d", method, url, resp.StatusCode)
	}
	return nil
}

// Package exporter hosts the admin HTTP surface's export workflow: a
// one-time login against the vendor cloud API (email OTP) that pulls
// down the account's device/group topology and writes it out as local
// YAML configuration.
//
// The vendor cloud login itself — the HTTP calls, the OTP email
// request, the session token exchange — is treated as an external
// collaborator and is not implemented here; CloudClient is the
// boundary. What this package owns is the stateful workflow around
// that boundary: tracking whether a config already exists, recording in
// memory that verification succeeded the instant it does (independent
// of when the resulting config finishes writing to disk), and
// serializing the exported topology to the path internal/api serves
// back on download. No session token is kept: CloudClient.VerifyOTP
// returns only the topology, and nothing is cached to a token file.
package exporter

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ErrCloudClientUnconfigured is returned when no CloudClient has been
// wired in, so a bridge running without export capability still starts
// and serves status/download, it just can't perform a fresh login.
var ErrCloudClientUnconfigured = errors.New("exporter: no cloud client configured")

// ErrOTPNotRequested is returned when Verify is called before Request.
var ErrOTPNotRequested = errors.New("exporter: otp was not requested")

// DeviceExport is one device as returned by the vendor cloud's
// device-list export, in units that map directly onto
// config.DeviceConfig.
type DeviceExport struct {
	ID            int
	Name          string
	Model         string
	ModelNumber   string
	Capabilities  []string
	IsBridge      bool
	MinColorTempK int
	MaxColorTempK int
}

// GroupExport is one light group as returned by the vendor cloud.
type GroupExport struct {
	ID        int
	Name      string
	MemberIDs []int
}

// TopologyExport is the full account topology fetched after a
// successful login.
type TopologyExport struct {
	AccountID string
	Devices   []DeviceExport
	Groups    []GroupExport
}

// CloudClient is the vendor cloud API boundary: requesting an OTP code
// by email, and exchanging a submitted code plus the account email for
// the account's device/group topology. A real implementation speaks
// whatever bespoke HTTP/JSON login flow the vendor cloud exposes; this
// package only depends on the two operations below.
type CloudClient interface {
	RequestOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, code string) (TopologyExport, error)
}

// Status is the current state of the export workflow, as surfaced on
// GET /api/export/status.
type Status struct {
	OTPRequired   bool
	ConfigPresent bool
}

// Exporter drives the OTP login → topology export → config write
// workflow. Safe for concurrent use.
type Exporter struct {
	mu sync.Mutex

	client     CloudClient
	configPath string

	email        string
	otpRequested bool
	verified     bool
}

// New builds an Exporter that writes the exported topology to
// configPath. client may be nil; RequestOTP/Verify then fail with
// ErrCloudClientUnconfigured but Status/Download still work.
func New(client CloudClient, configPath string) *Exporter {
	return &Exporter{client: client, configPath: configPath}
}

// Status reports whether an OTP is outstanding and whether a config
// file already exists on disk.
func (e *Exporter) Status() Status {
	e.mu.Lock()
	otpRequired := e.otpRequested && !e.verified
	e.mu.Unlock()

	_, err := os.Stat(e.configPath)
	return Status{
		OTPRequired:   otpRequired,
		ConfigPresent: err == nil,
	}
}

// RequestOTP asks the vendor cloud to email an OTP code to the account
// and remembers the email for the subsequent Verify call.
func (e *Exporter) RequestOTP(ctx context.Context, email string) error {
	if e.client == nil {
		return ErrCloudClientUnconfigured
	}
	if err := e.client.RequestOTP(ctx, email); err != nil {
		return fmt.Errorf("exporter: request otp: %w", err)
	}
	e.mu.Lock()
	e.email = email
	e.otpRequested = true
	e.verified = false
	e.mu.Unlock()
	return nil
}

// Verify exchanges a submitted OTP code for the account's device
// topology and writes it to configPath.
//
// The verified flag is set before the file write begins, synchronously,
// under the same lock used by Status — so a second request racing in
// right after a caller sees Verify return MUST observe otp_required as
// false even if the write hasn't reached disk yet. The write itself
// still happens inline (the config is small and this is a one-time
// operator action, not a hot path), but the ordering guarantee does not
// depend on that; it depends on the lock being held across the memory
// update, not the disk write.
func (e *Exporter) Verify(ctx context.Context, code string) (TopologyExport, error) {
	e.mu.Lock()
	if !e.otpRequested {
		e.mu.Unlock()
		return TopologyExport{}, ErrOTPNotRequested
	}
	email := e.email
	e.mu.Unlock()

	if e.client == nil {
		return TopologyExport{}, ErrCloudClientUnconfigured
	}

	topo, err := e.client.VerifyOTP(ctx, email, code)
	if err != nil {
		return TopologyExport{}, fmt.Errorf("exporter: verify otp: %w", err)
	}

	e.mu.Lock()
	e.verified = true
	e.mu.Unlock()

	if err := e.writeConfig(topo); err != nil {
		return TopologyExport{}, err
	}
	return topo, nil
}

// exportDoc mirrors the subset of config.Config this workflow produces.
// Kept separate from config.Config so the exporter never needs to
// import the running controller's full settings schema, only emit it.
type exportDoc struct {
	Account struct {
		ID string `yaml:"id"`
	} `yaml:"account"`
	Devices []exportDevice `yaml:"devices"`
	Groups  []exportGroup  `yaml:"groups"`
}

type exportDevice struct {
	ID            int      `yaml:"id"`
	Name          string   `yaml:"name"`
	Model         string   `yaml:"model"`
	ModelNumber   string   `yaml:"model_number"`
	Capabilities  []string `yaml:"capabilities"`
	IsBridge      bool     `yaml:"is_bridge"`
	MinColorTempK int      `yaml:"min_color_temp_k"`
	MaxColorTempK int      `yaml:"max_color_temp_k"`
}

type exportGroup struct {
	ID        int    `yaml:"id"`
	Name      string `yaml:"name"`
	MemberIDs []int  `yaml:"member_ids"`
}

func (e *Exporter) writeConfig(topo TopologyExport) error {
	doc := exportDoc{}
	doc.Account.ID = topo.AccountID
	for _, d := range topo.Devices {
		doc.Devices = append(doc.Devices, exportDevice{
			ID:            d.ID,
			Name:          d.Name,
			Model:         d.Model,
			ModelNumber:   d.ModelNumber,
			Capabilities:  d.Capabilities,
			IsBridge:      d.IsBridge,
			MinColorTempK: d.MinColorTempK,
			MaxColorTempK: d.MaxColorTempK,
		})
	}
	for _, g := range topo.Groups {
		doc.Groups = append(doc.Groups, exportGroup{ID: g.ID, Name: g.Name, MemberIDs: g.MemberIDs})
	}

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("exporter: marshal exported config: %w", err)
	}

	tmp := e.configPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("exporter: write exported config: %w", err)
	}
	if err := os.Rename(tmp, e.configPath); err != nil {
		return fmt.Errorf("exporter: finalize exported config: %w", err)
	}
	return nil
}

// Download returns the exported config file's bytes, or an error
// wrapping os.ErrNotExist if none has been written yet.
func (e *Exporter) Download() ([]byte, error) {
	data, err := os.ReadFile(e.configPath)
	if err != nil {
		return nil, fmt.Errorf("exporter: read exported config: %w", err)
	}
	return data, nil
}


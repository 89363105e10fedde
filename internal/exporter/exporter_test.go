package exporter

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

type fakeCloudClient struct {
	otpErr    error
	verifyErr error
	topo      TopologyExport
	otpEmails []string
}

func (f *fakeCloudClient) RequestOTP(ctx context.Context, email string) error {
	f.otpEmails = append(f.otpEmails, email)
	return f.otpErr
}

func (f *fakeCloudClient) VerifyOTP(ctx context.Context, email, code string) (TopologyExport, error) {
	if f.verifyErr != nil {
		return TopologyExport{}, f.verifyErr
	}
	return f.topo, nil
}

func TestStatus_NoConfigYet(t *testing.T) {
	e := New(&fakeCloudClient{}, filepath.Join(t.TempDir(), "config.yaml"))
	status := e.Status()
	if status.ConfigPresent {
		t.Fatal("expected config_present = false before any export")
	}
	if status.OTPRequired {
		t.Fatal("expected otp_required = false before any request")
	}
}

func TestRequestOTP_SetsOTPRequired(t *testing.T) {
	client := &fakeCloudClient{}
	e := New(client, filepath.Join(t.TempDir(), "config.yaml"))

	if err := e.RequestOTP(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	if !e.Status().OTPRequired {
		t.Fatal("expected otp_required = true after RequestOTP")
	}
	if len(client.otpEmails) != 1 || client.otpEmails[0] != "user@example.com" {
		t.Fatalf("unexpected otp email calls: %v", client.otpEmails)
	}
}

func TestVerify_WithoutRequest_Fails(t *testing.T) {
	e := New(&fakeCloudClient{}, filepath.Join(t.TempDir(), "config.yaml"))
	_, err := e.Verify(context.Background(), "123456")
	if !errors.Is(err, ErrOTPNotRequested) {
		t.Fatalf("expected ErrOTPNotRequested, got %v", err)
	}
}

func TestVerify_WritesConfigAndClearsOTPRequired(t *testing.T) {
	topo := TopologyExport{
		AccountID: "acct-1",
		Devices: []DeviceExport{
			{ID: 1, Name: "Kitchen/Downlight", Model: "A19", IsBridge: true, MinColorTempK: 2700, MaxColorTempK: 6500},
		},
		Groups: []GroupExport{{ID: 1, Name: "Kitchen", MemberIDs: []int{1}}},
	}
	client := &fakeCloudClient{topo: topo}
	path := filepath.Join(t.TempDir(), "config.yaml")
	e := New(client, path)

	if err := e.RequestOTP(context.Background(), "user@example.com"); err != nil {
		t.Fatalf("RequestOTP: %v", err)
	}
	got, err := e.Verify(context.Background(), "654321")
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if got.AccountID != "acct-1" {
		t.Fatalf("unexpected account id %q", got.AccountID)
	}

	status := e.Status()
	if status.OTPRequired {
		t.Fatal("expected otp_required = false after Verify")
	}
	if !status.ConfigPresent {
		t.Fatal("expected config_present = true after Verify")
	}

	data, err := e.Download()
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("expected non-empty exported config")
	}
}

func TestRequestOTP_CloudClientUnconfigured(t *testing.T) {
	e := New(nil, filepath.Join(t.TempDir(), "config.yaml"))
	if err := e.RequestOTP(context.Background(), "user@example.com"); !errors.Is(err, ErrCloudClientUnconfigured) {
		t.Fatalf("expected ErrCloudClientUnconfigured, got %v", err)
	}
}

func TestDownload_NoConfigYet(t *testing.T) {
	e := New(&fakeCloudClient{}, filepath.Join(t.TempDir(), "config.yaml"))
	if _, err := e.Download(); err == nil {
		t.Fatal("expected error downloading before any export")
	}
}
